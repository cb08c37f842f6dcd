package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p := NewTestTokenProvider()

	token, jti, exp, err := p.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("access token or jti empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.ProfileID != "profile-1" || claims.UserID != "user-1" {
		t.Errorf("claims = %q/%q, want profile-1/user-1", claims.ProfileID, claims.UserID)
	}
	if claims.Subject != "profile-1" {
		t.Errorf("sub = %q, want profile-1", claims.Subject)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}
}

func TestTokenProvider_RefreshClaimsBoundToFamily(t *testing.T) {
	p := NewTestTokenProvider()
	familyID := uuid.New().String()
	jti := uuid.New().String()
	iat := time.Now().UTC().Truncate(time.Second)
	exp := iat.Add(720 * time.Hour)

	token, err := p.IssueRefresh("profile-1", "user-1", familyID, jti, iat, exp)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := p.ValidateRefresh(token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.TokenFamily != familyID {
		t.Errorf("token_family = %q, want %q", claims.TokenFamily, familyID)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}
	if !claims.IssuedAt.Time.Equal(iat) {
		t.Errorf("iat = %v, want %v", claims.IssuedAt.Time, iat)
	}
	if !claims.ExpiresAt.Time.Equal(exp) {
		t.Errorf("exp = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestTokenProvider_RejectsCrossTypeTokens(t *testing.T) {
	p := NewTestTokenProvider()

	// An access token shares secret, issuer, and audience with refresh tokens
	// but carries no family binding; it must not pass as a refresh token.
	access, _, _, err := p.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateRefresh(access); err == nil {
		t.Fatal("ValidateRefresh should reject an access token")
	}
	if _, err := p.DecodeRefreshAllowExpired(access); err == nil {
		t.Fatal("DecodeRefreshAllowExpired should reject an access token")
	}

	// And the other direction: a refresh token is not an access token.
	now := time.Now().UTC()
	refresh, err := p.IssueRefresh("profile-1", "user-1", uuid.New().String(), uuid.New().String(), now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := p.ValidateAccess(refresh); err == nil {
		t.Fatal("ValidateAccess should reject a refresh token")
	}
	if _, err := p.DecodeAccessAllowExpired(refresh); err == nil {
		t.Fatal("DecodeAccessAllowExpired should reject a refresh token")
	}
}

func TestTokenProvider_RejectsGarbage(t *testing.T) {
	p := NewTestTokenProvider()
	if _, err := p.ValidateAccess("not-a-token"); err == nil {
		t.Fatal("ValidateAccess should reject garbage")
	}
	if _, err := p.ValidateRefresh(""); err == nil {
		t.Fatal("ValidateRefresh should reject empty string")
	}
}

func TestTokenProvider_RejectsWrongSecret(t *testing.T) {
	other := NewTokenProvider([]byte("other-secret"), "test-issuer", []string{"test-audience"}, 15*time.Minute)
	token, _, _, err := other.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p := NewTestTokenProvider()
	if _, err := p.ValidateAccess(token); err == nil {
		t.Fatal("ValidateAccess should reject token signed with another secret")
	}
}

func TestTokenProvider_RejectsWrongIssuerOrAudience(t *testing.T) {
	wrongIss := NewTokenProvider([]byte("test-secret"), "someone-else", []string{"test-audience"}, 15*time.Minute)
	token, _, _, err := wrongIss.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p := NewTestTokenProvider()
	if _, err := p.ValidateAccess(token); err == nil {
		t.Fatal("ValidateAccess should reject wrong issuer")
	}

	wrongAud := NewTokenProvider([]byte("test-secret"), "test-issuer", []string{"other-audience"}, 15*time.Minute)
	token, _, _, err = wrongAud.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); err == nil {
		t.Fatal("ValidateAccess should reject wrong audience")
	}
}

func TestTokenProvider_ExpiredToken(t *testing.T) {
	p := NewTokenProvider([]byte("test-secret"), "test-issuer", []string{"test-audience"}, -time.Minute)
	token, _, _, err := p.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := p.ValidateAccess(token); err == nil {
		t.Fatal("ValidateAccess should reject expired token")
	}

	claims, err := p.DecodeAccessAllowExpired(token)
	if err != nil {
		t.Fatalf("DecodeAccessAllowExpired: %v", err)
	}
	if claims.ProfileID != "profile-1" {
		t.Errorf("profile_id = %q, want profile-1", claims.ProfileID)
	}
}

func TestTokenProvider_AllowExpiredStillChecksSignature(t *testing.T) {
	other := NewTokenProvider([]byte("other-secret"), "test-issuer", []string{"test-audience"}, -time.Minute)
	token, _, _, err := other.IssueAccess("profile-1", "user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p := NewTestTokenProvider()
	if _, err := p.DecodeAccessAllowExpired(token); err == nil {
		t.Fatal("DecodeAccessAllowExpired should still reject bad signatures")
	}
}

func TestTokenProvider_RejectsAlgNone(t *testing.T) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	p := NewTestTokenProvider()
	if _, err := p.ValidateAccess(token); err == nil {
		t.Fatal("ValidateAccess should reject alg=none")
	}
}
