// Package security issues and validates the JWT pair for the auth core.
package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token. TokenFamily is never
// set when issuing; both token kinds share secret, issuer, and audience, so a
// non-empty value on decode marks a refresh token presented as an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	ProfileID   string `json:"profile_id"`
	UserID      string `json:"user_id"`
	TokenFamily string `json:"token_family,omitempty"`
}

// RefreshClaims holds JWT claims for the refresh token. jti and token_family
// bind the token to its refresh_token_families row for rotation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	ProfileID   string `json:"profile_id"`
	UserID      string `json:"user_id"`
	TokenFamily string `json:"token_family"`
}

// TokenProvider issues and validates JWT access and refresh tokens using a
// shared HS256 secret. issuer and audiences are set on claims and enforced on decode.
type TokenProvider struct {
	secret    []byte
	issuer    string
	audiences []string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with the given HS256 secret.
func NewTokenProvider(secret []byte, issuer string, audiences []string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		audiences: audiences,
		accessTTL: accessTTL,
	}
}

// IssueAccess issues a short-lived access JWT for the given subject.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(profileID, userID string) (token string, jti string, expiresAt time.Time, err error) {
	jti = uuid.New().String()
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   profileID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings(p.audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ProfileID: profileID,
		UserID:    userID,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	return token, jti, expiresAt, err
}

// IssueRefresh issues a refresh JWT bound to a refresh-token family row.
// iat mirrors the family's updated_at and exp its expires_on, so the token and
// the row describe the same rotation state.
func (p *TokenProvider) IssueRefresh(profileID, userID, familyID, jti string, issuedAt, expiresOn time.Time) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   profileID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings(p.audiences),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresOn),
		},
		ProfileID:   profileID,
		UserID:      userID,
		TokenFamily: familyID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// ValidateAccess parses and validates the access token (signature, exp, iss,
// aud). A token carrying a family binding is a refresh token and is rejected.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, false); err != nil {
		return nil, err
	}
	if claims.TokenFamily != "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh parses and validates the refresh token (signature, exp, iss,
// aud). A token without the family binding (token_family and jti) is not a
// refresh token, whatever else it validly claims.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims, false); err != nil {
		return nil, err
	}
	if claims.TokenFamily == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeAccessAllowExpired parses the access token enforcing signature, iss,
// and aud, but tolerating an elapsed exp. Used for signout, where revoking an
// expired session is not an error.
func (p *TokenProvider) DecodeAccessAllowExpired(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, true); err != nil {
		return nil, err
	}
	if claims.TokenFamily != "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeRefreshAllowExpired is DecodeAccessAllowExpired for refresh tokens.
func (p *TokenProvider) DecodeRefreshAllowExpired(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims, true); err != nil {
		return nil, err
	}
	if claims.TokenFamily == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, allowExpired bool) error {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss != p.issuer {
		return ErrInvalidToken
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return ErrInvalidToken
	}
	audOk := false
	for _, a := range aud {
		for _, want := range p.audiences {
			if a == want {
				audOk = true
				break
			}
		}
	}
	if !audOk {
		return ErrInvalidToken
	}
	return nil
}
