package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	authservice "payup/backend/internal/auth/service"
	"payup/backend/internal/devotp"
	otpdomain "payup/backend/internal/otp/domain"
	profiledomain "payup/backend/internal/profile/domain"
	"payup/backend/internal/security"
	tokendomain "payup/backend/internal/token/domain"
	tokenservice "payup/backend/internal/token/service"
)

// memBackend implements every repository interface the two services need, so
// the whole HTTP surface can be exercised without Postgres.
type memBackend struct {
	mu         sync.Mutex
	byPhone    map[string]*profiledomain.Profile
	subjects   map[string]*profiledomain.Subject
	challenges map[string]*otpdomain.Challenge
	families   map[string]*tokendomain.RefreshTokenFamily
	blacklist  map[string]time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{
		byPhone:    make(map[string]*profiledomain.Profile),
		subjects:   make(map[string]*profiledomain.Subject),
		challenges: make(map[string]*otpdomain.Challenge),
		families:   make(map[string]*tokendomain.RefreshTokenFamily),
		blacklist:  make(map[string]time.Time),
	}
}

func (m *memBackend) GetByPhone(ctx context.Context, phone string) (*profiledomain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPhone[phone], nil
}

func (m *memBackend) GetSubjectByProfile(ctx context.Context, profileID string) (*profiledomain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjects[profileID], nil
}

func (m *memBackend) CreateWithUser(ctx context.Context, p *profiledomain.Profile, u *profiledomain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPhone[p.PhoneNumber] = p
	m.subjects[p.ID] = &profiledomain.Subject{ProfileID: p.ID, UserID: u.ID}
	return nil
}

func (m *memBackend) Get(ctx context.Context, profileID string) (*otpdomain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.challenges[profileID]; ok {
		c2 := *c
		return &c2, nil
	}
	return nil, nil
}

func (m *memBackend) Put(ctx context.Context, c *otpdomain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	c2 := *c
	m.challenges[c.ProfileID] = &c2
	return nil
}

func (m *memBackend) Reissue(ctx context.Context, profileID, codeHash string, expiresAt time.Time, cooldown time.Duration) (*otpdomain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[profileID]
	if !ok || c.AttemptsRemaining == 0 || time.Since(c.UpdatedAt) < cooldown {
		return nil, nil
	}
	c.CodeHash = codeHash
	c.ExpiresAt = expiresAt
	c.AttemptsRemaining--
	c.UpdatedAt = time.Now().UTC()
	c2 := *c
	return &c2, nil
}

func (m *memBackend) ConsumeByPhone(ctx context.Context, phone, codeHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byPhone[phone]
	if !ok {
		return "", nil
	}
	c, ok := m.challenges[p.ID]
	if !ok || c.CodeHash != codeHash || !c.ExpiresAt.After(time.Now()) {
		return "", nil
	}
	delete(m.challenges, p.ID)
	return p.ID, nil
}

func (m *memBackend) CreateFamily(ctx context.Context, f *tokendomain.RefreshTokenFamily) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f2 := *f
	m.families[f.ID] = &f2
	return nil
}

func (m *memBackend) Rotate(ctx context.Context, familyID, oldJti, newJti string, expiresOn time.Time) (*tokendomain.RefreshTokenFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[familyID]
	if !ok || f.Jti != oldJti {
		return nil, nil
	}
	f.Jti = newJti
	f.ExpiresOn = expiresOn
	f.UpdatedAt = time.Now().UTC()
	f2 := *f
	return &f2, nil
}

func (m *memBackend) DeleteFamiliesByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, f := range m.families {
		if f.UserID == userID {
			delete(m.families, id)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) Blacklist(ctx context.Context, e *tokendomain.BlacklistEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blacklist[e.Jti]; ok {
		return false, nil
	}
	m.blacklist[e.Jti] = e.ExpiresOn
	return true, nil
}

func (m *memBackend) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[jti]
	return ok, nil
}

func newTestApp(t *testing.T) (*fiber.App, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	dev := devotp.NewMemoryStore()
	auth := authservice.NewAuthService(backend, backend, nil, dev, true, nil, nil, 30*time.Minute, time.Minute, 3)
	tokens := tokenservice.NewTokenService(backend, backend, security.NewTestTokenProvider(), nil, nil, nil, time.Hour)
	return New(auth, tokens, dev, true, nil), backend
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, bearer string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

const testPhone = "9999999999"

func requestAndFetchCode(t *testing.T, app *fiber.App) string {
	t.Helper()
	status, _ := doJSON(t, app, http.MethodPost, "/auth/otp/request", fiber.Map{"phone_number": testPhone}, "")
	if status != http.StatusOK {
		t.Fatalf("otp request status = %d", status)
	}
	status, body := doJSON(t, app, http.MethodGet, "/dev/otp?phone_number="+testPhone, nil, "")
	if status != http.StatusOK {
		t.Fatalf("dev otp status = %d", status)
	}
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatal("dev otp lookup returned no code")
	}
	return code
}

func TestFullLoginFlow(t *testing.T) {
	app, _ := newTestApp(t)
	code := requestAndFetchCode(t, app)

	status, body := doJSON(t, app, http.MethodPost, "/auth/otp/verify",
		fiber.Map{"phone_number": testPhone, "code": code}, "")
	if status != http.StatusOK {
		t.Fatalf("verify status = %d, body = %v", status, body)
	}
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("verify body missing tokens: %v", body)
	}

	status, me := doJSON(t, app, http.MethodGet, "/auth/me", nil, access)
	if status != http.StatusOK || me["profile_id"] == "" {
		t.Fatalf("me status = %d, body = %v", status, me)
	}

	status, refreshed := doJSON(t, app, http.MethodPost, "/auth/token/refresh",
		fiber.Map{"refresh_token": refresh}, "")
	if status != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %v", status, refreshed)
	}

	// Replaying the pre-rotation refresh token is reuse.
	status, _ = doJSON(t, app, http.MethodPost, "/auth/token/refresh",
		fiber.Map{"refresh_token": refresh}, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("reuse status = %d, want 401", status)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	app, _ := newTestApp(t)
	requestAndFetchCode(t, app)

	status, _ := doJSON(t, app, http.MethodPost, "/auth/otp/verify",
		fiber.Map{"phone_number": testPhone, "code": "000000"}, "")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestRequestOtpRateLimited(t *testing.T) {
	app, _ := newTestApp(t)
	requestAndFetchCode(t, app)

	status, body := doJSON(t, app, http.MethodPost, "/auth/otp/request",
		fiber.Map{"phone_number": testPhone}, "")
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", status)
	}
	if body["next_allowed_at"] == nil {
		t.Errorf("429 body missing next_allowed_at: %v", body)
	}
}

func TestSignOutFlow(t *testing.T) {
	app, _ := newTestApp(t)
	code := requestAndFetchCode(t, app)

	_, body := doJSON(t, app, http.MethodPost, "/auth/otp/verify",
		fiber.Map{"phone_number": testPhone, "code": code}, "")
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	status, _ := doJSON(t, app, http.MethodPost, "/auth/signout",
		fiber.Map{"refresh_token": refresh}, access)
	if status != http.StatusOK {
		t.Fatalf("signout status = %d", status)
	}

	// The unexpired access token is dead after signout.
	status, _ = doJSON(t, app, http.MethodGet, "/auth/me", nil, access)
	if status != http.StatusUnauthorized {
		t.Fatalf("me after signout status = %d, want 401", status)
	}

	// Second signout with the same tokens is a normal ack.
	status, _ = doJSON(t, app, http.MethodPost, "/auth/signout",
		fiber.Map{"refresh_token": refresh}, access)
	if status != http.StatusOK {
		t.Fatalf("repeat signout status = %d, want 200", status)
	}
}

func TestBadRequests(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		method string
		path   string
		body   any
		bearer string
		want   int
	}{
		{http.MethodPost, "/auth/otp/request", fiber.Map{}, "", http.StatusBadRequest},
		{http.MethodPost, "/auth/otp/verify", fiber.Map{"phone_number": testPhone}, "", http.StatusBadRequest},
		{http.MethodPost, "/auth/token/refresh", fiber.Map{"refresh_token": "garbage"}, "", http.StatusUnauthorized},
		{http.MethodPost, "/auth/signout", fiber.Map{"refresh_token": "x"}, "", http.StatusBadRequest},
		{http.MethodGet, "/auth/me", nil, "", http.StatusUnauthorized},
		{http.MethodGet, "/dev/otp?phone_number=0000000000", nil, "", http.StatusNotFound},
	}
	for i, tc := range cases {
		status, _ := doJSON(t, app, tc.method, tc.path, tc.body, tc.bearer)
		if status != tc.want {
			t.Errorf("case %d %s %s: status = %d, want %d", i, tc.method, tc.path, status, tc.want)
		}
	}
}

func TestDevRouteAbsentInProdMode(t *testing.T) {
	backend := newMemBackend()
	auth := authservice.NewAuthService(backend, backend, failingSMS{}, nil, false, nil, nil, 30*time.Minute, time.Minute, 3)
	tokens := tokenservice.NewTokenService(backend, backend, security.NewTestTokenProvider(), nil, nil, nil, time.Hour)
	app := New(auth, tokens, nil, false, nil)

	status, _ := doJSON(t, app, http.MethodGet, "/dev/otp?phone_number="+testPhone, nil, "")
	if status != http.StatusNotFound {
		t.Fatalf("dev route status = %d, want 404", status)
	}
}

type failingSMS struct{}

func (failingSMS) SendOTP(ctx context.Context, phone, code string) error {
	return fmt.Errorf("provider down")
}

func TestSMSFailureMapsToBadGateway(t *testing.T) {
	backend := newMemBackend()
	auth := authservice.NewAuthService(backend, backend, failingSMS{}, nil, false, nil, nil, 30*time.Minute, time.Minute, 3)
	tokens := tokenservice.NewTokenService(backend, backend, security.NewTestTokenProvider(), nil, nil, nil, time.Hour)
	app := New(auth, tokens, nil, false, nil)

	status, _ := doJSON(t, app, http.MethodPost, "/auth/otp/request",
		fiber.Map{"phone_number": testPhone}, "")
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
}
