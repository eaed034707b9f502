package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"onboarding-calls/internal/config"
)

var fixedNow = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m.clock = func() time.Time { return fixedNow }
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)

	pair, err := m.IssuePair(fixedNow, Identity{UserID: "user-1", Role: "operator"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, fixedNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims.Identity(); got != (Identity{UserID: "user-1", Role: "operator"}) {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, fixedNow.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestIssuePair_RequiresIdentity(t *testing.T) {
	m := newManager(t)
	if _, err := m.IssuePair(fixedNow, Identity{UserID: "u"}); err == nil {
		t.Fatalf("expected error without role")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newManager(t)
	p, err := m.IssuePair(fixedNow, Identity{UserID: "u", Role: "viewer"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, fixedNow); err == nil {
		t.Fatalf("expected refresh token to be refused as access token")
	}
}

func TestVerifyRejectsOtherAudience(t *testing.T) {
	m := newManager(t)
	other, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "other", AccessTokenTTL: time.Minute})
	p, err := other.IssuePair(fixedNow, Identity{UserID: "u", Role: "admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, fixedNow); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestRefresh_IssuesNewPair(t *testing.T) {
	m := newManager(t)
	p, _ := m.IssuePair(fixedNow, Identity{UserID: "u", Role: "viewer"})

	later := fixedNow.Add(2 * time.Hour)
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, later); err == nil {
		t.Fatalf("expected original access token to have expired")
	}
	next, err := m.Refresh(p.RefreshToken, later)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, later)
	if err != nil {
		t.Fatalf("verify refreshed: %v", err)
	}
	if claims.Role != "viewer" || claims.Subject != "u" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Refresh(p.AccessToken, later); err == nil {
		t.Fatalf("expected access token to be refused for refresh")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		id, ok := IdentityFrom(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id.UserID, "role": id.Role})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for basic auth, got %d", w.Code)
	}

	pair, _ := m.IssuePair(fixedNow, Identity{UserID: "user-1", Role: "admin"})
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+pair.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["userId"] != "user-1" || body["role"] != "admin" {
		t.Fatalf("unexpected identity %v", body)
	}
}

func TestRefreshHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	r := gin.New()
	r.POST("/auth/refresh", RefreshHandler(m))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := post(`{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := post(`{"refreshToken":"garbage"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	pair, _ := m.IssuePair(fixedNow, Identity{UserID: "u", Role: "operator"})
	w := post(`{"refreshToken":"` + pair.RefreshToken + `"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.AccessToken == "" {
		t.Fatalf("expected token pair, got %s", w.Body.String())
	}
}
