package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-qbank/internal/rbac"
)

func login(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rec
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewAuthService("test-secret")
	h := LoginHandler(a, LoginConfig{AdminUser: "admin", AdminPassHash: string(hash), EnableLocalAuth: true}, nil)

	rec := login(t, h, `{"username":"admin","password":"s3cret","tenant_id":"school-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	c, err := a.Parse(out["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "admin", c.Role)
	assert.Equal(t, "school-1", c.Tenant)

	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"admin","password":"nope","tenant_id":"school-1"}`).Code)
	assert.Equal(t, http.StatusOK, login(t, h, `{"username":"ann","password":"ann","role":"student","tenant_id":"school-1"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"ann","password":"ann","role":"admin","tenant_id":"school-1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(t, h, `{"username":"ann","password":"ann","role":"student"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(t, h, `{`).Code)

	off := LoginHandler(a, LoginConfig{AdminUser: "admin", AdminPassHash: string(hash)}, nil)
	assert.Equal(t, http.StatusUnauthorized, login(t, off, `{"username":"ann","password":"ann","role":"student","tenant_id":"school-1"}`).Code)
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("test-secret")
	var got rbac.Actor
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = rbac.ActorFromContext(r.Context())
	}))

	tok, err := a.IssueJWT("ann", "school-1", "student")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rbac.Actor{UserID: "ann", TenantID: "school-1", Role: "student"}, got)

	for _, hdr := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", hdr)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, hdr)
	}
}

func TestParseRejects(t *testing.T) {
	a := NewAuthService("test-secret")
	other := NewAuthService("another-secret")
	tok, err := other.IssueJWT("ann", "school-1", "student")
	require.NoError(t, err)
	_, err = a.Parse(tok)
	assert.Error(t, err)

	a.now = func() time.Time { return time.Now().Add(-9 * time.Hour) }
	old, err := a.IssueJWT("ann", "school-1", "student")
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.Parse(old)
	assert.Error(t, err)

	noTenant, err := a.IssueJWT("ann", "", "student")
	require.NoError(t, err)
	_, err = a.Parse(noTenant)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
