package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenix.io/internal/auth"
)

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (h *harness) login(email, fingerprint string, header http.Header) *httptest.ResponseRecorder {
	return h.do(call{
		method: http.MethodPost,
		path:   "/auth/login",
		header: header,
		body:   loginRequest{Email: email, Password: testPassword, FingerprintHash: fingerprint},
	})
}

func TestLoginRefreshLogoutLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.login("Admin@Acme.test", "device-a", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decode[sessionResponse](t, rec)
	assert.NotEmpty(t, sess.AccessToken)
	require.NotNil(t, sess.User)
	assert.Equal(t, h.admin, sess.User.ID)

	original := cookieNamed(rec, refreshCookie)
	require.NotNil(t, original)
	assert.True(t, original.HttpOnly)
	assert.Equal(t, "/", original.Path)
	assert.Equal(t, http.SameSiteLaxMode, original.SameSite)
	assert.False(t, original.Secure)
	csrf := cookieNamed(rec, csrfCookie)
	require.NotNil(t, csrf)
	assert.False(t, csrf.HttpOnly)
	assert.NotEmpty(t, csrf.Value)
	require.Len(t, h.store.SessionEntries(h.admin), 1)

	rec = h.do(call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		body:    refreshRequest{FingerprintHash: "device-a"},
		cookies: []*http.Cookie{{Name: refreshCookie, Value: original.Value}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := cookieNamed(rec, refreshCookie)
	require.NotNil(t, rotated)
	assert.NotEqual(t, original.Value, rotated.Value)
	assert.NotEmpty(t, decode[sessionResponse](t, rec).AccessToken)

	// The superseded token no longer rotates.
	rec = h.do(call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		body:    refreshRequest{FingerprintHash: "device-a"},
		cookies: []*http.Cookie{{Name: refreshCookie, Value: original.Value}},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(call{
		method:  http.MethodPost,
		path:    "/auth/logout",
		cookies: []*http.Cookie{{Name: refreshCookie, Value: rotated.Value}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cleared := cookieNamed(rec, refreshCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
	assert.Empty(t, h.store.SessionEntries(h.admin))
}

func TestRefreshFromAnotherDeviceRejected(t *testing.T) {
	h := newHarness(t)
	rec := h.login("admin@acme.test", "device-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := cookieNamed(rec, refreshCookie).Value

	rec = h.do(call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		body:    refreshRequest{FingerprintHash: "device-b"},
		cookies: []*http.Cookie{{Name: refreshCookie, Value: token}},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{FingerprintHash: "device-a"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing refresh token", decode[errorBody](t, rec).Error)
}

func TestRefreshTokenOnlyAcceptedFromCookie(t *testing.T) {
	h := newHarness(t)
	rec := h.login("admin@acme.test", "device-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := cookieNamed(rec, refreshCookie).Value

	rec = h.do(call{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   map[string]string{"refreshToken": token, "fingerprintHash": "device-a"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing refresh token", decode[errorBody](t, rec).Error)
	assert.Nil(t, cookieNamed(rec, refreshCookie))

	// Logout ignores a token in the body as well.
	rec = h.do(call{
		method: http.MethodPost,
		path:   "/auth/logout",
		body:   map[string]string{"refreshToken": token},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.store.SessionEntries(h.admin), 1)
}

func TestSecureCookiesBehindHTTPS(t *testing.T) {
	h := newHarness(t)
	rec := h.login("admin@acme.test", "device-a", http.Header{"X-Forwarded-Proto": {"https"}})
	require.Equal(t, http.StatusOK, rec.Code)

	c := cookieNamed(rec, refreshCookie)
	require.NotNil(t, c)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.Equal(t, baseDomain, c.Domain)
}

func TestDevCookiesAreHostOnly(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Cookies.Dev = true })
	rec := h.login("admin@acme.test", "device-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cookieNamed(rec, refreshCookie).Domain)
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	pending := h.store.AddUser("pending@acme.test", auth.StatusPending, h.baseID)
	h.store.SetPassword(pending, testPassword)

	tests := []struct {
		name string
		req  loginRequest
		want int
	}{
		{"unknown email", loginRequest{Email: "ghost@acme.test", Password: testPassword, FingerprintHash: "fp"}, http.StatusUnauthorized},
		{"bad password", loginRequest{Email: "admin@acme.test", Password: "wrong-password", FingerprintHash: "fp"}, http.StatusUnauthorized},
		{"pending user", loginRequest{Email: "pending@acme.test", Password: testPassword, FingerprintHash: "fp"}, http.StatusForbidden},
		{"no fingerprint", loginRequest{Email: "admin@acme.test", Password: testPassword}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(call{method: http.MethodPost, path: "/auth/login", body: tc.req})
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Nil(t, cookieNamed(rec, refreshCookie))
		})
	}
}

func TestRegisterCreatesPendingUser(t *testing.T) {
	h := newHarness(t)
	req := registerRequest{Email: "new@acme.test", Name: "New Tech", Password: "long-enough"}

	rec := h.do(call{method: http.MethodPost, path: "/auth/register", body: req})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[struct {
		User auth.User `json:"user"`
	}](t, rec)
	assert.Equal(t, auth.StatusPending, body.User.Status)
	assert.Equal(t, []string{h.baseID}, body.User.Roles)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = h.do(call{method: http.MethodPost, path: "/auth/register", body: req})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(call{method: http.MethodPost, path: "/auth/register", body: registerRequest{Email: "x@acme.test", Name: "X", Password: "short"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	h := newHarness(t)
	rec := h.do(call{method: http.MethodPost, path: "/auth/login", body: []string{"not", "an", "object"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
