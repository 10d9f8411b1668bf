package httpapi

import (
	"net/http"
	"strings"
	"time"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/ids"
	"maintenix.io/internal/tenant"
)

const (
	refreshCookie = "refreshToken"
	accessCookie  = "accessToken"
	csrfCookie    = "csrfToken"
)

// CookieOptions controls the attributes of the session cookies.
type CookieOptions struct {
	// BaseDomain scopes cookies to every tenant subdomain unless Dev is set.
	BaseDomain string
	Dev        bool
}

type loginRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FingerprintHash string `json:"fingerprintHash"`
}

// refreshRequest carries only the device fingerprint; the token itself
// travels in the refreshToken cookie.
type refreshRequest struct {
	FingerprintHash string `json:"fingerprintHash"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken     string     `json:"accessToken"`
	AccessExpiresAt time.Time  `json:"accessExpiresAt"`
	User            *auth.User `json:"user,omitempty"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.opts.Sessions.Login(r.Context(), auth.LoginInput{
		TenantID:        tenantID(r),
		Email:           req.Email,
		Password:        req.Password,
		FingerprintHash: req.FingerprintHash,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, sess)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:     sess.AccessToken,
		AccessExpiresAt: sess.AccessExpiresAt,
		User:            sess.User,
	})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := cookieValue(r, refreshCookie)
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "Missing refresh token")
		return
	}
	sess, err := a.opts.Sessions.Refresh(r.Context(), auth.RefreshInput{
		TenantID:        tenantID(r),
		RefreshToken:    token,
		FingerprintHash: req.FingerprintHash,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, sess)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:     sess.AccessToken,
		AccessExpiresAt: sess.AccessExpiresAt,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Sessions.Logout(r.Context(), cookieValue(r, refreshCookie)); err != nil {
		handleError(w, r, err)
		return
	}
	a.clearSessionCookies(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.opts.Sessions.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration received, awaiting approval",
		"user":    user,
	})
}

// me returns the live user record with its effective permissions and building scope.
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := a.opts.Sessions.Me(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	perms, err := a.opts.Decider.EffectivePermissions(r.Context(), user)
	if err != nil {
		handleError(w, r, err)
		return
	}
	buildings, all := auth.BuildingScope(user, perms)
	if buildings == nil {
		buildings = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user,
		"permissions":  perms,
		"buildingIds":  buildings,
		"allBuildings": all,
	})
}

func (a *API) setSessionCookies(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	http.SetCookie(w, a.cookie(r, refreshCookie, sess.RefreshToken, sess.RefreshExpiresAt, true))
	http.SetCookie(w, a.cookie(r, accessCookie, sess.AccessToken, sess.AccessExpiresAt, true))
	http.SetCookie(w, a.cookie(r, csrfCookie, ids.Opaque(), sess.RefreshExpiresAt, false))
}

func (a *API) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{refreshCookie, accessCookie, csrfCookie} {
		c := a.cookie(r, name, "", time.Time{}, name != csrfCookie)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// cookie builds a session cookie. Over HTTPS cookies are Secure with
// SameSite=None so tenant subdomains can share them; otherwise Lax.
func (a *API) cookie(r *http.Request, name, value string, expires time.Time, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		c.Expires = expires.UTC()
		c.MaxAge = int(time.Until(expires).Seconds())
	}
	if secureRequest(r) {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	if domain := strings.Trim(a.opts.Cookies.BaseDomain, "."); domain != "" && !a.opts.Cookies.Dev {
		c.Domain = "." + domain
	}
	return c
}

func secureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func tenantID(r *http.Request) string {
	if t, ok := tenant.FromContext(r.Context()); ok {
		return t.ID
	}
	return ""
}
