package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	CSRFCookie = "csrfToken"
	CSRFHeader = "X-CSRF-Token"
)

var csrfExemptPrefixes = []string{
	"/auth/login",
	"/auth/register",
	"/api/v1/platform/tenants",
}

// CSRF is a double-submit cookie check. Same-origin requests only need the
// cookie; cross-origin requests also need a matching header.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || csrfExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(CSRFCookie)
		if err != nil || cookie.Value == "" {
			reject(w, r, "csrf", http.StatusForbidden, errorBody{Error: "CSRF token missing"})
			return
		}
		if sameOrigin(r) {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(CSRFHeader)
		if header == "" {
			reject(w, r, "csrf", http.StatusForbidden, errorBody{Error: "CSRF token missing"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			reject(w, r, "csrf", http.StatusForbidden, errorBody{Error: "CSRF token invalid"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func csrfExempt(path string) bool {
	for _, p := range csrfExemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// sameOrigin treats a missing Origin as same-origin.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == requestScheme(r)+"://"+r.Host
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
