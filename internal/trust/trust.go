// Package trust carries the header contract between the gateway and the
// internal service.
package trust

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	HeaderProxy  = "X-Internal-Proxy"
	HeaderSecret = "X-Internal-Secret"
	HeaderUserID = "X-User-Id"
)

// Strip removes identity headers a client may have forged.
func Strip(h http.Header) {
	h.Del(HeaderProxy)
	h.Del(HeaderSecret)
	h.Del(HeaderUserID)
}

// Inject marks an outbound request as coming from the gateway.
func Inject(h http.Header, secret, userID string) {
	Strip(h)
	h.Set(HeaderProxy, "true")
	h.Set(HeaderSecret, secret)
	if userID != "" {
		h.Set(HeaderUserID, userID)
	}
}

// Verify reports whether h carries the proxy marker and the shared secret.
// An empty secret never verifies.
func Verify(h http.Header, secret string) bool {
	if secret == "" || h.Get(HeaderProxy) != "true" {
		return false
	}
	got := h.Get(HeaderSecret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// UserID returns the identity asserted by the gateway.
func UserID(h http.Header) string {
	return strings.TrimSpace(h.Get(HeaderUserID))
}
