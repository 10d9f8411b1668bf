package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier for users, roles, tenants and audit rows.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsEntityID reports whether s looks like an identifier minted by New.
func IsEntityID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Opaque returns a random identifier for token ids, CSRF tokens and request ids.
func Opaque() string {
	return uuid.NewString()
}

// IsOpaque reports whether s is a canonical UUID.
func IsOpaque(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
