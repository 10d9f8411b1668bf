package trust

import (
	"net/http"
	"testing"
)

func TestInjectReplacesForgedHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderUserID, "attacker")
	h.Set(HeaderSecret, "guess")
	Inject(h, "s3cret", "u1")
	if h.Get(HeaderUserID) != "u1" || h.Get(HeaderSecret) != "s3cret" || h.Get(HeaderProxy) != "true" {
		t.Fatalf("unexpected headers: %v", h)
	}

	h = http.Header{}
	h.Set(HeaderUserID, "attacker")
	Inject(h, "s3cret", "")
	if h.Get(HeaderUserID) != "" {
		t.Fatalf("anonymous forward must not carry a user id: %v", h)
	}
}

func TestVerify(t *testing.T) {
	cases := []struct {
		name   string
		proxy  string
		secret string
		want   string
		ok     bool
	}{
		{"valid", "true", "s3cret", "s3cret", true},
		{"wrong secret", "true", "nope", "s3cret", false},
		{"missing marker", "", "s3cret", "s3cret", false},
		{"empty configured secret", "true", "", "", false},
	}
	for _, tc := range cases {
		h := http.Header{}
		if tc.proxy != "" {
			h.Set(HeaderProxy, tc.proxy)
		}
		h.Set(HeaderSecret, tc.secret)
		if got := Verify(h, tc.want); got != tc.ok {
			t.Fatalf("%s: Verify = %v, want %v", tc.name, got, tc.ok)
		}
	}
}
