package policy

import (
	"strings"

	"maintenix.io/internal/ids"
)

// IDPlaceholder replaces identifier segments in route keys.
const IDPlaceholder = ":id"

// Normalize builds the route key "METHOD /path" used to look up permissions.
func Normalize(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + NormalizePath(path)
}

// NormalizePath strips the query string and trailing slash and collapses
// identifier segments into IDPlaceholder. Applying it twice changes nothing.
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	out := segments[:0]
	for i, seg := range segments {
		if seg == "" && i > 0 {
			continue
		}
		if isIdentifier(seg) {
			seg = IDPlaceholder
		}
		out = append(out, seg)
	}
	p := strings.Join(out, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func isIdentifier(seg string) bool {
	switch {
	case seg == "":
		return false
	case isDecimal(seg):
		return true
	case len(seg) == 24 && isHex(seg):
		return true
	case ids.IsEntityID(seg), ids.IsOpaque(seg):
		return true
	}
	return false
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
