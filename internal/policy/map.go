package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed permissions.yaml
var defaultTable []byte

// ErrInvalidTable is returned when a permission table fails validation.
var ErrInvalidTable = errors.New("policy: invalid permission table")

type table struct {
	Routes   map[string]string `yaml:"routes"`
	Baseline []string          `yaml:"baseline"`
	Extra    []string          `yaml:"extra"`
}

// Map is the read-only route to permission table. It is built once at startup.
type Map struct {
	routes   map[string]string
	baseline []string
	catalog  []string
}

// Default returns the table compiled into the binary.
func Default() (*Map, error) {
	return parse(defaultTable)
}

// LoadFile replaces the compiled table with the one at path.
func LoadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("policy: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a YAML permission table.
func Load(r io.Reader) (*Map, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func parse(raw []byte) (*Map, error) {
	var t table
	if err := yaml.UnmarshalStrict(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(t.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", ErrInvalidTable)
	}
	m := &Map{routes: make(map[string]string, len(t.Routes))}
	for key, perm := range t.Routes {
		method, path, ok := strings.Cut(strings.TrimSpace(key), " ")
		if !ok || method == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("%w: malformed route key %q", ErrInvalidTable, key)
		}
		perm = strings.TrimSpace(perm)
		if perm == "" {
			return nil, fmt.Errorf("%w: empty permission for %q", ErrInvalidTable, key)
		}
		norm := Normalize(method, path)
		if prev, dup := m.routes[norm]; dup && prev != perm {
			return nil, fmt.Errorf("%w: %q maps to both %s and %s", ErrInvalidTable, norm, prev, perm)
		}
		m.routes[norm] = perm
	}
	m.baseline = dedupe(t.Baseline)

	set := make(map[string]struct{})
	for _, p := range m.routes {
		set[p] = struct{}{}
	}
	for _, p := range m.baseline {
		set[p] = struct{}{}
	}
	for _, p := range dedupe(t.Extra) {
		set[p] = struct{}{}
	}
	m.catalog = make([]string, 0, len(set))
	for p := range set {
		m.catalog = append(m.catalog, p)
	}
	sort.Strings(m.catalog)
	return m, nil
}

// Lookup returns the permission for a normalized route key.
func (m *Map) Lookup(routeKey string) (string, bool) {
	perm, ok := m.routes[routeKey]
	return perm, ok
}

// Resolve normalizes the request line and looks it up.
func (m *Map) Resolve(method, path string) (routeKey, permission string, ok bool) {
	routeKey = Normalize(method, path)
	permission, ok = m.routes[routeKey]
	return routeKey, permission, ok
}

// Len reports the number of mapped routes.
func (m *Map) Len() int { return len(m.routes) }

// Baseline lists the permissions granted to the user_base role.
func (m *Map) Baseline() []string {
	out := make([]string, len(m.baseline))
	copy(out, m.baseline)
	return out
}

// Catalog lists every known permission name, sorted.
func (m *Map) Catalog() []string {
	out := make([]string, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Known reports whether perm is part of the catalog.
func (m *Map) Known(perm string) bool {
	i := sort.SearchStrings(m.catalog, perm)
	return i < len(m.catalog) && m.catalog[i] == perm
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
