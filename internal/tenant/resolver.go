package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// PlatformPrefix marks tenant-less endpoints.
const PlatformPrefix = "/api/v1/platform"

// Resolver maps a request host onto a tenant. Nothing is cached across hosts.
type Resolver struct {
	dir          Directory
	baseDomain   string
	fallbackSlug string
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithFallbackSlug is used when the host carries no tenant label (local development).
func WithFallbackSlug(slug string) ResolverOption {
	return func(r *Resolver) { r.fallbackSlug = strings.ToLower(strings.TrimSpace(slug)) }
}

func NewResolver(dir Directory, baseDomain string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir:        dir,
		baseDomain: strings.Trim(strings.ToLower(strings.TrimSpace(baseDomain)), "."),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tenantless reports whether path may be served without a tenant.
func Tenantless(path string) bool {
	return path == PlatformPrefix || strings.HasPrefix(path, PlatformPrefix+"/")
}

// RequestHost prefers X-Forwarded-Host over Host, lowercased and without port.
func RequestHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSpace(host)
	if host == "" {
		host = r.Host
	}
	return NormalizeHost(host)
}

// NormalizeHost lowercases host and strips any port.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.Trim(host, "[]"), ".")
}

// Slug extracts the tenant label from host: the first label when host is a
// strict subdomain of the base domain.
func (r *Resolver) Slug(host string) string {
	host = NormalizeHost(host)
	if r.baseDomain == "" || host == r.baseDomain || !strings.HasSuffix(host, "."+r.baseDomain) {
		return ""
	}
	sub := strings.TrimSuffix(host, "."+r.baseDomain)
	label, _, _ := strings.Cut(sub, ".")
	return label
}

// Resolve returns the active tenant for host.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Tenant, error) {
	if r.baseDomain == "" {
		return nil, fmt.Errorf("%w: base domain is not configured", ErrTenantConfig)
	}
	slug := r.Slug(host)
	if slug == "" {
		slug = r.fallbackSlug
	}
	if slug == "" {
		return nil, fmt.Errorf("%w: no tenant label in host %q", ErrTenantNotFound, NormalizeHost(host))
	}
	t, err := r.dir.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, slug)
		}
		return nil, err
	}
	if t.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrTenantNotFound, slug, t.Status)
	}
	return t, nil
}

// ResolveRequest resolves the tenant of req. Tenant-less paths return (nil, nil).
func (r *Resolver) ResolveRequest(req *http.Request) (*Tenant, error) {
	if Tenantless(req.URL.Path) {
		if r.baseDomain == "" {
			return nil, fmt.Errorf("%w: base domain is not configured", ErrTenantConfig)
		}
		return nil, nil
	}
	return r.Resolve(req.Context(), RequestHost(req))
}
