package tenant

import (
	"context"
	"errors"
	"time"
)

// Tenant status values.
const (
	StatusProvisioning = "provisioning"
	StatusActive       = "active"
	StatusSuspended    = "suspended"
)

var (
	// ErrTenantNotFound means the host did not resolve to an active tenant.
	ErrTenantNotFound = errors.New("tenant: not found")
	// ErrTenantConfig means the resolver itself is misconfigured.
	ErrTenantConfig = errors.New("tenant: resolver misconfigured")
	// ErrSlugTaken is returned when provisioning an existing slug.
	ErrSlugTaken = errors.New("tenant: slug already in use")
	// ErrInvalidSlug is returned for slugs that cannot be a DNS label.
	ErrInvalidSlug = errors.New("tenant: invalid slug")
)

// Tenant is one customer organisation with its own isolated namespace.
type Tenant struct {
	ID        string    `json:"tenantId"`
	Slug      string    `json:"slug"`
	DBName    string    `json:"dbName"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory looks tenants up in the platform registry.
type Directory interface {
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
}

// Store is the full platform tenant registry.
type Store interface {
	Directory
	Create(ctx context.Context, t *Tenant) error
	SetStatus(ctx context.Context, id, status string) error
	ListActive(ctx context.Context) ([]*Tenant, error)
}

type tenantContextKey struct{}

// WithTenant attaches the resolved tenant.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// FromContext returns the tenant resolved for this request.
func FromContext(ctx context.Context) (*Tenant, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(tenantContextKey{}).(*Tenant)
	return t, ok && t != nil
}
