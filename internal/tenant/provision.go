package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"maintenix.io/internal/ids"
	"maintenix.io/internal/obs"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Step prepares a freshly created namespace (schema migration, role seeding).
// ctx already carries the tenant.
type Step func(ctx context.Context, t *Tenant, db *sql.DB) error

// Provisioner creates tenants and brings their namespace to a usable state.
type Provisioner struct {
	store    Store
	registry *Registry
	steps    []Step
}

func NewProvisioner(store Store, registry *Registry, steps ...Step) *Provisioner {
	return &Provisioner{store: store, registry: registry, steps: steps}
}

// Provision registers slug, runs every step against its namespace and activates it.
// A failing step leaves the tenant in provisioning so it never resolves.
func (p *Provisioner) Provision(ctx context.Context, slug string) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if _, err := p.store.FindBySlug(ctx, slug); err == nil {
		return nil, ErrSlugTaken
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	id := ids.New()
	t := &Tenant{
		ID:     id,
		Slug:   slug,
		DBName: "t_" + strings.ToLower(id),
		Status: StatusProvisioning,
	}
	if err := p.store.Create(ctx, t); err != nil {
		return nil, err
	}
	db, err := p.registry.Get(ctx, t.DBName)
	if err != nil {
		return nil, fmt.Errorf("open namespace %s: %w", t.DBName, err)
	}
	tctx := WithTenant(ctx, t)
	for i, step := range p.steps {
		if err := step(tctx, t, db); err != nil {
			obs.Logger().Error("tenant provisioning step failed",
				zap.String("tenant_id", t.ID), zap.Int("step", i), zap.Error(err))
			return nil, fmt.Errorf("provision %s: %w", slug, err)
		}
	}
	if err := p.store.SetStatus(ctx, t.ID, StatusActive); err != nil {
		return nil, err
	}
	t.Status = StatusActive
	obs.Logger().Info("tenant provisioned", zap.String("tenant_id", t.ID), zap.String("slug", slug))
	return t, nil
}
