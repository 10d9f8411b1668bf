package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"maintenix.io/internal/ids"
	"maintenix.io/internal/tenant"
)

// TenantStore is the platform-level tenant registry.
type TenantStore struct {
	db *sql.DB
}

var _ tenant.Store = (*TenantStore)(nil)

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, slug, db_name, status, created_at from tenants where slug = $1
	`, strings.ToLower(strings.TrimSpace(slug))).Scan(&t.ID, &t.Slug, &t.DBName, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	if s.db == nil {
		return errUnavailable
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into tenants (id, slug, db_name, status)
		values ($1, $2, $3, $4)
		returning created_at
	`, t.ID, t.Slug, t.DBName, t.Status).Scan(&t.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return tenant.ErrSlugTaken
		}
		return err
	}
	return nil
}

func (s *TenantStore) SetStatus(ctx context.Context, id, status string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `update tenants set status = $2 where id = $1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

func (s *TenantStore) ListActive(ctx context.Context) ([]*tenant.Tenant, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, slug, db_name, status, created_at from tenants
		where status = $1
		order by slug
	`, tenant.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.DBName, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
