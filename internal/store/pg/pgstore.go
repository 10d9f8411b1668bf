package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/tenant"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	errUnavailable = errors.New("database connection unavailable")
	errNoTenant    = errors.New("no tenant namespace in context")
	schemaPattern  = regexp.MustCompile(`^t_[0-9a-z]{26}$`)
)

// PoolOptions tunes a connection pool.
type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open returns a pgx-backed pool for dsn.
func Open(dsn string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 20
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = opts.MaxOpenConns / 2
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// ValidSchema reports whether name is a tenant namespace this package will open.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// SchemaDSN scopes baseDSN to the given schema through search_path.
// Both URL and keyword/value DSNs are accepted.
func SchemaDSN(baseDSN, schema string) (string, error) {
	if !ValidSchema(schema) {
		return "", fmt.Errorf("%w: invalid namespace %q", tenant.ErrTenantConfig, schema)
	}
	if strings.HasPrefix(baseDSN, "postgres://") || strings.HasPrefix(baseDSN, "postgresql://") {
		u, err := url.Parse(baseDSN)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(baseDSN) + " search_path=" + schema, nil
}

// SchemaOpener returns a tenant.Opener that opens one pool per namespace
// and verifies it with a ping before handing it to the registry.
func SchemaOpener(baseDSN string, opts PoolOptions) tenant.Opener {
	return func(ctx context.Context, dbName string) (*sql.DB, error) {
		dsn, err := SchemaDSN(baseDSN, dbName)
		if err != nil {
			return nil, err
		}
		db, err := Open(dsn, opts)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", dbName, err)
		}
		return db, nil
	}
}

// Store implements auth.Store over per-tenant Postgres schemas. Every
// sub-store is bound to the namespace of the tenant carried by ctx.
type Store struct {
	registry *tenant.Registry
}

var _ auth.Store = (*Store)(nil)

func NewStore(registry *tenant.Registry) *Store {
	return &Store{registry: registry}
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	if s == nil || s.registry == nil {
		return nil, errUnavailable
	}
	t, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, errNoTenant
	}
	db, err := s.registry.Get(ctx, t.DBName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	return db, nil
}

func (s *Store) Users(ctx context.Context) auth.UserStore {
	db, err := s.conn(ctx)
	return userStore{db: db, err: err}
}

func (s *Store) Roles(ctx context.Context) auth.RoleStore {
	db, err := s.conn(ctx)
	return roleStore{db: db, err: err}
}

func (s *Store) Sessions(ctx context.Context) auth.SessionStore {
	db, err := s.conn(ctx)
	return sessionStore{db: db, err: err}
}

func (s *Store) Audit(ctx context.Context) auth.AuditStore {
	db, err := s.conn(ctx)
	return auditStore{db: db, err: err}
}

// AssetIDs pages through the tenant's assets in id order, strictly after afterID.
func (s *Store) AssetIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
		select id from assets
		where id > $1
		order by id
		limit $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapConstraint(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrAlreadyExists
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

// Identifier lists are stored as jsonb arrays.
func encodeStrings(values []string) []byte {
	if len(values) == 0 {
		return []byte("[]")
	}
	data, _ := json.Marshal(values)
	return data
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return out, nil
}
