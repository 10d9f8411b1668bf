package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/ids"
)

type roleStore struct {
	db  *sql.DB
	err error
}

func (r roleStore) Create(ctx context.Context, role *auth.Role) error {
	if r.err != nil {
		return r.err
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := r.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, permissions)
		values ($1, $2, $3, $4)
		returning created_at
	`, role.ID, strings.ToLower(strings.TrimSpace(role.Name)), role.Description, encodeStrings(role.Permissions))
	if err := row.Scan(&role.CreatedAt); err != nil {
		return mapConstraint(err)
	}
	return nil
}

func (r roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	if r.err != nil {
		return nil, r.err
	}
	return scanRole(r.db.QueryRowContext(ctx, `
		select id, name, description, permissions, created_at from roles where id = $1
	`, id))
}

func (r roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	if r.err != nil {
		return nil, r.err
	}
	return scanRole(r.db.QueryRowContext(ctx, `
		select id, name, description, permissions, created_at from roles where name = $1
	`, strings.ToLower(strings.TrimSpace(name))))
}

func (r roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	if r.err != nil {
		return nil, r.err
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, name, description, permissions, created_at from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r roleStore) Edges(ctx context.Context) ([]auth.RoleEdge, error) {
	if r.err != nil {
		return nil, r.err
	}
	rows, err := r.db.QueryContext(ctx, `select parent_id, child_id from role_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.RoleEdge
	for rows.Next() {
		var e auth.RoleEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r roleStore) AddEdge(ctx context.Context, edge auth.RoleEdge) error {
	if r.err != nil {
		return r.err
	}
	_, err := r.db.ExecContext(ctx, `
		insert into role_edges (parent_id, child_id) values ($1, $2)
	`, edge.ParentID, edge.ChildID)
	return mapConstraint(err)
}

// Permissions returns the concatenated permission lists of roleIDs. Unknown ids are skipped.
func (r roleStore) Permissions(ctx context.Context, roleIDs []string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		select permissions from roles
		where id in (select jsonb_array_elements_text($1::jsonb))
	`, encodeStrings(roleIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		perms, err := decodeStrings(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, perms...)
	}
	return out, rows.Err()
}

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		role  auth.Role
		perms []byte
	)
	err := row.Scan(&role.ID, &role.Name, &role.Description, &perms, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if role.Permissions, err = decodeStrings(perms); err != nil {
		return nil, err
	}
	return &role, nil
}
