package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/ids"
)

type userStore struct {
	db  *sql.DB
	err error
}

const userColumns = `id, email, name, status, password_hash, role_ids, building_ids, created_at, updated_at`

func (u userStore) Create(ctx context.Context, user *auth.User) error {
	if u.err != nil {
		return u.err
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	row := u.db.QueryRowContext(ctx, `
		insert into users (id, email, name, status, password_hash, role_ids, building_ids)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.Name, user.Status, user.PasswordHash,
		encodeStrings(user.Roles), encodeStrings(user.BuildingIDs))
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return mapConstraint(err)
	}
	return nil
}

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	return scanUser(u.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	return scanUser(u.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (u userStore) ListByStatus(ctx context.Context, status string) ([]*auth.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	rows, err := u.db.QueryContext(ctx, `select `+userColumns+` from users where status = $1 order by id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (u userStore) SetStatus(ctx context.Context, id, status string) error {
	return u.update(ctx, `update users set status = $2, updated_at = now() where id = $1`, id, status)
}

func (u userStore) SetRoles(ctx context.Context, id string, roleIDs []string) error {
	return u.update(ctx, `update users set role_ids = $2, updated_at = now() where id = $1`, id, encodeStrings(roleIDs))
}

func (u userStore) SetBuildings(ctx context.Context, id string, buildingIDs []string) error {
	return u.update(ctx, `update users set building_ids = $2, updated_at = now() where id = $1`, id, encodeStrings(buildingIDs))
}

func (u userStore) update(ctx context.Context, query string, args ...any) error {
	if u.err != nil {
		return u.err
	}
	res, err := u.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		user      auth.User
		roles     []byte
		buildings []byte
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Status, &user.PasswordHash,
		&roles, &buildings, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.Roles, err = decodeStrings(roles); err != nil {
		return nil, err
	}
	if user.BuildingIDs, err = decodeStrings(buildings); err != nil {
		return nil, err
	}
	return &user, nil
}
