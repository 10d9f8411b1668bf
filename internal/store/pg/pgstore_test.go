package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/tenant"
)

const testSchema = "t_01hzx5r3k0b8m2v6q9w4y7c1dn"

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, context.Context) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	reg := tenant.NewRegistry(func(context.Context, string) (*sql.DB, error) { return db, nil })
	ctx := tenant.WithTenant(context.Background(), &tenant.Tenant{ID: "t1", Slug: "acme", DBName: testSchema, Status: tenant.StatusActive})
	return NewStore(reg), mock, ctx
}

func TestSchemaDSN(t *testing.T) {
	got, err := SchemaDSN("postgres://u:p@db:5432/maintenix?sslmode=disable", testSchema)
	if err != nil {
		t.Fatalf("SchemaDSN: %v", err)
	}
	if !strings.Contains(got, "search_path="+testSchema) || !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("unexpected dsn %q", got)
	}

	got, err = SchemaDSN("host=db user=u dbname=maintenix", testSchema)
	if err != nil {
		t.Fatalf("SchemaDSN keyword: %v", err)
	}
	if got != "host=db user=u dbname=maintenix search_path="+testSchema {
		t.Fatalf("unexpected keyword dsn %q", got)
	}

	for _, bad := range []string{"public", "t_x; drop schema", "T_01HZX5R3K0B8M2V6Q9W4Y7C1DN", ""} {
		if _, err := SchemaDSN("postgres://db/x", bad); !errors.Is(err, tenant.ErrTenantConfig) {
			t.Fatalf("expected config error for %q, got %v", bad, err)
		}
	}
}

func TestStoreWithoutTenantIsUnavailable(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, err := s.Users(context.Background()).Find(context.Background(), "u1"); !errors.Is(err, errNoTenant) {
		t.Fatalf("expected errNoTenant, got %v", err)
	}
	var nilStore *Store
	if err := nilStore.Sessions(context.Background()).RemoveAll(context.Background(), "u1"); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected errUnavailable, got %v", err)
	}
}

func TestUserCreateAndFind(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "ops@acme.test", "Ops", auth.StatusPending, "hash", []byte(`["r1"]`), []byte("[]")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	user := &auth.User{Email: " OPS@acme.test ", Name: "Ops", Status: auth.StatusPending, PasswordHash: "hash", Roles: []string{"r1"}}
	if err := s.Users(ctx).Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if user.ID == "" || !user.CreatedAt.Equal(now) {
		t.Fatalf("create did not fill id/timestamps: %+v", user)
	}

	cols := []string{"id", "email", "name", "status", "password_hash", "role_ids", "building_ids", "created_at", "updated_at"}
	mock.ExpectQuery("select id, email, name, status, password_hash, role_ids, building_ids, created_at, updated_at from users where id").
		WithArgs(user.ID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(user.ID, "ops@acme.test", "Ops", auth.StatusActive, "hash", []byte(`["r1"]`), []byte(`["b1","b2"]`), now, now))

	found, err := s.Users(ctx).Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found.Roles) != 1 || found.Roles[0] != "r1" || len(found.BuildingIDs) != 2 {
		t.Fatalf("unexpected user %+v", found)
	}

	mock.ExpectQuery("select .* from users where email").WithArgs("ghost@acme.test").WillReturnError(sql.ErrNoRows)
	if _, err := s.Users(ctx).FindByEmail(ctx, "Ghost@acme.test"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	err := s.Users(ctx).Create(ctx, &auth.User{Email: "a@acme.test", Status: auth.StatusPending})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUserSetStatusMissing(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectExec("update users set status").WithArgs("u1", auth.StatusDisabled).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Users(ctx).SetStatus(ctx, "u1", auth.StatusDisabled); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRolePermissionsAndEdges(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectQuery("select permissions from roles").
		WithArgs([]byte(`["r1","r2"]`)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions"}).
			AddRow([]byte(`["assets:read"]`)).
			AddRow([]byte(`["users:manage","assets:read"]`)))

	perms, err := s.Roles(ctx).Permissions(ctx, []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if len(perms) != 3 {
		t.Fatalf("unexpected permissions %v", perms)
	}

	mock.ExpectQuery("select parent_id, child_id from role_edges").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id", "child_id"}).AddRow("r1", "r2"))
	edges, err := s.Roles(ctx).Edges(ctx)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(edges) != 1 || edges[0] != (auth.RoleEdge{ParentID: "r1", ChildID: "r2"}) {
		t.Fatalf("unexpected edges %v", edges)
	}

	mock.ExpectExec("insert into role_edges").WithArgs("r1", "r2").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if err := s.Roles(ctx).AddEdge(ctx, auth.RoleEdge{ParentID: "r1", ChildID: "r2"}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if perms, err := s.Roles(ctx).Permissions(ctx, nil); err != nil || perms != nil {
		t.Fatalf("empty role set should be a no-op, got %v %v", perms, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRotateCompareAndSwap(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectExec("update user_sessions set token_hash").
		WithArgs("u1", "old", "fp", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update user_sessions set token_hash").
		WithArgs("u1", "old", "fp", "newer").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sessions := s.Sessions(ctx)
	if err := sessions.Rotate(ctx, "u1", "old", "fp", "new"); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if err := sessions.Rotate(ctx, "u1", "old", "fp", "newer"); !errors.Is(err, auth.ErrRotationRejected) {
		t.Fatalf("expected ErrRotationRejected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionAddAndRemove(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec("insert into user_sessions").WithArgs("u1", "h1", "fp", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from user_sessions where user_id = \\$1 and token_hash").WithArgs("u1", "h1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from user_sessions where user_id = \\$1$").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))

	sessions := s.Sessions(ctx)
	if err := sessions.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "fp", CreatedAt: at}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sessions.Remove(ctx, "u1", "h1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := sessions.RemoveAll(ctx, "u1"); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppend(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", "user", "u1", "LOGIN", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`{"ip":"10.0.0.1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rec := &auth.AuditRecord{ID: "a1", EntityType: "user", EntityID: "u1", Action: "LOGIN", Details: map[string]any{"ip": "10.0.0.1"}}
	if err := s.Audit(ctx).Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.Timestamp.IsZero() {
		t.Fatal("timestamp must be filled")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssetIDsPaging(t *testing.T) {
	s, mock, ctx := newTestStore(t)
	mock.ExpectQuery("select id from assets").WithArgs("", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1").AddRow("a2"))
	mock.ExpectQuery("select id from assets").WithArgs("a2", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	page, err := s.AssetIDs(ctx, "", 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("first page: %v %v", page, err)
	}
	page, err = s.AssetIDs(ctx, page[len(page)-1], 2)
	if err != nil || len(page) != 0 {
		t.Fatalf("second page: %v %v", page, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
