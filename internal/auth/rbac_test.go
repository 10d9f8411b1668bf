package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/auth/authtest"
	"maintenix.io/internal/policy"
)

func newRBAC(t *testing.T) (*auth.RBACService, *authtest.Store) {
	t.Helper()
	catalog, err := policy.Default()
	require.NoError(t, err)
	store := authtest.New()
	svc, err := auth.NewRBACService(store, catalog, authtest.Recorder{Store: store})
	require.NoError(t, err)
	require.NoError(t, svc.SeedTenant(context.Background()))
	return svc, store
}

func TestSeedTenantIsIdempotent(t *testing.T) {
	svc, store := newRBAC(t)
	ctx := context.Background()
	require.NoError(t, svc.SeedTenant(ctx))

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)

	admin, err := store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Contains(t, admin.Permissions, "users:assign_role")
	assert.Contains(t, admin.Permissions, "buildings:inherit_all")

	edges, err := store.Roles(ctx).Edges(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestCreateRoleValidatesCatalog(t *testing.T) {
	svc, _ := newRBAC(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "admin-1", " Viewer ", "read only", []string{"events:view", "events:view", "calendar:view"})
	require.NoError(t, err)
	assert.Equal(t, "viewer", role.Name)
	assert.Equal(t, []string{"events:view", "calendar:view"}, role.Permissions)

	_, err = svc.CreateRole(ctx, "admin-1", "broken", "", []string{"events:destroy"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	_, err = svc.CreateRole(ctx, "admin-1", "viewer", "", nil)
	assert.ErrorIs(t, err, auth.ErrAlreadyExists)
}

func TestAddInheritance(t *testing.T) {
	svc, store := newRBAC(t)
	ctx := context.Background()
	a := store.AddRole("a")
	b := store.AddRole("b")

	require.NoError(t, svc.AddInheritance(ctx, "admin-1", a, b))
	assert.ErrorIs(t, svc.AddInheritance(ctx, "admin-1", a, a), auth.ErrInvalidInput)
	assert.ErrorIs(t, svc.AddInheritance(ctx, "admin-1", a, "missing"), auth.ErrNotFound)
}

func TestApproveAndAssignRole(t *testing.T) {
	svc, store := newRBAC(t)
	ctx := context.Background()
	store.AddRole("tecnico", "interventions:view")
	pending := store.AddUser("p@example.test", auth.StatusPending)

	_, err := svc.AssignRole(ctx, "admin-1", pending, "tecnico")
	assert.ErrorIs(t, err, auth.ErrConflict, "pending users are approved, not reassigned")

	user, err := svc.Approve(ctx, "admin-1", pending, "")
	require.NoError(t, err)
	assert.Equal(t, auth.StatusActive, user.Status)
	base, _ := store.Roles(ctx).FindByName(ctx, auth.RoleUserBase)
	assert.Equal(t, []string{base.ID}, store.User(pending).Roles)

	_, err = svc.Approve(ctx, "admin-1", pending, "")
	assert.ErrorIs(t, err, auth.ErrConflict)

	user, err = svc.AssignRole(ctx, "admin-1", pending, "tecnico")
	require.NoError(t, err)
	assert.Len(t, user.Roles, 1, "assignment replaces the single role")

	_, err = svc.AssignRole(ctx, "admin-1", pending, "ghost")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = svc.AssignRole(ctx, "admin-1", "missing-user", "tecnico")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSetStatusTransitionsAndRevocation(t *testing.T) {
	svc, store := newRBAC(t)
	ctx := context.Background()
	id := store.AddUser("a@example.test", auth.StatusActive)
	require.NoError(t, store.Sessions(ctx).Add(ctx, id, auth.SessionEntry{TokenHash: "h", FingerprintHash: "f"}))

	_, err := svc.SetStatus(ctx, "admin-1", id, auth.StatusDisabled)
	require.NoError(t, err)
	assert.Empty(t, store.SessionEntries(id), "disabling revokes every device")

	_, err = svc.SetStatus(ctx, "admin-1", id, auth.StatusDisabled)
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = svc.SetStatus(ctx, "admin-1", id, auth.StatusActive)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, "admin-1", id, auth.StatusPending)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestAssignBuildingsRespectsActorScope(t *testing.T) {
	svc, store := newRBAC(t)
	ctx := context.Background()
	target := store.AddUser("t@example.test", auth.StatusActive)
	actor := &auth.User{ID: "boss", Status: auth.StatusActive, BuildingIDs: []string{"b1", "b2"}}

	user, err := svc.AssignBuildings(ctx, actor, nil, target, []string{"b1", "b1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, user.BuildingIDs)

	_, err = svc.AssignBuildings(ctx, actor, nil, target, []string{"b3"})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = svc.AssignBuildings(ctx, actor, []string{auth.PermBuildingsInheritAll}, target, []string{"b3"})
	assert.NoError(t, err)
}
