package pdp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/auth/authtest"
	"maintenix.io/internal/pdp"
)

type fixture struct {
	store   *authtest.Store
	decider *pdp.Decider
	admin   string
	viewer  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := authtest.New()
	viewerRole := store.AddRole("viewer", "assets:read")
	adminRole := store.AddRole("admin", "users:manage")
	store.AddEdge(adminRole, viewerRole)
	// a cycle back to the top must not break evaluation
	store.AddEdge(viewerRole, adminRole)

	return fixture{
		store:   store,
		decider: pdp.NewDecider(store, authtest.Recorder{Store: store}),
		admin:   store.AddUser("admin@acme.test", auth.StatusActive, adminRole),
		viewer:  store.AddUser("viewer@acme.test", auth.StatusActive, viewerRole),
	}
}

func TestDecideScenarios(t *testing.T) {
	f := newFixture(t)
	pending := f.store.AddUser("pending@acme.test", auth.StatusPending)
	disabled := f.store.AddUser("disabled@acme.test", auth.StatusDisabled)
	roleless := f.store.AddUser("roleless@acme.test", auth.StatusActive)

	cases := []struct {
		name   string
		user   string
		perm   string
		allow  bool
		reason string
	}{
		{"admin direct", f.admin, "users:manage", true, pdp.ReasonGranted},
		{"admin inherited", f.admin, "assets:read", true, pdp.ReasonGranted},
		{"viewer via cycle", f.viewer, "users:manage", true, pdp.ReasonGranted},
		{"unknown permission", f.admin, "reports:export", false, pdp.ReasonDenied},
		{"unknown user", "01HZZZZZZZZZZZZZZZZZZZZZZZ", "assets:read", false, pdp.ReasonUserNotFound},
		{"pending user", pending, "assets:read", false, pdp.ReasonUserInactive},
		{"disabled user", disabled, "assets:read", false, pdp.ReasonUserInactive},
		{"no roles", roleless, "assets:read", false, pdp.ReasonNoRoles},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(f.store.AuditRecords())
			dec := f.decider.Decide(context.Background(), tc.user, tc.perm)
			assert.Equal(t, tc.allow, dec.Allow)
			assert.Equal(t, tc.reason, dec.Reason)

			records := f.store.AuditRecords()
			require.Len(t, records, before+1)
			last := records[len(records)-1]
			assert.Equal(t, "rbac_decision", last.EntityType)
			assert.Equal(t, tc.user, last.EntityID)
			assert.Equal(t, tc.perm, last.Details["permission"])
		})
	}
}

func TestDecideInactiveUserDeniedRegardlessOfRoles(t *testing.T) {
	store := authtest.New()
	adminRole := store.AddRole("admin", "users:manage", "assets:read")
	decider := pdp.NewDecider(store, nil)

	for _, status := range []string{auth.StatusDisabled, auth.StatusPending} {
		user := store.AddUser(status+"-admin@acme.test", status, adminRole)
		for _, perm := range []string{"users:manage", "assets:read"} {
			dec := decider.Decide(context.Background(), user, perm)
			assert.False(t, dec.Allow, "%s %s", status, perm)
			assert.Equal(t, pdp.ReasonUserInactive, dec.Reason, "%s %s", status, perm)
		}
	}

	active := store.AddUser("active-admin@acme.test", auth.StatusActive, adminRole)
	assert.True(t, decider.Decide(context.Background(), active, "users:manage").Allow)
}

func TestDecideViewerCannotManageUsers(t *testing.T) {
	store := authtest.New()
	viewerRole := store.AddRole("viewer", "dashboard:view")
	adminRole := store.AddRole("admin", "users:manage")
	store.AddEdge(adminRole, viewerRole)
	decider := pdp.NewDecider(store, nil)

	viewer := store.AddUser("viewer@acme.test", auth.StatusActive, viewerRole)
	dec := decider.Decide(context.Background(), viewer, "users:manage")
	assert.False(t, dec.Allow)
	assert.Equal(t, pdp.ReasonDenied, dec.Reason)

	dec = decider.Decide(context.Background(), viewer, "dashboard:view")
	assert.True(t, dec.Allow)

	admin := store.AddUser("admin@acme.test", auth.StatusActive, adminRole)
	assert.True(t, decider.Decide(context.Background(), admin, "dashboard:view").Allow)
}

func TestDecideMissingParametersIsNotAudited(t *testing.T) {
	f := newFixture(t)
	for _, args := range [][2]string{{"", "assets:read"}, {f.admin, ""}, {"  ", " "}} {
		dec := f.decider.Decide(context.Background(), args[0], args[1])
		assert.False(t, dec.Allow)
		assert.Equal(t, pdp.ReasonMissingParams, dec.Reason)
	}
	assert.Empty(t, f.store.AuditRecords())
}

func TestDecideDeniesWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith = errors.New("connection reset")
	dec := f.decider.Decide(context.Background(), f.admin, "users:manage")
	assert.False(t, dec.Allow)
	assert.Equal(t, pdp.ReasonUnavailable, dec.Reason)
}

func TestEffectivePermissions(t *testing.T) {
	f := newFixture(t)
	user := f.store.User(f.viewer)
	perms, err := f.decider.EffectivePermissions(context.Background(), &user)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"assets:read", "users:manage"}, perms)

	user.Status = auth.StatusDisabled
	perms, err = f.decider.EffectivePermissions(context.Background(), &user)
	require.NoError(t, err)
	assert.Empty(t, perms)
}
