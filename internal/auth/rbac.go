package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Catalog is the immutable set of permission names a role may reference.
type Catalog interface {
	Known(perm string) bool
	Catalog() []string
	Baseline() []string
}

// RBACService administers roles, the role hierarchy and user lifecycle inside one tenant.
type RBACService struct {
	store   Store
	catalog Catalog
	auditor Auditor
	now     func() time.Time
}

func NewRBACService(store Store, catalog Catalog, auditor Auditor) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if catalog == nil {
		return nil, errors.New("permission catalog is required")
	}
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &RBACService{store: store, catalog: catalog, auditor: auditor, now: time.Now}, nil
}

// CreateRole validates every permission against the catalog before persisting.
func (s *RBACService) CreateRole(ctx context.Context, actorID, name, description string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	perms := dedupeStrings(permissions)
	for _, p := range perms {
		if !s.catalog.Known(p) {
			return nil, fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, p)
		}
	}
	role := &Role{Name: name, Description: strings.TrimSpace(description), Permissions: perms}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	s.audit(ctx, "role", role.ID, "create", actorID, map[string]any{"name": name, "permissions": perms})
	return role, nil
}

// ListRoles returns every role in the tenant.
func (s *RBACService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// AddInheritance makes parent inherit child's permissions. Cycles are stored as-is;
// resolution is cycle safe.
func (s *RBACService) AddInheritance(ctx context.Context, actorID, parentID, childID string) error {
	parentID = strings.TrimSpace(parentID)
	childID = strings.TrimSpace(childID)
	if parentID == "" || childID == "" {
		return fmt.Errorf("%w: parent and child role ids are required", ErrInvalidInput)
	}
	if parentID == childID {
		return fmt.Errorf("%w: a role cannot inherit from itself", ErrInvalidInput)
	}
	roles := s.store.Roles(ctx)
	for _, id := range []string{parentID, childID} {
		if _, err := roles.Find(ctx, id); err != nil {
			return err
		}
	}
	if err := roles.AddEdge(ctx, RoleEdge{ParentID: parentID, ChildID: childID}); err != nil {
		return err
	}
	s.audit(ctx, "role", parentID, "inherit", actorID, map[string]any{"child": childID})
	return nil
}

// ListPending returns users awaiting approval.
func (s *RBACService) ListPending(ctx context.Context) ([]*User, error) {
	return s.store.Users(ctx).ListByStatus(ctx, StatusPending)
}

// ListManaged returns active and disabled users.
func (s *RBACService) ListManaged(ctx context.Context) ([]*User, error) {
	users := s.store.Users(ctx)
	active, err := users.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, err
	}
	disabled, err := users.ListByStatus(ctx, StatusDisabled)
	if err != nil {
		return nil, err
	}
	return append(active, disabled...), nil
}

// Approve activates a pending user with roleName, or user_base when empty.
func (s *RBACService) Approve(ctx context.Context, actorID, userID, roleName string) (*User, error) {
	if strings.TrimSpace(roleName) == "" {
		roleName = RoleUserBase
	}
	user, role, err := s.loadUserAndRole(ctx, userID, roleName)
	if err != nil {
		return nil, err
	}
	if user.Status != StatusPending {
		return nil, fmt.Errorf("%w: user is %s, not pending", ErrConflict, user.Status)
	}
	users := s.store.Users(ctx)
	if err := users.SetRoles(ctx, user.ID, []string{role.ID}); err != nil {
		return nil, err
	}
	if err := users.SetStatus(ctx, user.ID, StatusActive); err != nil {
		return nil, err
	}
	user.Roles = []string{role.ID}
	user.Status = StatusActive
	s.audit(ctx, "user", user.ID, "approve", actorID, map[string]any{"role": role.Name})
	return user, nil
}

// AssignRole replaces the user's single role. Pending users must go through Approve.
func (s *RBACService) AssignRole(ctx context.Context, actorID, userID, roleName string) (*User, error) {
	if strings.TrimSpace(roleName) == "" {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	user, role, err := s.loadUserAndRole(ctx, userID, roleName)
	if err != nil {
		return nil, err
	}
	if user.Status == StatusPending {
		return nil, fmt.Errorf("%w: pending users are assigned a role on approval", ErrConflict)
	}
	if err := s.store.Users(ctx).SetRoles(ctx, user.ID, []string{role.ID}); err != nil {
		return nil, err
	}
	user.Roles = []string{role.ID}
	s.audit(ctx, "user", user.ID, "assign_role", actorID, map[string]any{"role": role.Name})
	return user, nil
}

// SetStatus toggles active <-> disabled. Disabling revokes every session of the user.
func (s *RBACService) SetStatus(ctx context.Context, actorID, userID, status string) (*User, error) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != StatusActive && status != StatusDisabled {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	user, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	allowed := (user.Status == StatusActive && status == StatusDisabled) ||
		(user.Status == StatusDisabled && status == StatusActive)
	if !allowed {
		return nil, fmt.Errorf("%w: transition %s -> %s not allowed", ErrConflict, user.Status, status)
	}
	if err := s.store.Users(ctx).SetStatus(ctx, user.ID, status); err != nil {
		return nil, err
	}
	if status == StatusDisabled {
		if err := s.store.Sessions(ctx).RemoveAll(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	prev := user.Status
	user.Status = status
	s.audit(ctx, "user", user.ID, "set_status", actorID, map[string]any{"from": prev, "to": status})
	return user, nil
}

// SeedTenant creates the reserved roles: admin holds the whole catalog, user_base the
// baseline, and admin inherits user_base. Existing roles are left untouched.
func (s *RBACService) SeedTenant(ctx context.Context) error {
	roles := s.store.Roles(ctx)
	ensure := func(name, desc string, perms []string) (*Role, error) {
		r, err := roles.FindByName(ctx, name)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		r = &Role{Name: name, Description: desc, Permissions: perms}
		if err := roles.Create(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	}
	base, err := ensure(RoleUserBase, "Baseline permissions for every approved user", s.catalog.Baseline())
	if err != nil {
		return fmt.Errorf("seed %s: %w", RoleUserBase, err)
	}
	admin, err := ensure(RoleAdmin, "Tenant administrator", s.catalog.Catalog())
	if err != nil {
		return fmt.Errorf("seed %s: %w", RoleAdmin, err)
	}
	if err := roles.AddEdge(ctx, RoleEdge{ParentID: admin.ID, ChildID: base.ID}); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("seed hierarchy: %w", err)
	}
	return nil
}

func (s *RBACService) loadUserAndRole(ctx context.Context, userID, roleName string) (*User, *Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, strings.TrimSpace(strings.ToLower(roleName)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: role %q does not exist", ErrInvalidInput, roleName)
		}
		return nil, nil, err
	}
	return user, role, nil
}

func (s *RBACService) audit(ctx context.Context, entityType, entityID, action, actorID string, details map[string]any) {
	s.auditor.Record(ctx, AuditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ByUser:     actorID,
		Timestamp:  s.now().UTC(),
		Details:    details,
	})
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// AssignBuildings replaces the target's buildings. The actor may only hand out
// buildings inside their own scope.
func (s *RBACService) AssignBuildings(ctx context.Context, actor *User, actorPermissions []string, userID string, buildingIDs []string) (*User, error) {
	buildingIDs = dedupeStrings(buildingIDs)
	if err := CanAccessBuildings(actor, actorPermissions, buildingIDs...); err != nil {
		return nil, err
	}
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if err := users.SetBuildings(ctx, user.ID, buildingIDs); err != nil {
		return nil, err
	}
	user.BuildingIDs = buildingIDs
	s.audit(ctx, "user", user.ID, "assign_buildings", actor.ID, map[string]any{"buildingIds": buildingIDs})
	return user, nil
}
