package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// Sub-stores are bound to the tenant namespace carried by ctx.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Sessions(ctx context.Context) SessionStore
	Audit(ctx context.Context) AuditStore
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByStatus(ctx context.Context, status string) ([]*User, error)
	SetStatus(ctx context.Context, id, status string) error
	SetRoles(ctx context.Context, id string, roleIDs []string) error
	SetBuildings(ctx context.Context, id string, buildingIDs []string) error
}

// RoleStore manages roles, their permissions and the role hierarchy.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Edges(ctx context.Context) ([]RoleEdge, error)
	AddEdge(ctx context.Context, edge RoleEdge) error
	Permissions(ctx context.Context, roleIDs []string) ([]string, error)
}

// SessionStore keeps hashed refresh tokens per user and device.
type SessionStore interface {
	Add(ctx context.Context, userID string, entry SessionEntry) error
	// Rotate swaps oldHash for newHash only if (userID, oldHash, fingerprintHash)
	// matches a stored entry. Otherwise it returns ErrRotationRejected and changes nothing.
	Rotate(ctx context.Context, userID, oldHash, fingerprintHash, newHash string) error
	Remove(ctx context.Context, userID, tokenHash string) error
	RemoveAll(ctx context.Context, userID string) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
}
