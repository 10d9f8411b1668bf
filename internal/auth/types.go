package auth

import "time"

// User status values.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Reserved role names created for every tenant.
const (
	RoleAdmin    = "admin"
	RoleUserBase = "user_base"
)

// User is a tenant member. Users are never hard-deleted; disabling is the only removal.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Roles        []string  `json:"roles"`
	BuildingIDs  []string  `json:"buildingIds"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Active reports whether the user may be granted anything at all.
func (u *User) Active() bool {
	return u != nil && u.Status == StatusActive
}

// Role groups permissions. Roles inherit from every child reachable through RoleEdge.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoleEdge is a parent -> child hierarchy link; the parent inherits the child's permissions.
type RoleEdge struct {
	ParentID string
	ChildID  string
}

// SessionEntry binds one refresh token hash to one device fingerprint.
type SessionEntry struct {
	TokenHash       string
	FingerprintHash string
	CreatedAt       time.Time
}

// AuditRecord is an append-only log row.
type AuditRecord struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	ByUser     string         `json:"byUser,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}
