// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/ids"
)

// Store is a goroutine-safe in-memory auth.Store. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	roles    map[string]*auth.Role
	edges    []auth.RoleEdge
	sessions map[string][]auth.SessionEntry
	audit    []auth.AuditRecord

	// FailWith, when set, is returned by every operation.
	FailWith error
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    map[string]*auth.User{},
		roles:    map[string]*auth.Role{},
		sessions: map[string][]auth.SessionEntry{},
	}
}

func (s *Store) Users(context.Context) auth.UserStore       { return users{s} }
func (s *Store) Roles(context.Context) auth.RoleStore       { return roles{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore { return sessions{s} }
func (s *Store) Audit(context.Context) auth.AuditStore      { return audit{s} }

// AddRole inserts a role and returns its id.
func (s *Store) AddRole(name string, perms ...string) string {
	r := &auth.Role{Name: name, Permissions: perms}
	_ = roles{s}.Create(context.Background(), r)
	return r.ID
}

// AddEdge links parent -> child.
func (s *Store) AddEdge(parentID, childID string) {
	_ = roles{s}.AddEdge(context.Background(), auth.RoleEdge{ParentID: parentID, ChildID: childID})
}

// AddUser inserts a user with the given status and role ids and returns its id.
func (s *Store) AddUser(email, status string, roleIDs ...string) string {
	u := &auth.User{Email: email, Name: email, Status: status, Roles: roleIDs}
	_ = users{s}.Create(context.Background(), u)
	return u.ID
}

// SetPassword stores a bcrypt hash for the user.
func (s *Store) SetPassword(userID, password string) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].PasswordHash = hash
}

// SessionEntries returns a copy of the stored entries for userID.
func (s *Store) SessionEntries(userID string) []auth.SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.SessionEntry(nil), s.sessions[userID]...)
}

// AuditRecords returns a copy of every appended record.
func (s *Store) AuditRecords() []auth.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.AuditRecord(nil), s.audit...)
}

// User returns a copy of the stored user.
func (s *Store) User(id string) auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

type users struct{ s *Store }

func (u users) Create(_ context.Context, user *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.FailWith != nil {
		return u.s.FailWith
	}
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return auth.ErrAlreadyExists
		}
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	cp := *user
	u.s.users[user.ID] = &cp
	return nil
}

func (u users) Find(_ context.Context, id string) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.FailWith != nil {
		return nil, u.s.FailWith
	}
	user, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.FailWith != nil {
		return nil, u.s.FailWith
	}
	for _, user := range u.s.users {
		if strings.EqualFold(user.Email, email) {
			cp := *user
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u users) ListByStatus(_ context.Context, status string) ([]*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.FailWith != nil {
		return nil, u.s.FailWith
	}
	var out []*auth.User
	for _, user := range u.s.users {
		if user.Status == status {
			cp := *user
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u users) update(id string, fn func(*auth.User)) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.FailWith != nil {
		return u.s.FailWith
	}
	user, ok := u.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(user)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (u users) SetStatus(_ context.Context, id, status string) error {
	return u.update(id, func(user *auth.User) { user.Status = status })
}

func (u users) SetRoles(_ context.Context, id string, roleIDs []string) error {
	return u.update(id, func(user *auth.User) { user.Roles = append([]string(nil), roleIDs...) })
}

func (u users) SetBuildings(_ context.Context, id string, buildingIDs []string) error {
	return u.update(id, func(user *auth.User) { user.BuildingIDs = append([]string(nil), buildingIDs...) })
}

type roles struct{ s *Store }

func (r roles) Create(_ context.Context, role *auth.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return r.s.FailWith
	}
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return auth.ErrAlreadyExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = time.Now().UTC()
	cp := *role
	r.s.roles[role.ID] = &cp
	return nil
}

func (r roles) Find(_ context.Context, id string) (*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return nil, r.s.FailWith
	}
	role, ok := r.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r roles) FindByName(_ context.Context, name string) (*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return nil, r.s.FailWith
	}
	for _, role := range r.s.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r roles) List(_ context.Context) ([]*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return nil, r.s.FailWith
	}
	out := make([]*auth.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roles) Edges(_ context.Context) ([]auth.RoleEdge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return nil, r.s.FailWith
	}
	return append([]auth.RoleEdge(nil), r.s.edges...), nil
}

func (r roles) AddEdge(_ context.Context, edge auth.RoleEdge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return r.s.FailWith
	}
	for _, e := range r.s.edges {
		if e == edge {
			return auth.ErrAlreadyExists
		}
	}
	r.s.edges = append(r.s.edges, edge)
	return nil
}

func (r roles) Permissions(_ context.Context, roleIDs []string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWith != nil {
		return nil, r.s.FailWith
	}
	var out []string
	for _, id := range roleIDs {
		if role, ok := r.s.roles[id]; ok {
			out = append(out, role.Permissions...)
		}
	}
	return out, nil
}

type sessions struct{ s *Store }

func (ss sessions) Add(_ context.Context, userID string, entry auth.SessionEntry) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if ss.s.FailWith != nil {
		return ss.s.FailWith
	}
	entries := ss.s.sessions[userID]
	for i, e := range entries {
		if e.FingerprintHash == entry.FingerprintHash && e.TokenHash == entry.TokenHash {
			entries[i] = entry
			return nil
		}
	}
	ss.s.sessions[userID] = append(entries, entry)
	return nil
}

func (ss sessions) Rotate(_ context.Context, userID, oldHash, fingerprintHash, newHash string) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if ss.s.FailWith != nil {
		return ss.s.FailWith
	}
	for i, e := range ss.s.sessions[userID] {
		if e.TokenHash == oldHash && e.FingerprintHash == fingerprintHash {
			ss.s.sessions[userID][i].TokenHash = newHash
			return nil
		}
	}
	return auth.ErrRotationRejected
}

func (ss sessions) Remove(_ context.Context, userID, tokenHash string) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if ss.s.FailWith != nil {
		return ss.s.FailWith
	}
	entries := ss.s.sessions[userID]
	out := entries[:0]
	for _, e := range entries {
		if e.TokenHash != tokenHash {
			out = append(out, e)
		}
	}
	ss.s.sessions[userID] = out
	return nil
}

func (ss sessions) RemoveAll(_ context.Context, userID string) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if ss.s.FailWith != nil {
		return ss.s.FailWith
	}
	delete(ss.s.sessions, userID)
	return nil
}

type audit struct{ s *Store }

func (a audit) Append(_ context.Context, rec *auth.AuditRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.FailWith != nil {
		return a.s.FailWith
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	a.s.audit = append(a.s.audit, *rec)
	return nil
}

// Recorder is a synchronous auth.Auditor that appends straight to the store.
type Recorder struct{ Store *Store }

func (r Recorder) Record(ctx context.Context, rec auth.AuditRecord) {
	_ = r.Store.Audit(ctx).Append(ctx, &rec)
}
