package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"maintenix.io/internal/obs"
)

// Auditor receives audit records. Implementations must not block the caller.
type Auditor interface {
	Record(ctx context.Context, rec AuditRecord)
}

// OTPSender delivers email verification codes after registration.
type OTPSender interface {
	SendVerification(ctx context.Context, user *User) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditRecord) {}

// SessionService owns the login, refresh rotation and logout lifecycle.
type SessionService struct {
	store   Store
	tokens  *TokenService
	pepper  []byte
	auditor Auditor
	otp     OTPSender
	now     func() time.Time
}

// SessionOption configures SessionService.
type SessionOption func(*SessionService)

// WithAuditor routes auth events to a.
func WithAuditor(a Auditor) SessionOption {
	return func(s *SessionService) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithOTPSender sets the verification code collaborator used by Register.
func WithOTPSender(o OTPSender) SessionOption {
	return func(s *SessionService) { s.otp = o }
}

// WithSessionClock overrides time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *SessionService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionService wires the session lifecycle. pepper is mixed into every stored token hash.
func NewSessionService(store Store, tokens *TokenService, pepper string, opts ...SessionOption) (*SessionService, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: store and token service are required")
	}
	if strings.TrimSpace(pepper) == "" {
		return nil, errors.New("auth: token pepper is required")
	}
	s := &SessionService{
		store:   store,
		tokens:  tokens,
		pepper:  []byte(pepper),
		auditor: nopAuditor{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is what a successful login or refresh hands back to the client.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             *User
}

type LoginInput struct {
	TenantID        string
	Email           string
	Password        string
	FingerprintHash string
}

type RefreshInput struct {
	TenantID        string
	RefreshToken    string
	FingerprintHash string
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// HashToken is the only form in which refresh tokens are persisted.
func (s *SessionService) HashToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write(s.pepper)
	return hex.EncodeToString(h.Sum(nil))
}

// Login verifies credentials and opens a session for one device.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (Session, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	fp := strings.TrimSpace(in.FingerprintHash)
	if email == "" || in.Password == "" {
		return Session{}, ErrUnauthorized
	}
	if fp == "" {
		return Session{}, fmt.Errorf("%w: fingerprintHash is required", ErrInvalidInput)
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditor.Record(ctx, s.event("login_failed", "", map[string]any{"email": email, "reason": "unknown email"}))
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, in.Password); err != nil {
		s.auditor.Record(ctx, s.event("login_failed", user.ID, map[string]any{"reason": "bad password"}))
		return Session{}, ErrUnauthorized
	}
	if !user.Active() {
		s.auditor.Record(ctx, s.event("login_failed", user.ID, map[string]any{"reason": "status " + user.Status}))
		return Session{}, ErrUserInactive
	}

	sess, err := s.mint(user, in.TenantID)
	if err != nil {
		return Session{}, err
	}
	entry := SessionEntry{
		TokenHash:       s.HashToken(sess.RefreshToken),
		FingerprintHash: fp,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Sessions(ctx).Add(ctx, user.ID, entry); err != nil {
		return Session{}, err
	}
	s.auditor.Record(ctx, s.event("login", user.ID, nil))
	return sess, nil
}

// Refresh rotates a refresh token. The stored hash only advances when user,
// old hash and fingerprint all match; a replayed or foreign token is rejected.
func (s *SessionService) Refresh(ctx context.Context, in RefreshInput) (Session, error) {
	fp := strings.TrimSpace(in.FingerprintHash)
	if fp == "" {
		return Session{}, fmt.Errorf("%w: fingerprintHash is required", ErrInvalidInput)
	}
	claims, err := s.tokens.Verify(in.RefreshToken, KindRefresh)
	if err != nil {
		obs.SessionRotations.WithLabelValues("invalid_token").Inc()
		return Session{}, err
	}
	if in.TenantID != "" && claims.TenantID != in.TenantID {
		obs.SessionRotations.WithLabelValues("tenant_mismatch").Inc()
		return Session{}, ErrInvalidToken
	}

	user, err := s.store.Users(ctx).Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.Active() {
		return Session{}, ErrUserInactive
	}

	sess, err := s.mint(user, claims.TenantID)
	if err != nil {
		return Session{}, err
	}
	oldHash := s.HashToken(in.RefreshToken)
	newHash := s.HashToken(sess.RefreshToken)
	if err := s.store.Sessions(ctx).Rotate(ctx, user.ID, oldHash, fp, newHash); err != nil {
		if errors.Is(err, ErrRotationRejected) {
			obs.SessionRotations.WithLabelValues("rejected").Inc()
			s.auditor.Record(ctx, s.event("refresh_rejected", user.ID, nil))
			obs.Logger().Warn("refresh rotation rejected", zap.String("user_id", user.ID))
		}
		return Session{}, err
	}
	obs.SessionRotations.WithLabelValues("rotated").Inc()
	return sess, nil
}

// Logout drops the single device entry that matches the presented token.
// Unknown or already-rotated tokens are a no-op.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	claims, err := s.tokens.Inspect(refreshToken, KindRefresh)
	if err != nil {
		return nil
	}
	if err := s.store.Sessions(ctx).Remove(ctx, claims.UserID, s.HashToken(refreshToken)); err != nil {
		return err
	}
	s.auditor.Record(ctx, s.event("logout", claims.UserID, nil))
	return nil
}

// Register creates a pending user holding user_base and triggers email verification.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	base, err := s.store.Roles(ctx).FindByName(ctx, RoleUserBase)
	if err != nil {
		return nil, fmt.Errorf("lookup %s role: %w", RoleUserBase, err)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		Name:         name,
		Status:       StatusPending,
		Roles:        []string{base.ID},
		PasswordHash: hash,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, s.event("register", user.ID, map[string]any{"email": email}))
	if s.otp != nil {
		if err := s.otp.SendVerification(ctx, user); err != nil {
			obs.Logger().Error("send verification code", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return user, nil
}

// Me returns the live user record.
func (s *SessionService) Me(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}
	return s.store.Users(ctx).Find(ctx, userID)
}

func (s *SessionService) mint(user *User, tenantID string) (Session, error) {
	claims := Claims{UserID: user.ID, Status: user.Status, TenantID: tenantID}
	access, accessExp, err := s.tokens.IssueAccess(claims, 0)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(claims, 0)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

func (s *SessionService) event(action, userID string, details map[string]any) AuditRecord {
	return AuditRecord{
		EntityType: "session",
		EntityID:   userID,
		Action:     action,
		ByUser:     userID,
		Timestamp:  s.now().UTC(),
		Details:    details,
	}
}
