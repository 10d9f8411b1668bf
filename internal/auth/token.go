package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"maintenix.io/internal/ids"
)

const (
	defaultIssuer     = "maintenix"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	clockSkew         = 5 * time.Second
)

// TokenKind separates access from refresh tokens inside the claims.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims carried by both token kinds. Status is a snapshot taken at issue time.
type Claims struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status,omitempty"`
	TenantID string    `json:"tenantId,omitempty"`
	Kind     TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies tokens. Access and refresh tokens use
// independent secrets so a leaked access secret cannot mint refresh tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithRefreshSecret enables refresh token issuance and verification.
func WithRefreshSecret(secret string) TokenOption {
	return func(s *TokenService) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return nil
		}
		s.refreshSecret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService builds a token service. The gateway only needs the access secret.
func NewTokenService(accessSecret string, opts ...TokenOption) (*TokenService, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	if accessSecret == "" {
		return nil, errors.New("auth: access secret is required")
	}
	s := &TokenService{
		accessSecret: []byte(accessSecret),
		issuer:       defaultIssuer,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.refreshSecret != nil && string(s.refreshSecret) == accessSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs an access token. ttl <= 0 uses the configured lifetime.
func (s *TokenService) IssueAccess(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	return s.issue(KindAccess, claims, ttl)
}

// IssueRefresh signs a refresh token. ttl <= 0 uses the configured lifetime.
func (s *TokenService) IssueRefresh(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	return s.issue(KindRefresh, claims, ttl)
}

func (s *TokenService) issue(kind TokenKind, claims Claims, ttl time.Duration) (string, time.Time, error) {
	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.UserID == "" {
		return "", time.Time{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	secret, err := s.secretFor(kind)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims.Kind = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        ids.Opaque(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry, issuer and kind. It never touches storage.
func (s *TokenService) Verify(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, err := s.secretFor(kind)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Kind != kind || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) secretFor(kind TokenKind) ([]byte, error) {
	switch kind {
	case KindAccess:
		return s.accessSecret, nil
	case KindRefresh:
		if len(s.refreshSecret) == 0 {
			return nil, errors.New("auth: refresh secret is not configured")
		}
		return s.refreshSecret, nil
	default:
		return nil, fmt.Errorf("auth: unknown token kind %q", kind)
	}
}

// Inspect checks signature, issuer and kind but tolerates expiry. Logout uses it
// so an expired refresh cookie still clears its own device entry.
func (s *TokenService) Inspect(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, err := s.secretFor(kind)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.Issuer != s.issuer || claims.Kind != kind || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
