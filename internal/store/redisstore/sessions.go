// Package redisstore keeps refresh-token sessions in Redis, one hash per
// tenant user keyed by token hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/tenant"
)

const defaultPrefix = "sess:"

var errNoTenant = errors.New("redisstore: no tenant in context")

// rotateScript swaps ARGV[1] for ARGV[3] only when the stored fingerprint equals ARGV[2].
var rotateScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
  return 0
end
local sep = string.find(v, "|", 1, true)
local fp = v
if sep then
  fp = string.sub(v, 1, sep - 1)
end
if fp ~= ARGV[2] then
  return 0
end
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[1], ARGV[3], ARGV[2] .. "|" .. ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Sessions implements auth.SessionStore.
type Sessions struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

var _ auth.SessionStore = (*Sessions)(nil)

// NewSessions stores entries that expire ttl after the last write for the user.
func NewSessions(client redis.UniversalClient, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Sessions{client: client, ttl: ttl, prefix: defaultPrefix}
}

func (s *Sessions) key(ctx context.Context, userID string) (string, error) {
	t, ok := tenant.FromContext(ctx)
	if !ok {
		return "", errNoTenant
	}
	return s.prefix + t.ID + ":" + userID, nil
}

func encodeEntry(fingerprint string, at time.Time) string {
	return fingerprint + "|" + strconv.FormatInt(at.Unix(), 10)
}

func (s *Sessions) Add(ctx context.Context, userID string, entry auth.SessionEntry) error {
	key, err := s.key(ctx, userID)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entry.TokenHash, encodeEntry(entry.FingerprintHash, entry.CreatedAt))
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add session: %w", err)
	}
	return nil
}

func (s *Sessions) Rotate(ctx context.Context, userID, oldHash, fingerprintHash, newHash string) error {
	key, err := s.key(ctx, userID)
	if err != nil {
		return err
	}
	n, err := rotateScript.Run(ctx, s.client, []string{key},
		oldHash, fingerprintHash, newHash, time.Now().UTC().Unix(), s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis rotate session: %w", err)
	}
	if n != 1 {
		return auth.ErrRotationRejected
	}
	return nil
}

func (s *Sessions) Remove(ctx context.Context, userID, tokenHash string) error {
	key, err := s.key(ctx, userID)
	if err != nil {
		return err
	}
	return s.client.HDel(ctx, key, tokenHash).Err()
}

func (s *Sessions) RemoveAll(ctx context.Context, userID string) error {
	key, err := s.key(ctx, userID)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key).Err()
}

// Entries lists the stored sessions for userID.
func (s *Sessions) Entries(ctx context.Context, userID string) ([]auth.SessionEntry, error) {
	key, err := s.key(ctx, userID)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]auth.SessionEntry, 0, len(raw))
	for hash, v := range raw {
		fp, at, _ := strings.Cut(v, "|")
		sec, _ := strconv.ParseInt(at, 10, 64)
		out = append(out, auth.SessionEntry{TokenHash: hash, FingerprintHash: fp, CreatedAt: time.Unix(sec, 0).UTC()})
	}
	return out, nil
}

// Store overlays Redis sessions on another auth.Store.
type Store struct {
	auth.Store
	sessions *Sessions
}

func Overlay(base auth.Store, sessions *Sessions) *Store {
	return &Store{Store: base, sessions: sessions}
}

func (s *Store) Sessions(context.Context) auth.SessionStore { return s.sessions }
