package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/auth/authtest"
	"maintenix.io/internal/tenant"
)

func newSessions(t *testing.T) (*Sessions, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessions(client, time.Hour), mr
}

func tenantCtx(id string) context.Context {
	return tenant.WithTenant(context.Background(), &tenant.Tenant{ID: id, Slug: id, Status: tenant.StatusActive})
}

func TestRotateSingleUse(t *testing.T) {
	s, _ := newSessions(t)
	ctx := tenantCtx("acme")
	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "fp"}))

	require.NoError(t, s.Rotate(ctx, "u1", "h1", "fp", "h2"))
	assert.ErrorIs(t, s.Rotate(ctx, "u1", "h1", "fp", "h3"), auth.ErrRotationRejected)

	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h2", entries[0].TokenHash)
	assert.Equal(t, "fp", entries[0].FingerprintHash)
}

func TestRotateFingerprintMismatchKeepsEntry(t *testing.T) {
	s, _ := newSessions(t)
	ctx := tenantCtx("acme")
	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "laptop"}))

	assert.ErrorIs(t, s.Rotate(ctx, "u1", "h1", "phone", "h2"), auth.ErrRotationRejected)

	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h1", entries[0].TokenHash)
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	s, _ := newSessions(t)
	ctx := tenantCtx("acme")
	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "fp"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Rotate(ctx, "u1", "h1", "fp", "next-"+string(rune('a'+i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, auth.ErrRotationRejected) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTenantsAreIsolated(t *testing.T) {
	s, _ := newSessions(t)
	acme, beta := tenantCtx("acme"), tenantCtx("beta")
	require.NoError(t, s.Add(acme, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "fp"}))

	assert.ErrorIs(t, s.Rotate(beta, "u1", "h1", "fp", "h2"), auth.ErrRotationRejected)
	_, err := s.Entries(context.Background(), "u1")
	assert.ErrorIs(t, err, errNoTenant)
}

func TestRemoveAndExpiry(t *testing.T) {
	s, mr := newSessions(t)
	ctx := tenantCtx("acme")
	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "laptop"}))
	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h2", FingerprintHash: "phone"}))

	require.NoError(t, s.Remove(ctx, "u1", "h1"))
	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "phone", entries[0].FingerprintHash)

	mr.FastForward(2 * time.Hour)
	entries, err = s.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Add(ctx, "u1", auth.SessionEntry{TokenHash: "h3", FingerprintHash: "fp"}))
	require.NoError(t, s.RemoveAll(ctx, "u1"))
	assert.False(t, mr.Exists("sess:acme:u1"))
}

func TestOverlayRoutesSessionsToRedis(t *testing.T) {
	s, _ := newSessions(t)
	base := authtest.New()
	store := Overlay(base, s)
	ctx := tenantCtx("acme")

	require.NoError(t, store.Sessions(ctx).Add(ctx, "u1", auth.SessionEntry{TokenHash: "h1", FingerprintHash: "fp"}))
	assert.Empty(t, base.SessionEntries("u1"))
	_, err := store.Users(ctx).Find(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
