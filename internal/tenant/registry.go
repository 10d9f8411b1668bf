package tenant

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"

	"maintenix.io/internal/obs"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("tenant: registry closed")

// Opener opens the isolated namespace named dbName.
type Opener func(ctx context.Context, dbName string) (*sql.DB, error)

// Registry caches one connection pool per tenant namespace. Pools are opened
// lazily and live until Close; there is no eviction.
type Registry struct {
	open Opener

	mu     sync.RWMutex
	conns  map[string]*sql.DB
	closed bool
}

func NewRegistry(open Opener) *Registry {
	return &Registry{open: open, conns: make(map[string]*sql.DB)}
}

// Get returns the pool for dbName, opening it on first use. When two callers
// race on the same name the first stored pool wins and the other is closed.
func (r *Registry) Get(ctx context.Context, dbName string) (*sql.DB, error) {
	r.mu.RLock()
	db, ok := r.conns[dbName]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return db, nil
	}

	fresh, err := r.open(ctx, dbName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = fresh.Close()
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.conns[dbName]; ok {
		r.mu.Unlock()
		_ = fresh.Close()
		return existing, nil
	}
	r.conns[dbName] = fresh
	r.mu.Unlock()
	obs.Logger().Info("tenant namespace opened", zap.String("db_name", dbName))
	return fresh, nil
}

// Len reports how many namespaces are open.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close closes every pool. Further Get calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for name, db := range r.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.conns, name)
	}
	return errors.Join(errs...)
}
