package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"maintenix.io/internal/auth"
)

type sessionStore struct {
	db  *sql.DB
	err error
}

func (s sessionStore) Add(ctx context.Context, userID string, entry auth.SessionEntry) error {
	if s.err != nil {
		return s.err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions (user_id, token_hash, fingerprint_hash, created_at)
		values ($1, $2, $3, $4)
		on conflict (user_id, token_hash, fingerprint_hash) do nothing
	`, userID, entry.TokenHash, entry.FingerprintHash, entry.CreatedAt)
	return mapConstraint(err)
}

// Rotate is a single conditional update; exactly one concurrent caller sees a row affected.
func (s sessionStore) Rotate(ctx context.Context, userID, oldHash, fingerprintHash, newHash string) error {
	if s.err != nil {
		return s.err
	}
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set token_hash = $4, created_at = now()
		where user_id = $1 and token_hash = $2 and fingerprint_hash = $3
	`, userID, oldHash, fingerprintHash, newHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return auth.ErrRotationRejected
	}
	return nil
}

func (s sessionStore) Remove(ctx context.Context, userID, tokenHash string) error {
	if s.err != nil {
		return s.err
	}
	_, err := s.db.ExecContext(ctx, `delete from user_sessions where user_id = $1 and token_hash = $2`, userID, tokenHash)
	return err
}

func (s sessionStore) RemoveAll(ctx context.Context, userID string) error {
	if s.err != nil {
		return s.err
	}
	_, err := s.db.ExecContext(ctx, `delete from user_sessions where user_id = $1`, userID)
	return err
}

type auditStore struct {
	db  *sql.DB
	err error
}

func (a auditStore) Append(ctx context.Context, rec *auth.AuditRecord) error {
	if a.err != nil {
		return a.err
	}
	details := []byte("{}")
	if len(rec.Details) > 0 {
		raw, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
		insert into audit_log (id, entity_type, entity_id, action, by_user, ts, details)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.EntityType, rec.EntityID, rec.Action, nullIfEmpty(rec.ByUser), rec.Timestamp, details)
	return err
}
