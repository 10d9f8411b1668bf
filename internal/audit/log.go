package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/ids"
	"maintenix.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// DefaultBuffer is the queue depth used when none is configured.
const DefaultBuffer = 1024

// Writer persists audit records off the request path. Record never blocks:
// when the queue is full the record is dropped and counted.
type Writer struct {
	store auth.Store
	queue chan entry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type entry struct {
	ctx context.Context
	rec auth.AuditRecord
}

var _ auth.Auditor = (*Writer)(nil)

// NewWriter starts a single background worker appending to store.
func NewWriter(store auth.Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	w := &Writer{store: store, queue: make(chan entry, buffer)}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record enqueues rec. The tenant namespace in ctx is kept, its cancellation is not.
func (w *Writer) Record(ctx context.Context, rec auth.AuditRecord) {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		details := make(map[string]any, len(rec.Details)+1)
		for k, v := range rec.Details {
			details[k] = v
		}
		details["request_id"] = rid
		rec.Details = details
	}
	logRecord(ctx, rec)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(rec, "closed")
		return
	}
	select {
	case w.queue <- entry{ctx: context.WithoutCancel(ctx), rec: rec}:
	default:
		w.drop(rec, "queue full")
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.queue {
		rec := e.rec
		if err := w.store.Audit(e.ctx).Append(e.ctx, &rec); err != nil {
			obs.AuditDropped.Inc()
			obs.Logger().Warn("audit append failed",
				zap.String("action", rec.Action),
				zap.String("entity_id", rec.EntityID),
				zap.Error(err),
			)
		}
	}
}

func (w *Writer) drop(rec auth.AuditRecord, why string) {
	obs.AuditDropped.Inc()
	obs.Logger().Warn("audit record dropped",
		zap.String("reason", why),
		zap.String("action", rec.Action),
		zap.String("entity_id", rec.EntityID),
	)
}

// logRecord mirrors every audit record to the structured log.
func logRecord(ctx context.Context, rec auth.AuditRecord) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("audit_id", rec.ID),
		zap.String("entity_type", rec.EntityType),
		zap.String("entity_id", rec.EntityID),
		zap.String("action", rec.Action),
		zap.Time("at", rec.Timestamp),
	}
	if rec.ByUser != "" {
		fields = append(fields, zap.String("by_user", rec.ByUser))
	} else if userID, ok := auth.UserIDFromContext(ctx); ok {
		fields = append(fields, zap.String("by_user", userID))
	}
	if len(rec.Details) > 0 {
		fields = append(fields, zap.Any("details", rec.Details))
	}
	obs.Logger().Info("audit", fields...)
}
