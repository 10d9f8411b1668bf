package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/auth/authtest"
	"maintenix.io/internal/obs"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(nil) })
	return logs
}

func TestWriterPersistsAndLogs(t *testing.T) {
	logs := observe(t)
	store := authtest.New()
	w := NewWriter(store, 8)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithUserID(ctx, "user-42")
	w.Record(ctx, auth.AuditRecord{
		EntityType: "user",
		EntityID:   "user-7",
		Action:     "APPROVE",
		Details:    map[string]any{"role": "user_base"},
	})
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := store.AuditRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID == "" || rec.Timestamp.IsZero() {
		t.Fatalf("id and timestamp must be filled: %+v", rec)
	}
	if rec.Details["request_id"] != "req-123" || rec.Details["role"] != "user_base" {
		t.Fatalf("details not merged: %v", rec.Details)
	}

	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 {
		t.Fatalf("expected one audit log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["action"] != "APPROVE" || fields["by_user"] != "user-42" {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}

func TestWriterDetachesCancellation(t *testing.T) {
	observe(t)
	store := authtest.New()
	w := NewWriter(store, 8)

	ctx, cancel := context.WithCancel(context.Background())
	w.Record(ctx, auth.AuditRecord{EntityType: "user", EntityID: "u1", Action: "LOGIN"})
	cancel()

	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(store.AuditRecords()); got != 1 {
		t.Fatalf("expected record despite cancelled request, got %d", got)
	}
}

func TestWriterDropsAfterClose(t *testing.T) {
	logs := observe(t)
	obs.Init()
	store := authtest.New()
	w := NewWriter(store, 1)
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	before := testutil.ToFloat64(obs.AuditDropped)
	w.Record(context.Background(), auth.AuditRecord{EntityType: "user", EntityID: "u1", Action: "LOGOUT"})
	if got := testutil.ToFloat64(obs.AuditDropped) - before; got != 1 {
		t.Fatalf("expected one dropped record, got %v", got)
	}
	if logs.FilterMessage("audit record dropped").Len() != 1 {
		t.Fatal("expected drop warning")
	}
	if len(store.AuditRecords()) != 0 {
		t.Fatal("closed writer must not persist")
	}
}

func TestWriterCountsStoreFailures(t *testing.T) {
	observe(t)
	store := authtest.New()
	store.FailWith = errors.New("namespace unavailable")
	w := NewWriter(store, 4)

	before := testutil.ToFloat64(obs.AuditDropped)
	w.Record(context.Background(), auth.AuditRecord{EntityType: "user", EntityID: "u1", Action: "LOGIN"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := testutil.ToFloat64(obs.AuditDropped) - before; got != 1 {
		t.Fatalf("expected failure to be counted, got %v", got)
	}
}

func TestRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
