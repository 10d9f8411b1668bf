// Package scheduler triggers the periodic rule and predictive maintenance
// passes. A pass walks every active tenant, pages through its assets and
// hands one job per asset to a Dispatcher through a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maintenix.io/internal/obs"
	"maintenix.io/internal/tenant"
)

// Kind names a maintenance pass.
type Kind string

const (
	KindRule Kind = "rule"
	KindAI   Kind = "ai"
)

const (
	defaultPageSize    = 200
	defaultConcurrency = 10
)

// ErrPassRunning is returned when a pass of the same kind is still in flight.
// The guard is per process; several instances may still overlap.
var ErrPassRunning = errors.New("scheduler: pass already running")

// Job asks a worker to evaluate one asset.
type Job struct {
	Kind        Kind      `json:"kind"`
	TenantID    string    `json:"tenantId"`
	TenantSlug  string    `json:"tenantSlug"`
	AssetID     string    `json:"assetId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// Dispatcher delivers jobs to whatever executes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Tenants lists tenants eligible for scheduled work.
type Tenants interface {
	ListActive(ctx context.Context) ([]*tenant.Tenant, error)
}

// Assets pages asset ids of the tenant carried by ctx, strictly after afterID.
type Assets interface {
	AssetIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type Options struct {
	RuleSpec    string
	AISpec      string
	PageSize    int
	Concurrency int
}

// Result summarises one pass.
type Result struct {
	Kind       Kind `json:"kind"`
	Tenants    int  `json:"tenants"`
	Dispatched int  `json:"dispatched"`
	Failed     int  `json:"failed"`
}

type Scheduler struct {
	tenants    Tenants
	assets     Assets
	dispatcher Dispatcher
	opts       Options
	guards     map[Kind]*atomic.Bool
	cron       *cron.Cron
	now        func() time.Time
}

func New(tenants Tenants, assets Assets, dispatcher Dispatcher, opts Options) *Scheduler {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Scheduler{
		tenants:    tenants,
		assets:     assets,
		dispatcher: dispatcher,
		opts:       opts,
		guards:     map[Kind]*atomic.Bool{KindRule: {}, KindAI: {}},
		cron:       cron.New(),
		now:        time.Now,
	}
}

// Start registers the cron entries and starts the cron runner. Empty specs disable a pass.
func (s *Scheduler) Start(ctx context.Context) error {
	for kind, spec := range map[Kind]string{KindRule: s.opts.RuleSpec, KindAI: s.opts.AISpec} {
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx, kind) }); err != nil {
			return fmt.Errorf("scheduler: %s spec %q: %w", kind, spec, err)
		}
	}
	s.cron.Start()
	obs.Logger().Info("scheduler started", zap.String("rule_spec", s.opts.RuleSpec), zap.String("ai_spec", s.opts.AISpec))
	return nil
}

// Stop halts the cron runner and waits for in-flight passes or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context, kind Kind) {
	res, err := s.RunPass(ctx, kind)
	if errors.Is(err, ErrPassRunning) {
		obs.Logger().Warn("scheduler tick skipped, pass still running", zap.String("kind", string(kind)))
		return
	}
	if err != nil {
		obs.Logger().Error("scheduler pass failed", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	obs.Logger().Info("scheduler pass finished",
		zap.String("kind", string(kind)),
		zap.Int("tenants", res.Tenants),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("failed", res.Failed))
}

// RunPass runs one pass of kind over every active tenant. A tenant whose
// assets cannot be listed is logged and skipped.
func (s *Scheduler) RunPass(ctx context.Context, kind Kind) (Result, error) {
	guard, ok := s.guards[kind]
	if !ok {
		return Result{}, fmt.Errorf("scheduler: unknown pass kind %q", kind)
	}
	if !guard.CompareAndSwap(false, true) {
		obs.SchedulerJobs.WithLabelValues(string(kind), "skipped").Inc()
		return Result{}, ErrPassRunning
	}
	defer guard.Store(false)

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tenants: %w", err)
	}
	res := Result{Kind: kind}
	for _, t := range tenants {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		dispatched, failed, err := s.runTenant(tenant.WithTenant(ctx, t), kind, t)
		res.Tenants++
		res.Dispatched += dispatched
		res.Failed += failed
		if err != nil {
			obs.Logger().Error("scheduler tenant scan failed",
				zap.String("kind", string(kind)), zap.String("tenant_id", t.ID), zap.Error(err))
		}
	}
	return res, nil
}

// Running reports whether a pass of kind is in flight.
func (s *Scheduler) Running(kind Kind) bool {
	g, ok := s.guards[kind]
	return ok && g.Load()
}

func (s *Scheduler) runTenant(ctx context.Context, kind Kind, t *tenant.Tenant) (int, int, error) {
	var dispatched, failed atomic.Int64
	now := s.now().UTC()
	cursor := ""
	for {
		page, err := s.assets.AssetIDs(ctx, cursor, s.opts.PageSize)
		if err != nil {
			return int(dispatched.Load()), int(failed.Load()), err
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.opts.Concurrency)
		for _, assetID := range page {
			job := Job{Kind: kind, TenantID: t.ID, TenantSlug: t.Slug, AssetID: assetID, ScheduledAt: now}
			g.Go(func() error {
				if err := s.dispatcher.Dispatch(ctx, job); err != nil {
					failed.Add(1)
					obs.SchedulerJobs.WithLabelValues(string(kind), "failed").Inc()
					obs.Logger().Warn("dispatch job failed",
						zap.String("tenant_id", job.TenantID), zap.String("asset_id", job.AssetID), zap.Error(err))
					return nil
				}
				dispatched.Add(1)
				obs.SchedulerJobs.WithLabelValues(string(kind), "dispatched").Inc()
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < s.opts.PageSize {
			break
		}
		cursor = page[len(page)-1]
	}
	return int(dispatched.Load()), int(failed.Load()), nil
}
