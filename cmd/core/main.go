package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"maintenix.io/internal/audit"
	"maintenix.io/internal/auth"
	"maintenix.io/internal/config"
	"maintenix.io/internal/httpapi"
	"maintenix.io/internal/migrate"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/pdp"
	"maintenix.io/internal/policy"
	"maintenix.io/internal/scheduler"
	"maintenix.io/internal/store/pg"
	"maintenix.io/internal/store/redisstore"
	"maintenix.io/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath string
		noJobs     bool
	)
	cmd := &cobra.Command{
		Use:           "maintenix-core",
		Short:         "Identity, RBAC and decision service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, config.RoleCore)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, !noJobs)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("MAINTENIX_CONFIG"), "path to a YAML config file")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not start the maintenance scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, withJobs bool) error {
	log := obs.InitLogger(obs.LogOptions{Environment: cfg.Environment, Level: cfg.LogLevel, Service: "maintenix-core"})
	defer func() { _ = log.Sync() }()
	obs.Init()
	obs.InitBuildInfo("core", version, commit)

	shutdownTracing, err := obs.InitTracing(ctx, tracingOptions(cfg, "maintenix-core"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool := pg.PoolOptions{MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns}
	platformDB, err := pg.Open(cfg.Database.DSN, pool)
	if err != nil {
		return fmt.Errorf("open platform db: %w", err)
	}
	defer platformDB.Close()

	tenants := pg.NewTenantStore(platformDB)
	registry := tenant.NewRegistry(pg.SchemaOpener(cfg.Database.DSN, pool))
	defer registry.Close()
	tenantStore := pg.NewStore(registry)

	var store auth.Store = tenantStore
	if cfg.Sessions.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Sessions.RedisAddr, DB: cfg.Sessions.RedisDB})
		defer client.Close()
		store = redisstore.Overlay(tenantStore, redisstore.NewSessions(client, cfg.Auth.RefreshTTL))
		log.Info("refresh sessions stored in redis", zap.String("addr", cfg.Sessions.RedisAddr))
	}

	auditor := audit.NewWriter(store, 0)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = auditor.Close(closeCtx)
	}()

	tokens, err := auth.NewTokenService(cfg.Auth.AccessSecret,
		auth.WithRefreshSecret(cfg.Auth.RefreshSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionService(store, tokens, cfg.Auth.TokenPepper, auth.WithAuditor(auditor))
	if err != nil {
		return err
	}
	permissions, err := permissionMap(cfg.Gateway.PermissionsFile)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(store, permissions, auditor)
	if err != nil {
		return err
	}
	decider := pdp.NewDecider(store, auditor)

	provisioner := tenant.NewProvisioner(tenants, registry,
		migrate.TenantStep(migrate.Tenant()),
		func(ctx context.Context, _ *tenant.Tenant, _ *sql.DB) error { return rbac.SeedTenant(ctx) },
	)

	resolver := tenant.NewResolver(tenants, cfg.Tenancy.BaseDomain, tenant.WithFallbackSlug(cfg.Tenancy.FallbackSlug))
	probe := httpapi.ReadyProbe{DB: platformDB}
	api, err := httpapi.New(httpapi.Options{
		Resolver:        resolver,
		Sessions:        sessions,
		RBAC:            rbac,
		Decider:         decider,
		Provisioner:     provisioner,
		InternalSecret:  cfg.Auth.InternalSecret,
		PlatformSeedKey: cfg.Auth.PlatformSeedKey,
		Cookies:         httpapi.CookieOptions{BaseDomain: cfg.Tenancy.BaseDomain, Dev: cfg.Dev()},
		Ready:           probe,
		Version:         version,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Core.Addr,
		Handler:           otelhttp.NewHandler(api.Handler(), "maintenix-core"),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthService(probe, 0)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go health.Run(runCtx)

	var jobs *scheduler.Scheduler
	if withJobs {
		dispatcher, closeDispatcher, err := newDispatcher(cfg.Jobs)
		if err != nil {
			return err
		}
		defer closeDispatcher()
		jobs = scheduler.New(tenants, tenantStore, dispatcher, scheduler.Options{
			RuleSpec:    cfg.Jobs.RuleSpec,
			AISpec:      cfg.Jobs.AISpec,
			PageSize:    cfg.Jobs.PageSize,
			Concurrency: cfg.Jobs.Concurrency,
		})
		if err := jobs.Start(runCtx); err != nil {
			return err
		}
	}

	var metricsSrv *http.Server
	if cfg.Core.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		metricsSrv = &http.Server{Addr: cfg.Core.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	errCh := make(chan error, 3)
	if metricsSrv != nil {
		go func() {
			log.Info("core metrics listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listen: %w", err)
			}
		}()
	}
	go func() {
		log.Info("core grpc health listening", zap.String("addr", cfg.Core.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		log.Info("starting maintenix-core", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if jobs != nil {
		_ = jobs.Stop(shutdownCtx)
	}
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	grpcServer.GracefulStop()
	log.Info("stopped")
	return err
}

func permissionMap(path string) (*policy.Map, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.LoadFile(path)
}

func newDispatcher(cfg config.JobsConfig) (scheduler.Dispatcher, func(), error) {
	if cfg.AMQPURL == "" {
		obs.Logger().Warn("jobs.amqp_url not set, scheduled jobs are only logged")
		return scheduler.LogDispatcher{}, func() {}, nil
	}
	d, err := scheduler.DialAMQP(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, nil, err
	}
	return d, func() { _ = d.Close() }, nil
}

func tracingOptions(cfg *config.Config, service string) obs.TracingOptions {
	opts := obs.TracingOptions{Service: service, Version: version, Endpoint: cfg.Tracing.Endpoint}
	if cfg.Tracing.Stdout {
		opts.Writer = os.Stdout
	}
	return opts
}
