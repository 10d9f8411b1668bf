package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/config"
	"maintenix.io/internal/gateway"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/policy"
	"maintenix.io/internal/store/pg"
	"maintenix.io/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "maintenix-gateway",
		Short:         "Policy enforcement reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, config.RoleGateway)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("MAINTENIX_CONFIG"), "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := obs.InitLogger(obs.LogOptions{Environment: cfg.Environment, Level: cfg.LogLevel, Service: "maintenix-gateway"})
	defer func() { _ = log.Sync() }()
	obs.Init()
	obs.InitBuildInfo("gateway", version, commit)

	tracing := obs.TracingOptions{Service: "maintenix-gateway", Version: version, Endpoint: cfg.Tracing.Endpoint}
	if cfg.Tracing.Stdout {
		tracing.Writer = os.Stdout
	}
	shutdownTracing, err := obs.InitTracing(ctx, tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	upstream, err := url.Parse(cfg.Gateway.UpstreamURL)
	if err != nil {
		return fmt.Errorf("gateway.upstream_url: %w", err)
	}
	permissions, err := policy.Default()
	if cfg.Gateway.PermissionsFile != "" {
		permissions, err = policy.LoadFile(cfg.Gateway.PermissionsFile)
	}
	if err != nil {
		return err
	}
	log.Info("permission map loaded", zap.Int("routes", permissions.Len()))

	// The gateway only verifies access tokens; it never holds the refresh secret.
	tokens, err := auth.NewTokenService(cfg.Auth.AccessSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}

	pool := pg.PoolOptions{MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns}
	platformDB, err := pg.Open(cfg.Database.DSN, pool)
	if err != nil {
		return fmt.Errorf("open platform db: %w", err)
	}
	defer platformDB.Close()
	registry := tenant.NewRegistry(pg.SchemaOpener(cfg.Database.DSN, pool))
	defer registry.Close()

	opts := gateway.Options{
		Upstream:       upstream,
		InternalSecret: cfg.Auth.InternalSecret,
		Tokens:         tokens,
		Resolver:       tenant.NewResolver(pg.NewTenantStore(platformDB), cfg.Tenancy.BaseDomain, tenant.WithFallbackSlug(cfg.Tenancy.FallbackSlug)),
		Users:          pg.NewStore(registry),
		Permissions:    permissions,
		Decider:        gateway.NewHTTPDecider(cfg.Gateway.DecisionURL, cfg.Auth.InternalSecret, cfg.Gateway.DecisionTimeout),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		RateBurst:      cfg.Gateway.RateBurst,
		RatePerSecond:  cfg.Gateway.RatePerSecond,
		MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
		Transport:      otelhttp.NewTransport(http.DefaultTransport),
	}
	if cfg.Gateway.CoreHealthAddr != "" {
		conn, err := grpc.NewClient(cfg.Gateway.CoreHealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("core health client: %w", err)
		}
		defer conn.Close()
		opts.Ready = gateway.GRPCHealthProbe(conn, "maintenix-core")
	}

	gw, err := gateway.New(opts)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           otelhttp.NewHandler(gw.Handler(), "maintenix-gateway"),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting maintenix-gateway",
			zap.String("version", version), zap.String("addr", srv.Addr), zap.String("upstream", upstream.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("listen failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("stopped")
	return err
}
