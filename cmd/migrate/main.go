package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/config"
	"maintenix.io/internal/migrate"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/policy"
	"maintenix.io/internal/store/pg"
	"maintenix.io/internal/tenant"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	dsn     string
	timeout time.Duration
}

func rootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "maintenix-migrate",
		Short:         "Apply platform and tenant schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&e.dsn, "dsn", os.Getenv("MAINTENIX_DATABASE_DSN"), "PostgreSQL DSN")
	root.PersistentFlags().DurationVar(&e.timeout, "timeout", 2*time.Minute, "overall deadline")

	platform := &cobra.Command{Use: "platform", Short: "Migrations of the tenant registry database"}
	platform.AddCommand(
		e.platformCmd("up", "Apply pending platform migrations"),
		e.platformCmd("down", "Revert the latest platform migration"),
		e.platformCmd("status", "List applied platform migrations"),
	)

	tenants := &cobra.Command{Use: "tenant", Short: "Migrations inside tenant namespaces"}
	tenants.AddCommand(
		e.tenantCmd("up", "Apply pending migrations to a tenant namespace"),
		e.tenantCmd("down", "Revert the latest migration of a tenant namespace"),
		e.tenantCmd("status", "List applied migrations of a tenant namespace"),
		e.provisionCmd(),
	)

	root.AddCommand(platform, tenants)
	return root
}

func (e *env) open() (*sql.DB, error) {
	if e.dsn == "" {
		return nil, fmt.Errorf("%w: missing DSN, pass --dsn or MAINTENIX_DATABASE_DSN", config.ErrMisconfigured)
	}
	return pg.Open(e.dsn, pg.PoolOptions{MaxOpenConns: 4})
}

func (e *env) platformCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), e.timeout)
			defer cancel()
			db, err := e.open()
			if err != nil {
				return err
			}
			defer db.Close()
			return runAction(ctx, cmd, migrate.NewManager(db, migrate.Platform()), action)
		},
	}
}

func (e *env) tenantCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <slug>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), e.timeout)
			defer cancel()
			db, err := e.open()
			if err != nil {
				return err
			}
			defer db.Close()

			t, err := pg.NewTenantStore(db).FindBySlug(ctx, args[0])
			if err != nil {
				return fmt.Errorf("tenant %q: %w", args[0], err)
			}
			registry := tenant.NewRegistry(pg.SchemaOpener(e.dsn, pg.PoolOptions{MaxOpenConns: 2}))
			defer registry.Close()
			scoped, err := registry.Get(ctx, t.DBName)
			if err != nil {
				return err
			}
			if action == "up" {
				if err := migrate.CreateSchema(ctx, scoped, t.DBName); err != nil {
					return err
				}
			}
			return runAction(ctx, cmd, migrate.NewManager(scoped, migrate.Tenant()), action)
		},
	}
}

// provisionCmd registers a tenant, migrates its namespace and seeds the base roles.
func (e *env) provisionCmd() *cobra.Command {
	var permissionsFile string
	cmd := &cobra.Command{
		Use:   "provision <slug>",
		Short: "Create a tenant with a migrated and seeded namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), e.timeout)
			defer cancel()
			db, err := e.open()
			if err != nil {
				return err
			}
			defer db.Close()

			catalog, err := policy.Default()
			if permissionsFile != "" {
				catalog, err = policy.LoadFile(permissionsFile)
			}
			if err != nil {
				return err
			}
			registry := tenant.NewRegistry(pg.SchemaOpener(e.dsn, pg.PoolOptions{MaxOpenConns: 2}))
			defer registry.Close()
			rbac, err := auth.NewRBACService(pg.NewStore(registry), catalog, nil)
			if err != nil {
				return err
			}
			p := tenant.NewProvisioner(pg.NewTenantStore(db), registry,
				migrate.TenantStep(migrate.Tenant()),
				func(ctx context.Context, _ *tenant.Tenant, _ *sql.DB) error { return rbac.SeedTenant(ctx) },
			)
			t, err := p.Provision(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Slug, t.DBName)
			return nil
		},
	}
	cmd.Flags().StringVar(&permissionsFile, "permissions", "", "permission map file; defaults to the built-in table")
	return cmd
}

func runAction(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, action string) error {
	switch action {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		obs.Logger().Info("migrations applied", zap.Strings("names", applied))
		printAll(cmd, applied)
	case "down":
		return mgr.Down(ctx)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		printAll(cmd, history)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func printAll(cmd *cobra.Command, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}
