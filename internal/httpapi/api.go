// Package httpapi is the internal core service. It only answers requests that
// carry the gateway's trust header and serves the PDP, the session lifecycle,
// user and role administration and platform provisioning.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/pdp"
	"maintenix.io/internal/tenant"
)

const serviceName = "maintenix-core"

// ReadyProbe is a simple readiness check (a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the core service's collaborators.
type Options struct {
	Resolver    *tenant.Resolver
	Sessions    *auth.SessionService
	RBAC        *auth.RBACService
	Decider     *pdp.Decider
	Provisioner *tenant.Provisioner

	InternalSecret  string
	PlatformSeedKey string
	Cookies         CookieOptions

	Ready   readinessChecker
	Version string
}

// API is the HTTP layer of the core service.
type API struct {
	opts   Options
	router chi.Router
}

func New(opts Options) (*API, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("httpapi: tenant resolver is required")
	case opts.Sessions == nil || opts.RBAC == nil || opts.Decider == nil:
		return nil, errors.New("httpapi: session, rbac and decision services are required")
	case opts.InternalSecret == "":
		return nil, errors.New("httpapi: internal secret is required")
	}
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	a := &API{opts: opts}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, logging)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.With(a.requireGateway).Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.requireGateway, a.withTenant)

		r.Post(tenant.PlatformPrefix+"/tenants", a.createTenant)
		r.Post("/rbac/decide", a.decide)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", a.login)
			r.Post("/register", a.register)
			r.Post("/refresh", a.refresh)
			r.Post("/logout", a.logout)
			r.Get("/me", a.me)
		})

		r.Get("/api/v1/me", a.me)
		r.Route("/api/v1/users", func(r chi.Router) {
			r.Get("/me", a.me)
			r.Get("/pending", a.listPending)
			r.Get("/", a.listUsers)
			r.Patch("/{id}/approve", a.approveUser)
			r.Patch("/{id}/status", a.setUserStatus)
			r.Put("/{id}/assign-role", a.assignRole)
			r.Put("/{id}/assign-building", a.assignBuildings)
		})
		r.Route("/api/v1/roles", func(r chi.Router) {
			r.Get("/", a.listRoles)
			r.Post("/", a.createRole)
			r.Post("/{id}/children", a.addRoleChild)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument("core", a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.opts.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
