// Package gateway is the public policy enforcement point. Every request is
// authenticated, bound to a tenant, mapped to a permission and decided by
// the PDP before it is proxied to the internal service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/policy"
	"maintenix.io/internal/tenant"
	"maintenix.io/internal/trust"
)

const accessCookie = "accessToken"

// Routes forwarded without a token or PDP decision.
var publicRoutes = map[string]struct{}{
	"POST /auth/login":    {},
	"POST /auth/register": {},
	"POST /auth/refresh":  {},
	"POST /auth/logout":   {},
}

// Options wires the gateway's collaborators.
type Options struct {
	Upstream       *url.URL
	InternalSecret string
	Tokens         *auth.TokenService
	Resolver       *tenant.Resolver
	Users          auth.Store
	Permissions    *policy.Map
	Decider        Decider
	AllowedOrigins []string
	RateBurst      int
	RatePerSecond  int
	MaxBodyBytes   int64
	// Transport overrides the upstream round tripper.
	Transport http.RoundTripper
	// Ready backs /readyz. Nil reports ready.
	Ready func(ctx context.Context) error
}

type Gateway struct {
	opts    Options
	proxy   *httputil.ReverseProxy
	limiter *RateLimiter
	mux     *http.ServeMux
}

func New(opts Options) (*Gateway, error) {
	var missing []string
	if opts.Upstream == nil {
		missing = append(missing, "upstream")
	}
	if opts.InternalSecret == "" {
		missing = append(missing, "internal secret")
	}
	if opts.Tokens == nil {
		missing = append(missing, "token service")
	}
	if opts.Resolver == nil {
		missing = append(missing, "tenant resolver")
	}
	if opts.Users == nil {
		missing = append(missing, "user store")
	}
	if opts.Permissions == nil {
		missing = append(missing, "permission map")
	}
	if opts.Decider == nil {
		missing = append(missing, "decider")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gateway: missing %s", strings.Join(missing, ", "))
	}

	g := &Gateway{
		opts:    opts,
		limiter: NewRateLimiter(opts.RateBurst, opts.RatePerSecond),
		mux:     http.NewServeMux(),
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite:      g.rewrite,
		Transport:    opts.Transport,
		ErrorHandler: g.proxyError,
	}

	g.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "maintenix-gateway"})
	})
	g.mux.HandleFunc("/readyz", g.readyz)
	g.mux.Handle("/metrics", obs.Handler())
	g.mux.Handle("/", CSRF(http.HandlerFunc(g.enforce)))
	return g, nil
}

// Handler returns the full middleware chain.
func (g *Gateway) Handler() http.Handler {
	var h http.Handler = g.mux
	h = MaxBodyBytes(g.opts.MaxBodyBytes, h)
	h = g.limiter.Middleware(h)
	h = CORS(g.opts.AllowedOrigins, h)
	h = SecurityHeaders(h)
	h = obs.Instrument("gateway", h)
	h = Logging(h)
	return RequestID(h)
}

func (g *Gateway) readyz(w http.ResponseWriter, r *http.Request) {
	if g.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.opts.Ready(ctx); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (g *Gateway) Close() {
	g.limiter.Close()
}

// enforce runs the decision pipeline and forwards on success.
func (g *Gateway) enforce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	routeKey := policy.Normalize(r.Method, r.URL.Path)
	_, public := publicRoutes[routeKey]
	tenantless := tenant.Tenantless(r.URL.Path)

	var claims *auth.Claims
	if !public && !tenantless {
		token := credential(r)
		if token == "" {
			reject(w, r, "authenticate", http.StatusUnauthorized, errorBody{Error: "Missing access token"})
			return
		}
		c, err := g.opts.Tokens.Verify(token, auth.KindAccess)
		if err != nil {
			msg := "Invalid access token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Access token expired"
			}
			reject(w, r, "authenticate", http.StatusUnauthorized, errorBody{Error: msg})
			return
		}
		claims = c
	}

	if !tenantless {
		t, err := g.opts.Resolver.Resolve(ctx, tenant.RequestHost(r))
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				reject(w, r, "tenant", http.StatusNotFound, errorBody{Error: "Tenant not found"})
				return
			}
			obs.Logger().Error("tenant resolution failed", zap.String("host", tenant.RequestHost(r)), zap.Error(err))
			reject(w, r, "tenant", http.StatusInternalServerError, errorBody{Error: "Tenant resolution failed"})
			return
		}
		ctx = tenant.WithTenant(ctx, t)
		if claims != nil && claims.TenantID != t.ID {
			reject(w, r, "tenant", http.StatusUnauthorized, errorBody{Error: "Token not valid for this tenant"})
			return
		}
	}

	if claims == nil {
		g.proxy.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	user, err := g.opts.Users.Users(ctx).Find(ctx, claims.UserID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		reject(w, r, "user", http.StatusForbidden, errorBody{Error: "User not found"})
		return
	case err != nil:
		obs.Logger().Error("live user check failed", zap.String("user_id", claims.UserID), zap.Error(err))
		reject(w, r, "user", http.StatusServiceUnavailable, errorBody{Error: "User lookup failed"})
		return
	case !user.Active():
		reject(w, r, "user", http.StatusForbidden, errorBody{Error: "User not active", Status: user.Status})
		return
	}

	route, perm, ok := g.opts.Permissions.Resolve(r.Method, r.URL.Path)
	if !ok {
		reject(w, r, "map", http.StatusForbidden, errorBody{Error: "Permission not mapped", Route: route})
		return
	}

	dec, err := g.opts.Decider.Decide(ctx, tenant.RequestHost(r), user.ID, perm)
	if err != nil {
		obs.Logger().Warn("pdp unavailable", zap.String("route", route), zap.Error(err))
		reject(w, r, "pdp", http.StatusForbidden, errorBody{Error: "Permission denied", Reason: "Decision unavailable", Route: route, Permission: perm})
		return
	}
	if !dec.Allow {
		reject(w, r, "pdp", http.StatusForbidden, errorBody{Error: "Permission denied", Reason: dec.Reason, Route: route, Permission: perm})
		return
	}

	g.proxy.ServeHTTP(w, r.WithContext(auth.ContextWithUserID(ctx, user.ID)))
}

func (g *Gateway) rewrite(pr *httputil.ProxyRequest) {
	in := pr.In
	pr.SetURL(g.opts.Upstream)
	pr.Out.Host = in.Host

	pr.Out.Header.Set("X-Forwarded-Host", tenant.RequestHost(in))
	if in.Header.Get("X-Forwarded-Proto") == "" {
		pr.Out.Header.Set("X-Forwarded-Proto", requestScheme(in))
	} else {
		pr.Out.Header.Set("X-Forwarded-Proto", in.Header.Get("X-Forwarded-Proto"))
	}
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		pr.Out.Header.Set("X-Forwarded-For", ip)
	}

	userID, _ := auth.UserIDFromContext(in.Context())
	trust.Inject(pr.Out.Header, g.opts.InternalSecret, userID)
}

func (g *Gateway) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().Error("upstream error", zap.String("path", r.URL.Path), zap.Error(err))
	reject(w, r, "upstream", http.StatusBadGateway, errorBody{Error: "Upstream unavailable"})
}

// credential prefers the Authorization header over the accessToken cookie.
func credential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if c, err := r.Cookie(accessCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
