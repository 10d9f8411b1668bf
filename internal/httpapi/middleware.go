package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"maintenix.io/internal/audit"
	"maintenix.io/internal/auth"
	"maintenix.io/internal/obs"
	"maintenix.io/internal/tenant"
	"maintenix.io/internal/trust"
)

// logging emits one structured line per request and tags audit records with the request id.
func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := audit.WithRequestID(r.Context(), reqID)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		obs.Logger().Info("request_complete",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// requireGateway rejects anything that did not come through the gateway and
// exposes the forwarded user id to handlers.
func (a *API) requireGateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !trust.Verify(r.Header, a.opts.InternalSecret) {
			writeError(w, r, http.StatusForbidden, "Direct access forbidden")
			return
		}
		ctx := r.Context()
		if userID := trust.UserID(r.Header); userID != "" {
			ctx = auth.ContextWithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTenant binds the request to the tenant named by its forwarded host.
func (a *API) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := a.opts.Resolver.ResolveRequest(r)
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			writeError(w, r, http.StatusNotFound, "Tenant not found")
			return
		case err != nil:
			obs.Logger().Error("tenant resolution failed", zap.String("host", tenant.RequestHost(r)), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "Tenant resolution failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), t)))
	})
}
