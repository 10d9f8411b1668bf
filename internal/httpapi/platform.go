package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"maintenix.io/internal/obs"
	"maintenix.io/internal/pdp"
)

const headerSeedKey = "X-Platform-Seed-Key"

type createTenantRequest struct {
	Slug string `json:"slug"`
}

type decideRequest struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
}

// createTenant provisions a tenant namespace. It is gated by the platform seed
// key; an unconfigured key disables the endpoint.
func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	if a.opts.Provisioner == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Provisioning unavailable")
		return
	}
	provided := strings.TrimSpace(r.Header.Get(headerSeedKey))
	if provided == "" && a.opts.PlatformSeedKey != "" {
		writeError(w, r, http.StatusUnauthorized, "Missing platform key")
		return
	}
	if a.opts.PlatformSeedKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(a.opts.PlatformSeedKey)) != 1 {
		writeError(w, r, http.StatusForbidden, "Invalid platform key")
		return
	}

	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Slug) == "" {
		writeError(w, r, http.StatusBadRequest, "slug is required")
		return
	}
	t, err := a.opts.Provisioner.Provision(r.Context(), req.Slug)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.Logger().Info("tenant created via platform api", zap.String("tenant_id", t.ID), zap.String("slug", t.Slug))
	writeJSON(w, http.StatusCreated, t)
}

// decide is the PDP endpoint consulted by the gateway. Every outcome,
// including storage failure, is a 200 with allow=false.
func (a *API) decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, pdp.Decision{Reason: pdp.ReasonMissingParams})
		return
	}
	writeJSON(w, http.StatusOK, a.opts.Decider.Decide(r.Context(), req.UserID, req.Permission))
}
