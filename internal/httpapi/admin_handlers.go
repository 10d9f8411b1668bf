package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"maintenix.io/internal/auth"
)

type roleRequest struct {
	Role string `json:"role"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type buildingsRequest struct {
	BuildingIDs []string `json:"buildingIds"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type addChildRequest struct {
	ChildID string `json:"childId"`
}

func (a *API) listPending(w http.ResponseWriter, r *http.Request) {
	users, err := a.opts.RBAC.ListPending(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.opts.RBAC.ListManaged(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (a *API) approveUser(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.opts.RBAC.Approve(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) setUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := chi.URLParam(r, "id")
	if target == actorID(r) {
		writeError(w, r, http.StatusConflict, "Cannot change your own status")
		return
	}
	user, err := a.opts.RBAC.SetStatus(r.Context(), actorID(r), target, req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.opts.RBAC.AssignRole(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// assignBuildings lets the actor hand out only buildings inside their own scope.
func (a *API) assignBuildings(w http.ResponseWriter, r *http.Request) {
	var req buildingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.BuildingIDs == nil {
		writeError(w, r, http.StatusBadRequest, "buildingIds must be an array")
		return
	}
	actor, err := a.opts.Sessions.Me(r.Context(), actorID(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	perms, err := a.opts.Decider.EffectivePermissions(r.Context(), actor)
	if err != nil {
		handleError(w, r, err)
		return
	}
	user, err := a.opts.RBAC.AssignBuildings(r.Context(), actor, perms, chi.URLParam(r, "id"), req.BuildingIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.opts.RBAC.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(roles))
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.opts.RBAC.CreateRole(r.Context(), actorID(r), req.Name, req.Description, req.Permissions)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) addRoleChild(w http.ResponseWriter, r *http.Request) {
	var req addChildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.opts.RBAC.AddInheritance(r.Context(), actorID(r), chi.URLParam(r, "id"), strings.TrimSpace(req.ChildID)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func actorID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
