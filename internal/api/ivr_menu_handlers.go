package api

import (
	"net/http"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// ivrMenuRequest is the JSON request body for creating an IVR menu.
type ivrMenuRequest struct {
	Name        string `json:"name"`
	GreetingRef string `json:"greeting_ref"`
	Enabled     *bool  `json:"enabled"`
}

// ivrMenuResponse is the JSON response for a single IVR menu.
type ivrMenuResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	GreetingRef string `json:"greeting_ref"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toIVRMenuResponse(ivr *models.IVRMenu) ivrMenuResponse {
	return ivrMenuResponse{
		ID:          ivr.ID,
		Name:        ivr.Name,
		GreetingRef: ivr.GreetingRef,
		Enabled:     ivr.Enabled,
		CreatedAt:   ivr.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   ivr.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListIVRMenus returns the tenant's IVR menus.
func (s *Server) handleListIVRMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := s.deps.IVRMenus.List(r.Context(), middleware.TenantFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, "list ivr menus", err)
		return
	}

	items := make([]ivrMenuResponse, len(menus))
	for i := range menus {
		items[i] = toIVRMenuResponse(&menus[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateIVRMenu creates an IVR menu for the tenant.
func (s *Server) handleCreateIVRMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := middleware.TenantFromContext(ctx)

	var req ivrMenuRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := firstError(
		validateRequiredStringLen("name", req.Name, maxShortStringLen),
		validateNoControlChars("name", req.Name),
		validateStringLen("greeting_ref", req.GreetingRef, maxNameLen),
		validateNoControlChars("greeting_ref", req.GreetingRef),
	); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing, err := s.deps.IVRMenus.GetByName(ctx, tenant, req.Name)
	if err != nil {
		writeServiceError(w, s.logger, "create ivr menu", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "ivr menu already exists")
		return
	}

	ivr := &models.IVRMenu{
		Tenant:      tenant,
		Name:        req.Name,
		GreetingRef: req.GreetingRef,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := s.deps.IVRMenus.Create(ctx, ivr); err != nil {
		writeServiceError(w, s.logger, "create ivr menu", err)
		return
	}

	s.logger.Info("ivr menu created", "tenant", tenant, "ivr_menu_id", ivr.ID, "name", ivr.Name)
	writeJSON(w, http.StatusCreated, toIVRMenuResponse(ivr))
}

// handleDeleteIVRMenu removes one of the tenant's IVR menus.
func (s *Server) handleDeleteIVRMenu(w http.ResponseWriter, r *http.Request) {
	id, err := parseDirectoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ivr menu id")
		return
	}
	tenant := middleware.TenantFromContext(r.Context())

	deleted, err := s.deps.IVRMenus.Delete(r.Context(), tenant, id)
	if err != nil {
		writeServiceError(w, s.logger, "delete ivr menu", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "ivr menu not found")
		return
	}

	s.logger.Info("ivr menu deleted", "tenant", tenant, "ivr_menu_id", id)
	w.WriteHeader(http.StatusNoContent)
}
