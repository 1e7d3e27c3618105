package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// maxRingGroupMembers bounds the member list of one ring group.
const maxRingGroupMembers = 100

// ringGroupRequest is the JSON request body for creating a ring group.
type ringGroupRequest struct {
	Name     string   `json:"name"`
	Strategy string   `json:"strategy"`
	Members  []string `json:"members"`
	Enabled  *bool    `json:"enabled"`
}

// ringGroupResponse is the JSON response for a single ring group.
type ringGroupResponse struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Strategy  string          `json:"strategy"`
	Members   json.RawMessage `json:"members"`
	Enabled   bool            `json:"enabled"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func toRingGroupResponse(rg *models.RingGroup) ringGroupResponse {
	resp := ringGroupResponse{
		ID:        rg.ID,
		Name:      rg.Name,
		Strategy:  rg.Strategy,
		Members:   json.RawMessage("[]"),
		Enabled:   rg.Enabled,
		CreatedAt: rg.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rg.UpdatedAt.Format(time.RFC3339),
	}
	if rg.Members != "" {
		resp.Members = json.RawMessage(rg.Members)
	}
	return resp
}

// handleListRingGroups returns the tenant's ring groups.
func (s *Server) handleListRingGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.RingGroups.List(r.Context(), middleware.TenantFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, "list ring groups", err)
		return
	}

	items := make([]ringGroupResponse, len(groups))
	for i := range groups {
		items[i] = toRingGroupResponse(&groups[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateRingGroup creates a ring group for the tenant.
func (s *Server) handleCreateRingGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := middleware.TenantFromContext(ctx)

	var req ringGroupRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRingGroupRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing, err := s.deps.RingGroups.GetByName(ctx, tenant, req.Name)
	if err != nil {
		writeServiceError(w, s.logger, "create ring group", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "ring group already exists")
		return
	}

	if req.Members == nil {
		req.Members = []string{}
	}
	members, err := json.Marshal(req.Members)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid members")
		return
	}
	rg := &models.RingGroup{
		Tenant:   tenant,
		Name:     req.Name,
		Strategy: req.Strategy,
		Members:  string(members),
		Enabled:  req.Enabled == nil || *req.Enabled,
	}
	if err := s.deps.RingGroups.Create(ctx, rg); err != nil {
		writeServiceError(w, s.logger, "create ring group", err)
		return
	}

	s.logger.Info("ring group created", "tenant", tenant, "ring_group_id", rg.ID, "name", rg.Name)
	writeJSON(w, http.StatusCreated, toRingGroupResponse(rg))
}

// handleDeleteRingGroup removes one of the tenant's ring groups.
func (s *Server) handleDeleteRingGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseDirectoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ring group id")
		return
	}
	tenant := middleware.TenantFromContext(r.Context())

	deleted, err := s.deps.RingGroups.Delete(r.Context(), tenant, id)
	if err != nil {
		writeServiceError(w, s.logger, "delete ring group", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "ring group not found")
		return
	}

	s.logger.Info("ring group deleted", "tenant", tenant, "ring_group_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// parseDirectoryID extracts the numeric directory entry ID from the URL.
func parseDirectoryID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func validateRingGroupRequest(req ringGroupRequest) string {
	if msg := firstError(
		validateRequiredStringLen("name", req.Name, maxShortStringLen),
		validateNoControlChars("name", req.Name),
	); msg != "" {
		return msg
	}
	switch req.Strategy {
	case "", "ring_all", "round_robin", "random", "longest_idle":
	default:
		return `strategy must be "ring_all", "round_robin", "random", or "longest_idle"`
	}
	if len(req.Members) > maxRingGroupMembers {
		return "members must contain at most " + strconv.Itoa(maxRingGroupMembers) + " entries"
	}
	for i, m := range req.Members {
		field := "members[" + strconv.Itoa(i) + "]"
		if msg := firstError(
			validateRequiredStringLen(field, m, maxShortStringLen),
			validateNoControlChars(field, m),
		); msg != "" {
			return msg
		}
	}
	return ""
}
