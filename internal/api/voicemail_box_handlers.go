package api

import (
	"net/http"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// voicemailBoxRequest is the JSON request body for creating a voicemail box.
type voicemailBoxRequest struct {
	MailboxNumber string `json:"mailbox_number"`
	Name          string `json:"name"`
	Enabled       *bool  `json:"enabled"`
}

// voicemailBoxResponse is the JSON response for a single voicemail box.
type voicemailBoxResponse struct {
	ID            int64  `json:"id"`
	MailboxNumber string `json:"mailbox_number"`
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toVoicemailBoxResponse(box *models.VoicemailBox) voicemailBoxResponse {
	return voicemailBoxResponse{
		ID:            box.ID,
		MailboxNumber: box.MailboxNumber,
		Name:          box.Name,
		Enabled:       box.Enabled,
		CreatedAt:     box.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     box.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListVoicemailBoxes returns the tenant's voicemail boxes.
func (s *Server) handleListVoicemailBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.deps.VoicemailBoxes.List(r.Context(), middleware.TenantFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, "list voicemail boxes", err)
		return
	}

	items := make([]voicemailBoxResponse, len(boxes))
	for i := range boxes {
		items[i] = toVoicemailBoxResponse(&boxes[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateVoicemailBox creates a voicemail box for the tenant. The
// mailbox number is the dialed number that reaches it.
func (s *Server) handleCreateVoicemailBox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := middleware.TenantFromContext(ctx)

	var req voicemailBoxRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := firstError(
		validateRequiredStringLen("mailbox_number", req.MailboxNumber, maxShortStringLen),
		validateStringLen("name", req.Name, maxNameLen),
		validateNoControlChars("name", req.Name),
	); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if !dialplan.ValidDialed(req.MailboxNumber) {
		writeError(w, http.StatusBadRequest, "mailbox_number may only contain digits, '+', '*' and '#'")
		return
	}

	existing, err := s.deps.VoicemailBoxes.GetByMailbox(ctx, tenant, req.MailboxNumber)
	if err != nil {
		writeServiceError(w, s.logger, "create voicemail box", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "voicemail box already exists")
		return
	}

	box := &models.VoicemailBox{
		Tenant:        tenant,
		MailboxNumber: req.MailboxNumber,
		Name:          req.Name,
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := s.deps.VoicemailBoxes.Create(ctx, box); err != nil {
		writeServiceError(w, s.logger, "create voicemail box", err)
		return
	}

	s.logger.Info("voicemail box created", "tenant", tenant, "voicemail_box_id", box.ID, "mailbox", box.MailboxNumber)
	writeJSON(w, http.StatusCreated, toVoicemailBoxResponse(box))
}

// handleDeleteVoicemailBox removes one of the tenant's voicemail boxes.
func (s *Server) handleDeleteVoicemailBox(w http.ResponseWriter, r *http.Request) {
	id, err := parseDirectoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voicemail box id")
		return
	}
	tenant := middleware.TenantFromContext(r.Context())

	deleted, err := s.deps.VoicemailBoxes.Delete(r.Context(), tenant, id)
	if err != nil {
		writeServiceError(w, s.logger, "delete voicemail box", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "voicemail box not found")
		return
	}

	s.logger.Info("voicemail box deleted", "tenant", tenant, "voicemail_box_id", id)
	w.WriteHeader(http.StatusNoContent)
}
