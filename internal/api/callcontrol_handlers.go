package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/callcontrol"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// writeCallControl writes a dispatcher response. The switch reads the body
// as-is, so it is not wrapped in the API envelope and is always 200.
func (s *Server) writeCallControl(w http.ResponseWriter, resp callcontrol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode call-control response", "error", err)
	}
}

// handleCallControl answers a form-encoded signaling event. The action comes
// from the "action" form field or query parameter.
func (s *Server) handleCallControl(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("call-control: malformed form", "error", err)
		s.writeCallControl(w, callcontrol.Response{
			Status:  callcontrol.StatusError,
			Actions: []models.ActionDirective{dialplan.SafeHangup()},
			Error:   "malformed request body",
		})
		return
	}

	s.writeCallControl(w, s.deps.Dispatcher.Dispatch(r.Context(), "", r.Form))
}

// registrationRequest is the JSON body the switch posts on REGISTER.
type registrationRequest struct {
	User      string `json:"user"`
	Domain    string `json:"domain"`
	Contact   string `json:"contact"`
	UserAgent string `json:"user_agent"`
	// ExpiresIn is the registration lifetime in seconds; 0 unregisters.
	ExpiresIn int `json:"expires_in"`
}

func (req registrationRequest) validate() string {
	return firstError(
		validateRequiredStringLen("user", req.User, maxShortStringLen),
		validateRequiredStringLen("domain", req.Domain, maxNameLen),
		validateRequiredStringLen("contact", req.Contact, maxNameLen*2),
		validateStringLen("user_agent", req.UserAgent, maxNameLen),
		validateNoControlChars("contact", req.Contact),
		validateIntRange("expires_in", &req.ExpiresIn, 0, 7*24*3600),
	)
}

// handleRegister records a SIP registration reported by the switch.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := req.validate(); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	tenant, err := s.deps.Tenants.TenantForDomain(r.Context(), req.Domain)
	if err != nil {
		writeServiceError(w, s.logger, "register", err)
		return
	}
	if tenant == "" {
		writeError(w, http.StatusNotFound, "unknown domain")
		return
	}

	now := time.Now().UTC()
	reg := &models.Registration{
		Tenant:       tenant,
		User:         req.User,
		Domain:       strings.ToLower(req.Domain),
		ContactURI:   req.Contact,
		UserAgent:    req.UserAgent,
		Expires:      now.Add(time.Duration(req.ExpiresIn) * time.Second),
		RegisteredAt: now,
	}
	if err := s.deps.Registrar.Register(r.Context(), reg); err != nil {
		writeServiceError(w, s.logger, "register", err)
		return
	}

	s.logger.Debug("registration recorded",
		"tenant", tenant,
		"user", req.User,
		"domain", reg.Domain,
		"expires_in", req.ExpiresIn,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":  tenant,
		"expires": reg.Expires.Format(time.RFC3339),
	})
}
