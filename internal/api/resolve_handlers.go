package api

import (
	"errors"
	"net/http"

	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// resolveRequest is the JSON body for a dry-run resolution.
type resolveRequest struct {
	Context string `json:"context"`
	Dialed  string `json:"dialed"`
	Domain  string `json:"domain"`
	// Fallback retries in the default context when nothing matches.
	Fallback bool `json:"fallback"`
}

// resolveResponse reports which rules matched and what the switch would do.
type resolveResponse struct {
	Destination dialplan.Destination     `json:"destination"`
	MatchedRule string                   `json:"matched_rule,omitempty"`
	Continued   []string                 `json:"continued"`
	Directives  []models.ActionDirective `json:"directives"`
}

func toResolveResponse(res *dialplan.Resolution) resolveResponse {
	resp := resolveResponse{
		Destination: res.Destination,
		Continued:   make([]string, 0, len(res.Continued)),
		Directives:  res.Directives,
	}
	if res.MatchedRule != nil {
		resp.MatchedRule = res.MatchedRule.ID
	}
	for _, c := range res.Continued {
		resp.Continued = append(resp.Continued, c.ID)
	}
	if resp.Directives == nil {
		resp.Directives = []models.ActionDirective{}
	}
	return resp
}

// handleResolve runs the resolver for the caller's tenant without touching
// any call. A bad pattern reports the partial resolution alongside the error.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Context == "" {
		req.Context = s.deps.Resolver.DefaultContext()
	}
	if errMsg := firstError(
		validateContextName("context", req.Context),
		validateRequiredStringLen("dialed", req.Dialed, maxShortStringLen),
		validateStringLen("domain", req.Domain, maxNameLen),
	); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := dialplan.Query{
		Tenant:  middleware.TenantFromContext(r.Context()),
		Context: req.Context,
		Dialed:  req.Dialed,
		Domain:  req.Domain,
	}
	resolve := s.deps.Resolver.ResolveFor
	if req.Fallback {
		resolve = s.deps.Resolver.ResolveWithFallback
	}

	res, err := resolve(r.Context(), q)
	var pe *dialplan.PatternError
	if errors.As(err, &pe) && res != nil {
		writeEnvelope(w, http.StatusUnprocessableEntity, envelope{Data: toResolveResponse(res), Error: pe.Error()})
		return
	}
	if err != nil {
		writeServiceError(w, s.logger, "resolve", err)
		return
	}

	writeJSON(w, http.StatusOK, toResolveResponse(res))
}
