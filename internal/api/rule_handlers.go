package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/rules"
)

// ruleRequest is the JSON request body for creating a rule.
type ruleRequest struct {
	Context           string                   `json:"context"`
	Name              string                   `json:"name"`
	Pattern           string                   `json:"pattern"`
	DestinationType   models.DestinationType   `json:"destination_type"`
	DestinationTarget string                   `json:"destination_target"`
	Actions           []models.ActionDirective `json:"actions"`
	ContinueOnMatch   bool                     `json:"continue_on_match"`
	Enabled           *bool                    `json:"enabled"`
	Sequence          int                      `json:"sequence"`
}

// ruleResponse is the JSON response for a single rule.
type ruleResponse struct {
	ID                string                   `json:"id"`
	Tenant            string                   `json:"tenant,omitempty"`
	Context           string                   `json:"context"`
	Name              string                   `json:"name"`
	Pattern           string                   `json:"pattern"`
	DestinationType   models.DestinationType   `json:"destination_type"`
	DestinationTarget string                   `json:"destination_target"`
	Actions           []models.ActionDirective `json:"actions"`
	ContinueOnMatch   bool                     `json:"continue_on_match"`
	Enabled           bool                     `json:"enabled"`
	Sequence          int                      `json:"sequence"`
	CreatedAt         string                   `json:"created_at"`
	UpdatedAt         string                   `json:"updated_at"`
	UpdatedBy         string                   `json:"updated_by,omitempty"`
}

// toRuleResponse converts a models.DialplanRule to the API response.
func toRuleResponse(rule *models.DialplanRule) ruleResponse {
	actions := rule.Actions
	if actions == nil {
		actions = []models.ActionDirective{}
	}
	return ruleResponse{
		ID:                rule.ID,
		Tenant:            rule.Tenant,
		Context:           rule.Context,
		Name:              rule.Name,
		Pattern:           rule.Pattern,
		DestinationType:   rule.DestinationType,
		DestinationTarget: rule.DestinationTarget,
		Actions:           actions,
		ContinueOnMatch:   rule.ContinueOnMatch,
		Enabled:           rule.Enabled,
		Sequence:          rule.Sequence,
		CreatedAt:         rule.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         rule.UpdatedAt.Format(time.RFC3339),
		UpdatedBy:         rule.UpdatedBy,
	}
}

// validateRuleRequest bounds the request fields. Semantic checks such as
// pattern compilation happen in the rule service.
func validateRuleRequest(req ruleRequest) string {
	return firstError(
		validateContextName("context", req.Context),
		validateStringLen("name", req.Name, maxNameLen),
		validateNoControlChars("name", req.Name),
		validateRequiredStringLen("pattern", req.Pattern, maxPatternLen),
		validateRequiredStringLen("destination_target", req.DestinationTarget, maxShortStringLen),
		validateIntRange("sequence", &req.Sequence, 0, maxSequence),
		validateActions(req.Actions),
	)
}

func validateRulePatch(p models.RulePatch) string {
	var msgs []string
	if p.Name != nil {
		msgs = append(msgs, validateStringLen("name", *p.Name, maxNameLen), validateNoControlChars("name", *p.Name))
	}
	if p.Pattern != nil {
		msgs = append(msgs, validateRequiredStringLen("pattern", *p.Pattern, maxPatternLen))
	}
	if p.DestinationTarget != nil {
		msgs = append(msgs, validateRequiredStringLen("destination_target", *p.DestinationTarget, maxShortStringLen))
	}
	if p.Actions != nil {
		msgs = append(msgs, validateActions(*p.Actions))
	}
	msgs = append(msgs, validateIntRange("sequence", p.Sequence, 0, maxSequence))
	return firstError(msgs...)
}

// ruleRoutes mounts rule CRUD on r. scope picks the rule set a request edits.
func (s *Server) ruleRoutes(r chi.Router, scope func(*http.Request) *rules.Scope) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { s.handleListRules(w, r, scope(r)) })
	r.Post("/", func(w http.ResponseWriter, r *http.Request) { s.handleCreateRule(w, r, scope(r)) })
	r.Get("/contexts", func(w http.ResponseWriter, r *http.Request) { s.handleListContexts(w, r, scope(r)) })
	r.Get("/check", func(w http.ResponseWriter, r *http.Request) { s.handleCheckRules(w, r, scope(r)) })
	r.Post("/import", func(w http.ResponseWriter, r *http.Request) { s.handleImportRules(w, r, scope(r)) })
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { s.handleGetRule(w, r, scope(r)) })
		r.Patch("/", func(w http.ResponseWriter, r *http.Request) { s.handleUpdateRule(w, r, scope(r)) })
		r.Delete("/", func(w http.ResponseWriter, r *http.Request) { s.handleDeleteRule(w, r, scope(r)) })
	})
}

// handleListRules returns the rules of one context, or of every context
// when none is given, in evaluation order.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	ctx := r.Context()
	includeDisabled, _ := strconv.ParseBool(r.URL.Query().Get("include_disabled"))

	contexts := []string{r.URL.Query().Get("context")}
	if contexts[0] == "" {
		var err error
		if contexts, err = scope.Contexts(ctx); err != nil {
			writeServiceError(w, s.logger, "list rules", err)
			return
		}
	} else if msg := validateContextName("context", contexts[0]); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	items := []ruleResponse{}
	for _, c := range contexts {
		rs, err := scope.List(ctx, c, includeDisabled)
		if err != nil {
			writeServiceError(w, s.logger, "list rules", err)
			return
		}
		for i := range rs {
			items = append(items, toRuleResponse(&rs[i]))
		}
	}

	writeJSON(w, http.StatusOK, items)
}

// handleCreateRule creates a new rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	var req ruleRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRuleRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &models.DialplanRule{
		Context:           req.Context,
		Name:              req.Name,
		Pattern:           req.Pattern,
		DestinationType:   req.DestinationType,
		DestinationTarget: req.DestinationTarget,
		Actions:           req.Actions,
		ContinueOnMatch:   req.ContinueOnMatch,
		Enabled:           enabled,
		Sequence:          req.Sequence,
	}

	if err := scope.Create(r.Context(), rule, subject(r)); err != nil {
		writeServiceError(w, s.logger, "create rule", err)
		return
	}

	s.logger.Info("rule created", "scope", scope.CacheScope(), "rule_id", rule.ID, "context", rule.Context)
	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	rule, err := scope.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.logger, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// handleUpdateRule applies a partial update to a rule.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	var patch models.RulePatch
	if errMsg := readJSON(r, &patch); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRulePatch(patch); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	rule, err := scope.Update(r.Context(), chi.URLParam(r, "id"), patch, subject(r))
	if err != nil {
		writeServiceError(w, s.logger, "update rule", err)
		return
	}

	s.logger.Info("rule updated", "scope", scope.CacheScope(), "rule_id", rule.ID)
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	id := chi.URLParam(r, "id")
	if err := scope.Delete(r.Context(), id, subject(r)); err != nil {
		writeServiceError(w, s.logger, "delete rule", err)
		return
	}

	s.logger.Info("rule deleted", "scope", scope.CacheScope(), "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListContexts returns the contexts holding at least one rule.
func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	contexts, err := scope.Contexts(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "list contexts", err)
		return
	}
	if contexts == nil {
		contexts = []string{}
	}
	writeJSON(w, http.StatusOK, contexts)
}

// handleCheckRules re-validates every stored rule.
func (s *Server) handleCheckRules(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	result, err := scope.Check(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "check rules", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleImportRules creates every rule in a YAML rule file body.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request, scope *rules.Scope) {
	body := io.LimitReader(r.Body, maxBodyBytes)
	n, err := scope.Import(r.Context(), body, subject(r))
	if err != nil {
		writeServiceError(w, s.logger, "import rules", err)
		return
	}

	s.logger.Info("rules imported", "scope", scope.CacheScope(), "count", n)
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}

// subject names the authenticated caller for audit fields.
func subject(r *http.Request) string {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
