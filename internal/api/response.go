package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
	"github.com/tenantpbx/tenantpbx/internal/rules"
)

// maxBodyBytes caps JSON, form and YAML request bodies.
const maxBodyBytes = 1 << 20

// envelope is the standard API response wrapper.
// All JSON responses use this format: { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// writeEnvelope writes an envelope carrying both data and an error, used
// when a partial result accompanies a failure.
func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeXML writes a FreeSWITCH XML document.
func writeXML(w http.ResponseWriter, status int, document string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, document); err != nil {
		slog.Error("failed to write xml response", "error", err)
	}
}

// readJSON decodes a single JSON object from the request body into dst.
// Unknown fields are rejected. Returns an error message for the client, or
// "" on success.
func readJSON(r *http.Request, dst any) string {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return "request body must not be empty"
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return "malformed json"
		case errors.As(err, &typeErr):
			return "invalid type for field " + typeErr.Field
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return "unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
		default:
			return "invalid request body"
		}
	}

	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}

// writeServiceError maps a rule, resolver or store error to an HTTP status.
// Unexpected errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var (
		ve  *dialplan.ValidationError
		pe  *dialplan.PatternError
		nf  *dialplan.NotFoundError
		de  *dialplan.DependencyError
		ie  *rules.ImportError
		msg = err.Error()
	)
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, msg)
	case errors.As(err, &ve), errors.As(err, &pe):
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, dialplan.ErrTenantRequired), errors.Is(err, database.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, "tenant is required")
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, msg)
	case errors.Is(err, dialplan.ErrNoMatch):
		writeError(w, http.StatusNotFound, msg)
	case errors.As(err, &de):
		logger.Error(op+": dependency failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, "rule store unavailable")
	default:
		logger.Error(op+": failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
