package incidentapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/incident"
)

// errorBody is the envelope for every non-2xx response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}

func writeValidation(w http.ResponseWriter, fields map[string]string) {
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	writeError(w, http.StatusUnprocessableEntity, "validation_failed", "validation failed", details)
}

// decode reads a JSON body into dst. An empty body leaves dst zeroed.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeServiceError maps lifecycle errors onto status codes.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	span := trace.SpanFromContext(r.Context())

	var (
		ve  *incident.ValidationError
		ite *incident.InvalidTransitionError
	)
	switch {
	case errors.As(err, &ve):
		writeValidation(w, ve.Fields)
	case errors.Is(err, incident.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "incident not found", nil)
	case errors.As(err, &ite):
		span.SetAttributes(
			attribute.String("warden.transition.from", string(ite.From)),
			attribute.String("warden.transition.to", string(ite.To)),
		)
		writeError(w, http.StatusConflict, "invalid_transition", ite.Error(), map[string]any{
			"from": ite.From,
			"to":   ite.To,
		})
	case errors.Is(err, incident.ErrStaleStatus):
		writeError(w, http.StatusConflict, "conflict", "incident changed concurrently, retry", nil)
	default:
		a.logger.Error(r.Context(), err, "incident operation failed", "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
