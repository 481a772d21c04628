package incidentapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/scoring"
)

type scoreRequest struct {
	Report      string `json:"report" validate:"required,min=10"`
	Location    string `json:"location" validate:"required,min=2"`
	UrgencyHint string `json:"urgency_hint" validate:"omitempty,oneof=low medium high"`
}

type scoreResponse struct {
	SuggestedPriority     scoring.Priority `json:"suggested_priority"`
	Confidence            float64          `json:"confidence"`
	RequiresHumanApproval bool             `json:"requires_human_approval"`
}

type createRequest struct {
	scoreRequest
	Actor string `json:"actor" validate:"omitempty,max=128"`
}

type reviewRequest struct {
	Decision      string `json:"decision" validate:"required,oneof=approve reject"`
	Actor         string `json:"actor" validate:"omitempty,max=128"`
	Reason        string `json:"reason" validate:"required,min=3"`
	FinalPriority string `json:"final_priority" validate:"omitempty,oneof=P1 P2 P3"`
}

type reopenRequest struct {
	Actor  string `json:"actor" validate:"omitempty,max=128"`
	Reason string `json:"reason" validate:"required,min=3"`
}

type executeRequest struct {
	Actor string `json:"actor" validate:"omitempty,max=128"`
}

type detailResponse struct {
	Incident *incident.Incident `json:"incident"`
	Events   []*incident.Event  `json:"events"`
}

type transitionResponse struct {
	Incident *incident.Incident `json:"incident"`
	Event    *incident.Event    `json:"event"`
}

// actorFor returns the authenticated principal when there is one, the body
// actor otherwise.
func actorFor(r *http.Request, bodyActor string) string {
	if p, ok := authmw.PrincipalFromContext(r.Context()); ok {
		return p
	}
	return bodyActor
}

// decodeValid decodes and validates a request body, writing the error
// response itself. Returns false if the handler should stop.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decode(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return false
	}
	if fields := validateRequest(dst); fields != nil {
		writeValidation(w, fields)
		return false
	}
	return true
}

func (a *API) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeValid(w, r, &req) {
		return
	}

	as, err := a.scorer.Score(r.Context(), req.Report, scoring.Urgency(req.UrgencyHint))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		SuggestedPriority:     as.Priority,
		Confidence:            as.Confidence,
		RequiresHumanApproval: true,
	})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeValid(w, r, &req) {
		return
	}

	inc, err := a.svc.Create(r.Context(), incident.CreateRequest{
		Report:      req.Report,
		Location:    req.Location,
		UrgencyHint: scoring.Urgency(req.UrgencyHint),
		Actor:       actorFor(r, req.Actor),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warden.incident.id", inc.ID))
	w.Header().Set("Location", "/api/v1/incidents/"+inc.ID)
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	status := incident.Status(r.URL.Query().Get("status"))

	incs, err := a.svc.List(r.Context(), status)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if incs == nil {
		incs = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, incs)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	inc, events, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("warden.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, detailResponse{Incident: inc, Events: events})
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeValid(w, r, &req) {
		return
	}

	inc, ev, err := a.svc.Review(r.Context(), incident.ReviewRequest{
		ID:            chi.URLParam(r, "id"),
		Decision:      incident.Decision(req.Decision),
		Actor:         actorFor(r, req.Actor),
		Reason:        req.Reason,
		FinalPriority: scoring.Priority(req.FinalPriority),
	})
	a.writeTransition(w, r, inc, ev, err)
}

func (a *API) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if !decodeValid(w, r, &req) {
		return
	}

	inc, ev, err := a.svc.Reopen(r.Context(), chi.URLParam(r, "id"), actorFor(r, req.Actor), req.Reason)
	a.writeTransition(w, r, inc, ev, err)
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeValid(w, r, &req) {
		return
	}

	inc, ev, err := a.svc.Execute(r.Context(), chi.URLParam(r, "id"), actorFor(r, req.Actor))
	a.writeTransition(w, r, inc, ev, err)
}

func (a *API) writeTransition(w http.ResponseWriter, r *http.Request, inc *incident.Incident, ev *incident.Event, err error) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", chi.URLParam(r, "id")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("warden.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, transitionResponse{Incident: inc, Event: ev})
}
