// Package incidentapi exposes the incident lifecycle over HTTP.
package incidentapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/scoring"
)

// IncidentService defines the lifecycle operations the API needs.
type IncidentService interface {
	Create(ctx context.Context, req incident.CreateRequest) (*incident.Incident, error)
	List(ctx context.Context, status incident.Status) ([]*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, []*incident.Event, error)
	Review(ctx context.Context, req incident.ReviewRequest) (*incident.Incident, *incident.Event, error)
	Reopen(ctx context.Context, id, actor, reason string) (*incident.Incident, *incident.Event, error)
	Execute(ctx context.Context, id, actor string) (*incident.Incident, *incident.Event, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
	scorer scoring.Scorer
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService, scorer scoring.Scorer) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	if scorer == nil {
		panic(xerrors.New("scorer is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		scorer: scorer,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps only the
// API routes, e.g. authentication.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/score", a.handleScore)
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", a.handleCreate)
			r.Get("/", a.handleList)
			r.Get("/{id}", a.handleGet)
			r.Post("/{id}/review", a.handleReview)
			r.Post("/{id}/reopen", a.handleReopen)
			r.Post("/{id}/execute", a.handleExecute)
		})
	})
}
