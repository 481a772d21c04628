package incident

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/scoring"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident")

const (
	// DefaultActor is recorded when an incident is created without one.
	DefaultActor = "system"

	// ReasonAutoRouted is the reason on the draft -> needs_human_review event.
	ReasonAutoRouted = "auto-routed for review"

	// ReasonExecuted is the reason on the approved -> executed event.
	ReasonExecuted = "dispatch executed"
)

// lockStripes bounds the number of mutexes; incidents hash onto a stripe.
const lockStripes = 256

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	Report      string
	Location    string
	UrgencyHint scoring.Urgency
	Actor       string
}

// ReviewRequest is the input to Manager.Review. FinalPriority is optional and
// only used when approving.
type ReviewRequest struct {
	ID            string
	Decision      Decision
	Actor         string
	Reason        string
	FinalPriority scoring.Priority
}

// Manager owns the incident registry and event log. All status changes go
// through it.
type Manager struct {
	store    Store
	scorer   scoring.Scorer
	logger   log.Logger
	hooks    Hooks
	notifier Notifier

	seed  maphash.Seed
	locks [lockStripes]sync.Mutex

	notifications sync.WaitGroup

	now        func() time.Time
	newID      func() string
	newEventID func() string
}

// NewManager creates a new incident manager. notifier may be nil.
func NewManager(store Store, scorer scoring.Scorer, logger log.Logger, hooks Hooks, notifier Notifier) *Manager {
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if scorer == nil {
		panic(xerrors.New("scorer is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		store:      store,
		scorer:     scorer,
		logger:     logger,
		hooks:      hooks,
		notifier:   notifier,
		seed:       maphash.MakeSeed(),
		now:        time.Now,
		newID:      func() string { return ulid.Make().String() },
		newEventID: uuid.NewString,
	}
}

// Create scores the report, builds the incident in draft and routes it
// straight to needs_human_review. The returned incident is never in draft.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (_ *Incident, err error) {
	ctx, span := tracer.Start(ctx, "incident.Create")
	defer func() { endSpan(span, err) }()

	if !req.UrgencyHint.Valid() {
		return nil, invalidField("urgency_hint", "must be one of: low medium high")
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = DefaultActor
	}

	a, err := m.scorer.Score(ctx, req.Report, req.UrgencyHint)
	if err != nil {
		return nil, fmt.Errorf("score report: %w", err)
	}
	if !a.Priority.Valid() {
		return nil, fmt.Errorf("scorer returned unknown priority %q", a.Priority)
	}

	now := m.now()
	inc := &Incident{
		ID:                m.newID(),
		CreatedAt:         now,
		UpdatedAt:         now,
		Report:            req.Report,
		Location:          req.Location,
		UrgencyHint:       req.UrgencyHint,
		SuggestedPriority: a.Priority,
		Confidence:        a.Confidence,
		Status:            StatusDraft,
	}
	span.SetAttributes(attribute.String("warden.incident.id", inc.ID))

	ev, err := transition(inc, StatusNeedsHumanReview, actor, ReasonAutoRouted, now)
	if err != nil {
		return nil, err
	}
	ev.ID = m.newEventID()

	if err := m.store.Create(ctx, inc, ev); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	m.hooks.created(inc.SuggestedPriority, inc.Confidence)
	m.accepted(ctx, inc, ev)

	return inc.Clone(), nil
}

// List returns incidents in insertion order, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status Status) ([]*Incident, error) {
	if status != "" && !status.Valid() {
		return nil, invalidField("status", "must be a known status")
	}
	return m.store.List(ctx, status)
}

// Get returns an incident and its ordered event history.
func (m *Manager) Get(ctx context.Context, id string) (_ *Incident, _ []*Event, err error) {
	ctx, span := tracer.Start(ctx, "incident.Get", trace.WithAttributes(
		attribute.String("warden.incident.id", id),
	))
	defer func() { endSpan(span, err) }()

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inc, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, nil, ErrNotFound
	}
	events, err := m.store.Events(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get events: %w", err)
	}
	return inc, events, nil
}

// Review records a reviewer decision. The edge is validated before any field
// is touched, so a refused review leaves the incident exactly as it was.
func (m *Manager) Review(ctx context.Context, req ReviewRequest) (*Incident, *Event, error) {
	if !req.Decision.Valid() {
		return nil, nil, invalidField("decision", "must be one of: approve reject")
	}
	if req.FinalPriority != "" && !req.FinalPriority.Valid() {
		return nil, nil, invalidField("final_priority", "must be one of: P1 P2 P3")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, nil, invalidField("actor", "is required")
	}

	to := StatusRejected
	if req.Decision == DecisionApprove {
		to = StatusApproved
	}

	return m.apply(ctx, "incident.Review", req.ID, func(inc *Incident, now time.Time) (*Event, error) {
		ev, err := transition(inc, to, req.Actor, req.Reason, now)
		if err != nil {
			return nil, err
		}
		inc.ReviewReason = req.Reason
		inc.ReviewedBy = req.Actor
		if to == StatusApproved && inc.FinalPriority == nil {
			p := req.FinalPriority
			if p == "" {
				p = inc.SuggestedPriority
			}
			inc.FinalPriority = &p
		}
		return ev, nil
	})
}

// Reopen sends a rejected incident back for review.
func (m *Manager) Reopen(ctx context.Context, id, actor, reason string) (*Incident, *Event, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, nil, invalidField("actor", "is required")
	}
	return m.apply(ctx, "incident.Reopen", id, func(inc *Incident, now time.Time) (*Event, error) {
		if inc.Status != StatusRejected {
			return nil, &InvalidTransitionError{From: inc.Status, To: StatusNeedsHumanReview}
		}
		ev, err := transition(inc, StatusNeedsHumanReview, actor, reason, now)
		if err != nil {
			return nil, err
		}
		inc.ReviewReason = reason
		inc.ReviewedBy = actor
		return ev, nil
	})
}

// Execute dispatches an approved incident. This is irreversible.
func (m *Manager) Execute(ctx context.Context, id, actor string) (*Incident, *Event, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, nil, invalidField("actor", "is required")
	}
	return m.apply(ctx, "incident.Execute", id, func(inc *Incident, now time.Time) (*Event, error) {
		return transition(inc, StatusExecuted, actor, ReasonExecuted, now)
	})
}

// Wait blocks until in-flight notifications have finished.
func (m *Manager) Wait() {
	m.notifications.Wait()
}

// apply runs one read-validate-write cycle under the incident's lock.
// mutate works on a private copy, nothing is visible until Commit succeeds.
func (m *Manager) apply(ctx context.Context, op, id string, mutate func(*Incident, time.Time) (*Event, error)) (_ *Incident, _ *Event, err error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("warden.incident.id", id),
	))
	defer func() { endSpan(span, err) }()

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inc, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, nil, ErrNotFound
	}

	ev, err := mutate(inc, m.now())
	if err != nil {
		var ite *InvalidTransitionError
		if errors.As(err, &ite) {
			m.hooks.refused(ite.From, ite.To)
			m.logger.Warn(ctx, "transition refused",
				"incident_id", id,
				"from", ite.From,
				"to", ite.To,
			)
		}
		return nil, nil, err
	}
	ev.ID = m.newEventID()

	if err := m.store.Commit(ctx, inc, ev); err != nil {
		return nil, nil, fmt.Errorf("commit transition: %w", err)
	}

	m.accepted(ctx, inc, ev)

	out := *ev
	return inc.Clone(), &out, nil
}

func (m *Manager) accepted(ctx context.Context, inc *Incident, ev *Event) {
	m.hooks.transitioned(ev.From, ev.To)
	m.logger.Info(ctx, "transition accepted",
		"incident_id", inc.ID,
		"event_id", ev.ID,
		"from", ev.From,
		"to", ev.To,
		"actor", ev.Actor,
	)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("warden.incident.status", string(inc.Status)),
	)
	m.notify(ctx, inc, ev)
}

// notify runs the notifier on a detached goroutine with private copies.
func (m *Manager) notify(ctx context.Context, inc *Incident, ev *Event) {
	if m.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	incCopy := inc.Clone()
	evCopy := *ev

	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		if err := m.notifier.Notify(ctx, incCopy, &evCopy); err != nil {
			m.hooks.notifyFailed()
			m.logger.Error(ctx, err, "transition notification failed",
				"incident_id", incCopy.ID,
				"to", evCopy.To,
			)
		}
	}()
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	return &m.locks[maphash.String(m.seed, id)%lockStripes]
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
