// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/scoring"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Store persists incidents and approval events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, created_at, updated_at, report, location, urgency_hint,
	suggested_priority, confidence, final_priority, status, review_reason, reviewed_by`

const eventColumns = `seq, id, incident_id, from_status, to_status, actor, reason, created_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, true, nil
}

// List returns incidents in insertion order, optionally filtered by status.
func (s *Store) List(ctx context.Context, status incident.Status) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE $1 = '' OR status = $1
		 ORDER BY insert_seq`, string(status))
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	out := []*incident.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate incidents: %w", err))
	}
	return out, nil
}

// Events returns one incident's events in append order.
func (s *Store) Events(ctx context.Context, incidentID string) ([]*incident.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.Events", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM approval_events WHERE incident_id = $1 ORDER BY seq`, incidentID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	out := []*incident.Event{}
	for rows.Next() {
		var (
			ev       incident.Event
			from, to string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.IncidentID, &from, &to, &ev.Actor, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan event: %w", err))
		}
		ev.From, ev.To = incident.Status(from), incident.Status(to)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate events: %w", err))
	}
	return out, nil
}

// Create inserts a new incident and its first event in one transaction.
func (s *Store) Create(ctx context.Context, inc *incident.Incident, ev *incident.Event) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		incidentArgs(inc)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return incident.ErrDuplicate
		}
		return fail(span, fmt.Errorf("insert incident: %w", err))
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Commit updates the incident and appends ev in one transaction. The UPDATE
// is conditional on the stored status still being ev.From.
func (s *Store) Commit(ctx context.Context, inc *incident.Incident, ev *incident.Event) error {
	ctx, span := startSpan(ctx, "pgstore.Commit", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("warden.incident.id", inc.ID))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET
			updated_at     = $3,
			final_priority = $4,
			status         = $5,
			review_reason  = $6,
			reviewed_by    = $7
		 WHERE id = $1 AND status = $2`,
		inc.ID, string(ev.From), inc.UpdatedAt, finalPriority(inc), string(inc.Status),
		inc.ReviewReason, inc.ReviewedBy,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update incident: %w", err))
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, inc.ID).Scan(&exists); err != nil {
			return fail(span, fmt.Errorf("check incident: %w", err))
		}
		if !exists {
			return incident.ErrNotFound
		}
		return incident.ErrStaleStatus
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *incident.Event) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO approval_events (id, incident_id, from_status, to_status, actor, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		ev.ID, ev.IncidentID, string(ev.From), string(ev.To), ev.Actor, ev.Reason, ev.CreatedAt,
	).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func finalPriority(inc *incident.Incident) *string {
	if inc.FinalPriority == nil {
		return nil
	}
	p := string(*inc.FinalPriority)
	return &p
}

func incidentArgs(inc *incident.Incident) []any {
	return []any{
		inc.ID, inc.CreatedAt, inc.UpdatedAt, inc.Report, inc.Location, string(inc.UrgencyHint),
		string(inc.SuggestedPriority), inc.Confidence, finalPriority(inc), string(inc.Status),
		inc.ReviewReason, inc.ReviewedBy,
	}
}

// scanIncident scans one incidents row. pgx.ErrNoRows is returned unwrapped.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc                      incident.Incident
		urgency, suggested, stat string
		final                    *string
	)
	err := row.Scan(
		&inc.ID, &inc.CreatedAt, &inc.UpdatedAt, &inc.Report, &inc.Location, &urgency,
		&suggested, &inc.Confidence, &final, &stat, &inc.ReviewReason, &inc.ReviewedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.UrgencyHint = scoring.Urgency(urgency)
	inc.SuggestedPriority = scoring.Priority(suggested)
	inc.Status = incident.Status(stat)
	if final != nil {
		p := scoring.Priority(*final)
		inc.FinalPriority = &p
	}
	return &inc, nil
}
