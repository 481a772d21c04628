package incident

import "context"

// Store is the persistence interface for incidents and their event log.
// Implementations must return copies and must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*Incident, bool, error)

	// List returns incidents in insertion order. An empty status means all.
	List(ctx context.Context, status Status) ([]*Incident, error)

	// Events returns one incident's events in append order.
	Events(ctx context.Context, incidentID string) ([]*Event, error)

	// Create inserts a new incident together with its first event.
	// Returns ErrDuplicate if the ID is taken. Assigns ev.Seq.
	Create(ctx context.Context, inc *Incident, ev *Event) error

	// Commit writes inc and appends ev atomically, but only if the stored
	// status still equals ev.From. Returns ErrStaleStatus otherwise and
	// ErrNotFound for an unknown incident. Assigns ev.Seq.
	Commit(ctx context.Context, inc *Incident, ev *Event) error
}

// Notifier is told about every accepted transition after it is committed.
type Notifier interface {
	Notify(ctx context.Context, inc *Incident, ev *Event) error
}
