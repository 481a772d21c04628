// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/incident"
)

// Store holds incidents and their event log in memory. Contents are lost on
// restart.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
	order     []string                     // incident IDs in insertion order
	events    []*incident.Event            // global append-only log
	byID      map[string][]*incident.Event // incident ID -> its events
	seq       int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		byID:      make(map[string][]*incident.Event),
	}
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// List returns copies of all incidents in insertion order, filtered by status
// when one is given.
func (s *Store) List(_ context.Context, status incident.Status) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*incident.Incident, 0, len(s.order))
	for _, id := range s.order {
		inc := s.incidents[id]
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc.Clone())
	}
	return out, nil
}

// Events returns copies of one incident's events in append order.
func (s *Store) Events(_ context.Context, incidentID string) ([]*incident.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.byID[incidentID]
	out := make([]*incident.Event, len(evs))
	for i, ev := range evs {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// Create stores a copy of a new incident and appends its first event.
func (s *Store) Create(_ context.Context, inc *incident.Incident, ev *incident.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; ok {
		return incident.ErrDuplicate
	}
	s.incidents[inc.ID] = inc.Clone()
	s.order = append(s.order, inc.ID)
	s.appendLocked(ev)
	return nil
}

// Commit replaces the stored incident and appends ev, provided the stored
// status still equals ev.From.
func (s *Store) Commit(_ context.Context, inc *incident.Incident, ev *incident.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.incidents[inc.ID]
	if !ok {
		return incident.ErrNotFound
	}
	if cur.Status != ev.From {
		return incident.ErrStaleStatus
	}
	s.incidents[inc.ID] = inc.Clone()
	s.appendLocked(ev)
	return nil
}

// AllEvents returns a copy of the global event log in append order.
func (s *Store) AllEvents() []*incident.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*incident.Event, len(s.events))
	for i, ev := range s.events {
		cp := *ev
		out[i] = &cp
	}
	return out
}

func (s *Store) appendLocked(ev *incident.Event) {
	s.seq++
	ev.Seq = s.seq
	cp := *ev
	s.events = append(s.events, &cp)
	s.byID[ev.IncidentID] = append(s.byID[ev.IncidentID], &cp)
}
