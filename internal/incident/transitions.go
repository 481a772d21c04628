package incident

import (
	"fmt"
	"slices"
	"time"
)

// transitions is the complete edge table. Every Status has an entry, terminal
// states map to nil.
var transitions = map[Status][]Status{
	StatusDraft:            {StatusNeedsHumanReview},
	StatusNeedsHumanReview: {StatusApproved, StatusRejected},
	StatusApproved:         {StatusExecuted},
	StatusRejected:         {StatusNeedsHumanReview},
	StatusExecuted:         nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	return slices.Clone(transitions[s])
}

// transition is the only code that assigns Incident.Status. On an illegal
// edge it returns an *InvalidTransitionError and leaves inc untouched.
// The returned event has no ID or Seq yet.
func transition(inc *Incident, to Status, actor, reason string, now time.Time) (*Event, error) {
	from := inc.Status
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	inc.Status = to
	inc.UpdatedAt = now

	return &Event{
		IncidentID: inc.ID,
		From:       from,
		To:         to,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  now,
	}, nil
}

// Replay rebuilds an incident's status from its ordered event history. It
// fails if any event is not a legal edge or does not start where the previous
// one ended. The first event must leave draft.
func Replay(events []*Event) (Status, error) {
	cur := StatusDraft
	for i, ev := range events {
		if ev.From != cur {
			return "", fmt.Errorf("event %d: from %s, expected %s", i, ev.From, cur)
		}
		if !CanTransition(ev.From, ev.To) {
			return "", fmt.Errorf("event %d: %w", i, &InvalidTransitionError{From: ev.From, To: ev.To})
		}
		cur = ev.To
	}
	return cur, nil
}
