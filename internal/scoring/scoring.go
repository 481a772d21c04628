// Package scoring assigns a suggested priority and confidence to an incident
// report. The Heuristic scorer is the default; anything satisfying Scorer can
// replace it without touching the incident lifecycle.
package scoring

import (
	"context"
	"fmt"
	"math"
)

// Priority is the dispatch priority of an incident, P1 being the most urgent.
type Priority string

const (
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case P1, P2, P3:
		return true
	}
	return false
}

// ParsePriority converts a string to a Priority, rejecting unknown values.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Urgency is the optional hint supplied by the reporter. The zero value means
// no hint was given.
type Urgency string

const (
	UrgencyNone   Urgency = ""
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is a known urgency, including the empty hint.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNone, UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// ParseUrgency converts a string to an Urgency. The empty string is accepted
// and yields UrgencyNone.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	if !u.Valid() {
		return "", fmt.Errorf("unknown urgency hint %q", s)
	}
	return u, nil
}

// Assessment is the output of a Scorer.
type Assessment struct {
	Priority   Priority `json:"suggested_priority"`
	Confidence float64  `json:"confidence"`
}

// Scorer maps a report and urgency hint to an Assessment.
type Scorer interface {
	Score(ctx context.Context, report string, hint Urgency) (Assessment, error)
}

// Policy cut points, in hundredths. A score strictly above p1Above is P1,
// strictly above p2Above is P2, anything else P3.
const (
	p1Above = 75
	p2Above = 55
)

// FromScore clamps score to [0,1], rounds it to two decimals and maps it to a
// priority. Every scorer goes through here so the cut points stay identical.
func FromScore(score float64) Assessment {
	if math.IsNaN(score) {
		score = 0
	}
	score = min(max(score, 0), 1)
	return fromPoints(int(math.Round(score * 100)))
}

func fromPoints(pts int) Assessment {
	pts = min(max(pts, 0), 100)

	var p Priority
	switch {
	case pts > p1Above:
		p = P1
	case pts > p2Above:
		p = P2
	default:
		p = P3
	}
	return Assessment{Priority: p, Confidence: float64(pts) / 100}
}
