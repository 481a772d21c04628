package scoring

import (
	"context"
	"strings"
)

// Score adjustments in hundredths.
const (
	basePoints    = 50
	keywordPoints = 25
	hintPoints    = 20
)

// DefaultKeywords are the lowercase fragments that mark a report as urgent:
// injury, bleeding, being stuck, flooding, fire, extreme heat and extreme cold.
var DefaultKeywords = []string{
	"injur",
	"bleed",
	"trapped",
	"stuck",
	"flood",
	"fire",
	"heat",
	"cold",
}

// Heuristic scores a report by keyword match and urgency hint. It is pure and
// never fails.
type Heuristic struct {
	keywords []string
}

// NewHeuristic returns a Heuristic using DefaultKeywords.
func NewHeuristic() *Heuristic {
	kw := make([]string, len(DefaultKeywords))
	copy(kw, DefaultKeywords)
	return &Heuristic{keywords: kw}
}

// Score implements Scorer.
func (h *Heuristic) Score(_ context.Context, report string, hint Urgency) (Assessment, error) {
	return h.Assess(report, hint), nil
}

// Assess is Score without the context and error, for callers that know they
// hold a Heuristic.
func (h *Heuristic) Assess(report string, hint Urgency) Assessment {
	pts := basePoints
	if h.matches(report) {
		pts += keywordPoints
	}
	switch hint {
	case UrgencyHigh:
		pts += hintPoints
	case UrgencyLow:
		pts -= hintPoints
	}
	return fromPoints(pts)
}

func (h *Heuristic) matches(report string) bool {
	text := strings.ToLower(report)
	for _, kw := range h.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
