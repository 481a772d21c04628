package incident

import (
	"time"

	"github.com/linnemanlabs/warden/internal/scoring"
)

// Status is the lifecycle position of an incident.
type Status string

const (
	// StatusDraft is the construction state, never observable after Create returns
	StatusDraft Status = "draft"

	// StatusNeedsHumanReview means waiting on a reviewer decision
	StatusNeedsHumanReview Status = "needs_human_review"

	// StatusApproved means a reviewer approved dispatch
	StatusApproved Status = "approved"

	// StatusRejected means a reviewer rejected dispatch; can be reopened
	StatusRejected Status = "rejected"

	// StatusExecuted means dispatch happened. Terminal.
	StatusExecuted Status = "executed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDraft,
	StatusNeedsHumanReview,
	StatusApproved,
	StatusRejected,
	StatusExecuted,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Incident is a report under review.
type Incident struct {
	ID                string            `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Report            string            `json:"report"`
	Location          string            `json:"location"`
	UrgencyHint       scoring.Urgency   `json:"urgency_hint,omitempty"`
	SuggestedPriority scoring.Priority  `json:"suggested_priority"`
	Confidence        float64           `json:"confidence"`
	FinalPriority     *scoring.Priority `json:"final_priority,omitempty"`
	Status            Status            `json:"status"`
	ReviewReason      string            `json:"review_reason,omitempty"`
	ReviewedBy        string            `json:"reviewed_by,omitempty"`
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.FinalPriority != nil {
		p := *i.FinalPriority
		cp.FinalPriority = &p
	}
	return &cp
}

// Event is an immutable audit record of one accepted transition.
type Event struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	IncidentID string    `json:"incident_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
