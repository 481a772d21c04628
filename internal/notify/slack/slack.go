// Package slack posts incident lifecycle notifications to a Slack incoming
// webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/scoring"
)

const (
	maxReportLen = 2900
	httpTimeout  = 10 * time.Second
)

// Notifier implements incident.Notifier over a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts one message for an accepted transition.
func (n *Notifier) Notify(ctx context.Context, inc *incident.Incident, ev *incident.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(inc, ev)
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	n.logger.Info(ctx, "slack notification sent", "incident_id", inc.ID, "to", ev.To)
	return nil
}

func buildMessage(inc *incident.Incident, ev *incident.Event) *slack.WebhookMessage {
	title := headline(ev)
	return &slack.WebhookMessage{
		Text: fmt.Sprintf("%s: %s", title, inc.ID),
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
				fmt.Sprintf("%s %s", priorityEmoji(effectivePriority(inc)), title), true, false)),
			slack.NewDividerBlock(),
			slack.NewSectionBlock(nil, fieldsFor(inc, ev), nil),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				"*Report*\n\n"+truncate(inc.Report, maxReportLen), false, false), nil, nil),
			slack.NewDividerBlock(),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("warden • incident %s • %s", inc.ID, ev.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")), false, false)),
		}},
	}
}

func headline(ev *incident.Event) string {
	switch ev.To {
	case incident.StatusNeedsHumanReview:
		if ev.From == incident.StatusRejected {
			return "Reopened for review"
		}
		return "Review requested"
	case incident.StatusApproved:
		return "Dispatch approved"
	case incident.StatusRejected:
		return "Dispatch rejected"
	case incident.StatusExecuted:
		return "Dispatch executed"
	default:
		return "Incident updated"
	}
}

func fieldsFor(inc *incident.Incident, ev *incident.Event) []*slack.TextBlockObject {
	md := func(format string, args ...any) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(format, args...), false, false)
	}

	fields := []*slack.TextBlockObject{
		md("*Status:* %s", inc.Status),
		md("*Suggested:* %s (%.2f)", inc.SuggestedPriority, inc.Confidence),
	}
	if inc.FinalPriority != nil {
		fields = append(fields, md("*Final:* %s", *inc.FinalPriority))
	}
	fields = append(fields,
		md("*Location:* %s", inc.Location),
		md("*By:* %s", ev.Actor),
	)
	if ev.Reason != "" {
		fields = append(fields, md("*Reason:* %s", truncate(ev.Reason, 200)))
	}
	return fields
}

func effectivePriority(inc *incident.Incident) scoring.Priority {
	if inc.FinalPriority != nil {
		return *inc.FinalPriority
	}
	return inc.SuggestedPriority
}

func priorityEmoji(p scoring.Priority) string {
	switch p {
	case scoring.P1:
		return "\U0001f534" // red circle
	case scoring.P2:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
