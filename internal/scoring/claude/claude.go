// Package claude implements scoring.Scorer on top of the Claude messages API.
// The model only proposes a raw score; priority cut points still come from
// scoring.FromScore. Any model or parse failure falls back to the heuristic.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/scoring"
)

const responseTokens = 256

const systemPrompt = `You score emergency incident reports for dispatch triage.
Reply with a single JSON object and nothing else: {"score": <number between 0 and 1>}.
0.5 is a routine report. Raise the score for risk to life: injury, bleeding,
people trapped or stuck, flooding, fire, extreme heat or cold. Weigh the
reporter's urgency hint, but do not trust it blindly.`

// Scorer asks Claude for a score and maps it through scoring.FromScore.
type Scorer struct {
	client   anthropic.Client
	model    string
	fallback *scoring.Heuristic
	logger   log.Logger
}

// New creates a Claude-backed scorer. Extra request options (base URL,
// retries) are passed through to the SDK client.
func New(apiKey, model string, logger log.Logger, opts ...option.RequestOption) *Scorer {
	if logger == nil {
		logger = log.Nop()
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Scorer{
		client:   anthropic.NewClient(opts...),
		model:    model,
		fallback: scoring.NewHeuristic(),
		logger:   logger,
	}
}

// Score implements scoring.Scorer. It never returns an error: when the model
// cannot be used the heuristic result is returned instead.
func (s *Scorer) Score(ctx context.Context, report string, hint scoring.Urgency) (scoring.Assessment, error) {
	score, err := s.ask(ctx, report, hint)
	if err != nil {
		s.logger.Warn(ctx, "model scoring failed, using heuristic", "error", err, "model", s.model)
		return s.fallback.Assess(report, hint), nil
	}
	return scoring.FromScore(score), nil
}

func (s *Scorer) ask(ctx context.Context, report string, hint scoring.Urgency) (float64, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: responseTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(report, hint))),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("claude messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return parseScore(block.Text)
		}
	}
	return 0, errors.New("no text content in claude response")
}

func buildPrompt(report string, hint scoring.Urgency) string {
	h := string(hint)
	if h == "" {
		h = "none"
	}
	return fmt.Sprintf("Urgency hint: %s\n\nReport:\n%s", h, report)
}

// parseScore extracts {"score": n} from the model text, tolerating prose or
// code fences around the object.
func parseScore(text string) (float64, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return 0, fmt.Errorf("no json object in model reply %q", text)
	}

	var out struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return 0, fmt.Errorf("unmarshal model reply: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("model reply missing score")
	}
	return *out.Score, nil
}
