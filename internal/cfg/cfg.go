// Package cfg holds warden's application-level configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Scorer names accepted by -scorer.
const (
	ScorerHeuristic = "heuristic"
	ScorerClaude    = "claude"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SlackWebhookURL       string
	APITokens             string
	Scorer                string
	ClaudeAPIKey          string
	ClaudeModel           string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for lifecycle notifications")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated actor:token pairs for bearer auth (empty = no auth)")
	fs.StringVar(&c.Scorer, "scorer", ScorerHeuristic, "incident scorer: heuristic or claude")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the claude scorer")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used by the claude scorer")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.Scorer {
	case ScorerHeuristic:
	case ScorerClaude:
		// only the model-backed scorer needs credentials
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when SCORER=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when SCORER=claude"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SCORER %q (must be heuristic or claude)", c.Scorer))
	}

	if _, err := c.Principals(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Principals parses APITokens into token -> actor. An empty APITokens yields
// an empty map, meaning authentication is off.
func (c *Config) Principals() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(c.APITokens) == "" {
		return out, nil
	}
	for i, pair := range strings.Split(c.APITokens, ",") {
		actor, token, ok := strings.Cut(strings.TrimSpace(pair), ":")
		actor, token = strings.TrimSpace(actor), strings.TrimSpace(token)
		if !ok || actor == "" || token == "" {
			return nil, fmt.Errorf("invalid API_TOKENS entry %d (want actor:token)", i+1)
		}
		if _, dup := out[token]; dup {
			return nil, fmt.Errorf("invalid API_TOKENS entry %d (token reused)", i+1)
		}
		out[token] = actor
	}
	return out, nil
}
