// Package cfg holds the run configuration, registered as flags and filled
// from the environment.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds arbiter-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	Input           string
	SourceRoot      string
	Output          string
	Format          string
	Strategies      string
	Concurrency     int
	TokenBudget     int
	TimeoutSeconds  int
	ClaudeAPIKey    string
	ClaudeModel     string
	DatabaseURL     string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Input, "input", "", "CSV file of static analysis findings (- = stdin)")
	fs.StringVar(&c.SourceRoot, "source-root", ".", "root directory the findings' file paths are relative to")
	fs.StringVar(&c.Output, "output", "", "report output path (empty = stdout)")
	fs.StringVar(&c.Format, "format", "json", "report format: json or sarif")
	fs.StringVar(&c.Strategies, "strategies", "", "TOML file with per-language strategy overrides")
	fs.IntVar(&c.Concurrency, "concurrency", 4, "number of parallel triage workers (1..64)")
	fs.IntVar(&c.TokenBudget, "token-budget", 500000, "run-wide LLM token ceiling, 0 disables all classification")
	fs.IntVar(&c.TimeoutSeconds, "timeout-seconds", 0, "overall run timeout in seconds (0 = none)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory verdict cache)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run summaries")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Input == "" {
		errs = append(errs, errors.New("INPUT is required"))
	}

	if c.Format != "json" && c.Format != "sarif" {
		errs = append(errs, fmt.Errorf("invalid FORMAT %q (must be json or sarif)", c.Format))
	}

	if c.Concurrency <= 0 || c.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..64)", c.Concurrency))
	}

	if c.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("invalid TOKEN_BUDGET %d (must be >= 0)", c.TokenBudget))
	}

	if c.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid TIMEOUT_SECONDS %d (must be >= 0)", c.TimeoutSeconds))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
