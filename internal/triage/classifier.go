package triage

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/extract"
	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/strategy"
)

// Status markers the model is instructed to emit. Deliberately unusual
// numbers so they never collide with code in the snippet.
const (
	markerConfirmed     = "1337"
	markerFalsePositive = "1007"
	markerFalsePosAlt   = "3713"
	markerNeedsInfo     = "7331"
)

var (
	confidenceRe = regexp.MustCompile(`(?im)^\s*confidence:\s*(\d{1,3})`)
	cweRe        = regexp.MustCompile(`(?i)\bCWE-(\d{1,5})\b`)
	suggestionRe = regexp.MustCompile(`(?im)^\s*suggestion:\s*(.+)$`)
)

// ClassifierConfig tunes the retry loop and model parameters.
type ClassifierConfig struct {
	Model          string
	Temperature    float64
	MaxAttempts    int
	AttemptTimeout time.Duration
}

func (c *ClassifierConfig) withDefaults() ClassifierConfig {
	out := *c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = 2 * time.Minute
	}
	return out
}

// Classifier turns an extracted code context into a Verdict by asking the
// provider and parsing the reply. Every call reserves tokens against the
// governor before it leaves the process.
type Classifier struct {
	provider Provider
	budget   *Governor
	cfg      ClassifierConfig
	logger   log.Logger
	metrics  *Metrics
}

func NewClassifier(provider Provider, budget *Governor, cfg ClassifierConfig, logger log.Logger, m *Metrics) *Classifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{
		provider: provider,
		budget:   budget,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  m,
	}
}

// Classify builds the prompt for one finding and runs the retry loop.
//
// Returns ErrBudgetExceeded when the governor refuses the reservation. When
// every attempt fails it returns a *ClassificationError wrapping the last
// provider error together with a fail-closed verdict, so the caller can still
// surface the finding for human review.
func (c *Classifier) Classify(ctx context.Context, f *finding.Finding, s *strategy.Strategy, code *extract.CodeContext) (*Verdict, error) {
	prompt, err := s.BuildPrompt(&strategy.PromptData{
		Rule:     f.RuleID,
		Language: f.Language,
		Severity: string(f.Severity),
		Location: f.File + ":" + strconv.Itoa(f.StartLine),
		Message:  f.Message,
		Flow:     code.Flow,
		Code:     code.Snippet,
	})
	if err != nil {
		return nil, err
	}

	est := estimateTokens(prompt) + s.ResponseTokens
	if !c.budget.CheckAndReserve(est) {
		return nil, ErrBudgetExceeded
	}

	L := c.logger.With("rule", f.RuleID, "file", f.File, "line", f.StartLine)

	attempts := 0
	op := func() (*LLMResponse, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()

		resp, err := c.provider.Classify(actx, &LLMRequest{
			System:      systemPrompt,
			Prompt:      prompt,
			MaxTokens:   s.ResponseTokens,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			var te *TransientError
			if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
				L.Warn(ctx, "llm attempt failed, retrying", "attempt", attempts, "error", err.Error())
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		c.budget.Settle(est, 0)
		if c.metrics != nil {
			c.metrics.ClassifyErrors.Inc()
		}
		L.Error(ctx, err, "classification exhausted, failing closed")
		return nil, &ClassificationError{Attempts: attempts, Err: err}
	}

	c.budget.Settle(est, resp.InputTokens+resp.OutputTokens)
	if c.metrics != nil {
		c.metrics.LLMCalls.Inc()
		c.metrics.TokensSpent.Add(float64(resp.InputTokens + resp.OutputTokens))
	}

	v := parseVerdict(resp.Text)
	v.Model = c.cfg.Model
	v.InputTokens = resp.InputTokens
	v.OutputTokens = resp.OutputTokens
	v.CreatedAt = time.Now().UTC()

	if v.Status == StatusNeedsMoreInfo && v.Confidence == 0 {
		L.Warn(ctx, "no status marker in model reply", "stop_reason", resp.StopReason)
	}
	return v, nil
}

// FailClosedVerdict is the verdict attached to a finding whose classification
// could not complete. It is never cached, so a later run retries the finding.
func FailClosedVerdict(model string) *Verdict {
	return &Verdict{
		Status:     StatusNeedsMoreInfo,
		Confidence: 0,
		Reasoning:  "classification unavailable, review manually",
		Model:      model,
		CreatedAt:  time.Now().UTC(),
	}
}

// parseVerdict scans the model's free-form reply for the first status marker
// and the structured trailer lines. A reply with no marker fails closed with
// confidence zero.
func parseVerdict(text string) *Verdict {
	v := &Verdict{Status: StatusNeedsMoreInfo}

	idx := -1
	for _, m := range []struct {
		marker string
		status Status
	}{
		{markerConfirmed, StatusConfirmed},
		{markerFalsePositive, StatusFalsePositive},
		{markerFalsePosAlt, StatusFalsePositive},
		{markerNeedsInfo, StatusNeedsMoreInfo},
	} {
		if i := strings.Index(text, m.marker); i >= 0 && (idx < 0 || i < idx) {
			idx = i
			v.Status = m.status
		}
	}
	if idx < 0 {
		v.Confidence = 0
		v.Reasoning = strings.TrimSpace(text)
		return v
	}

	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 0 && n <= 100 {
			// The model reports an integer percentage; verdicts carry [0,1].
			v.Confidence = float64(n) / 100
		}
	}
	if m := cweRe.FindString(text); m != "" {
		v.CWE = strings.ToUpper(m)
	}
	if m := suggestionRe.FindStringSubmatch(text); m != nil {
		v.Suggestion = strings.TrimSpace(m[1])
	}
	v.Reasoning = strings.TrimSpace(text)
	return v
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

const systemPrompt = `You are a security engineer reviewing static analysis findings. ` +
	`You are given the finding, the data flow from source to sink, and the surrounding code. ` +
	`Decide whether the finding is a real, exploitable vulnerability. ` +
	`Follow the response format in the task exactly.`
