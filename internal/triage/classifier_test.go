package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/extract"
	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/strategy"
)

const claudeTestModel = "claude-sonnet-4-20250514"

// mockProvider returns preconfigured responses in sequence.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	callIdx   int
}

func (m *mockProvider) Classify(_ context.Context, _ *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callIdx
	m.callIdx++

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &LLMResponse{
		Text:         "7331 fallback",
		StopReason:   "end_turn",
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

func testStrategy(t *testing.T, language string) *strategy.Strategy {
	t.Helper()
	reg, err := strategy.Load("")
	if err != nil {
		t.Fatalf("load strategies: %v", err)
	}
	s, err := reg.Resolve(language)
	if err != nil {
		t.Fatalf("resolve %q: %v", language, err)
	}
	return s
}

func testFinding() *finding.Finding {
	return &finding.Finding{
		ID:        0,
		Language:  "go",
		RuleID:    "sql-injection",
		Severity:  finding.SeverityError,
		Message:   "user input flows into SQL query",
		File:      "internal/db/query.go",
		StartLine: 10,
		EndLine:   12,
	}
}

func testContext() *extract.CodeContext {
	return &extract.CodeContext{
		Snippet:       "10: q := \"SELECT * FROM t WHERE id=\" + id\n11: rows, _ := db.Query(q)\n",
		Flow:          "[source] internal/db/query.go:10\n[sink] internal/db/query.go:11\n",
		TokenEstimate: 20,
	}
}

func newTestClassifier(p Provider, g *Governor) *Classifier {
	return NewClassifier(p, g, ClassifierConfig{
		Model:          claudeTestModel,
		MaxAttempts:    3,
		AttemptTimeout: 5 * time.Second,
	}, log.Nop(), nil)
}

func TestClassify_ConfirmedVerdict(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		responses: []*LLMResponse{{
			Text:         "The query concatenates user input.\n\n1337\nconfidence: 85\nCWE-89\nsuggestion: use parameterized queries",
			InputTokens:  1200,
			OutputTokens: 80,
		}},
	}
	g := NewGovernor(100000)
	c := newTestClassifier(provider, g)

	v, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Status != StatusConfirmed {
		t.Errorf("status = %q, want %q", v.Status, StatusConfirmed)
	}
	if v.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", v.Confidence)
	}
	if v.CWE != "CWE-89" {
		t.Errorf("cwe = %q, want CWE-89", v.CWE)
	}
	if v.Suggestion != "use parameterized queries" {
		t.Errorf("suggestion = %q", v.Suggestion)
	}
	if v.Model != claudeTestModel {
		t.Errorf("model = %q, want %q", v.Model, claudeTestModel)
	}
	if v.InputTokens != 1200 || v.OutputTokens != 80 {
		t.Errorf("tokens = %d/%d, want 1200/80", v.InputTokens, v.OutputTokens)
	}

	u := g.Usage()
	if u.TokensSpent != 1280 {
		t.Errorf("TokensSpent = %d, want 1280", u.TokensSpent)
	}
	if u.Calls != 1 {
		t.Errorf("Calls = %d, want 1", u.Calls)
	}
}

func TestClassify_FalsePositiveMarkers(t *testing.T) {
	t.Parallel()

	for _, marker := range []string{"1007", "3713"} {
		provider := &mockProvider{
			responses: []*LLMResponse{{
				Text:         "Input is validated upstream. " + marker + "\nconfidence: 95",
				InputTokens:  100,
				OutputTokens: 20,
			}},
		}
		c := newTestClassifier(provider, NewGovernor(100000))

		v, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
		if err != nil {
			t.Fatalf("marker %s: %v", marker, err)
		}
		if v.Status != StatusFalsePositive {
			t.Errorf("marker %s: status = %q, want %q", marker, v.Status, StatusFalsePositive)
		}
		if v.Confidence != 0.95 {
			t.Errorf("marker %s: confidence = %v, want 0.95", marker, v.Confidence)
		}
	}
}

func TestClassify_NoMarkerFailsClosed(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		responses: []*LLMResponse{{
			Text:         "I am not sure what to make of this code.",
			InputTokens:  100,
			OutputTokens: 20,
		}},
	}
	c := newTestClassifier(provider, NewGovernor(100000))

	v, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Status != StatusNeedsMoreInfo {
		t.Errorf("status = %q, want %q", v.Status, StatusNeedsMoreInfo)
	}
	if v.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", v.Confidence)
	}
}

func TestClassify_FirstMarkerWins(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		responses: []*LLMResponse{{
			Text:         "1007 definitely safe, though a naive reading might say 1337",
			InputTokens:  100,
			OutputTokens: 20,
		}},
	}
	c := newTestClassifier(provider, NewGovernor(100000))

	v, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Status != StatusFalsePositive {
		t.Errorf("status = %q, want %q", v.Status, StatusFalsePositive)
	}
}

func TestClassify_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		errs: []error{
			&TransientError{Err: errors.New("429 rate limited")},
			&TransientError{Err: errors.New("overloaded")},
		},
		responses: []*LLMResponse{nil, nil, {
			Text:         "1337\nconfidence: 70",
			InputTokens:  100,
			OutputTokens: 20,
		}},
	}
	c := newTestClassifier(provider, NewGovernor(100000))

	v, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Status != StatusConfirmed {
		t.Errorf("status = %q, want %q", v.Status, StatusConfirmed)
	}
	if n := provider.calls(); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}
}

func TestClassify_ExhaustedRetriesFailClosed(t *testing.T) {
	t.Parallel()

	transient := &TransientError{Err: errors.New("upstream timeout")}
	provider := &mockProvider{errs: []error{transient, transient, transient}}
	g := NewGovernor(100000)
	c := newTestClassifier(provider, g)

	_, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	var ce *ClassificationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ClassificationError", err)
	}
	if ce.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", ce.Attempts)
	}
	if n := provider.calls(); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}

	// The reservation is released so other jobs can still run.
	u := g.Usage()
	if u.TokensSpent != 0 {
		t.Errorf("TokensSpent = %d, want 0", u.TokensSpent)
	}
	if u.Tripped {
		t.Error("governor tripped by a failed classification")
	}

	v := FailClosedVerdict(claudeTestModel)
	if v.Status != StatusNeedsMoreInfo || v.Confidence != 0 {
		t.Errorf("fail-closed verdict = %+v", v)
	}
}

func TestClassify_PermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{errors.New("401 invalid api key")}}
	c := newTestClassifier(provider, NewGovernor(100000))

	_, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("err = %v", err)
	}
	if n := provider.calls(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestClassify_BudgetRefusalSkipsProvider(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	c := newTestClassifier(provider, NewGovernor(0))

	_, err := c.Classify(context.Background(), testFinding(), testStrategy(t, "go"), testContext())
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if n := provider.calls(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}
