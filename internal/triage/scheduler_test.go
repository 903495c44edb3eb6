package triage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/extract"
	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/strategy"
)

// writeSource drops a numbered source file under root and returns its
// relative path.
func writeSource(t *testing.T, root, rel string, lines int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		b.WriteString("line of code number ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\n")
	}
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return rel
}

type schedulerFixture struct {
	scheduler *Scheduler
	provider  *mockProvider
	store     *mapStore
	budget    *Governor
	root      string
}

func newSchedulerFixture(t *testing.T, ceiling, concurrency int, provider *mockProvider, store *mapStore) *schedulerFixture {
	t.Helper()

	reg, err := strategy.Load("")
	if err != nil {
		t.Fatalf("load strategies: %v", err)
	}
	if provider == nil {
		provider = &mockProvider{
			responses: []*LLMResponse{{
				Text:         "1337\nconfidence: 80",
				InputTokens:  100,
				OutputTokens: 20,
			}},
		}
	}
	if store == nil {
		store = newMapStore()
	}

	root := t.TempDir()
	budget := NewGovernor(ceiling)
	classifier := NewClassifier(provider, budget, ClassifierConfig{
		Model:          claudeTestModel,
		MaxAttempts:    1,
		AttemptTimeout: 5 * time.Second,
	}, log.Nop(), nil)

	return &schedulerFixture{
		scheduler: NewScheduler(SchedulerOptions{
			Registry:    reg,
			Extractor:   extract.New(root),
			Classifier:  classifier,
			Cache:       NewCache(store, log.Nop()),
			Budget:      budget,
			Concurrency: concurrency,
			Logger:      log.Nop(),
		}),
		provider: provider,
		store:    store,
		budget:   budget,
		root:     root,
	}
}

func sqlFinding(id int, file string, line int) finding.Finding {
	return finding.Finding{
		ID:        id,
		Language:  "go",
		RuleID:    "sql-injection",
		Severity:  finding.SeverityError,
		Message:   "user input flows into SQL query",
		File:      file,
		StartLine: line,
		EndLine:   line,
	}
}

func TestScheduler_DuplicateFindingsClassifyOnce(t *testing.T) {
	t.Parallel()

	// Identical code in two copies of the same file content: same rule,
	// same normalized snippet, so the fingerprints collide.
	fx := newSchedulerFixture(t, 1_000_000, 2, nil, nil)
	a := writeSource(t, fx.root, "internal/db/query.go", 40)
	b := writeSource(t, fx.root, "internal/db/query_copy.go", 40)

	findings := []finding.Finding{
		sqlFinding(0, a, 20),
		sqlFinding(1, b, 20),
	}

	outcomes, err := fx.scheduler.Run(context.Background(), findings)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := fx.provider.calls(); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}

	hits := 0
	for i, o := range outcomes {
		if o.State != JobDone {
			t.Errorf("outcome %d state = %q, want %q (%s)", i, o.State, JobDone, o.Error)
		}
		if o.Verdict == nil || o.Verdict.Status != StatusConfirmed {
			t.Errorf("outcome %d verdict = %+v", i, o.Verdict)
		}
		if o.Cached {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}
	if outcomes[0].Fingerprint != outcomes[1].Fingerprint {
		t.Error("duplicate findings produced different fingerprints")
	}
}

func TestScheduler_ZeroBudgetSkipsEverything(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, 0, 4, nil, nil)
	file := writeSource(t, fx.root, "main.go", 30)

	findings := []finding.Finding{
		sqlFinding(0, file, 5),
		sqlFinding(1, file, 10),
		sqlFinding(2, file, 15),
	}

	outcomes, err := fx.scheduler.Run(context.Background(), findings)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, o := range outcomes {
		if o.State != JobSkippedBudget {
			t.Errorf("outcome %d state = %q, want %q", i, o.State, JobSkippedBudget)
		}
	}
	if n := fx.provider.calls(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestScheduler_MissingFileFailsJobRunContinues(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, 1_000_000, 1, nil, nil)
	good := writeSource(t, fx.root, "ok.go", 30)

	findings := []finding.Finding{
		sqlFinding(0, "does/not/exist.go", 5),
		sqlFinding(1, good, 10),
	}

	outcomes, err := fx.scheduler.Run(context.Background(), findings)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].State != JobFailed {
		t.Errorf("outcome 0 state = %q, want %q", outcomes[0].State, JobFailed)
	}
	if outcomes[0].Failure != FailureExtraction {
		t.Errorf("outcome 0 failure = %q, want %q", outcomes[0].Failure, FailureExtraction)
	}
	if outcomes[1].State != JobDone {
		t.Errorf("outcome 1 state = %q, want %q (%s)", outcomes[1].State, JobDone, outcomes[1].Error)
	}
}

func TestScheduler_UnsupportedLanguageFailsJob(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, 1_000_000, 1, nil, nil)
	f := sqlFinding(0, "lib.cob", 5)
	f.Language = "cobol"

	outcomes, err := fx.scheduler.Run(context.Background(), []finding.Finding{f})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].State != JobFailed {
		t.Errorf("state = %q, want %q", outcomes[0].State, JobFailed)
	}
	if outcomes[0].Failure != FailureUnsupportedLanguage {
		t.Errorf("failure = %q, want %q", outcomes[0].Failure, FailureUnsupportedLanguage)
	}
	if n := fx.provider.calls(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestScheduler_SkipPatternClosesWithoutModelCall(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, 1_000_000, 1, nil, nil)
	file := writeSource(t, fx.root, "vendor/lib/db.go", 30)

	outcomes, err := fx.scheduler.Run(context.Background(), []finding.Finding{sqlFinding(0, file, 5)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := outcomes[0]
	if o.State != JobDone {
		t.Fatalf("state = %q, want %q", o.State, JobDone)
	}
	if o.Verdict == nil || o.Verdict.Status != StatusFalsePositive {
		t.Errorf("verdict = %+v, want false positive", o.Verdict)
	}
	if n := fx.provider.calls(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestScheduler_WarmCacheSecondRunMakesNoCalls(t *testing.T) {
	t.Parallel()

	store := newMapStore()

	fx1 := newSchedulerFixture(t, 1_000_000, 2, nil, store)
	file := writeSource(t, fx1.root, "svc/handler.go", 50)
	findings := []finding.Finding{sqlFinding(0, file, 25)}

	if _, err := fx1.scheduler.Run(context.Background(), findings); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if n := fx1.provider.calls(); n != 1 {
		t.Fatalf("first run provider calls = %d, want 1", n)
	}

	// Second run shares the store but not the provider. The extraction
	// root must produce the same snippet, so reuse the same tree.
	fx2 := newSchedulerFixture(t, 1_000_000, 2, &mockProvider{}, store)
	fx2.scheduler.extractor = extract.New(fx1.root)

	outcomes, err := fx2.scheduler.Run(context.Background(), findings)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := fx2.provider.calls(); n != 0 {
		t.Errorf("second run provider calls = %d, want 0", n)
	}
	if !outcomes[0].Cached {
		t.Error("second run outcome not served from cache")
	}
	if outcomes[0].State != JobDone {
		t.Errorf("state = %q, want %q", outcomes[0].State, JobDone)
	}
}

func TestScheduler_ClassificationFailureAttachesFailClosedVerdict(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{&TransientError{Err: context.DeadlineExceeded}}}
	fx := newSchedulerFixture(t, 1_000_000, 1, provider, nil)
	file := writeSource(t, fx.root, "api/server.go", 30)

	outcomes, err := fx.scheduler.Run(context.Background(), []finding.Finding{sqlFinding(0, file, 10)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := outcomes[0]
	if o.State != JobFailed {
		t.Fatalf("state = %q, want %q", o.State, JobFailed)
	}
	if o.Failure != FailureClassification {
		t.Errorf("failure = %q, want %q", o.Failure, FailureClassification)
	}
	if o.Verdict == nil || o.Verdict.Status != StatusNeedsMoreInfo || o.Verdict.Confidence != 0 {
		t.Errorf("fail-closed verdict = %+v", o.Verdict)
	}
}

func TestScheduler_OutcomesKeepIngestOrder(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, 1_000_000, 4, nil, nil)
	file := writeSource(t, fx.root, "pkg/a.go", 60)

	var findings []finding.Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, sqlFinding(i, file, 5+i*5))
	}

	outcomes, err := fx.scheduler.Run(context.Background(), findings)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != len(findings) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(findings))
	}
	for i, o := range outcomes {
		if o.Finding.ID != i {
			t.Errorf("outcome %d carries finding %d", i, o.Finding.ID)
		}
	}
}
