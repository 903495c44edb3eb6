package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/arbiter/internal/extract"
	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/strategy"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/triage")

// Scheduler fans findings out to a bounded worker pool and collects one
// Outcome per finding. Workers share the classifier, the fingerprint cache
// and the budget governor; the governor is consulted before each dispatch
// so a tripped breaker stops new work while in-flight jobs finish.
type Scheduler struct {
	registry    *strategy.Registry
	extractor   *extract.Extractor
	classifier  *Classifier
	cache       *Cache
	budget      *Governor
	concurrency int
	logger      log.Logger
	metrics     *Metrics
}

type SchedulerOptions struct {
	Registry    *strategy.Registry
	Extractor   *extract.Extractor
	Classifier  *Classifier
	Cache       *Cache
	Budget      *Governor
	Concurrency int
	Logger      log.Logger
	Metrics     *Metrics
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		registry:    opts.Registry,
		extractor:   opts.Extractor,
		classifier:  opts.Classifier,
		cache:       opts.Cache,
		budget:      opts.Budget,
		concurrency: concurrency,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Run processes every finding and returns outcomes in the findings' ingest
// order. Context cancellation behaves like a budget trip: no new jobs are
// dispatched, in-flight jobs drain, and findings never dispatched are
// reported as SkippedBudget.
func (s *Scheduler) Run(ctx context.Context, findings []finding.Finding) ([]Outcome, error) {
	outcomes := make([]Outcome, len(findings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range findings {
		// Do not start new jobs once the breaker trips or the run is
		// cancelled. In-flight jobs drain on their own; undispatched
		// jobs are marked skipped either way.
		if s.budget.Tripped() || gctx.Err() != nil {
			outcomes[i] = Outcome{Finding: findings[i], State: JobSkippedBudget}
			if s.metrics != nil {
				s.metrics.JobsTotal.WithLabelValues(string(JobSkippedBudget)).Inc()
			}
			continue
		}

		g.Go(func() error {
			start := time.Now()
			// Detached so an in-flight classification drains instead of
			// dying mid-call on cancellation. The per-attempt timeout
			// still bounds it.
			outcomes[i] = s.runJob(context.WithoutCancel(gctx), &findings[i])
			if s.metrics != nil {
				state := string(outcomes[i].State)
				s.metrics.JobsTotal.WithLabelValues(state).Inc()
				s.metrics.JobDuration.WithLabelValues(state).Observe(time.Since(start).Seconds())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if s.metrics != nil && s.budget.Tripped() {
		s.metrics.BudgetTripped.Set(1)
	}
	return outcomes, nil
}

// runJob walks one finding through the state machine and always returns a
// terminal outcome.
func (s *Scheduler) runJob(ctx context.Context, f *finding.Finding) Outcome {
	ctx, span := tracer.Start(ctx, "triage.job")
	defer span.End()
	span.SetAttributes(
		attribute.Int("finding.id", f.ID),
		attribute.String("finding.rule", f.RuleID),
		attribute.String("finding.language", f.Language),
		attribute.String("finding.file", f.File),
	)

	out := Outcome{Finding: *f, State: JobPending}
	defer func() {
		span.SetAttributes(attribute.String("job.state", string(out.State)))
	}()
	L := s.logger.With("finding", f.ID, "rule", f.RuleID, "file", f.File)

	strat, err := s.registry.Resolve(f.Language)
	if err != nil {
		L.Warn(ctx, "no strategy for language", "language", f.Language)
		out.State = JobFailed
		out.Failure = FailureUnsupportedLanguage
		out.Error = err.Error()
		return out
	}

	// Files matching the strategy's skip patterns (tests, vendored code,
	// generated files) are closed as false positives without a model call.
	if strat.ShouldSkip(f.File) {
		out.State = JobDone
		out.Verdict = &Verdict{
			Status:     StatusFalsePositive,
			Confidence: 1,
			Reasoning:  "file matches a skip pattern for " + strat.DisplayName,
			CreatedAt:  time.Now().UTC(),
		}
		return out
	}

	out.State = JobExtracting
	code, err := s.extractor.Extract(f, strat)
	if err != nil {
		L.Error(ctx, err, "context extraction failed")
		out.State = JobFailed
		out.Failure = FailureExtraction
		out.Error = err.Error()
		return out
	}

	out.State = JobClassifying
	out.Fingerprint = Fingerprint(f.RuleID, strat.Version, code.Snippet)

	res, err := s.cache.GetOrCompute(ctx, out.Fingerprint, func(ctx context.Context) (*Verdict, error) {
		return s.classifier.Classify(ctx, f, strat, code)
	})
	switch {
	case err == nil:
		out.Verdict = res.Verdict
		out.Cached = res.Hit
		out.State = JobDone
		if s.metrics != nil {
			if res.Hit {
				s.metrics.CacheHits.Inc()
			} else {
				s.metrics.CacheMisses.Inc()
			}
		}

	case errors.Is(err, ErrBudgetExceeded):
		out.State = JobSkippedBudget

	default:
		var ce *ClassificationError
		out.State = JobFailed
		out.Failure = FailureClassification
		out.Error = err.Error()
		if errors.As(err, &ce) {
			// Fail closed: the finding still surfaces for human review.
			out.Verdict = FailClosedVerdict(s.classifier.cfg.Model)
		}
	}
	return out
}
