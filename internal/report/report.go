// Package report aggregates per-finding outcomes into the final run report
// and renders it as JSON or SARIF.
package report

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/arbiter/internal/triage"
)

// Exit codes for the run command.
const (
	ExitOK     = 0 // every job finished with a verdict
	ExitFailed = 1 // one or more jobs failed or were skipped
	ExitConfig = 2 // fatal configuration error, nothing ran
)

// Summary holds run-level counts.
type Summary struct {
	Total         int `json:"total"`
	Confirmed     int `json:"confirmed"`
	FalsePositive int `json:"false_positive"`
	NeedsMoreInfo int `json:"needs_more_info"`
	CacheHits     int `json:"cache_hits"`

	Failed        int `json:"failed"`
	SkippedBudget int `json:"skipped_budget"`

	// Failure counts by kind.
	UnsupportedLanguage int `json:"unsupported_language,omitempty"`
	ExtractionErrors    int `json:"extraction_errors,omitempty"`
	ClassificationErrs  int `json:"classification_errors,omitempty"`
}

// Report is the complete output of one run. Outcomes keep the findings'
// original ingestion order.
type Report struct {
	RunID       string             `json:"run_id"`
	Tool        string             `json:"tool"`
	Version     string             `json:"version"`
	Model       string             `json:"model,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	RowsSkipped int                `json:"rows_skipped,omitempty"`
	Summary     Summary            `json:"summary"`
	Budget      triage.BudgetUsage `json:"budget"`
	Outcomes    []triage.Outcome   `json:"outcomes"`
}

// New assembles a report from the scheduler's outcomes. rowsSkipped counts
// malformed input rows dropped during ingestion.
func New(outcomes []triage.Outcome, budget triage.BudgetUsage, tool, version, model string, started time.Time, rowsSkipped int) *Report {
	r := &Report{
		RunID:       ulid.Make().String(),
		Tool:        tool,
		Version:     version,
		Model:       model,
		StartedAt:   started.UTC(),
		FinishedAt:  time.Now().UTC(),
		RowsSkipped: rowsSkipped,
		Budget:      budget,
		Outcomes:    outcomes,
	}
	r.Summary = summarize(outcomes)
	return r
}

// ExitCode maps the summary onto the process exit code. Configuration
// errors never reach this point, they exit before a report exists.
func (r *Report) ExitCode() int {
	if r.Summary.Failed > 0 || r.Summary.SkippedBudget > 0 {
		return ExitFailed
	}
	return ExitOK
}

func summarize(outcomes []triage.Outcome) Summary {
	var s Summary
	s.Total = len(outcomes)
	for i := range outcomes {
		o := &outcomes[i]
		switch o.State {
		case triage.JobDone:
			if o.Cached {
				s.CacheHits++
			}
			if o.Verdict != nil {
				switch o.Verdict.Status {
				case triage.StatusConfirmed:
					s.Confirmed++
				case triage.StatusFalsePositive:
					s.FalsePositive++
				case triage.StatusNeedsMoreInfo:
					s.NeedsMoreInfo++
				}
			}
		case triage.JobSkippedBudget:
			s.SkippedBudget++
		case triage.JobFailed:
			s.Failed++
			switch o.Failure {
			case triage.FailureUnsupportedLanguage:
				s.UnsupportedLanguage++
			case triage.FailureExtraction:
				s.ExtractionErrors++
			case triage.FailureClassification:
				s.ClassificationErrs++
			}
		}
	}
	return s
}
