package triage

import (
	"time"

	"github.com/linnemanlabs/arbiter/internal/finding"
)

// Status is the classifier's judgment on a finding.
type Status string

const (
	// StatusConfirmed means the model judged the finding a real vulnerability.
	StatusConfirmed Status = "confirmed"

	// StatusFalsePositive means the model judged the finding not exploitable.
	StatusFalsePositive Status = "false_positive"

	// StatusNeedsMoreInfo means the model could not decide with the given
	// context. It is also the fail-closed verdict for unusable responses.
	StatusNeedsMoreInfo Status = "needs_more_info"
)

// Verdict is the structured outcome of one classification. Verdicts are
// immutable once produced and are shared freely across findings with the
// same fingerprint.
type Verdict struct {
	Status       Status    `json:"status"`
	Confidence   float64   `json:"confidence"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Suggestion   string    `json:"suggestion,omitempty"`
	CWE          string    `json:"cwe,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// JobState tracks where a job is in its lifecycle. Transitions only move
// forward: Pending -> Extracting -> Classifying -> Done, with Failed
// reachable from Extracting or Classifying and SkippedBudget from Pending
// once the governor trips or the run is cancelled. Whether a Done verdict
// was served from cache is recorded on the Outcome's Cached flag.
type JobState string

const (
	JobPending       JobState = "pending"
	JobExtracting    JobState = "extracting"
	JobClassifying   JobState = "classifying"
	JobDone          JobState = "done"
	JobFailed        JobState = "failed"
	JobSkippedBudget JobState = "skipped_budget"
)

// FailureKind labels why a job did not produce a clean verdict.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureUnsupportedLanguage FailureKind = "unsupported_language"
	FailureExtraction          FailureKind = "extraction"
	FailureClassification      FailureKind = "classification"
)

// Outcome is the terminal record for one finding. Exactly one Outcome exists
// per ingested finding, budget exhaustion included.
type Outcome struct {
	Finding finding.Finding `json:"finding"`
	State   JobState        `json:"state"`
	// Cached is set when the verdict was served from the cache rather than
	// a fresh classification.
	Cached      bool        `json:"cached,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Verdict     *Verdict    `json:"verdict,omitempty"`
	Failure     FailureKind `json:"failure,omitempty"`
	Error       string      `json:"error,omitempty"`
}
