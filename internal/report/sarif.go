package report

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

const informationURI = "https://github.com/linnemanlabs/arbiter"

// WriteSARIF renders the report as SARIF 2.1.0 for code-scanning uploads.
// Confirmed findings keep their original severity level; false positives
// are emitted as "none" so downstream viewers can filter them out, and
// everything undecided or failed is emitted as "note" for human review.
func WriteSARIF(w io.Writer, r *Report) error {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(r.Tool, informationURI)
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		level := outcomeLevel(o)

		run.AddRule(o.Finding.RuleID).
			WithDescription(o.Finding.Message).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{
				Level: severityLevel(o.Finding.Severity),
			})

		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(o.Finding.File)).
				WithRegion(sarif.NewRegion().WithStartLine(o.Finding.StartLine)),
		)

		result := sarif.NewRuleResult(o.Finding.RuleID).
			WithMessage(sarif.NewTextMessage(resultMessage(o))).
			WithLevel(level).
			WithLocations([]*sarif.Location{location})
		result.Properties = verdictProperties(o)
		run.AddResult(result)
	}
	doc.AddRun(run)

	if err := doc.PrettyWrite(w); err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	return nil
}

func verdictProperties(o *triage.Outcome) map[string]interface{} {
	props := map[string]interface{}{
		"jobState": string(o.State),
		"cached":   o.Cached,
	}
	if o.Verdict != nil {
		props["verdict"] = string(o.Verdict.Status)
		props["confidence"] = o.Verdict.Confidence
		if o.Verdict.CWE != "" {
			props["cwe"] = o.Verdict.CWE
		}
	}
	return props
}

func outcomeLevel(o *triage.Outcome) string {
	if o.State == triage.JobDone && o.Verdict != nil {
		switch o.Verdict.Status {
		case triage.StatusConfirmed:
			return severityLevel(o.Finding.Severity)
		case triage.StatusFalsePositive:
			return "none"
		}
	}
	return "note"
}

func severityLevel(s finding.Severity) string {
	switch s {
	case finding.SeverityError:
		return "error"
	case finding.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

func resultMessage(o *triage.Outcome) string {
	switch o.State {
	case triage.JobDone:
		if o.Verdict != nil {
			return fmt.Sprintf("%s (%s, confidence %.2f): %s",
				o.Finding.Message, o.Verdict.Status, o.Verdict.Confidence, firstLine(o.Verdict.Reasoning))
		}
	case triage.JobSkippedBudget:
		return o.Finding.Message + " (triage skipped: token budget exhausted)"
	case triage.JobFailed:
		return fmt.Sprintf("%s (triage failed: %s)", o.Finding.Message, o.Error)
	}
	return o.Finding.Message
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
