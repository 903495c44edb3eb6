// Package finding defines the analyzer result model and the CSV ingestor
// that turns raw analyzer output rows into typed Finding values.
package finding

import "fmt"

// Severity is the analyzer-reported severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// PathNode is one step of a source-to-sink data-flow path.
type PathNode struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet,omitempty"`
}

// Finding is a single analyzer result: one potential vulnerability expressed
// as a taint path from a source to a sink. Immutable once ingested.
type Finding struct {
	// ID is the ingest sequence number, assigned by the reader. It is the
	// ordering key for the final report.
	ID        int        `json:"id"`
	Language  string     `json:"language"`
	RuleID    string     `json:"rule_id"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	File      string     `json:"file"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Path      []PathNode `json:"path,omitempty"`
}

// Source returns the first node of the taint path. When the analyzer emitted
// no path, the finding location itself is both source and sink.
func (f *Finding) Source() PathNode {
	if len(f.Path) > 0 {
		return f.Path[0]
	}
	return PathNode{File: f.File, Line: f.StartLine}
}

// Sink returns the last node of the taint path.
func (f *Finding) Sink() PathNode {
	if len(f.Path) > 0 {
		return f.Path[len(f.Path)-1]
	}
	return PathNode{File: f.File, Line: f.EndLine}
}

// MalformedRecordError reports an input row that could not be turned into a
// Finding. Such rows are counted and skipped, never fatal to a run.
type MalformedRecordError struct {
	Row    int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at row %d: %s", e.Row, e.Reason)
}
