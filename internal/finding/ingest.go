package finding

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column layout of the analyzer export. The path column carries the ordered
// node list as a JSON array so snippets can contain commas and newlines.
var columns = []string{
	"language", "rule_id", "severity", "message",
	"file", "start_line", "end_line", "path",
}

// IngestResult is the outcome of reading one analyzer export.
type IngestResult struct {
	Findings []Finding
	// Skipped counts rows rejected with MalformedRecordError.
	Skipped int
	// Errors holds one MalformedRecordError per skipped row, in row order.
	Errors []error
}

// Read parses an analyzer CSV export into Findings, preserving input order.
// Rows missing required fields or carrying non-positive line numbers are
// skipped and counted; only unreadable input is a hard error.
func Read(r io.Reader) (*IngestResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row validation happens below, with counting

	res := &IngestResult{}
	row := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.skip(row, fmt.Sprintf("csv parse: %v", perr.Err))
				continue
			}
			return nil, fmt.Errorf("read analyzer export: %w", err)
		}

		if row == 1 && isHeader(record) {
			continue
		}

		f, err := parseRow(row, record)
		if err != nil {
			res.Errors = append(res.Errors, err)
			res.Skipped++
			continue
		}
		f.ID = len(res.Findings)
		res.Findings = append(res.Findings, *f)
	}
	return res, nil
}

func (r *IngestResult) skip(row int, reason string) {
	r.Errors = append(r.Errors, &MalformedRecordError{Row: row, Reason: reason})
	r.Skipped++
}

// isHeader detects an optional header row by matching the first two column
// names. Exports with and without headers are both accepted.
func isHeader(record []string) bool {
	return len(record) >= 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), columns[0]) &&
		strings.EqualFold(strings.TrimSpace(record[1]), columns[1])
}

func parseRow(row int, record []string) (*Finding, error) {
	if len(record) < len(columns) {
		return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("expected %d columns, got %d", len(columns), len(record))}
	}

	f := &Finding{
		Language: strings.ToLower(strings.TrimSpace(record[0])),
		RuleID:   strings.TrimSpace(record[1]),
		Severity: normalizeSeverity(record[2]),
		Message:  record[3],
		File:     strings.TrimSpace(record[4]),
	}
	if f.Language == "" {
		return nil, &MalformedRecordError{Row: row, Reason: "empty language"}
	}
	if f.RuleID == "" {
		return nil, &MalformedRecordError{Row: row, Reason: "empty rule_id"}
	}
	if f.File == "" {
		return nil, &MalformedRecordError{Row: row, Reason: "empty file"}
	}

	var err error
	if f.StartLine, err = parseLine(record[5]); err != nil {
		return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("start_line: %v", err)}
	}
	if f.EndLine, err = parseLine(record[6]); err != nil {
		return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("end_line: %v", err)}
	}
	if f.EndLine < f.StartLine {
		return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("end_line %d before start_line %d", f.EndLine, f.StartLine)}
	}

	if raw := strings.TrimSpace(record[7]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Path); err != nil {
			return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("path: %v", err)}
		}
		for i, n := range f.Path {
			if n.File == "" || n.Line <= 0 {
				return nil, &MalformedRecordError{Row: row, Reason: fmt.Sprintf("path node %d missing file or line", i)}
			}
		}
	}

	return f, nil
}

func parseLine(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("non-positive line %d", n)
	}
	return n, nil
}

func normalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "critical", "high":
		return SeverityError
	case "warning", "medium":
		return SeverityWarning
	default:
		return SeverityNote
	}
}
