// Package extract produces the bounded code context that accompanies a
// finding into classification. Extraction is pure file I/O: no network, and
// byte-identical output for the same finding and strategy.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/strategy"
)

// CodeContext is the extracted excerpt for one finding.
type CodeContext struct {
	// Snippet is the line-numbered excerpt, with elision markers where
	// lines were dropped to fit the strategy's budgets.
	Snippet string
	// Flow is a rendered source-to-sink step list built from the path
	// nodes, including ones in files other than the finding's.
	Flow string
	// TokenEstimate approximates the snippet's token count.
	TokenEstimate int
	// Truncated is set when the snippet was cut down to MaxTokens.
	Truncated bool
	// ElidedLines counts lines dropped to fit MaxLines.
	ElidedLines int
}

// ExtractionError means the context for one finding could not be built
// (missing file, line index past end of file). It fails the job, not the run.
type ExtractionError struct {
	File   string
	Line   int
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("extract %s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("extract %s: %s", e.File, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor reads source files rooted at a base directory. An empty root
// uses finding paths as-is.
type Extractor struct {
	root string
}

// New creates an Extractor resolving finding paths under root.
func New(root string) *Extractor {
	return &Extractor{root: root}
}

// Extract builds the code context for a finding under the given strategy.
// The window always covers the source and sink path nodes; when the flow
// spans more lines than the strategy allows, intermediate lines are elided,
// keeping the nodes closest to the sink.
func (e *Extractor) Extract(f *finding.Finding, s *strategy.Strategy) (*CodeContext, error) {
	path := f.File
	if e.root != "" {
		path = filepath.Join(e.root, f.File)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{File: f.File, Reason: "cannot read file", Err: err}
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	// A trailing newline would otherwise count as a phantom empty line.
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	anchors, protected, err := anchorLines(f, len(lines))
	if err != nil {
		return nil, err
	}

	window := buildWindow(anchors, protected, len(lines), s.MaxLines)

	ctx := &CodeContext{Flow: renderFlow(f)}
	ctx.ElidedLines = countElided(window)
	ctx.Snippet = render(window, lines)
	ctx.TokenEstimate = estimateTokens(ctx.Snippet)

	if ctx.TokenEstimate > s.MaxTokens {
		window = shrinkToTokens(window, lines, protected, s.MaxTokens)
		ctx.Snippet = render(window, lines)
		ctx.TokenEstimate = estimateTokens(ctx.Snippet)
		ctx.Truncated = true
	}

	return ctx, nil
}

// anchorLines collects the 1-based lines the window must consider: the
// finding range plus every path node located in the finding's file. The
// returned protected set holds the source and sink lines, which truncation
// may never drop.
func anchorLines(f *finding.Finding, fileLen int) (anchors []int, protected map[int]bool, err error) {
	protected = make(map[int]bool)

	add := func(line int, label string) error {
		if line > fileLen {
			return &ExtractionError{File: f.File, Line: line, Reason: label + " line out of range"}
		}
		anchors = append(anchors, line)
		return nil
	}

	if err := add(f.StartLine, "start"); err != nil {
		return nil, nil, err
	}
	if err := add(f.EndLine, "end"); err != nil {
		return nil, nil, err
	}
	protected[f.StartLine] = true
	protected[f.EndLine] = true

	for i, n := range f.Path {
		if n.File != f.File {
			continue
		}
		if err := add(n.Line, fmt.Sprintf("path node %d", i)); err != nil {
			return nil, nil, err
		}
		if i == 0 || i == len(f.Path)-1 {
			protected[n.Line] = true
		}
	}
	sort.Ints(anchors)
	return anchors, protected, nil
}

// buildWindow selects up to maxLines line numbers covering the anchors.
// When the full span fits, it is padded evenly up to the budget. Otherwise
// each anchor gets a context block, with blocks nearest the sink (the last
// anchors) claiming budget first after source and sink themselves.
func buildWindow(anchors []int, protected map[int]bool, fileLen, maxLines int) []int {
	if maxLines <= 0 {
		maxLines = 1
	}
	lo, hi := anchors[0], anchors[len(anchors)-1]

	if hi-lo+1 <= maxLines {
		pad := (maxLines - (hi - lo + 1)) / 2
		lo = max(1, lo-pad)
		hi = min(fileLen, lo+maxLines-1)
		return lineRange(lo, hi)
	}

	// Flow is longer than the budget. Give source and sink blocks first,
	// then intermediate anchors from the sink side inward.
	keep := make(map[int]bool)
	order := priorityOrder(anchors, protected)
	perAnchor := max(1, maxLines/len(order))

	budget := maxLines
	for _, a := range order {
		if budget <= 0 {
			break
		}
		block := min(perAnchor, budget)
		blo := max(1, a-block/2)
		bhi := min(fileLen, blo+block-1)
		for l := blo; l <= bhi && budget > 0; l++ {
			if !keep[l] {
				keep[l] = true
				budget--
			}
		}
		// the anchor itself always makes it in
		if !keep[a] {
			keep[a] = true
		}
	}

	out := make([]int, 0, len(keep))
	for l := range keep {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// priorityOrder returns anchors with protected (source/sink) lines first,
// then the remainder walking backwards from the sink.
func priorityOrder(anchors []int, protected map[int]bool) []int {
	var prot, rest []int
	seen := make(map[int]bool)
	for _, a := range anchors {
		if seen[a] {
			continue
		}
		seen[a] = true
		if protected[a] {
			prot = append(prot, a)
		} else {
			rest = append(rest, a)
		}
	}
	for i, j := 0, len(rest)-1; i < j; i, j = i+1, j-1 {
		rest[i], rest[j] = rest[j], rest[i]
	}
	return append(prot, rest...)
}

// shrinkToTokens drops lines from the middle of the window outward until the
// rendered snippet fits the token budget. Source and sink lines are never
// dropped.
func shrinkToTokens(window []int, lines []string, protected map[int]bool, maxTokens int) []int {
	kept := append([]int(nil), window...)
	for estimateTokens(render(kept, lines)) > maxTokens {
		idx := middleRemovable(kept, protected)
		if idx < 0 {
			break
		}
		kept = append(kept[:idx], kept[idx+1:]...)
	}
	return kept
}

func middleRemovable(window []int, protected map[int]bool) int {
	mid := len(window) / 2
	best := -1
	for i := range window {
		if protected[window[i]] {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	return best
}

// render formats the window as numbered lines, tabs normalized to spaces,
// with a marker wherever consecutive kept lines are not adjacent in the file.
func render(window []int, lines []string) string {
	var sb strings.Builder
	prev := 0
	for _, l := range window {
		if prev != 0 && l != prev+1 {
			fmt.Fprintf(&sb, "... (%d lines elided)\n", l-prev-1)
		}
		fmt.Fprintf(&sb, "%d: %s\n", l, strings.ReplaceAll(lines[l-1], "\t", "    "))
		prev = l
	}
	return sb.String()
}

func renderFlow(f *finding.Finding) string {
	if len(f.Path) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, n := range f.Path {
		role := "step"
		switch i {
		case 0:
			role = "source"
		case len(f.Path) - 1:
			role = "sink"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s:%d", i+1, role, n.File, n.Line)
		if n.Snippet != "" {
			fmt.Fprintf(&sb, "  %s", strings.TrimSpace(n.Snippet))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func countElided(window []int) int {
	elided := 0
	for i := 1; i < len(window); i++ {
		elided += window[i] - window[i-1] - 1
	}
	return elided
}

func lineRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for l := lo; l <= hi; l++ {
		out = append(out, l)
	}
	return out
}

// estimateTokens approximates tokens as one per four bytes. Cheap and close
// enough for budget enforcement; exact tokenizer parity is not required.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
