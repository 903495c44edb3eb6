// Package strategy holds the per-language adjudication policy: how much
// context to extract, how to prompt the classifier, and which files to skip.
// Strategies are plain data resolved through a registry, loaded once at
// startup and immutable afterwards.
package strategy

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Strategy is the policy for one language. All fields are read-only after
// the registry is built.
type Strategy struct {
	Language    string
	DisplayName string
	// Version participates in the fingerprint: bumping it invalidates
	// cached verdicts produced under an older policy.
	Version string
	// MaxLines bounds the extracted context window.
	MaxLines int
	// MaxTokens bounds the estimated token count of the extracted context.
	MaxTokens int
	// ResponseTokens is the completion budget requested from the model.
	ResponseTokens int
	// Hints are language-specific review instructions appended to the prompt.
	Hints string

	skip []*regexp.Regexp
	tmpl *template.Template
}

// PromptData is the input to a strategy's prompt template.
type PromptData struct {
	Rule     string
	Language string
	Severity string
	Location string
	Message  string
	Flow     string
	Code     string
	Hints    string
}

// ShouldSkip reports whether a file is out of triage scope for this language
// (vendored, generated, minified, test fixtures).
func (s *Strategy) ShouldSkip(path string) bool {
	// Leading slash so directory patterns like /vendor/ also match
	// repo-relative paths rooted at that directory.
	p := "/" + strings.ToLower(path)
	for _, re := range s.skip {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// BuildPrompt renders the strategy's prompt template.
func (s *Strategy) BuildPrompt(data *PromptData) (string, error) {
	if data.Hints == "" {
		data.Hints = s.Hints
	}
	var sb strings.Builder
	if err := s.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", s.Language, err)
	}
	return sb.String(), nil
}

// UnsupportedLanguageError means no strategy is registered for a language.
// Callers treat it as a per-finding skip, not a run-fatal error.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("no strategy registered for language %q", e.Language)
}

func compileSkips(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("skip pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
