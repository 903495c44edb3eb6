package strategy

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
)

// Registry resolves a language to its Strategy. It is populated once by Load
// and never mutated afterwards, so concurrent readers need no locking.
type Registry struct {
	strategies map[string]*Strategy
}

// Overrides is the on-disk TOML shape for tuning or adding languages.
type Overrides struct {
	Languages map[string]Override `toml:"languages"`
}

// Override adjusts one language's built-in policy. Zero values keep the
// default; Skip and Template replace rather than merge.
type Override struct {
	DisplayName    string   `toml:"display_name"`
	Version        string   `toml:"version"`
	MaxLines       int      `toml:"max_lines"`
	MaxTokens      int      `toml:"max_tokens"`
	ResponseTokens int      `toml:"response_tokens"`
	Hints          string   `toml:"hints"`
	Skip           []string `toml:"skip"`
	Template       string   `toml:"template"`
}

// Load builds a registry from the built-in defaults plus an optional TOML
// overrides file (empty path = defaults only).
func Load(path string) (*Registry, error) {
	var ov Overrides
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read strategy overrides: %w", err)
		}
		if err := toml.Unmarshal(raw, &ov); err != nil {
			return nil, fmt.Errorf("parse strategy overrides: %w", err)
		}
	}

	r := &Registry{strategies: make(map[string]*Strategy, len(defaults))}
	for lang, d := range defaults {
		s, err := build(lang, d, ov.Languages[lang])
		if err != nil {
			return nil, err
		}
		r.strategies[lang] = s
	}

	// overrides may introduce languages with no built-in policy
	for lang, o := range ov.Languages {
		key := normalizeLanguage(lang)
		if _, ok := r.strategies[key]; ok {
			continue
		}
		s, err := build(key, spec{}, o)
		if err != nil {
			return nil, err
		}
		r.strategies[key] = s
	}

	return r, nil
}

// Resolve returns the strategy for a language (aliases like cpp, js, py are
// accepted) or an UnsupportedLanguageError.
func (r *Registry) Resolve(language string) (*Strategy, error) {
	s, ok := r.strategies[normalizeLanguage(language)]
	if !ok {
		return nil, &UnsupportedLanguageError{Language: language}
	}
	return s, nil
}

// Languages lists the registered language keys.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.strategies))
	for l := range r.strategies {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func build(lang string, d spec, o Override) (*Strategy, error) {
	s := &Strategy{
		Language:       lang,
		DisplayName:    firstOf(o.DisplayName, d.display, lang),
		Version:        firstOf(o.Version, d.version, lang+"-v1"),
		MaxLines:       firstPositive(o.MaxLines, d.maxLines, 200),
		MaxTokens:      firstPositive(o.MaxTokens, d.maxTokens, 2500),
		ResponseTokens: firstPositive(o.ResponseTokens, defaultResponseTokens),
		Hints:          firstOf(o.Hints, d.hints),
	}

	patterns := d.skip
	if len(o.Skip) > 0 {
		patterns = o.Skip
	}
	var err error
	if s.skip, err = compileSkips(patterns); err != nil {
		return nil, fmt.Errorf("language %s: %w", lang, err)
	}

	text := defaultPromptTemplate
	if o.Template != "" {
		text = o.Template
	}
	if s.tmpl, err = template.New(lang).Parse(text); err != nil {
		return nil, fmt.Errorf("language %s: parse prompt template: %w", lang, err)
	}
	return s, nil
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func trimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
