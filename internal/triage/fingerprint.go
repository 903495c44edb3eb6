package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint derives the dedup key for a finding: rule id, strategy
// version, and the normalized code context. Two findings hashing equal are
// classified at most once and always share a verdict.
func Fingerprint(ruleID, strategyVersion, snippet string) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(strategyVersion))
	h.Write([]byte{0})
	h.Write([]byte(normalizeSnippet(snippet)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeSnippet strips the rendered line-number prefixes and collapses
// runs of whitespace, so the same code at a shifted position (or with
// reformatted indentation) still fingerprints identically.
func normalizeSnippet(snippet string) string {
	var sb strings.Builder
	for line := range strings.Lines(snippet) {
		line = strings.TrimSuffix(line, "\n")
		if rest, ok := stripLinePrefix(line); ok {
			line = rest
		}
		line = collapseSpaces(line)
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// stripLinePrefix removes a leading "123: " line-number marker.
func stripLinePrefix(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(line) || line[i] != ':' || line[i+1] != ' ' {
		return line, false
	}
	return line[i+2:], true
}

func collapseSpaces(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
