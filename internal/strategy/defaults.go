package strategy

// Built-in language policies. Values track what works in practice per
// language: JavaScript gets the tightest budgets because minified bundles
// blow up context windows, C and Java functions tend to be longer.

const defaultResponseTokens = 1024

// defaultPromptTemplate asks for a single classification with a status
// marker the response parser can find anywhere in the reply. The numeric
// markers are deliberate: the model cannot emit them by accident while
// paraphrasing the question.
const defaultPromptTemplate = `You are an expert security researcher reviewing a static-analysis finding.

### Finding
- Rule: {{.Rule}}
- Language: {{.Language}}
- Severity: {{.Severity}}
- Location: {{.Location}}

### Analyzer message
{{.Message}}
{{if .Flow}}
### Data flow (source to sink)
{{.Flow}}
{{end}}
### Code
{{.Code}}

### Review guidance
{{.Hints}}

### Your task
Decide whether this finding is a real, exploitable vulnerability.
Answer with exactly one status code on its own line, then your reasoning:
- 1337: confirmed vulnerability
- 1007: false positive, not exploitable
- 3713: almost certainly safe
- 7331: more context needed to decide

Also include a line "confidence: <0-100>", a line "cwe: CWE-<n>" when one
applies, and a short "suggestion:" with a fix if the finding is real.`

type spec struct {
	display   string
	version   string
	maxLines  int
	maxTokens int
	hints     string
	skip      []string
}

var defaults = map[string]spec{
	"c": {
		display:   "C/C++",
		version:   "c-v1",
		maxLines:  300,
		maxTokens: 3000,
		skip:      []string{`/test/`, `/tests/`, `/example/`, `\.min\.(c|h)$`},
		hints: `- Focus on memory safety: buffer overflows, use-after-free
- Check pointer arithmetic and array bounds
- Consider NULL dereferences and uninitialized variables
- Check for integer overflow in size calculations`,
	},
	"java": {
		display:   "Java",
		version:   "java-v1",
		maxLines:  400,
		maxTokens: 3000,
		skip:      []string{`/test/`, `/tests/`, `/example/`, `/mock/`, `/generated/`},
		hints: `- Focus on deserialization and SQL injection in JDBC/MyBatis
- Check unsafe reflection and class loading
- Consider XXE in XML parsing
- Look for command execution via Runtime.exec or ProcessBuilder`,
	},
	"javascript": {
		display:   "JavaScript",
		version:   "javascript-v1",
		maxLines:  100,
		maxTokens: 1000,
		skip: []string{
			`/node_modules/`, `/dist/`, `/build/`, `/static/`, `/assets/`,
			`/vendor/`, `/third_party/`, `/public/`, `\.min\.js$`, `\.bundle\.js$`,
		},
		hints: `- Focus on prototype pollution and XSS
- Check eval and Function constructor usage
- Consider command injection in child_process
- Verify input sanitization in Express/Koa routes`,
	},
	"typescript": {
		display:   "TypeScript",
		version:   "typescript-v1",
		maxLines:  100,
		maxTokens: 1000,
		skip:      []string{`/node_modules/`, `/dist/`, `/build/`, `/static/`, `\.d\.ts$`},
		hints: `- Check improper type assertions and unsafe any usage
- Consider prototype pollution in typed contexts
- Look for command injection via node:child_process`,
	},
	"python": {
		display:   "Python",
		version:   "python-v1",
		maxLines:  350,
		maxTokens: 2500,
		skip:      []string{`/test/`, `/tests/`, `/example/`, `/venv/`, `/__pycache__/`},
		hints: `- Focus on eval/exec and pickle deserialization
- Check command injection via subprocess and os
- Consider unsafe YAML loading and template injection
- Look for path traversal`,
	},
	"go": {
		display:   "Go",
		version:   "go-v1",
		maxLines:  400,
		maxTokens: 2500,
		skip:      []string{`/test/`, `/tests/`, `/example/`, `/vendor/`},
		hints: `- Focus on SQL injection in database/sql
- Check command injection via os/exec
- Consider template injection in html/template
- Verify input validation in handlers`,
	},
	"csharp": {
		display:   "C#/.NET",
		version:   "csharp-v1",
		maxLines:  300,
		maxTokens: 2500,
		skip:      []string{`/test/`, `/tests/`, `/example/`, `/obj/`, `/bin/`},
		hints: `- Focus on deserialization vulnerabilities
- Check SQL injection in ADO.NET and Entity Framework
- Consider command injection via Process.Start
- Look for unsafe reflection`,
	},
}

// normalizeLanguage maps common aliases to registry keys.
func normalizeLanguage(lang string) string {
	switch l := trimLower(lang); l {
	case "c++", "cpp":
		return "c"
	case "c#":
		return "csharp"
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	case "py":
		return "python"
	default:
		return l
	}
}
