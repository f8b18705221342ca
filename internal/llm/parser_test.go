package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/review-pipeline/internal/core"
)

func TestParseReview(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantSummary  string
		wantComments []core.Comment
		wantWarnings int
	}{
		{
			name:        "Plain JSON",
			input:       `{"summary": "Looks good.", "comments": [{"path": "main.go", "line": 10, "severity": "high", "body": "Check the error."}]}`,
			wantSummary: "Looks good.",
			wantComments: []core.Comment{
				{Path: "main.go", Line: 10, Severity: "high", Body: "Check the error."},
			},
		},
		{
			name: "Fenced JSON with preamble and aliases",
			input: "Here is my review:\n```json\n" +
				`{"overview": "Two issues.", "suggestions": [` +
				`{"file_path": "pkg/api.go", "line_number": "20-25", "comment": "Validate input."},` +
				`{"file": "db.go", "line": "7", "message": "Close rows."}]}` +
				"\n```\nHope this helps!",
			wantSummary: "Two issues.",
			wantComments: []core.Comment{
				{Path: "pkg/api.go", StartLine: 20, Line: 25, Body: "Validate input."},
				{Path: "db.go", Line: 7, Body: "Close rows."},
			},
		},
		{
			name:        "Invalid escapes repaired",
			input:       `{"summary": "Path C:\Users is hardcoded.", "comments": [{"path": "cfg.go", "line": 3, "body": "Use filepath.Join, not \d."}]}`,
			wantSummary: `Path C:\Users is hardcoded.`,
			wantComments: []core.Comment{
				{Path: "cfg.go", Line: 3, Body: `Use filepath.Join, not \d.`},
			},
		},
		{
			name: "Malformed comments dropped",
			input: `{"summary": "Mixed.", "comments": [
				{"path": "ok.go", "line": 1, "body": "Fine."},
				{"path": "", "line": 2, "body": "No path."},
				{"path": "noline.go", "body": "No line."},
				{"path": "bad.go", "line": "somewhere", "body": "Bad line."},
				"not an object"
			]}`,
			wantSummary: "Mixed.",
			wantComments: []core.Comment{
				{Path: "ok.go", Line: 1, Body: "Fine."},
			},
			wantWarnings: 4,
		},
		{
			name:        "Verdict appended to summary",
			input:       `{"summary": "Solid.", "verdict": "APPROVE", "comments": []}`,
			wantSummary: "Solid.\n\n**Verdict:** APPROVE",
		},
		{
			name: "Markdown format",
			input: "```markdown\n# REVIEW SUMMARY\nNeeds work.\n\n# VERDICT\nREQUEST_CHANGES\n\n# SUGGESTIONS\n" +
				"## Suggestion [internal/app.go:42]\n**Severity:** High\n### Comment\nNil pointer.\n\n" +
				"## Suggestion [internal/db.go: 5-9]\nLeaked transaction.\n```",
			wantSummary: "Needs work.\n\n**Verdict:** REQUEST_CHANGES",
			wantComments: []core.Comment{
				{Path: "internal/app.go", Line: 42, Severity: "High", Body: "Nil pointer."},
				{Path: "internal/db.go", StartLine: 5, Line: 9, Body: "Leaked transaction."},
			},
		},
		{
			name:        "Unstructured text kept as summary",
			input:       "The change looks fine to me [1].",
			wantSummary: "The change looks fine to me [1].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, warnings := ParseReview(tt.input)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantSummary, result.Summary)
			assert.Equal(t, tt.wantComments, result.Comments)
			assert.Len(t, warnings, tt.wantWarnings)
			for _, w := range warnings {
				assert.ErrorIs(t, w, core.ErrParse)
			}
		})
	}
}

func TestStripMarkdownFence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trailing content after fence",
			input:    "```markdown\nheader\n```\nsome trailing garbage",
			expected: "header",
		},
		{
			name:     "no closing fence",
			input:    "```markdown\nheader\nbody",
			expected: "header\nbody",
		},
		{
			name:     "nested fences (should take outer)",
			input:    "```markdown\ncode:\n```go\nfunc main() {}\n```\n```",
			expected: "code:\n```go\nfunc main() {}\n```",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripMarkdownFence(tt.input)
			if got != tt.expected {
				t.Errorf("stripMarkdownFence() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSuggestionHeaderRegex_ReDoS(t *testing.T) {
	payload := "## Suggestion [" + strings.Repeat("a:", 50000) + "x]"

	start := time.Now()
	_ = suggestionHeaderRegex.FindStringSubmatch(payload)
	if time.Since(start) > time.Second {
		t.Fatalf("header regex took %v on adversarial input", time.Since(start))
	}
}
