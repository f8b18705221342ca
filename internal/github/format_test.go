package github

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/review-pipeline/internal/core"
)

func TestFormatInlineComment(t *testing.T) {
	tests := []struct {
		name     string
		comment  core.Comment
		contains []string
		excludes []string
	}{
		{
			name: "code block stays outside alert",
			comment: core.Comment{
				Path:     "test.go",
				Line:     10,
				Severity: "high",
				Body:     "Check this out:\n\n```go\nfunc hello() {\n    fmt.Println(\"hi\")\n}\n```",
			},
			contains: []string{
				"### 🟠 High | Code Review Finding",
				"> [!WARNING]",
				"```go",
				"    fmt.Println",
			},
			excludes: []string{
				"> ```go",
				">     fmt.Println",
			},
		},
		{
			name: "title and sub-headers",
			comment: core.Comment{
				Path:     "main.go",
				Line:     10,
				Severity: "Critical",
				Body:     "### SQL Injection Vulnerability\n\nUser input is concatenated directly into the query string.\n\n#### Recommendation\nUse parameterized queries.",
			},
			contains: []string{
				"### 🔴 Critical | SQL Injection Vulnerability",
				"> [!CAUTION]",
				"> User input is concatenated directly into the query string.",
				"**Recommendation**",
				"Use parameterized queries.",
			},
		},
		{
			name: "unknown severity",
			comment: core.Comment{
				Path: "utils.go", Line: 5, Body: "Variable name `x` is too short.",
			},
			contains: []string{
				"### ⚪ Code Review Finding",
				"> [!NOTE]",
				"> Variable name `x` is too short.",
			},
		},
		{
			name: "nested blockquotes are flattened",
			comment: core.Comment{
				Path: "main.go", Line: 10, Severity: "High",
				Body: "> This is a blockquote.\n>> This is nested.",
			},
			contains: []string{"> This is a blockquote.", "> This is nested."},
			excludes: []string{">> This is nested."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatInlineComment(tt.comment)
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
			for _, e := range tt.excludes {
				assert.NotContains(t, got, e)
			}
		})
	}

	assert.Empty(t, formatInlineComment(core.Comment{Path: "x.go", Line: 0, Body: "b"}))
	assert.Empty(t, formatInlineComment(core.Comment{Path: "x.go", Line: 1, Body: "  "}))
}

func TestFormatReviewBody(t *testing.T) {
	result := &core.AIReviewResult{
		Summary: "Several critical issues found.",
		Comments: []core.Comment{
			{Path: "a.go", Line: 1, Severity: "critical", Body: "x"},
			{Path: "a.go", Line: 2, Severity: "CRITICAL", Body: "y"},
			{Path: "b.go", Line: 3, Severity: "medium", Body: "z"},
		},
	}
	offDiff := []core.Comment{{Path: "c.go", Line: 99, Severity: "low", Body: "Unrelated helper is unused."}}

	got := formatReviewBody("01JOB", result, offDiff)

	expected := []string{
		"### 📝 Code Review Summary",
		"Several critical issues found.",
		"#### 📊 Issue Statistics",
		"| 🔴 Critical | 2 |",
		"| 🟡 Medium | 1 |",
		"1 comment(s) on lines outside the diff",
		"**`c.go:99`** 🟢 Low",
		"Unrelated helper is unused.",
	}
	for _, want := range expected {
		if !strings.Contains(got, want) {
			t.Errorf("formatReviewBody() missing %q\nGot:\n%s", want, got)
		}
	}
	assert.NotContains(t, got, "| 🟠 High |")
	assert.True(t, strings.HasSuffix(got, ReviewMarker("01JOB")))
}

func TestParseValidLinesFromPatch(t *testing.T) {
	patch := "@@ -1,3 +1,4 @@\n line1\n-old\n+new\n+added\n line3\n@@ -20,2 +21,2 @@\n ctx\n+tail\n\\ No newline at end of file"

	lines := ParseValidLinesFromPatch(patch, nil)

	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 21: 1, 22: 1}, lines)
}

func TestPartitionComments(t *testing.T) {
	files := []ChangedFile{{
		Filename: "main.go",
		Patch:    "@@ -1,2 +1,3 @@\n a\n+b\n c\n@@ -40,1 +41,2 @@\n x\n+y",
	}}
	comments := []core.Comment{
		{Path: "main.go", Line: 2, Body: "inline"},
		{Path: "main.go", Line: 3, StartLine: 1, Body: "range"},
		{Path: "main.go", Line: 42, StartLine: 2, Body: "cross-hunk range"},
		{Path: "main.go", Line: 10, Body: "outside hunk"},
		{Path: "other.go", Line: 1, Body: "unchanged file"},
	}

	inline, offDiff := partitionComments(comments, files, nil)

	assert.Equal(t, []core.Comment{
		{Path: "main.go", Line: 2, Body: "inline"},
		{Path: "main.go", Line: 3, StartLine: 1, Body: "range"},
		{Path: "main.go", Line: 42, Body: "cross-hunk range"},
	}, inline)
	assert.Len(t, offDiff, 2)
}

func TestCanonicalSeverity(t *testing.T) {
	assert.Equal(t, "High", canonicalSeverity(" MAJOR "))
	assert.Equal(t, "Low", canonicalSeverity("nit"))
	assert.Equal(t, "", canonicalSeverity("spicy"))
}
