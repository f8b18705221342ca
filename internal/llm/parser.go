package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

var (
	// Matches: ## Suggestion [path/to/file.go:123] or ## Suggestion [path/to/file.go: 10-20]
	// The path class excludes ']' and ':' so long colon runs cannot backtrack.
	suggestionHeaderRegex = regexp.MustCompile(`(?i)##\s+Suggestion\s+\[([^\]:]+):\s*(\d+)(?:\s*-\s*(\d+))?\]`)
	severityRegex         = regexp.MustCompile(`(?i)\*\*Severity:?\*\*:?\s*(.*)`)
	lineRangeRegex        = regexp.MustCompile(`^\s*(\d+)\s*(?:-\s*(\d+))?\s*$`)
	fenceRegex            = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n(.*?)\n?```")
)

var (
	summaryKeys  = []string{"summary", "overview", "review_summary"}
	verdictKeys  = []string{"verdict"}
	commentKeys  = []string{"comments", "suggestions", "findings", "issues"}
	pathKeys     = []string{"path", "file", "file_path", "filename", "filePath"}
	lineKeys     = []string{"line", "line_number", "lineNumber", "end_line"}
	startKeys    = []string{"start_line", "startLine"}
	bodyKeys     = []string{"body", "comment", "message", "description"}
	severityKeys = []string{"severity", "level", "priority"}
)

// ParseReview turns raw model output into a validated review. It accepts
// JSON (optionally fenced or surrounded by prose), then the Markdown
// suggestion format, and finally keeps the raw text as the summary. The
// returned errors describe comments that were discarded; they are
// warnings, never a reason to fail the job.
func ParseReview(raw string) (*core.AIReviewResult, []error) {
	var result *core.AIReviewResult
	var warnings []error

	if r, w, ok := parseJSONReview(raw); ok {
		result, warnings = r, w
	} else if r, err := parseMarkdownReview(raw); err == nil {
		result = r
	} else {
		result = &core.AIReviewResult{Summary: strings.TrimSpace(stripMarkdownFence(raw))}
	}

	warnings = append(warnings, result.Validate()...)
	return result, warnings
}

func parseJSONReview(raw string) (*core.AIReviewResult, []error, bool) {
	doc, ok := decodeJSONDocument(raw)
	if !ok {
		return nil, nil, false
	}

	var obj map[string]any
	switch v := doc.(type) {
	case map[string]any:
		obj = v
	case []any:
		if !containsObject(v) {
			return nil, nil, false
		}
		obj = map[string]any{"comments": v}
	default:
		return nil, nil, false
	}

	result := &core.AIReviewResult{Summary: stringField(obj, summaryKeys)}
	if verdict := stringField(obj, verdictKeys); verdict != "" {
		if result.Summary != "" {
			result.Summary += "\n\n"
		}
		result.Summary += "**Verdict:** " + verdict
	}

	var warnings []error
	items, _ := firstField(obj, commentKeys).([]any)
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			warnings = append(warnings, core.NewParseError(fmt.Sprintf("comment %d is not an object", i)))
			continue
		}
		c, err := commentFromMap(m)
		if err != nil {
			warnings = append(warnings, core.NewParseError(fmt.Sprintf("comment %d: %v", i, err)))
			continue
		}
		result.Comments = append(result.Comments, c)
	}

	if result.Summary == "" && len(result.Comments) == 0 && len(warnings) == 0 && !hasAnyKey(obj, commentKeys) {
		return nil, nil, false
	}
	return result, warnings, true
}

func commentFromMap(m map[string]any) (core.Comment, error) {
	c := core.Comment{
		Path:     stringField(m, pathKeys),
		Body:     stringField(m, bodyKeys),
		Severity: stringField(m, severityKeys),
	}
	start, end, err := lineField(firstField(m, lineKeys))
	if err != nil {
		return c, err
	}
	c.Line, c.StartLine = end, start
	if v := firstField(m, startKeys); v != nil {
		if s, _, err := lineField(v); err == nil && s > 0 {
			c.StartLine = s
		}
	}
	if c.StartLine == c.Line {
		c.StartLine = 0
	}
	return c, nil
}

// lineField accepts a JSON number, a numeric string or a "10-20" range.
// It returns the range start (0 if none) and the end line.
func lineField(v any) (int, int, error) {
	switch n := v.(type) {
	case nil:
		return 0, 0, nil
	case float64:
		return 0, int(n), nil
	case string:
		m := lineRangeRegex.FindStringSubmatch(n)
		if m == nil {
			return 0, 0, fmt.Errorf("unrecognized line reference %q", n)
		}
		first, _ := strconv.Atoi(m[1])
		if m[2] == "" {
			return 0, first, nil
		}
		last, _ := strconv.Atoi(m[2])
		return first, last, nil
	default:
		return 0, 0, fmt.Errorf("unrecognized line reference %v", v)
	}
}

func firstField(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func containsObject(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, keys []string) string {
	switch v := firstField(m, keys).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// decodeJSONDocument finds the JSON payload in raw and decodes it,
// repairing invalid escape sequences once if the first attempt fails.
func decodeJSONDocument(raw string) (any, bool) {
	for _, candidate := range jsonCandidates(raw) {
		var doc any
		if err := json.Unmarshal([]byte(candidate), &doc); err == nil {
			return doc, true
		}
		if err := json.Unmarshal([]byte(repairEscapes(candidate)), &doc); err == nil {
			return doc, true
		}
	}
	return nil, false
}

func jsonCandidates(raw string) []string {
	var out []string
	for _, m := range fenceRegex.FindAllStringSubmatch(raw, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	trimmed := strings.TrimSpace(raw)
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		out = append(out, trimmed[start:end+1])
	}
	if start, end := strings.Index(trimmed, "["), strings.LastIndex(trimmed, "]"); start >= 0 && end > start {
		out = append(out, trimmed[start:end+1])
	}
	return out
}

// repairEscapes doubles backslashes that do not start a valid JSON escape,
// such as Windows paths or regex fragments inside strings.
func repairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// parseMarkdownReview extracts structured review data from Markdown output.
// It handles several common LLM quirks:
// - Response wrapped in ```markdown ... ``` fences
// - Inconsistent heading levels or casing
// - Missing sections (only Summary is strictly required)
func parseMarkdownReview(markdown string) (*core.AIReviewResult, error) {
	markdown = stripMarkdownFence(markdown)

	review := &core.AIReviewResult{}
	lines := strings.Split(markdown, "\n")

	var currentSection string
	var current *core.Comment
	var bodyBuilder strings.Builder
	var summaryBuilder strings.Builder
	sawSuggestion := false

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		upperLine := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upperLine, "# REVIEW SUMMARY"), strings.HasPrefix(upperLine, "# SUMMARY"):
			flushComment(review, current, &bodyBuilder)
			current = nil
			currentSection = "SUMMARY"
			continue
		case strings.HasPrefix(upperLine, "# VERDICT"):
			flushComment(review, current, &bodyBuilder)
			current = nil
			currentSection = "VERDICT"
			continue
		case strings.HasPrefix(upperLine, "# SUGGESTIONS"):
			flushComment(review, current, &bodyBuilder)
			current = nil
			currentSection = "SUGGESTIONS"
			continue
		}

		if strings.HasPrefix(upperLine, "## SUGGESTION") {
			flushComment(review, current, &bodyBuilder)
			sawSuggestion = true

			current = &core.Comment{}
			if matches := suggestionHeaderRegex.FindStringSubmatch(line); matches != nil {
				current.Path = strings.TrimSpace(matches[1])
				first, _ := strconv.Atoi(matches[2])
				current.Line = first
				if matches[3] != "" {
					current.StartLine = first
					current.Line, _ = strconv.Atoi(matches[3])
				}
			}
			currentSection = "SUGGESTION_CONTENT"
			continue
		}

		switch currentSection {
		case "SUMMARY":
			if line != "" && !strings.HasPrefix(line, "#") {
				if summaryBuilder.Len() > 0 {
					summaryBuilder.WriteString("\n")
				}
				summaryBuilder.WriteString(line)
			}
		case "VERDICT":
			if line != "" && !strings.HasPrefix(line, "#") {
				if summaryBuilder.Len() > 0 {
					summaryBuilder.WriteString("\n\n")
				}
				summaryBuilder.WriteString("**Verdict:** " + line)
				currentSection = "DONE_VERDICT"
			}
		case "SUGGESTION_CONTENT":
			if current == nil {
				continue
			}
			if strings.HasPrefix(line, "**Severity") {
				if matches := severityRegex.FindStringSubmatch(line); len(matches) > 1 {
					current.Severity = strings.TrimSpace(matches[1])
				}
				continue
			}
			if strings.HasPrefix(line, "**Category") || strings.HasPrefix(line, "### Comment") {
				continue
			}
			if strings.HasPrefix(line, "### Rationale") {
				bodyBuilder.WriteString("\n\n**Rationale:**\n")
				continue
			}
			if strings.HasPrefix(line, "### Fix") {
				bodyBuilder.WriteString("\n\n**Fix:**\n")
				continue
			}
			// Preserve original indentation so code blocks survive.
			if line != "" || bodyBuilder.Len() > 0 {
				bodyBuilder.WriteString(lines[i] + "\n")
			}
		}
	}

	review.Summary = summaryBuilder.String()
	flushComment(review, current, &bodyBuilder)

	if review.Summary == "" && !sawSuggestion {
		return nil, fmt.Errorf("failed to parse review: no recognized sections found")
	}
	return review, nil
}

// flushComment appends the current comment (if any) to the review and resets the builder.
func flushComment(review *core.AIReviewResult, c *core.Comment, builder *strings.Builder) {
	if c == nil {
		return
	}
	c.Body = strings.TrimSpace(builder.String())
	builder.Reset()
	review.Comments = append(review.Comments, *c)
}

// stripMarkdownFence removes ```markdown ... ``` wrapping that some LLMs add around their output.
func stripMarkdownFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```markdown") || strings.HasPrefix(trimmed, "```md") {
		idx := strings.Index(trimmed, "\n")
		if idx < 0 {
			return s
		}
		inner := trimmed[idx+1:]
		if lastFence := strings.LastIndex(inner, "```"); lastFence >= 0 {
			inner = inner[:lastFence]
		}
		return strings.TrimSpace(inner)
	}
	return s
}
