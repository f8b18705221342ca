package github

import (
	"fmt"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

const markerPrefix = "<!-- review-pipeline:job="

// ReviewMarker is embedded in every posted review so a later attempt can
// tell that the job was already delivered.
func ReviewMarker(jobID string) string {
	return markerPrefix + jobID + " -->"
}

// formatInlineComment generates a pull request comment with a severity
// header and a GitHub alert block around the body.
func formatInlineComment(c core.Comment) string {
	if c.Path == "" || c.Line <= 0 || strings.TrimSpace(c.Body) == "" {
		return ""
	}

	var sb strings.Builder
	severity := canonicalSeverity(c.Severity)

	// Compact Header: ### 🔴 Critical | Title
	writeCompactHeader(&sb, severity, c.Body)
	writeCompactBody(&sb, c.Body, severity)

	return sb.String()
}

func writeCompactHeader(sb *strings.Builder, severity, body string) {
	emoji := severityEmoji(severity)
	title := "Code Review Finding"

	lines := strings.Split(body, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "###") {
		title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), "###"))
	}

	if severity != "" {
		fmt.Fprintf(sb, "### %s %s | %s\n\n", emoji, severity, title)
		return
	}
	fmt.Fprintf(sb, "### %s %s\n\n", emoji, title)
}

func writeCompactBody(sb *strings.Builder, body, severity string) {
	lines := strings.Split(body, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "###") {
		lines = lines[1:]
	}

	alertType := severityAlert(severity)
	state := &commentState{}
	headerLen := sb.Len()

	for _, line := range lines {
		processCommentLine(sb, line, state, alertType, headerLen)
	}
}

type commentState struct {
	insideAlert bool
	inCodeBlock bool
}

func processCommentLine(sb *strings.Builder, line string, state *commentState, alertType string, headerLen int) {
	trimmedLine := strings.TrimSpace(line)

	// Skip empty lines at the start
	if sb.Len() == headerLen && trimmedLine == "" {
		return
	}

	if strings.HasPrefix(trimmedLine, "```") {
		if state.inCodeBlock {
			state.inCodeBlock = false
		} else {
			if state.insideAlert {
				state.insideAlert = false
				sb.WriteString("\n")
			}
			state.inCodeBlock = true
		}
		sb.WriteString(line + "\n")
		return
	}

	if state.inCodeBlock {
		sb.WriteString(line + "\n")
		return
	}

	// Sub-headers become bold text.
	if strings.HasPrefix(trimmedLine, "####") {
		if state.insideAlert {
			state.insideAlert = false
			sb.WriteString("\n")
		}
		fmt.Fprintf(sb, "**%s**\n", strings.TrimSpace(strings.TrimPrefix(trimmedLine, "####")))
		return
	}

	// Strip all blockquote levels; nested quotes break alert rendering.
	if strings.HasPrefix(trimmedLine, ">") {
		line = strings.TrimLeft(trimmedLine, "> ")
		trimmedLine = strings.TrimSpace(line)
	}

	state.insideAlert = renderAlertLine(sb, line, trimmedLine, state.insideAlert, alertType)
}

func renderAlertLine(sb *strings.Builder, line, trimmed string, insideAlert bool, alertType string) bool {
	if !insideAlert && trimmed != "" {
		fmt.Fprintf(sb, "> [!%s]\n", alertType)
		insideAlert = true
	}

	if insideAlert {
		if trimmed == "" {
			sb.WriteString(">\n")
		} else {
			fmt.Fprintf(sb, "> %s\n", line)
		}
	}
	return insideAlert
}

// formatReviewBody generates the review body: summary, issue statistics,
// comments that could not be anchored to the diff, and the job marker.
func formatReviewBody(jobID string, result *core.AIReviewResult, offDiff []core.Comment) string {
	counts := map[string]int{}
	for _, c := range result.Comments {
		counts[canonicalSeverity(c.Severity)]++
	}

	var sb strings.Builder
	sb.WriteString("### 📝 Code Review Summary\n\n")
	sb.WriteString(strings.TrimSpace(result.Summary))
	sb.WriteString("\n\n")

	if len(result.Comments) > 0 {
		sb.WriteString("---\n")
		sb.WriteString("#### 📊 Issue Statistics\n\n")
		sb.WriteString("| Severity | Count |\n")
		sb.WriteString("|----------|-------|\n")

		for _, sev := range []string{"Critical", "High", "Medium", "Low", ""} {
			if count := counts[sev]; count > 0 {
				label := sev
				if label == "" {
					label = "Unrated"
				}
				fmt.Fprintf(&sb, "| %s %s | %d |\n", severityEmoji(sev), label, count)
			}
		}
		sb.WriteString("\n")
	}

	if len(offDiff) > 0 {
		sb.WriteString("<details>\n")
		fmt.Fprintf(&sb, "<summary>%d comment(s) on lines outside the diff</summary>\n\n", len(offDiff))
		for _, c := range offDiff {
			sev := canonicalSeverity(c.Severity)
			fmt.Fprintf(&sb, "**`%s:%d`** %s %s\n\n", c.Path, c.Line, severityEmoji(sev), sev)
			sb.WriteString(strings.TrimSpace(c.Body))
			sb.WriteString("\n\n")
		}
		sb.WriteString("</details>\n\n")
	}

	sb.WriteString(ReviewMarker(jobID))
	return sb.String()
}

// canonicalSeverity normalizes model spellings such as "HIGH" or "major".
func canonicalSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical", "blocker":
		return "Critical"
	case "high", "major", "error":
		return "High"
	case "medium", "moderate", "warning":
		return "Medium"
	case "low", "minor", "info", "nit", "suggestion":
		return "Low"
	default:
		return ""
	}
}

// severityEmoji returns an emoji for the given severity level.
func severityEmoji(severity string) string {
	switch severity {
	case "Critical":
		return "🔴"
	case "High":
		return "🟠"
	case "Medium":
		return "🟡"
	case "Low":
		return "🟢"
	default:
		return "⚪"
	}
}

// severityAlert returns the GitHub Alert type (NOTE, TIP, IMPORTANT, WARNING, CAUTION) for a severity.
func severityAlert(severity string) string {
	switch severity {
	case "Critical":
		return "CAUTION"
	case "High":
		return "WARNING"
	case "Medium":
		return "IMPORTANT"
	default:
		return "NOTE"
	}
}
