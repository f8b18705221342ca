package github

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// ParseValidLinesFromPatch extracts all line numbers that can receive a comment in a GitHub PR.
// These are the lines present in the "new" side of the diff (the + side),
// mapped to the index of the hunk they belong to.
func ParseValidLinesFromPatch(patch string, logger *slog.Logger) map[int]int {
	validLines := make(map[int]int)
	currentLine := -1
	hunk := -1

	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			matches := hunkHeaderRegex.FindStringSubmatch(line)
			if len(matches) < 2 {
				continue
			}
			start, err := strconv.Atoi(matches[1])
			if err != nil {
				// Skip malformed hunk; don't use corrupted line numbers
				if logger != nil {
					logger.Warn("skipped malformed hunk header", "line", line, "error", err)
				}
				currentLine = -1
				continue
			}
			currentLine = start
			hunk++
			continue
		}

		if currentLine == -1 {
			continue
		}

		// ' ' is unchanged and '+' is added; '-' lines and the
		// "\ No newline" marker do not exist on the new side.
		switch {
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, " "):
			validLines[currentLine] = hunk
			currentLine++
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, `\`), line == "":
			continue
		}
	}

	return validLines
}

// partitionComments splits comments into those GitHub accepts inline and
// those that reference lines outside the diff. Ranges that cross hunks are
// reduced to their last line.
func partitionComments(comments []core.Comment, files []ChangedFile, logger *slog.Logger) (inline, offDiff []core.Comment) {
	valid := make(map[string]map[int]int, len(files))
	for _, f := range files {
		valid[f.Filename] = ParseValidLinesFromPatch(f.Patch, logger)
	}

	for _, c := range comments {
		lines, ok := valid[c.Path]
		if !ok {
			offDiff = append(offDiff, c)
			continue
		}
		endHunk, ok := lines[c.Line]
		if !ok {
			offDiff = append(offDiff, c)
			continue
		}
		if c.StartLine > 0 {
			if startHunk, ok := lines[c.StartLine]; !ok || startHunk != endHunk {
				c.StartLine = 0
			}
		}
		inline = append(inline, c)
	}
	return inline, offDiff
}
