package core

import (
	"fmt"
	"strings"
)

// Comment is a single piece of feedback anchored to a file and line.
type Comment struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	StartLine int    `json:"start_line,omitempty"` // For multi-line comments
	Severity  string `json:"severity,omitempty"`   // e.g., "Low", "Medium", "High", "Critical"
	Body      string `json:"body"`
}

// AIReviewResult is the normalized output of an AI provider.
type AIReviewResult struct {
	Summary  string    `json:"summary"`
	Comments []Comment `json:"comments"`
}

// Validate drops structurally invalid comments in place and returns one
// ErrParse error per dropped entry. It never fails the result as a whole.
func (r *AIReviewResult) Validate() []error {
	var dropped []error
	kept := r.Comments[:0]
	for i, c := range r.Comments {
		c.Path = normalizePath(c.Path)
		c.Body = strings.TrimSpace(c.Body)
		switch {
		case c.Path == "":
			dropped = append(dropped, NewParseError(fmt.Sprintf("comment %d has no file path", i)))
			continue
		case c.Line <= 0:
			dropped = append(dropped, NewParseError(fmt.Sprintf("comment %d on %s has no line reference", i, c.Path)))
			continue
		case c.Body == "":
			dropped = append(dropped, NewParseError(fmt.Sprintf("comment %d on %s:%d has no text", i, c.Path, c.Line)))
			continue
		}
		if c.StartLine > c.Line {
			c.StartLine = 0
		}
		kept = append(kept, c)
	}
	r.Comments = kept
	return dropped
}

// normalizePath strips decorations models like to put around paths.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "*`\"'")
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSpace(p)
}
