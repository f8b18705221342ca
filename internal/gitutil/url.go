// Package gitutil parses references to GitHub pull requests.
package gitutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

var (
	prURLRegex    = regexp.MustCompile(`^(?:https?://)?[^/]+/([^/]+)/([^/]+)/pull/(\d+)(?:/(?:files|commits))?$`)
	shortRefRegex = regexp.MustCompile(`^([^/#\s]+)/([^/#\s]+)#(\d+)$`)
)

// ParsePullRequest accepts a pull request URL on github.com or an
// Enterprise host, or the short form owner/repo#123.
func ParsePullRequest(ref string) (core.Target, error) {
	ref = strings.TrimSuffix(strings.TrimSpace(ref), "/")

	matches := prURLRegex.FindStringSubmatch(ref)
	if matches == nil {
		matches = shortRefRegex.FindStringSubmatch(ref)
	}
	if len(matches) != 4 {
		return core.Target{}, fmt.Errorf("invalid pull request reference: %q", ref)
	}

	number, err := strconv.Atoi(matches[3])
	if err != nil || number <= 0 {
		return core.Target{}, fmt.Errorf("invalid pull request number %q", matches[3])
	}
	return core.Target{Owner: matches[1], Repo: matches[2], Number: number}, nil
}
