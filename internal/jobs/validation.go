package jobs

import (
	"regexp"

	"github.com/sevigo/review-pipeline/internal/core"
)

// repoNamePattern matches GitHub "owner/repo" names: the owner is up to 39
// alphanumerics or single hyphens, the repository allows dots and
// underscores as well.
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}/[A-Za-z0-9._-]{1,100}$`)

// validateJob checks the request fields of a job before any I/O happens.
func validateJob(job *core.ReviewJob) error {
	if job.Requester.AccountID == "" {
		return core.NewValidationError("account id cannot be empty")
	}
	if !repoNamePattern.MatchString(job.RepoFullName) {
		return core.NewValidationError("repository %q is not of the form owner/repo", job.RepoFullName)
	}
	if t := job.Target(); t.Repo == "." || t.Repo == ".." {
		return core.NewValidationError("repository %q is not a valid name", job.RepoFullName)
	}
	if job.PRNumber <= 0 {
		return core.NewValidationError("pull request number must be positive, got: %d", job.PRNumber)
	}
	return nil
}
