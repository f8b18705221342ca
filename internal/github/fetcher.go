package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

// Fetcher retrieves pull request diffs and the post-change content of the
// files they touch.
type Fetcher struct {
	clients  ClientFactory
	maxFiles int
	logger   *slog.Logger
}

// NewFetcher returns a Fetcher that loads at most maxFiles file bodies per
// pull request.
func NewFetcher(clients ClientFactory, maxFiles int, logger *slog.Logger) *Fetcher {
	return &Fetcher{clients: clients, maxFiles: maxFiles, logger: logger}
}

var _ core.ContextFetcher = (*Fetcher)(nil)

// FetchContext implements core.ContextFetcher.
func (f *Fetcher) FetchContext(ctx context.Context, target core.Target, token string) (*core.ReviewContext, error) {
	client, err := f.clients.ForToken(ctx, token)
	if err != nil {
		return nil, err
	}

	pr, err := client.GetPullRequest(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return nil, classify(err, core.ErrNotFound, "getting pull request "+target.String())
	}
	headSHA := pr.GetHead().GetSHA()

	files, err := client.GetChangedFiles(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return nil, classify(err, core.ErrNotFound, "listing changed files")
	}

	diff, err := client.GetPullRequestDiff(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		// GitHub refuses diffs over its size limit with 406; rebuild the
		// diff from per-file patches instead.
		if statusCode(err) != 406 {
			return nil, classify(err, core.ErrNotFound, "getting pull request diff")
		}
		f.logger.Warn("diff too large for the API, assembling from file patches", "target", target.String())
		diff = diffFromPatches(files)
	}

	rc := &core.ReviewContext{
		Diff:    diff,
		Files:   make(map[string]string),
		HeadSHA: headSHA,
	}

	loaded := 0
	for _, file := range files {
		if file.Status == "removed" || !isCodeExtension(strings.ToLower(filepath.Ext(file.Filename))) {
			continue
		}
		if f.maxFiles > 0 && loaded >= f.maxFiles {
			rc.Truncated = true
			break
		}
		content, err := client.GetFileContent(ctx, target.Owner, target.Repo, file.Filename, headSHA)
		if err != nil && !errors.Is(err, errNoContent) {
			if ce := classify(err, core.ErrNotFound, "getting "+file.Filename); core.IsRetryable(ce) {
				return nil, ce
			}
		}
		if err != nil {
			f.logger.Debug("skipping file content", "file", file.Filename, "error", err)
			continue
		}
		rc.Files[file.Filename] = content
		loaded++
	}

	return rc, nil
}

func diffFromPatches(files []ChangedFile) string {
	var sb strings.Builder
	for _, file := range files {
		if file.Patch == "" {
			continue
		}
		fmt.Fprintf(&sb, "diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n%s\n",
			file.Filename, file.Filename, file.Filename, file.Filename, file.Patch)
	}
	return sb.String()
}
