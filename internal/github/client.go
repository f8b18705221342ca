// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v73/github"
)

// ChangedFile holds the filename, status and patch of a single file
// included in a pull request.
type ChangedFile struct {
	Filename string
	Status   string
	Patch    string
}

// DraftReviewComment represents a single comment to be posted as part of a review.
type DraftReviewComment struct {
	Path      string
	Line      int
	StartLine int
	Body      string
}

// Client defines the GitHub operations the review pipeline needs.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error)
	CreateReview(ctx context.Context, owner, repo string, number int, commitSHA, body string, comments []DraftReviewComment) (int64, error)
}

// errNoContent marks paths the contents API cannot return inline.
var errNoContent = errors.New("no inline content")

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHubClient wraps the official go-github client to provide a focused,
// testable interface for application-specific GitHub operations.
func NewGitHubClient(client *github.Client, logger *slog.Logger) Client {
	return &gitHubClient{client: client, logger: logger}
}

// CreateReview creates a pull request review with a summary and
// line-specific comments, all in one call. It returns the review ID.
func (g *gitHubClient) CreateReview(ctx context.Context, owner, repo string, number int, commitSHA, body string, comments []DraftReviewComment) (int64, error) {
	ghComments := make([]*github.DraftReviewComment, 0, len(comments))
	for _, c := range comments {
		dc := &github.DraftReviewComment{
			Path: github.Ptr(c.Path),
			Line: github.Ptr(c.Line),
			Side: github.Ptr("RIGHT"),
			Body: github.Ptr(c.Body),
		}
		if c.StartLine > 0 && c.StartLine < c.Line {
			dc.StartLine = github.Ptr(c.StartLine)
			dc.StartSide = github.Ptr("RIGHT")
		}
		ghComments = append(ghComments, dc)
	}

	reviewRequest := &github.PullRequestReviewRequest{
		Body:     &body,
		Event:    github.Ptr("COMMENT"),
		Comments: ghComments,
	}
	if commitSHA != "" {
		reviewRequest.CommitID = &commitSHA
	}

	review, _, err := g.client.PullRequests.CreateReview(ctx, owner, repo, number, reviewRequest)
	if err != nil {
		g.logger.Error("failed to create pull request review", "owner", owner, "repo", repo, "pr", number, "error", err)
		return 0, err
	}
	return review.GetID(), nil
}

// GetPullRequest retrieves a single pull request by its number.
func (g *gitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
		return nil, err
	}
	return pr, nil
}

// GetPullRequestDiff retrieves the diff of a pull request as a string.
func (g *gitHubClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := g.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{
		Type: github.Diff,
	})
	if err != nil {
		g.logger.Error("failed to get pull request diff", "owner", owner, "repo", repo, "pr", number, "error", err)
		return "", err
	}
	return diff, nil
}

// GetChangedFiles retrieves the list of files modified in a pull request.
// It handles pagination automatically to ensure all files are fetched
// from the GitHub API, which returns a maximum of 100 files per page.
func (g *gitHubClient) GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error) {
	var allFiles []ChangedFile
	opts := &github.ListOptions{PerPage: 100}

	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list files for pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
			return nil, err
		}

		for _, file := range files {
			allFiles = append(allFiles, ChangedFile{
				Filename: file.GetFilename(),
				Status:   file.GetStatus(),
				Patch:    file.GetPatch(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allFiles, nil
}

// GetFileContent returns the decoded content of path at ref.
func (g *gitHubClient) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory: %w", path, errNoContent)
	}
	// Files over 1 MB come back without inline content.
	if file.GetEncoding() == "none" || (file.Content == nil && file.GetSize() > 0) {
		return "", fmt.Errorf("%s is too large for the contents API: %w", path, errNoContent)
	}
	return file.GetContent()
}

// ListReviews returns all reviews posted on a pull request.
func (g *gitHubClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := g.client.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list reviews", "owner", owner, "repo", repo, "pr", number, "error", err)
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

