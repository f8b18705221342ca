package github

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

// Sink posts reviews as a single GitHub pull request review.
type Sink struct {
	clients ClientFactory
	logger  *slog.Logger
}

func NewSink(clients ClientFactory, logger *slog.Logger) *Sink {
	return &Sink{clients: clients, logger: logger}
}

var _ core.DeliverySink = (*Sink)(nil)

// Deliver implements core.DeliverySink. A review already carrying the
// job's marker counts as delivered and is not posted again.
func (s *Sink) Deliver(ctx context.Context, target core.Target, jobID, token string, result *core.AIReviewResult) error {
	client, err := s.clients.ForToken(ctx, token)
	if err != nil {
		return err
	}
	logger := s.logger.With("job_id", jobID, "repo", target.FullName(), "pr", target.Number)

	delivered, err := s.alreadyDelivered(ctx, client, target, jobID)
	if err != nil {
		return err
	}
	if delivered {
		logger.Info("review already present on pull request, skipping post")
		return nil
	}

	pr, err := client.GetPullRequest(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return classify(err, core.ErrDeliveryRejected, "getting pull request")
	}
	if pr.GetState() == "closed" {
		return core.Permanent(core.ErrDeliveryRejected, nil, "pull request is closed")
	}

	files, err := client.GetChangedFiles(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return classify(err, core.ErrDeliveryRejected, "listing changed files")
	}

	inline, offDiff := partitionComments(result.Comments, files, logger)
	drafts := make([]DraftReviewComment, 0, len(inline))
	for _, c := range inline {
		drafts = append(drafts, DraftReviewComment{
			Path:      c.Path,
			Line:      c.Line,
			StartLine: c.StartLine,
			Body:      formatInlineComment(c),
		})
	}
	body := formatReviewBody(jobID, result, offDiff)

	reviewID, err := client.CreateReview(ctx, target.Owner, target.Repo, target.Number, pr.GetHead().GetSHA(), body, drafts)
	if err != nil {
		return classifyDelivery(err)
	}
	logger.Info("posted review", "review_id", reviewID, "inline_comments", len(drafts), "off_diff_comments", len(offDiff))
	return nil
}

func (s *Sink) alreadyDelivered(ctx context.Context, client Client, target core.Target, jobID string) (bool, error) {
	reviews, err := client.ListReviews(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return false, classify(err, core.ErrDeliveryRejected, "listing reviews")
	}
	marker := ReviewMarker(jobID)
	for _, r := range reviews {
		if strings.Contains(r.GetBody(), marker) {
			return true, nil
		}
	}
	return false, nil
}
