package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/review-pipeline/internal/gitutil"
	"github.com/sevigo/review-pipeline/internal/server/handler"
)

var submitFlags struct {
	account  string
	tier     string
	provider string
	model    string
	token    string
	wait     bool
}

var submitCmd = &cobra.Command{
	Use:   "submit [pr-url | owner/repo#number]",
	Short: "Queue an AI review for a pull request",
	Long: `Queue an AI review for a pull request.

Examples:
  reviewctl submit --account acct-1 https://github.com/owner/repo/pull/123
  reviewctl submit --account acct-1 --tier pro --provider openai --model gpt-4o owner/repo#123
  reviewctl submit --account acct-1 --wait owner/repo#123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := gitutil.ParsePullRequest(args[0])
		if err != nil {
			return err
		}

		c := apiClient()
		id, err := c.Submit(cmd.Context(), handler.SubmitRequest{
			AccountID:   submitFlags.account,
			PlanTier:    submitFlags.tier,
			Repo:        target.FullName(),
			PRNumber:    target.Number,
			GitHubToken: viper.GetString("GITHUB_TOKEN"),
			Provider:    submitFlags.provider,
			Model:       submitFlags.model,
		})
		if err != nil {
			return fmt.Errorf("failed to submit review for %s: %w", target, err)
		}

		successColor.Printf("✓ Queued review %s for %s\n", id, target)
		if !submitFlags.wait {
			return nil
		}
		job, err := waitForJob(cmd.Context(), c, id)
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	f := submitCmd.Flags()
	f.StringVarP(&submitFlags.account, "account", "a", "", "Account the review is billed to")
	f.StringVar(&submitFlags.tier, "tier", "", "Plan tier (free, pro, team, enterprise)")
	f.StringVar(&submitFlags.provider, "provider", "", "AI provider override")
	f.StringVar(&submitFlags.model, "model", "", "Model override")
	f.StringVarP(&submitFlags.token, "github-token", "t", "", "GitHub token used for this review only")
	f.BoolVarP(&submitFlags.wait, "wait", "w", false, "Wait until the review finishes")
	_ = submitCmd.MarkFlagRequired("account")

	if err := viper.BindPFlag("GITHUB_TOKEN", f.Lookup("github-token")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(submitCmd)
}
