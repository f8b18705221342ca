package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sevigo/review-pipeline/internal/client"
	"github.com/sevigo/review-pipeline/internal/core"
)

var (
	outputJSON bool
	watch      bool
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	activeColor  = color.New(color.FgCyan)
	dimColor     = color.New(color.FgHiBlack)
)

const pollInterval = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Shows the status of a review job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()

		var (
			job *core.ReviewJob
			err error
		)
		if watch {
			job, err = waitForJob(cmd.Context(), c, args[0])
		} else {
			job, err = c.Status(cmd.Context(), args[0])
		}
		if client.IsNotFound(err) {
			return fmt.Errorf("review job %s does not exist", args[0])
		}
		if err != nil {
			return err
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(job)
		}
		printJob(job)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output status as JSON")
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the job reaches a terminal status")
	rootCmd.AddCommand(statusCmd)
}

// waitForJob polls until the job is completed or failed.
func waitForJob(ctx context.Context, c *client.Client, id string) (*core.ReviewJob, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := core.Status("")
	for {
		job, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status != last {
			dimColor.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), job.Status)
			last = job.Status
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(job *core.ReviewJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "JOB\t%s\n", job.ID)
	fmt.Fprintf(w, "PULL REQUEST\t%s\n", job.Target())
	fmt.Fprintf(w, "STATUS\t%s\n", statusColor(job).Sprint(job.Status))
	fmt.Fprintf(w, "ATTEMPTS\t%d\n", job.Attempts)
	fmt.Fprintf(w, "PROVIDER\t%s %s\n", job.Provider.Kind, job.Provider.Model)
	fmt.Fprintf(w, "UPDATED\t%s\n", job.UpdatedAt.Format(time.RFC822))
	if job.Status == core.StatusCompleted {
		fmt.Fprintf(w, "COMMENTS\t%d\n", job.CommentCount)
	}
	if job.CancelRequested {
		fmt.Fprintf(w, "CANCEL\t%s\n", job.CancelReason)
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "LAST ERROR\t%s\n", errorColor.Sprint(job.LastError))
	}
	_ = w.Flush()

	if job.Summary != "" {
		fmt.Println()
		fmt.Println(job.Summary)
	}
}

func statusColor(job *core.ReviewJob) *color.Color {
	switch {
	case job.Status == core.StatusCompleted:
		return successColor
	case job.Status == core.StatusFailed:
		return errorColor
	case job.CancelRequested, job.Status == core.StatusQueued && job.Attempts > 0:
		return warnColor
	default:
		return activeColor
	}
}
