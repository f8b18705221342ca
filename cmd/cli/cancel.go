package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a review job",
	Long: `Cancel a review job. A queued job fails at its next claim; a job in
progress stops after its current attempt. Finished jobs are left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().Cancel(cmd.Context(), args[0], cancelReason)
		if err != nil {
			return fmt.Errorf("failed to cancel review job %s: %w", args[0], err)
		}
		if job.Status.IsTerminal() {
			warnColor.Printf("Review job %s already %s\n", job.ID, job.Status)
			return nil
		}
		successColor.Printf("✓ Cancellation requested for %s (%s)\n", job.ID, job.Status)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	cancelCmd.Flags().StringVarP(&cancelReason, "reason", "r", "", "Reason recorded on the job")
	rootCmd.AddCommand(cancelCmd)
}
