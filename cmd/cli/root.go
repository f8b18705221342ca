package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/review-pipeline/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "reviewctl",
	Short:         "reviewctl submits and tracks pull request reviews.",
	Long:          `A CLI for the review pipeline API. Queue an AI review for a pull request, check on it, or cancel it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Review pipeline API URL")

	if err := viper.BindPFlag("SERVER", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("REVIEWCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func apiClient() *client.Client {
	return client.New(viper.GetString("SERVER"), nil)
}
