package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errorColor.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
