package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaywee92/Slack-Attendance-Bot/cmd"
)

func main() {
	// Cancellation closes the browser before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
