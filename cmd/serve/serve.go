// Package serve implements the long-running service mode: local writes are
// accepted continuously and synced to the remote in the background.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/offline"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline storage service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(settings)
		},
	}
}

func runService(settings *conf.Settings) error {
	svc, err := offline.New(settings)
	if err != nil {
		return fmt.Errorf("initializing offline storage service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting offline storage service: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return svc.Stop()
}
