// Package usage implements the storage usage report command.
package usage

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/store"
	"github.com/leafguard/leafguard-go/internal/usage"
)

// Command creates the usage command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report local storage usage by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(settings)
		},
	}
}

func runUsage(settings *conf.Settings) error {
	st := store.New(settings)
	if st == nil {
		return fmt.Errorf("no database backend enabled in settings")
	}
	if err := st.Open(); err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer func() { _ = st.Close() }()

	tracker := usage.NewTracker(st, settings.Usage.SnapshotTTL)
	snap, err := tracker.Refresh(context.Background())
	if err != nil {
		return fmt.Errorf("computing storage usage: %w", err)
	}

	fmt.Printf("Storage usage as of %s\n\n", snap.ComputedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%-20s %10s %14s\n", "Category", "Records", "Bytes")
	fmt.Printf("%-20s %10d %14d\n", "models", snap.Models.Count, snap.Models.Bytes)
	fmt.Printf("%-20s %10d %14d\n", "detection results", snap.Detections.Count, snap.Detections.Bytes)
	fmt.Printf("%-20s %10d %14d\n", "training sessions", snap.Training.Count, snap.Training.Bytes)
	fmt.Printf("%-20s %10d %14d\n", "total", snap.TotalCount, snap.TotalBytes)

	if settings.Store.QuotaBytes > 0 {
		fmt.Printf("\nQuota: %d bytes (%.1f%% used)\n",
			settings.Store.QuotaBytes,
			float64(snap.TotalBytes)/float64(settings.Store.QuotaBytes)*100)
	}
	if snap.CorruptRecords > 0 {
		fmt.Printf("⚠️ %d corrupt records skipped\n", snap.CorruptRecords)
	}
	return nil
}
