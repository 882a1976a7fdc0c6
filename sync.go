package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spmirror/spmirror/internal/mirror"
)

func newSyncCmd() *cobra.Command {
	var (
		flagFull    bool
		flagDryRun  bool
		flagLibrary string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror remote changes into the local store",
		Long: `Run one sync pass: pull delta changes from Microsoft Graph for every
document library of the configured site, download new and changed content
into the blob store, and update the catalog.

The first run enumerates everything; later runs resume from per-drive delta
cursors. Use --full to re-enumerate without trusting the cursors (they are
kept intact until the run commits, so an interrupted full sync still
resumes incrementally). Use --dry-run to preview without changing anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagFull, flagDryRun, flagLibrary)
		},
	}

	cmd.Flags().BoolVar(&flagFull, "full", false, "ignore stored delta cursors and re-enumerate")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "preview sync actions without executing")
	cmd.Flags().StringVar(&flagLibrary, "library", "", "restrict to one document library by name")

	return cmd
}

func runSync(cmd *cobra.Command, full, dryRun bool, library string) error {
	cc := mustCLIContext(cmd.Context())

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	engine, cleanup, err := openEngine(ctx, cc)
	if err != nil {
		return err
	}
	defer cleanup()

	report, runErr := engine.Run(ctx, mirror.RunOpts{
		Full:    full,
		DryRun:  dryRun,
		Library: library,
	})

	if flagJSON {
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			return err
		}
	} else {
		printRunReport(report)
	}

	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}

	return nil
}

func printRunReport(r *mirror.RunReport) {
	mode := "incremental"
	if r.Full {
		mode = "full"
	}

	if r.DryRun {
		statusf("Dry run (%s): no changes were made.\n", mode)
	} else {
		statusf("Sync run %d (%s) %s in %s.\n", r.RunID, mode, r.Status, r.Duration.Round(timeRound))
	}

	statusf("  added: %d  modified: %d  removed: %d  unchanged: %d  skipped: %d  downloaded: %s\n",
		r.Counters.Added, r.Counters.Modified, r.Counters.Removed,
		r.Counters.Unchanged, r.Counters.Skipped,
		formatSize(r.Counters.BytesDownloaded))

	if r.Error != "" {
		statusf("  error: %s\n", r.Error)
	}

	for _, ev := range r.Preview {
		fmt.Printf("%-14s %s (%s)\n", ev.Type, ev.Path, formatSize(ev.Size))
	}
}
