package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spmirror/spmirror/internal/catalog"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mirror state and recent sync activity",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	engine, cleanup, err := openEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.Status(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Printf("Documents: %d   Blobs: %d   Stored: %s\n",
		report.Stats.Documents, report.Stats.Blobs, formatSize(report.Stats.Bytes))

	if len(report.Drives) > 0 {
		fmt.Println("\nDrives:")

		for _, d := range report.Drives {
			fmt.Printf("  %s  (%s)\n", d.Name, d.ID)
		}
	}

	if report.CurrentRun != nil {
		fmt.Printf("\nSync in progress (run %d, started %s)\n",
			report.CurrentRun.ID, formatTimestamp(report.CurrentRun.StartedAt))
	}

	if report.LastRun != nil {
		printLastRun(report.LastRun)
	} else if report.CurrentRun == nil {
		fmt.Println("\nNo sync has run yet.")
	}

	return nil
}

func printLastRun(run *catalog.Run) {
	fmt.Printf("\nLast run: %d (%s, started %s)\n",
		run.ID, run.Status, formatTimestamp(run.StartedAt))
	fmt.Printf("  added: %d  modified: %d  removed: %d  unchanged: %d  skipped: %d  downloaded: %s\n",
		run.Counters.Added, run.Counters.Modified, run.Counters.Removed,
		run.Counters.Unchanged, run.Counters.Skipped,
		formatSize(run.Counters.BytesDownloaded))

	if run.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", run.ErrorMessage)
	}
}
