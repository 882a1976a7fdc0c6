package main

import (
	"github.com/spf13/cobra"
)

func newResetCursorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cursors",
		Short: "Clear all delta cursors, forcing the next sync to re-enumerate",
		RunE:  runResetCursors,
	}
}

func runResetCursors(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	engine, cleanup, err := openEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := engine.ClearDeltaCursors(cmd.Context())
	if err != nil {
		return err
	}

	statusf("Cleared %d delta cursors. The next sync will re-enumerate all drives.\n", n)

	return nil
}
