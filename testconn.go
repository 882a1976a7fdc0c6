package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spmirror/spmirror/internal/mirror"
)

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check credentials and site access",
		Long: `Acquire a token, resolve the configured site, and list its document
libraries. Exits non-zero when anything in the chain fails.`,
		RunE: runTestConnection,
	}
}

func runTestConnection(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	// Only the Graph side is exercised — a broken instance directory must
	// not mask a connection problem.
	gc := newMetaGraphClient(cmd.Context(), cc)

	info, err := mirror.TestConnection(cmd.Context(), cc.Cfg, gc)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(info)
	}

	fmt.Printf("Connected to %q (site id %s)\n", info.DisplayName, info.SiteID)
	fmt.Printf("Document libraries:\n")

	for _, d := range info.Drives {
		fmt.Printf("  %s  (%s)\n", d.Name, d.ID)
	}

	return nil
}
