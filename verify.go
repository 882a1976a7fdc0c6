package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify blob storage against the catalog",
		Long: `Rehash every blob the catalog references and report files that are
missing or whose bytes no longer match their recorded hash.`,
		RunE: runVerifyStorage,
	}
}

func runVerifyStorage(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	engine, cleanup, err := openEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.VerifyStorage(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Verified %d blobs: %d missing, %d corrupt\n",
			report.OKCount+len(report.Missing)+len(report.Corrupt),
			len(report.Missing), len(report.Corrupt))

		for _, sha := range report.Missing {
			fmt.Printf("  missing  %s\n", sha)
		}

		for _, sha := range report.Corrupt {
			fmt.Printf("  corrupt  %s\n", sha)
		}
	}

	if len(report.Missing) > 0 || len(report.Corrupt) > 0 {
		return fmt.Errorf("storage verification found %d damaged blobs",
			len(report.Missing)+len(report.Corrupt))
	}

	return nil
}
