package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/spmirror/spmirror/internal/mirror"
)

func newExportCmd() *cobra.Command {
	var (
		flagFormat   string
		flagBlobPath bool
		flagOutput   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export document metadata for downstream pipelines",
		Long: `Stream metadata of all live documents as a JSON array or JSON Lines.
With --blob-path, each record carries the blob's on-disk path so an
ingestion pipeline can read content directly from the store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, flagFormat, flagBlobPath, flagOutput)
		},
	}

	cmd.Flags().StringVar(&flagFormat, "format", "jsonl", "output format: json or jsonl")
	cmd.Flags().BoolVar(&flagBlobPath, "blob-path", false, "include the blob file path in each record")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func runExport(cmd *cobra.Command, format string, includeBlobPath bool, output string) error {
	cc := mustCLIContext(cmd.Context())

	engine, cleanup, err := openEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer cleanup()

	var w io.Writer = os.Stdout

	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()

		w = f
	}

	return engine.ExportMetadata(cmd.Context(), w, mirror.ExportFormat(format), includeBlobPath)
}
