package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		flagSearch  string
		flagLimit   int
		flagDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored documents",
		Long: `List documents in the catalog, ordered by path. --search matches
against the full-text index over names and paths.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, flagSearch, flagLimit, flagDeleted)
		},
	}

	cmd.Flags().StringVar(&flagSearch, "search", "", "full-text search over name and path")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum number of rows (0 = all)")
	cmd.Flags().BoolVar(&flagDeleted, "deleted", false, "include soft-deleted documents")

	return cmd
}

func runList(cmd *cobra.Command, search string, limit int, includeDeleted bool) error {
	cc := mustCLIContext(cmd.Context())

	engine, cleanup, err := openEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer cleanup()

	docs, err := engine.List(cmd.Context(), search, limit, includeDeleted)
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(docs)
	}

	if len(docs) == 0 {
		statusf("No documents found.\n")
		return nil
	}

	if !stdoutIsTTY() {
		for _, d := range docs {
			fmt.Println(d.Path)
		}

		return nil
	}

	rows := make([][]string, 0, len(docs))

	for _, d := range docs {
		state := ""
		if d.IsDeleted {
			state = "deleted"
		}

		rows = append(rows, []string{
			d.Path,
			formatSize(d.Size),
			formatTimestamp(d.RemoteModifiedAt),
			state,
		})
	}

	printTable(os.Stdout, []string{"PATH", "SIZE", "MODIFIED", ""}, rows)

	return nil
}
