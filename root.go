package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spmirror/spmirror/internal/blobstore"
	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
	"github.com/spmirror/spmirror/internal/mirror"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that run without a config file
// (none currently — every command loads the configuration).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config and logger, created once in
// PersistentPreRunE and carried through the command's context.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics. The command tree
// guarantees PersistentPreRunE populated the context before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command skipped config loading")
	}

	return cc
}

// metaHTTPTimeout bounds metadata requests. Content downloads use no
// timeout — large files on slow links are bounded by context cancellation.
const metaHTTPTimeout = 30 * time.Second

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spmirror",
		Short:   "Mirror SharePoint document libraries into a local content-addressed store",
		Long: `spmirror mirrors documents from a SharePoint site into a local,
content-addressed store that can be browsed, searched, and fed into
downstream pipelines. Sync is one-way (remote to local) and incremental
via Microsoft Graph delta queries.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default spmirror.toml, or $SPMIRROR_CONFIG)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (HTTP requests, catalog operations)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newResetCursorsCmd())
	cmd.AddCommand(newTestConnectionCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores it in the
// command's context for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	// Bootstrap logger from CLI flags only (config doesn't exist yet).
	logger := buildLogger(nil)

	path := config.ResolvePath(flagConfigPath)

	cfg, err := config.Load(path, logger)
	if err != nil {
		return err
	}

	cc := &CLIContext{Cfg: cfg, Logger: buildLogger(cfg)}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. Config-file log level is the baseline; --verbose, --debug, and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine assembles the full engine stack: catalog, blob store, and
// Graph client. The returned cleanup closes the catalog.
func openEngine(ctx context.Context, cc *CLIContext) (*mirror.Engine, func(), error) {
	cat, err := catalog.Open(cc.Cfg.Storage.DatabasePath, cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	blobs, err := blobstore.NewStore(cc.Cfg.Storage.BlobRoot, cc.Logger)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}

	engine := mirror.NewEngine(&mirror.EngineConfig{
		Config:  cc.Cfg,
		Catalog: cat,
		Blobs:   mirror.WrapStore(blobs),
		Graph:   newGraphClient(ctx, cc),
		Logger:  cc.Logger,
	})

	return engine, func() { cat.Close() }, nil
}

// newGraphClient creates a Graph client with client-credentials auth.
// No HTTP timeout: delta pages use bounded server responses and downloads
// are bounded by context cancellation.
func newGraphClient(ctx context.Context, cc *CLIContext) *graph.Client {
	sp := &cc.Cfg.SharePoint
	ts := graph.ClientCredentialsSource(ctx, sp.TenantID, sp.ClientID, sp.ClientSecret, cc.Logger)

	return graph.NewClient(graph.DefaultBaseURL, &http.Client{}, ts, cc.Logger, "spmirror/"+version)
}

// newMetaGraphClient is newGraphClient with a request timeout, for
// metadata-only commands that should never hang.
func newMetaGraphClient(ctx context.Context, cc *CLIContext) *graph.Client {
	sp := &cc.Cfg.SharePoint
	ts := graph.ClientCredentialsSource(ctx, sp.TenantID, sp.ClientID, sp.ClientSecret, cc.Logger)

	return graph.NewClient(graph.DefaultBaseURL, &http.Client{Timeout: metaHTTPTimeout}, ts, cc.Logger, "spmirror/"+version)
}

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
