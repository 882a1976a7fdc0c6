package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
)

// driveParallelism caps concurrent drive traversals. The catalog serializes
// writes, so this only overlaps network and disk I/O.
const driveParallelism = 4

// GraphClient is the slice of the Graph API the engine consumes.
// Satisfied by *graph.Client; tests inject fakes.
type GraphClient interface {
	ResolveSite(ctx context.Context, hostname, sitePath string) (*graph.Site, error)
	SiteDrives(ctx context.Context, siteID string) ([]graph.Drive, error)
	Delta(ctx context.Context, driveID, token string) (*graph.DeltaPage, error)
	Download(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error)
}

// BlobWriter is one in-flight blob write. Satisfied by *blobstore.Writer.
type BlobWriter interface {
	io.Writer
	Commit() (*PutResult, error)
	Abort()
}

// BlobStore is the slice of the content store the engine consumes.
// Satisfied by *blobstore.Store wrapped with WrapStore (store_adapter.go).
type BlobStore interface {
	NewWriter() (BlobWriter, error)
	Delete(sha string) error
	Verify(sha string, expectedSize int64) (VerifyOutcome, error)
	Path(sha string) string
}

// PutResult mirrors blobstore.PutResult at the interface boundary.
type PutResult struct {
	SHA256       string
	Size         int64
	MIME         string
	QuickXorHash string
	Existed      bool
}

// VerifyOutcome mirrors blobstore.VerifyResult at the interface boundary.
type VerifyOutcome int

const (
	VerifyOK VerifyOutcome = iota
	VerifyMissing
	VerifyCorrupt
)

// EngineConfig holds the collaborators for NewEngine.
type EngineConfig struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	Blobs   BlobStore
	Graph   GraphClient
	Logger  *slog.Logger
}

// Engine coordinates sync runs. One long-running engine per host; at most
// one run executes at a time, enforced by the catalog latch.
type Engine struct {
	cfg    *config.Config
	cat    *catalog.Catalog
	blobs  BlobStore
	gc     GraphClient
	filter *Filter
	logger *slog.Logger
}

// NewEngine assembles an Engine from already-opened collaborators.
func NewEngine(ec *EngineConfig) *Engine {
	logger := ec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    ec.Config,
		cat:    ec.Catalog,
		blobs:  ec.Blobs,
		gc:     ec.Graph,
		filter: NewFilter(&ec.Config.Sync),
		logger: logger,
	}
}

// RunOpts are the per-run options exposed to the CLI layer.
type RunOpts struct {
	Full    bool   // ignore stored delta cursors (they stay intact until the run commits)
	DryRun  bool   // traverse and classify, but mutate nothing
	Library string // restrict to one document library by name; overrides config
}

// PreviewEvent is a dry-run stand-in for a sync_event row.
type PreviewEvent struct {
	Type catalog.EventType
	Path string
	Size int64
}

// RunReport summarizes one run for the CLI and HTTP layers.
type RunReport struct {
	RunID    int64 // 0 for dry runs
	Status   catalog.RunStatus
	Full     bool
	DryRun   bool
	Duration time.Duration
	Counters catalog.Counters
	Error    string
	Preview  []PreviewEvent // dry-run only
}

// runState carries the mutable per-run bookkeeping shared across drive
// goroutines. Counters here are authoritative only for dry runs; real runs
// advance the sync_runs row transactionally and read it back at the end.
type runState struct {
	runID int64
	opts  RunOpts

	mu       gosync.Mutex
	counters catalog.Counters
	preview  []PreviewEvent
}

func (s *runState) add(delta catalog.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Add(delta)
}

func (s *runState) previewEvent(typ catalog.EventType, path string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = append(s.preview, PreviewEvent{Type: typ, Path: path, Size: size})
}

// Run executes one sync run end to end: acquire the latch, enumerate
// drives, pull delta pages, reconcile, finalize. Always returns a report;
// the error is non-nil when the run failed or could not start.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunReport, error) {
	start := time.Now()

	report := &RunReport{Full: opts.Full, DryRun: opts.DryRun}
	state := &runState{opts: opts}

	if !opts.DryRun {
		runID, err := e.cat.StartRun(ctx, opts.Full)
		if err != nil {
			return report, err
		}

		state.runID = runID
		report.RunID = runID
	}

	e.logger.Info("sync run starting",
		slog.Int64("run_id", state.runID),
		slog.Bool("full", opts.Full),
		slog.Bool("dry_run", opts.DryRun),
	)

	runErr := e.runDrives(ctx, state)

	if ctx.Err() != nil {
		runErr = errors.New(cancelledMessage)
	}

	report.Duration = time.Since(start)

	if opts.DryRun {
		report.Status = catalog.RunCompleted
		report.Counters = state.counters
		report.Preview = state.preview

		if runErr != nil {
			report.Status = catalog.RunFailed
			report.Error = runErr.Error()
		}

		return report, runErr
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	// Finalization must outlive the cancellation that may have ended the
	// run — the latch has to be released and the row stamped either way.
	finCtx := context.WithoutCancel(ctx)

	if err := e.cat.FinishRun(finCtx, state.runID, errMsg); err != nil {
		// Finalization failed on top of whatever happened — surface both.
		if runErr == nil {
			runErr = err
		}

		e.logger.Error("finalizing run failed",
			slog.Int64("run_id", state.runID),
			slog.String("error", err.Error()),
		)
	}

	if run, err := e.cat.GetRun(finCtx, state.runID); err == nil {
		report.Status = run.Status
		report.Counters = run.Counters
		report.Error = run.ErrorMessage
	}

	e.logger.Info("sync run finished",
		slog.Int64("run_id", state.runID),
		slog.String("status", string(report.Status)),
		slog.Int64("added", report.Counters.Added),
		slog.Int64("modified", report.Counters.Modified),
		slog.Int64("removed", report.Counters.Removed),
		slog.Int64("skipped", report.Counters.Skipped),
		slog.Int64("bytes_downloaded", report.Counters.BytesDownloaded),
	)

	return report, runErr
}

// runDrives resolves the site, enumerates its drives, and traverses each
// drive's delta stream with bounded parallelism.
func (e *Engine) runDrives(ctx context.Context, state *runState) error {
	sp := &e.cfg.SharePoint

	site, err := e.gc.ResolveSite(ctx, sp.SiteHostname, sp.SitePath)
	if err != nil {
		return fmt.Errorf("resolving site %s%s: %w", sp.SiteHostname, sp.SitePath, err)
	}

	drives, err := e.gc.SiteDrives(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("listing drives for site %s: %w", site.ID, err)
	}

	library := state.opts.Library
	if library == "" {
		library = sp.LibraryName
	}

	if library != "" {
		drives = filterDrives(drives, library)
		if len(drives) == 0 {
			return fmt.Errorf("no document library named %q on site %s", library, sp.SiteHostname)
		}
	}

	if !state.opts.DryRun {
		for _, d := range drives {
			if err := e.cat.UpsertDrive(ctx, d.ID, d.Name, d.WebURL); err != nil {
				return err
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(driveParallelism)

	for _, d := range drives {
		g.Go(func() error {
			return e.syncDrive(gctx, state, d)
		})
	}

	return g.Wait()
}

// filterDrives keeps only drives whose name matches the requested library.
func filterDrives(drives []graph.Drive, library string) []graph.Drive {
	var out []graph.Drive

	for _, d := range drives {
		if d.Name == library {
			out = append(out, d)
		}
	}

	return out
}
