// Package catalog implements the durable relational state of the mirror:
// documents, blobs, delta cursors, runs, and events in a single SQLite
// database. The catalog is the sole writer of every row; the sync engine
// mutates state exclusively through its transactional operations.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAlreadyRunning is returned by StartRun when the sync_in_progress latch
// is held by another run.
var ErrAlreadyRunning = errors.New("catalog: another sync is already in progress")

// latchKey is the app_settings row implementing the process-crossing
// "sync in progress" latch.
const latchKey = "sync_in_progress"

// Catalog wraps the SQLite database. Single writer, concurrent readers:
// SetMaxOpenConns(1) serializes all access through one connection, and WAL
// mode lets external readers (the UI) see committed state.
type Catalog struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if necessary) the catalog database at dbPath and
// applies pending migrations. WAL with synchronous=FULL gives crash-safe
// write-ahead semantics.
func Open(dbPath string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("catalog opened", slog.String("db_path", dbPath))

	return &Catalog{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// runMigrations applies all pending schema migrations.
// Uses the goose v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("catalog: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("catalog: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Tx holds an open catalog transaction. All multi-row mutations (swap a
// blob on a document, count and log in the same breath) go through one Tx
// so they commit or roll back together.
type Tx struct {
	tx     *sql.Tx
	ctx    context.Context
	now    func() time.Time
	logger *slog.Logger
}

// Tx runs fn inside a single transaction, committing on nil and rolling
// back on error or panic.
func (c *Catalog) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	dbtx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer dbtx.Rollback()

	t := &Tx{tx: dbtx, ctx: ctx, now: c.nowFunc, logger: c.logger}

	if err := fn(t); err != nil {
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}

	return nil
}

// timestamp renders t in the catalog's canonical ISO-8601 UTC form.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
