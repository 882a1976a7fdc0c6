package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
)

// pidKey records which process holds the latch, so a latch left behind by
// a crashed process can be reclaimed instead of wedging the mirror.
const pidKey = "sync_pid"

// processAlive reports whether the given pid exists. Signal 0 performs the
// existence check without delivering anything. Overridable in tests.
var processAlive = func(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

// StartRun atomically checks the sync_in_progress latch and inserts a
// running row. The latch lives in the catalog (not in process memory) so
// mutual exclusion holds across processes sharing the instance directory.
// Fails with ErrAlreadyRunning when the latch is held by a live process; a
// latch whose holder died is reclaimed and its run marked failed.
func (c *Catalog) StartRun(ctx context.Context, isFull bool) (int64, error) {
	var runID int64

	err := c.Tx(ctx, func(t *Tx) error {
		held, err := t.latchHeld()
		if err != nil {
			return err
		}

		if held {
			return ErrAlreadyRunning
		}

		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO app_settings (key, value) VALUES (?, '1')
			 ON CONFLICT (key) DO UPDATE SET value = '1'`, latchKey); err != nil {
			return fmt.Errorf("catalog: setting latch: %w", err)
		}

		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO app_settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			pidKey, strconv.Itoa(os.Getpid())); err != nil {
			return fmt.Errorf("catalog: recording latch holder: %w", err)
		}

		res, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO sync_runs (status, started_at, is_full) VALUES (?, ?, ?)`,
			RunRunning, timestamp(t.now()), boolInt(isFull))
		if err != nil {
			return fmt.Errorf("catalog: inserting run: %w", err)
		}

		runID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("catalog: run insert id: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("run started",
		slog.Int64("run_id", runID),
		slog.Bool("is_full", isFull),
	)

	return runID, nil
}

// latchHeld reports whether the sync_in_progress latch is held by a live
// process. A latch whose recorded holder is dead is a crash leftover: the
// orphaned running rows are marked failed within the caller's transaction
// and the latch is reported free so the caller can take it over.
func (t *Tx) latchHeld() (bool, error) {
	var latch string

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM app_settings WHERE key = ?`, latchKey).Scan(&latch)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("catalog: reading latch: %w", err)
	}

	if latch != "1" {
		return false, nil
	}

	var pidVal string

	err = t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM app_settings WHERE key = ?`, pidKey).Scan(&pidVal)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("catalog: reading latch holder: %w", err)
	}

	// The holder is alive (possibly this very process) — the latch stands.
	if pid, convErr := strconv.Atoi(pidVal); convErr == nil && pid > 0 && processAlive(pid) {
		return true, nil
	}

	t.logger.Warn("reclaiming stale sync latch", slog.String("holder_pid", pidVal))

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error_message = 'interrupted'
		 WHERE status = ?`,
		RunFailed, timestamp(t.now()), RunRunning); err != nil {
		return false, fmt.Errorf("catalog: failing orphaned runs: %w", err)
	}

	return false, nil
}

// FinishRun stamps the run terminal (completed, or failed when errMsg is
// non-empty) and clears the latch, in one transaction.
func (c *Catalog) FinishRun(ctx context.Context, runID int64, errMsg string) error {
	status := RunCompleted

	var errVal any
	if errMsg != "" {
		status = RunFailed
		errVal = errMsg
	}

	err := c.Tx(ctx, func(t *Tx) error {
		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE sync_runs SET status = ?, completed_at = ?, error_message = ?
			 WHERE id = ?`,
			status, timestamp(t.now()), errVal, runID); err != nil {
			return fmt.Errorf("catalog: finishing run %d: %w", runID, err)
		}

		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE app_settings SET value = '0' WHERE key = ?`, latchKey); err != nil {
			return fmt.Errorf("catalog: clearing latch: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("run finished",
		slog.Int64("run_id", runID),
		slog.String("status", string(status)),
	)

	return nil
}

// AddCounters advances the run's counters by the given deltas. Called inside
// the same transaction as the catalog mutation it accounts for.
func (t *Tx) AddCounters(runID int64, delta Counters) error {
	if delta.IsZero() {
		return nil
	}

	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE sync_runs SET
			added = added + ?, modified = modified + ?, removed = removed + ?,
			unchanged = unchanged + ?, skipped = skipped + ?,
			bytes_downloaded = bytes_downloaded + ?
		 WHERE id = ?`,
		delta.Added, delta.Modified, delta.Removed, delta.Unchanged,
		delta.Skipped, delta.BytesDownloaded, runID)
	if err != nil {
		return fmt.Errorf("catalog: advancing counters for run %d: %w", runID, err)
	}

	return nil
}

// LogEvent appends an audit row. documentID may be nil when the event
// concerns an item the catalog never held.
func (t *Tx) LogEvent(runID int64, documentID *int64, typ EventType, snap EventSnapshot) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO sync_events
			(run_id, document_id, type, item_id, name, path, size, blob_id, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, nullableID(documentID), typ, snap.ItemID, snap.Name, snap.Path,
		snap.Size, nullableID(snap.BlobID), timestamp(t.now()))
	if err != nil {
		return fmt.Errorf("catalog: logging %s event for run %d: %w", typ, runID, err)
	}

	return nil
}

// runColumns is the scan order shared by run queries.
const runColumns = `id, status, started_at, COALESCE(completed_at, ''), is_full,
	added, modified, removed, unchanged, skipped, bytes_downloaded,
	COALESCE(error_message, '')`

func scanRun(row interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		r      Run
		isFull int64
	)

	err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt, &isFull,
		&r.Counters.Added, &r.Counters.Modified, &r.Counters.Removed,
		&r.Counters.Unchanged, &r.Counters.Skipped,
		&r.Counters.BytesDownloaded, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}

	r.IsFull = isFull != 0

	return &r, nil
}

// GetRun returns the run by id.
func (c *Catalog) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading run %d: %w", runID, err)
	}

	return run, nil
}

// CurrentRun returns the run in running state, or nil.
func (c *Catalog) CurrentRun(ctx context.Context) (*Run, error) {
	return c.runWhere(ctx, `status = ?`, RunRunning)
}

// LastRun returns the most recent terminal run, or nil.
func (c *Catalog) LastRun(ctx context.Context) (*Run, error) {
	return c.runWhere(ctx, `status != ?`, RunRunning)
}

func (c *Catalog) runWhere(ctx context.Context, cond string, args ...any) (*Run, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE `+cond+` ORDER BY id DESC LIMIT 1`, args...)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading run: %w", err)
	}

	return run, nil
}

// RunEvents returns the audit rows of a run in log order.
func (c *Catalog) RunEvents(ctx context.Context, runID int64) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, run_id, document_id, type, item_id, name, path, size, blob_id, logged_at
		 FROM sync_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing events for run %d: %w", runID, err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			e      Event
			docID  sql.NullInt64
			blobID sql.NullInt64
		)

		err := rows.Scan(&e.ID, &e.RunID, &docID, &e.Type, &e.Snapshot.ItemID,
			&e.Snapshot.Name, &e.Snapshot.Path, &e.Snapshot.Size, &blobID, &e.LoggedAt)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning event: %w", err)
		}

		if docID.Valid {
			e.DocumentID = &docID.Int64
		}

		if blobID.Valid {
			e.Snapshot.BlobID = &blobID.Int64
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing events for run %d: %w", runID, err)
	}

	return events, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
