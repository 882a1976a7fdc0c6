package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// AcquireBlob inserts a blob row for the hash or increments the refcount of
// the existing one. Returns the blob id and whether the row was created.
func (t *Tx) AcquireBlob(sha256 string, size int64, mime, quickxor string) (int64, bool, error) {
	var id int64

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id FROM file_blobs WHERE sha256 = ?`, sha256).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, insErr := t.tx.ExecContext(t.ctx,
			`INSERT INTO file_blobs (sha256, size, mime, quickxor, refcount, created_at)
			 VALUES (?, ?, ?, ?, 1, ?)`,
			sha256, size, mime, quickxor, timestamp(t.now()))
		if insErr != nil {
			return 0, false, fmt.Errorf("catalog: inserting blob %s: %w", sha256, insErr)
		}

		id, insErr = res.LastInsertId()
		if insErr != nil {
			return 0, false, fmt.Errorf("catalog: blob insert id: %w", insErr)
		}

		t.logger.Debug("blob acquired (new)",
			slog.String("sha256", sha256),
			slog.Int64("blob_id", id),
		)

		return id, true, nil

	case err != nil:
		return 0, false, fmt.Errorf("catalog: looking up blob %s: %w", sha256, err)
	}

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE file_blobs SET refcount = refcount + 1 WHERE id = ?`, id); err != nil {
		return 0, false, fmt.Errorf("catalog: incrementing refcount for blob %d: %w", id, err)
	}

	t.logger.Debug("blob acquired (ref)",
		slog.String("sha256", sha256),
		slog.Int64("blob_id", id),
	)

	return id, false, nil
}

// ReleaseBlob decrements the blob's refcount. When it reaches zero the row
// is removed and the caller must delete the file after the transaction
// commits.
func (t *Tx) ReleaseBlob(blobID int64) (*ReleasedBlob, error) {
	var (
		sha      string
		refcount int64
	)

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT sha256, refcount FROM file_blobs WHERE id = ?`, blobID).
		Scan(&sha, &refcount)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading blob %d: %w", blobID, err)
	}

	refcount--

	if refcount <= 0 {
		if _, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM file_blobs WHERE id = ?`, blobID); err != nil {
			return nil, fmt.Errorf("catalog: deleting blob %d: %w", blobID, err)
		}
	} else {
		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE file_blobs SET refcount = ? WHERE id = ?`, refcount, blobID); err != nil {
			return nil, fmt.Errorf("catalog: decrementing refcount for blob %d: %w", blobID, err)
		}
	}

	t.logger.Debug("blob released",
		slog.Int64("blob_id", blobID),
		slog.Int64("refcount", refcount),
	)

	return &ReleasedBlob{ID: blobID, SHA256: sha, Refcount: refcount}, nil
}

// GetBlob returns the blob row by id, or nil when absent.
func (c *Catalog) GetBlob(ctx context.Context, blobID int64) (*Blob, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, sha256, size, mime, quickxor, refcount, created_at
		 FROM file_blobs WHERE id = ?`, blobID)

	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading blob %d: %w", blobID, err)
	}

	return b, nil
}

// GetBlobBySHA returns the blob row for a content hash, or nil when absent.
func (c *Catalog) GetBlobBySHA(ctx context.Context, sha256 string) (*Blob, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, sha256, size, mime, quickxor, refcount, created_at
		 FROM file_blobs WHERE sha256 = ?`, sha256)

	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading blob %s: %w", sha256, err)
	}

	return b, nil
}

func scanBlob(row interface{ Scan(dest ...any) error }) (*Blob, error) {
	var b Blob

	err := row.Scan(&b.ID, &b.SHA256, &b.Size, &b.MIME, &b.QuickXor, &b.Refcount, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// ListBlobs returns all blob rows, ordered by id. Used by verify-storage.
func (c *Catalog) ListBlobs(ctx context.Context) ([]Blob, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, sha256, size, mime, quickxor, refcount, created_at FROM file_blobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing blobs: %w", err)
	}
	defer rows.Close()

	var blobs []Blob

	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning blob: %w", err)
		}

		blobs = append(blobs, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing blobs: %w", err)
	}

	return blobs, nil
}
