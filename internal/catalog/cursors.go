package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// GetDeltaLink returns the persisted delta cursor for the drive, or "" when
// the drive has never completed a page traversal (full enumeration).
func (c *Catalog) GetDeltaLink(ctx context.Context, driveID string) (string, error) {
	var link string

	err := c.db.QueryRowContext(ctx,
		`SELECT delta_link FROM delta_cursors WHERE drive_id = ?`, driveID).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("catalog: loading delta cursor for %s: %w", driveID, err)
	}

	return link, nil
}

// SetDeltaLink persists the drive's resumption point. Written only after a
// page traversal ends in a terminal deltaLink.
func (c *Catalog) SetDeltaLink(ctx context.Context, driveID, link string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO delta_cursors (drive_id, delta_link, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (drive_id) DO UPDATE SET
			delta_link = excluded.delta_link,
			updated_at = excluded.updated_at`,
		driveID, link, timestamp(c.nowFunc()))
	if err != nil {
		return fmt.Errorf("catalog: persisting delta cursor for %s: %w", driveID, err)
	}

	c.logger.Debug("delta cursor persisted", slog.String("drive_id", driveID))

	return nil
}

// ClearDeltaLinks resets every drive to full-sync state. Returns the number
// of cursors removed.
func (c *Catalog) ClearDeltaLinks(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM delta_cursors`)
	if err != nil {
		return 0, fmt.Errorf("catalog: clearing delta cursors: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("catalog: clearing delta cursors: %w", err)
	}

	c.logger.Info("delta cursors cleared", slog.Int64("count", n))

	return n, nil
}

// UpsertDrive refreshes the drives lookup table.
func (c *Catalog) UpsertDrive(ctx context.Context, id, name, webURL string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO drives (id, name, web_url, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at`,
		id, name, webURL, timestamp(c.nowFunc()))
	if err != nil {
		return fmt.Errorf("catalog: upserting drive %s: %w", id, err)
	}

	return nil
}

// ListDrives returns the drives lookup table ordered by name.
func (c *Catalog) ListDrives(ctx context.Context) ([]DriveInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, web_url, updated_at FROM drives ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing drives: %w", err)
	}
	defer rows.Close()

	var drives []DriveInfo

	for rows.Next() {
		var d DriveInfo
		if err := rows.Scan(&d.ID, &d.Name, &d.WebURL, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scanning drive: %w", err)
		}

		drives = append(drives, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing drives: %w", err)
	}

	return drives, nil
}
