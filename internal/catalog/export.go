package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// ExportDocument is a document row joined with its blob hash, as consumed
// by the metadata export surface and downstream ingestion pipelines.
type ExportDocument struct {
	Document
	SHA256 string // empty for metadata-only or deleted documents
}

// ExportDocuments streams all live documents (ordered by path) through fn.
// Streaming keeps exports of large catalogs at constant memory.
func (c *Catalog) ExportDocuments(ctx context.Context, fn func(doc *ExportDocument) error) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+qualify(documentColumns, "d")+`, COALESCE(b.sha256, '')
		 FROM documents d
		 LEFT JOIN file_blobs b ON b.id = d.blob_id
		 WHERE d.is_deleted = 0
		 ORDER BY d.path`)
	if err != nil {
		return fmt.Errorf("catalog: exporting documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       ExportDocument
			blobID  sql.NullInt64
			deleted int64
		)

		err := rows.Scan(&e.ID, &e.ItemID, &e.DriveID, &e.Name, &e.Path,
			&e.MIME, &e.Size, &e.WebURL, &e.CreatedBy, &e.LastModifiedBy,
			&e.RemoteCreatedAt, &e.RemoteModifiedAt, &blobID, &deleted,
			&e.SyncedAt, &e.CreatedAt, &e.UpdatedAt, &e.SHA256)
		if err != nil {
			return fmt.Errorf("catalog: scanning export row: %w", err)
		}

		if blobID.Valid {
			e.BlobID = &blobID.Int64
		}

		e.IsDeleted = deleted != 0

		if err := fn(&e); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: exporting documents: %w", err)
	}

	return nil
}
