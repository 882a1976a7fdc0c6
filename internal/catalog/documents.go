package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// documentColumns is the scan order shared by every document query.
const documentColumns = `id, item_id, drive_id, name, path, mime, size, web_url,
	created_by, last_modified_by, remote_created_at, remote_modified_at,
	blob_id, is_deleted, synced_at, created_at, updated_at`

// scanDocument reads one document row in documentColumns order.
func scanDocument(row interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		d       Document
		blobID  sql.NullInt64
		deleted int64
	)

	err := row.Scan(&d.ID, &d.ItemID, &d.DriveID, &d.Name, &d.Path, &d.MIME,
		&d.Size, &d.WebURL, &d.CreatedBy, &d.LastModifiedBy,
		&d.RemoteCreatedAt, &d.RemoteModifiedAt, &blobID, &deleted,
		&d.SyncedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if blobID.Valid {
		d.BlobID = &blobID.Int64
	}

	d.IsDeleted = deleted != 0

	return &d, nil
}

// GetDocument returns the document for the stable remote key, or nil when
// no row exists (soft-deleted rows are returned).
func (c *Catalog) GetDocument(ctx context.Context, itemID, driveID string) (*Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE item_id = ? AND drive_id = ?`,
		itemID, driveID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading document %s/%s: %w", driveID, itemID, err)
	}

	return doc, nil
}

// getDocument loads the current row inside the transaction.
func (t *Tx) getDocument(itemID, driveID string) (*Document, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+documentColumns+` FROM documents WHERE item_id = ? AND drive_id = ?`,
		itemID, driveID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading document %s/%s: %w", driveID, itemID, err)
	}

	return doc, nil
}

// UpsertDocument inserts or updates the document matched on (itemID,
// driveID) and classifies the outcome:
//
//   - inserted: no live row existed (soft-deleted rows are resurrected
//     as inserts — their blob reference was already released)
//   - updated_content: the blob reference changed
//   - updated_metadata: any other field changed
//   - unchanged: everything equal and the row was live
//
// Old in the result is the pre-upsert row so the caller can release a
// replaced blob and snapshot the before state.
func (t *Tx) UpsertDocument(itemID, driveID string, fields DocumentFields, blobID *int64) (*UpsertResult, error) {
	now := timestamp(t.now())

	old, err := t.getDocument(itemID, driveID)
	if err != nil {
		return nil, err
	}

	if old == nil {
		doc, insErr := t.insertDocument(itemID, driveID, fields, blobID, now)
		if insErr != nil {
			return nil, insErr
		}

		return &UpsertResult{Doc: doc, Action: ActionInserted}, nil
	}

	action := classifyUpsert(old, &fields, blobID)

	if action == ActionUnchanged {
		// Stamp synced_at so staleness queries see this run touched the row.
		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE documents SET synced_at = ? WHERE id = ?`, now, old.ID); err != nil {
			return nil, fmt.Errorf("catalog: touching document %d: %w", old.ID, err)
		}

		doc := *old
		doc.SyncedAt = now

		return &UpsertResult{Doc: &doc, Old: old, Action: ActionUnchanged}, nil
	}

	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE documents SET name = ?, path = ?, mime = ?, size = ?, web_url = ?,
			created_by = ?, last_modified_by = ?, remote_created_at = ?,
			remote_modified_at = ?, blob_id = ?, is_deleted = 0,
			synced_at = ?, updated_at = ?
		 WHERE id = ?`,
		fields.Name, fields.Path, fields.MIME, fields.Size, fields.WebURL,
		fields.CreatedBy, fields.LastModifiedBy, fields.RemoteCreatedAt,
		fields.RemoteModifiedAt, nullableID(blobID), now, now, old.ID)
	if err != nil {
		return nil, fmt.Errorf("catalog: updating document %d: %w", old.ID, err)
	}

	doc := documentFrom(old.ID, itemID, driveID, fields, blobID)
	doc.SyncedAt = now
	doc.CreatedAt = old.CreatedAt
	doc.UpdatedAt = now

	t.logger.Debug("document upserted",
		slog.String("item_id", itemID),
		slog.String("drive_id", driveID),
		slog.String("action", string(action)),
	)

	return &UpsertResult{Doc: doc, Old: old, Action: action}, nil
}

// classifyUpsert decides the action for an existing row.
func classifyUpsert(old *Document, fields *DocumentFields, blobID *int64) UpsertAction {
	switch {
	case old.IsDeleted:
		// Resurrection: the old blob reference was released at soft-delete,
		// so this is a fresh add from the mirror's point of view.
		return ActionInserted
	case !sameBlob(old.BlobID, blobID):
		return ActionUpdatedContent
	case !fields.equal(old):
		return ActionUpdatedMetadata
	default:
		return ActionUnchanged
	}
}

func (t *Tx) insertDocument(itemID, driveID string, fields DocumentFields, blobID *int64, now string) (*Document, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO documents
			(item_id, drive_id, name, path, mime, size, web_url, created_by,
			 last_modified_by, remote_created_at, remote_modified_at, blob_id,
			 is_deleted, synced_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (item_id, drive_id) DO UPDATE SET
			name = excluded.name, path = excluded.path, mime = excluded.mime,
			size = excluded.size, web_url = excluded.web_url,
			created_by = excluded.created_by,
			last_modified_by = excluded.last_modified_by,
			remote_created_at = excluded.remote_created_at,
			remote_modified_at = excluded.remote_modified_at,
			blob_id = excluded.blob_id, is_deleted = 0,
			synced_at = excluded.synced_at, updated_at = excluded.updated_at`,
		itemID, driveID, fields.Name, fields.Path, fields.MIME, fields.Size,
		fields.WebURL, fields.CreatedBy, fields.LastModifiedBy,
		fields.RemoteCreatedAt, fields.RemoteModifiedAt, nullableID(blobID),
		now, now, now)
	if err != nil {
		return nil, fmt.Errorf("catalog: inserting document %s/%s: %w", driveID, itemID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("catalog: insert id for %s/%s: %w", driveID, itemID, err)
	}

	doc := documentFrom(id, itemID, driveID, fields, blobID)
	doc.SyncedAt = now
	doc.CreatedAt = now
	doc.UpdatedAt = now

	return doc, nil
}

// documentFrom assembles an in-memory Document from upsert inputs.
func documentFrom(id int64, itemID, driveID string, fields DocumentFields, blobID *int64) *Document {
	return &Document{
		ID:               id,
		ItemID:           itemID,
		DriveID:          driveID,
		Name:             fields.Name,
		Path:             fields.Path,
		MIME:             fields.MIME,
		Size:             fields.Size,
		WebURL:           fields.WebURL,
		CreatedBy:        fields.CreatedBy,
		LastModifiedBy:   fields.LastModifiedBy,
		RemoteCreatedAt:  fields.RemoteCreatedAt,
		RemoteModifiedAt: fields.RemoteModifiedAt,
		BlobID:           blobID,
	}
}

// SoftDelete marks the document deleted, nulls its blob reference, and
// releases the blob. Returns (nil, nil, nil) when the key is unknown or the
// row is already deleted, so callers can ignore stray deletions silently.
func (t *Tx) SoftDelete(itemID, driveID string) (*Document, *ReleasedBlob, error) {
	old, err := t.getDocument(itemID, driveID)
	if err != nil {
		return nil, nil, err
	}

	if old == nil || old.IsDeleted {
		return nil, nil, nil
	}

	now := timestamp(t.now())

	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE documents SET is_deleted = 1, blob_id = NULL, updated_at = ? WHERE id = ?`,
		now, old.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: soft-deleting document %d: %w", old.ID, err)
	}

	var released *ReleasedBlob
	if old.BlobID != nil {
		released, err = t.ReleaseBlob(*old.BlobID)
		if err != nil {
			return nil, nil, err
		}
	}

	t.logger.Debug("document soft-deleted",
		slog.String("item_id", itemID),
		slog.String("drive_id", driveID),
		slog.String("path", old.Path),
	)

	return old, released, nil
}

// ListDocuments returns documents ordered by path. A non-empty search term
// is matched against the FTS index over name and path. limit <= 0 means no
// limit.
func (c *Catalog) ListDocuments(ctx context.Context, search string, limit int, includeDeleted bool) ([]Document, error) {
	var (
		query strings.Builder
		args  []any
	)

	query.WriteString(`SELECT ` + qualify(documentColumns, "d") + ` FROM documents d`)

	var where []string

	if search != "" {
		query.WriteString(` JOIN documents_fts f ON f.rowid = d.id`)
		where = append(where, `f MATCH ?`)
		args = append(args, ftsQuery(search))
	}

	if !includeDeleted {
		where = append(where, `d.is_deleted = 0`)
	}

	if len(where) > 0 {
		query.WriteString(` WHERE ` + strings.Join(where, ` AND `))
	}

	query.WriteString(` ORDER BY d.path`)

	if limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document

	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("catalog: scanning document: %w", scanErr)
		}

		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing documents: %w", err)
	}

	return docs, nil
}

// ftsQuery turns free text into an FTS5 prefix query, quoting each term so
// user input cannot inject FTS syntax.
func ftsQuery(search string) string {
	terms := strings.Fields(search)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"*`
	}

	return strings.Join(terms, " ")
}

// qualify prefixes each column in a comma-separated list with an alias.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}

	return strings.Join(parts, ", ")
}

// Stats returns live document count, blob count, and total blob bytes.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	var s Stats

	err := c.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM documents WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM file_blobs),
			(SELECT COALESCE(SUM(size), 0) FROM file_blobs)`).
		Scan(&s.Documents, &s.Blobs, &s.Bytes)
	if err != nil {
		return nil, fmt.Errorf("catalog: computing stats: %w", err)
	}

	return &s, nil
}

// nullableID converts an optional blob id to its SQL representation.
func nullableID(id *int64) any {
	if id == nil {
		return nil
	}

	return *id
}

// sameBlob compares two optional blob references.
func sameBlob(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
