package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/graph"
)

// syncDrive traverses one drive's delta stream and reconciles every entry.
// The cursor is advanced only when a page traversal ends in a terminal
// deltaLink; an interrupted drive resumes from its last committed cursor.
func (e *Engine) syncDrive(ctx context.Context, state *runState, drive graph.Drive) error {
	link := ""

	if !state.opts.Full {
		var err error

		link, err = e.cat.GetDeltaLink(ctx, drive.ID)
		if err != nil {
			return err
		}
	}

	e.logger.Info("drive traversal starting",
		slog.String("drive_id", drive.ID),
		slog.String("drive_name", drive.Name),
		slog.Bool("incremental", link != ""),
	)

	restarted := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.gc.Delta(ctx, drive.ID, link)

		// An expired cursor means Graph can no longer describe the gap.
		// Restart this drive from full enumeration within the same run;
		// reconciliation is idempotent, so replaying known items is safe.
		if errors.Is(err, graph.ErrGone) && link != "" && !restarted {
			e.logger.Warn("delta cursor expired, restarting full enumeration",
				slog.String("drive_id", drive.ID),
			)

			link = ""
			restarted = true

			continue
		}

		if err != nil {
			return fmt.Errorf("drive %s: %w", drive.ID, err)
		}

		for i := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := e.applyEntry(ctx, state, drive, &page.Items[i]); err != nil {
				return fmt.Errorf("drive %s: %w", drive.ID, err)
			}
		}

		if page.NextLink != "" {
			link = page.NextLink
			continue
		}

		if page.DeltaLink == "" {
			e.logger.Warn("delta page carries neither nextLink nor deltaLink",
				slog.String("drive_id", drive.ID),
			)

			return nil
		}

		if !state.opts.DryRun {
			if err := e.cat.SetDeltaLink(ctx, drive.ID, page.DeltaLink); err != nil {
				return err
			}
		}

		e.logger.Info("drive traversal complete", slog.String("drive_id", drive.ID))

		return nil
	}
}

// applyEntry reconciles one delta entry against the catalog and blob store.
// Per-item failures (hash mismatch, item vanished mid-sync) are counted as
// skipped without failing the run; everything else propagates.
func (e *Engine) applyEntry(ctx context.Context, state *runState, drive graph.Drive, item *graph.Item) error {
	if item.IsFolder {
		return nil
	}

	if item.IsDeleted {
		return e.applyDeletion(ctx, state, drive.ID, item)
	}

	return e.applyUpsert(ctx, state, drive, item)
}

// applyDeletion soft-deletes a mirrored item, releasing its blob.
// Deletions of unknown items are silently ignored.
func (e *Engine) applyDeletion(ctx context.Context, state *runState, driveID string, item *graph.Item) error {
	doc, err := e.cat.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	if doc == nil || doc.IsDeleted {
		return nil
	}

	if state.opts.DryRun {
		state.previewEvent(catalog.EventRemove, doc.Path, doc.Size)
		state.add(catalog.Counters{Removed: 1})

		return nil
	}

	return e.retract(ctx, state, item.ID, driveID)
}

// retract soft-deletes the (itemID, driveID) document inside one
// transaction: row update, blob release, remove event, counter. The blob
// file is removed after commit when the last reference died.
func (e *Engine) retract(ctx context.Context, state *runState, itemID, driveID string) error {
	var released *catalog.ReleasedBlob

	err := e.cat.Tx(ctx, func(tx *catalog.Tx) error {
		old, rel, err := tx.SoftDelete(itemID, driveID)
		if err != nil {
			return err
		}

		if old == nil {
			return nil
		}

		released = rel

		if err := tx.LogEvent(state.runID, &old.ID, catalog.EventRemove, snapshotOf(old)); err != nil {
			return err
		}

		return tx.AddCounters(state.runID, catalog.Counters{Removed: 1})
	})
	if err != nil {
		return err
	}

	e.collectBlob(released)

	return nil
}

// applyUpsert reconciles a changed or new item.
func (e *Engine) applyUpsert(ctx context.Context, state *runState, drive graph.Drive, item *graph.Item) error {
	decision := e.filter.Evaluate(item.Path, item.Name, item.Size)

	doc, err := e.cat.GetDocument(ctx, item.ID, drive.ID)
	if err != nil {
		return err
	}

	live := doc != nil && !doc.IsDeleted

	if !decision.Allowed {
		// A mirrored item the filter no longer accepts is retracted the
		// same way a remote deletion would be.
		if live {
			e.logger.Info("retracting item rejected by filter",
				slog.String("path", item.Path),
				slog.String("reason", decision.Reason),
			)

			if state.opts.DryRun {
				state.previewEvent(catalog.EventRemove, doc.Path, doc.Size)
				state.add(catalog.Counters{Removed: 1})

				return nil
			}

			return e.retract(ctx, state, item.ID, drive.ID)
		}

		e.logger.Debug("item skipped by filter",
			slog.String("path", item.Path),
			slog.String("reason", decision.Reason),
		)

		return e.count(ctx, state, catalog.Counters{Skipped: 1})
	}

	fields := fieldsFrom(item)

	if e.cfg.Sync.MetadataOnly {
		return e.upsertMetadataOnly(ctx, state, drive.ID, item, fields, doc, live)
	}

	// Reuse the existing blob when the server-advertised hash and size
	// still match — no download, no event.
	if live && doc.BlobID != nil {
		same, err := e.blobMatches(ctx, *doc.BlobID, item)
		if err != nil {
			return err
		}

		if same {
			return e.upsertUnchangedContent(ctx, state, drive.ID, item, fields, doc)
		}
	}

	return e.downloadAndUpsert(ctx, state, drive.ID, item, fields, doc, live)
}

// blobMatches reports whether the referenced blob already carries the
// server-advertised content. SHA-256 wins when the server provides it;
// QuickXorHash is the usual SharePoint case.
func (e *Engine) blobMatches(ctx context.Context, blobID int64, item *graph.Item) (bool, error) {
	blob, err := e.cat.GetBlob(ctx, blobID)
	if err != nil {
		return false, err
	}

	if blob == nil || blob.Size != item.Size {
		return false, nil
	}

	if item.SHA256Hash != "" {
		return blob.SHA256 == item.SHA256Hash, nil
	}

	if item.QuickXorHash != "" {
		return blob.QuickXor == item.QuickXorHash, nil
	}

	return false, nil
}

// upsertUnchangedContent refreshes metadata on a document whose content the
// server reports unchanged. No event is emitted; renames are visible only
// in the document row.
func (e *Engine) upsertUnchangedContent(ctx context.Context, state *runState, driveID string, item *graph.Item, fields catalog.DocumentFields, doc *catalog.Document) error {
	if state.opts.DryRun {
		state.add(catalog.Counters{Unchanged: 1})
		return nil
	}

	return e.cat.Tx(ctx, func(tx *catalog.Tx) error {
		if _, err := tx.UpsertDocument(item.ID, driveID, fields, doc.BlobID); err != nil {
			return err
		}

		return tx.AddCounters(state.runID, catalog.Counters{Unchanged: 1})
	})
}

// upsertMetadataOnly records the item without touching content. A document
// that already carries a blob keeps it — metadata-only mode never discards
// mirrored bytes.
func (e *Engine) upsertMetadataOnly(ctx context.Context, state *runState, driveID string, item *graph.Item, fields catalog.DocumentFields, doc *catalog.Document, live bool) error {
	var blobID *int64
	if live && doc.BlobID != nil {
		blobID = doc.BlobID
	}

	if state.opts.DryRun {
		if live {
			state.add(catalog.Counters{Unchanged: 1})
		} else {
			state.previewEvent(catalog.EventAdd, item.Path, item.Size)
			state.add(catalog.Counters{Added: 1})
		}

		return nil
	}

	return e.cat.Tx(ctx, func(tx *catalog.Tx) error {
		res, err := tx.UpsertDocument(item.ID, driveID, fields, blobID)
		if err != nil {
			return err
		}

		if res.Action == catalog.ActionInserted {
			if err := tx.LogEvent(state.runID, &res.Doc.ID, catalog.EventAdd, snapshotOf(res.Doc)); err != nil {
				return err
			}

			return tx.AddCounters(state.runID, catalog.Counters{Added: 1})
		}

		return tx.AddCounters(state.runID, catalog.Counters{Unchanged: 1})
	})
}

// downloadAndUpsert streams the item's content into the blob store and
// swaps the document onto the new blob, emitting add or modify events.
func (e *Engine) downloadAndUpsert(ctx context.Context, state *runState, driveID string, item *graph.Item, fields catalog.DocumentFields, doc *catalog.Document, live bool) error {
	if state.opts.DryRun {
		if live {
			state.previewEvent(catalog.EventModifyRemove, doc.Path, doc.Size)
			state.previewEvent(catalog.EventModifyAdd, item.Path, item.Size)
			state.add(catalog.Counters{Modified: 1, BytesDownloaded: item.Size})
		} else {
			state.previewEvent(catalog.EventAdd, item.Path, item.Size)
			state.add(catalog.Counters{Added: 1, BytesDownloaded: item.Size})
		}

		return nil
	}

	res, err := e.fetchContent(ctx, driveID, item)
	if err != nil {
		// The item vanished between the delta page and the download —
		// expected mid-sync, non-fatal for the run.
		if errors.Is(err, graph.ErrNotFound) || errors.Is(err, ErrHashMismatch) {
			e.logger.Warn("item skipped",
				slog.String("path", item.Path),
				slog.String("error", err.Error()),
			)

			return e.count(ctx, state, catalog.Counters{Skipped: 1})
		}

		return err
	}

	bytesDownloaded := int64(0)
	if !res.Existed {
		bytesDownloaded = res.Size
	}

	mime := item.MimeType
	if mime == "" {
		mime = res.MIME
	}

	var released *catalog.ReleasedBlob

	err = e.cat.Tx(ctx, func(tx *catalog.Tx) error {
		blobID, _, err := tx.AcquireBlob(res.SHA256, res.Size, mime, item.QuickXorHash)
		if err != nil {
			return err
		}

		up, err := tx.UpsertDocument(item.ID, driveID, fields, &blobID)
		if err != nil {
			return err
		}

		switch up.Action {
		case catalog.ActionInserted:
			if err := tx.LogEvent(state.runID, &up.Doc.ID, catalog.EventAdd, snapshotOf(up.Doc)); err != nil {
				return err
			}

			return tx.AddCounters(state.runID, catalog.Counters{Added: 1, BytesDownloaded: bytesDownloaded})

		case catalog.ActionUpdatedContent:
			if err := tx.LogEvent(state.runID, &up.Doc.ID, catalog.EventModifyRemove, snapshotOf(up.Old)); err != nil {
				return err
			}

			if err := tx.LogEvent(state.runID, &up.Doc.ID, catalog.EventModifyAdd, snapshotOf(up.Doc)); err != nil {
				return err
			}

			// Old.BlobID is nil when a metadata-only document gains
			// content for the first time — nothing to release then.
			if up.Old.BlobID != nil {
				released, err = tx.ReleaseBlob(*up.Old.BlobID)
				if err != nil {
					return err
				}
			}

			return tx.AddCounters(state.runID, catalog.Counters{Modified: 1, BytesDownloaded: bytesDownloaded})

		default:
			// The document already referenced this exact blob (the reuse
			// check could not see it, e.g. the server omitted hashes).
			// Undo the extra reference; content and metadata are current.
			released, err = tx.ReleaseBlob(blobID)
			if err != nil {
				return err
			}

			return tx.AddCounters(state.runID, catalog.Counters{Unchanged: 1, BytesDownloaded: bytesDownloaded})
		}
	})
	if err != nil {
		return err
	}

	e.collectBlob(released)

	return nil
}

// fetchContent downloads the item into the blob store, verifying the
// QuickXorHash during streaming when enabled. A mismatching blob is
// discarded unless the catalog already references identical content.
func (e *Engine) fetchContent(ctx context.Context, driveID string, item *graph.Item) (*PutResult, error) {
	bw, err := e.blobs.NewWriter()
	if err != nil {
		return nil, err
	}
	defer bw.Abort()

	if _, err := e.gc.Download(ctx, driveID, item.ID, bw); err != nil {
		return nil, err
	}

	res, err := bw.Commit()
	if err != nil {
		return nil, err
	}

	if e.cfg.Sync.VerifyQuickXor {
		switch {
		case item.QuickXorHash == "":
			// The server suppressed the hash. Accept the download — a
			// rejection here would wedge the mirror on tenants that never
			// send hashes.
			e.logger.Warn("server omitted QuickXorHash, accepting download unverified",
				slog.String("path", item.Path),
			)

		case res.QuickXorHash != item.QuickXorHash:
			e.discardBlob(ctx, res)

			return nil, fmt.Errorf("%w: %s (got %s, want %s)",
				ErrHashMismatch, item.Path, res.QuickXorHash, item.QuickXorHash)
		}
	}

	return res, nil
}

// discardBlob removes a just-written blob file after a hash mismatch,
// unless the catalog already references the same content (the file is then
// shared and must stay).
func (e *Engine) discardBlob(ctx context.Context, res *PutResult) {
	if res.Existed {
		return
	}

	blob, err := e.cat.GetBlobBySHA(ctx, res.SHA256)
	if err != nil || blob != nil {
		return
	}

	if err := e.blobs.Delete(res.SHA256); err != nil {
		e.logger.Warn("discarding mismatched blob failed",
			slog.String("sha256", res.SHA256),
			slog.String("error", err.Error()),
		)
	}
}

// collectBlob removes the on-disk file of a blob whose last reference was
// released. Runs after the releasing transaction committed; a failure here
// leaves an orphan file that verify-storage will surface, never a dangling
// catalog row.
func (e *Engine) collectBlob(released *catalog.ReleasedBlob) {
	if released == nil || released.Refcount > 0 {
		return
	}

	if err := e.blobs.Delete(released.SHA256); err != nil {
		e.logger.Warn("removing unreferenced blob failed",
			slog.String("sha256", released.SHA256),
			slog.String("error", err.Error()),
		)
	}
}

// count advances run counters outside any mutation (pure skips). Dry runs
// accumulate in memory.
func (e *Engine) count(ctx context.Context, state *runState, delta catalog.Counters) error {
	if state.opts.DryRun {
		state.add(delta)
		return nil
	}

	return e.cat.Tx(ctx, func(tx *catalog.Tx) error {
		return tx.AddCounters(state.runID, delta)
	})
}

// fieldsFrom maps a normalized Graph item onto catalog document fields.
func fieldsFrom(item *graph.Item) catalog.DocumentFields {
	fields := catalog.DocumentFields{
		Name:           item.Name,
		Path:           item.Path,
		MIME:           item.MimeType,
		Size:           item.Size,
		WebURL:         item.WebURL,
		CreatedBy:      item.CreatedBy,
		LastModifiedBy: item.LastModifiedBy,
	}

	if !item.CreatedAt.IsZero() {
		fields.RemoteCreatedAt = item.CreatedAt.Format(time.RFC3339)
	}

	if !item.ModifiedAt.IsZero() {
		fields.RemoteModifiedAt = item.ModifiedAt.Format(time.RFC3339)
	}

	return fields
}

// snapshotOf captures a document's audit snapshot.
func snapshotOf(doc *catalog.Document) catalog.EventSnapshot {
	return catalog.EventSnapshot{
		ItemID: doc.ItemID,
		Name:   doc.Name,
		Path:   doc.Path,
		Size:   doc.Size,
		BlobID: doc.BlobID,
	}
}
