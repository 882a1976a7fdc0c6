package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
)

// StatusReport is the engine's answer to the status surface.
type StatusReport struct {
	CurrentRun *catalog.Run
	LastRun    *catalog.Run
	Stats      catalog.Stats
	Drives     []catalog.DriveInfo
}

// Status reports the current and last run plus catalog totals.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	current, err := e.cat.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}

	last, err := e.cat.LastRun(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := e.cat.Stats(ctx)
	if err != nil {
		return nil, err
	}

	drives, err := e.cat.ListDrives(ctx)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		CurrentRun: current,
		LastRun:    last,
		Stats:      *stats,
		Drives:     drives,
	}, nil
}

// List returns catalog documents, optionally matched against the FTS index.
func (e *Engine) List(ctx context.Context, search string, limit int, includeDeleted bool) ([]catalog.Document, error) {
	return e.cat.ListDocuments(ctx, search, limit, includeDeleted)
}

// ExportFormat selects the metadata export encoding.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportJSONL ExportFormat = "jsonl"
)

// exportRecord is the wire shape of one exported document.
type exportRecord struct {
	ItemID           string `json:"item_id"`
	DriveID          string `json:"drive_id"`
	Name             string `json:"name"`
	Path             string `json:"path"`
	MIME             string `json:"mime,omitempty"`
	Size             int64  `json:"size"`
	WebURL           string `json:"web_url,omitempty"`
	CreatedBy        string `json:"created_by,omitempty"`
	LastModifiedBy   string `json:"last_modified_by,omitempty"`
	RemoteCreatedAt  string `json:"remote_created_at,omitempty"`
	RemoteModifiedAt string `json:"remote_modified_at,omitempty"`
	SHA256           string `json:"sha256,omitempty"`
	SyncedAt         string `json:"synced_at"`
	BlobPath         string `json:"blob_path,omitempty"`
}

// ExportMetadata streams all live documents to w as a JSON array or as
// JSON Lines. With includeBlobPath set, each record carries the blob's
// on-disk path for direct ingestion.
func (e *Engine) ExportMetadata(ctx context.Context, w io.Writer, format ExportFormat, includeBlobPath bool) error {
	if format != ExportJSON && format != ExportJSONL {
		return fmt.Errorf("mirror: unknown export format %q", format)
	}

	enc := json.NewEncoder(w)
	first := true

	if format == ExportJSON {
		if _, err := io.WriteString(w, "[\n"); err != nil {
			return fmt.Errorf("mirror: writing export: %w", err)
		}
	}

	err := e.cat.ExportDocuments(ctx, func(doc *catalog.ExportDocument) error {
		rec := exportRecord{
			ItemID:           doc.ItemID,
			DriveID:          doc.DriveID,
			Name:             doc.Name,
			Path:             doc.Path,
			MIME:             doc.MIME,
			Size:             doc.Size,
			WebURL:           doc.WebURL,
			CreatedBy:        doc.CreatedBy,
			LastModifiedBy:   doc.LastModifiedBy,
			RemoteCreatedAt:  doc.RemoteCreatedAt,
			RemoteModifiedAt: doc.RemoteModifiedAt,
			SHA256:           doc.SHA256,
			SyncedAt:         doc.SyncedAt,
		}

		if includeBlobPath && doc.SHA256 != "" {
			rec.BlobPath = e.blobs.Path(doc.SHA256)
		}

		if format == ExportJSON && !first {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return fmt.Errorf("mirror: writing export: %w", err)
			}
		}

		first = false

		if format == ExportJSON {
			// Encoder appends a newline; for the array form we manage
			// separators ourselves via plain Marshal.
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("mirror: encoding export record: %w", err)
			}

			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("mirror: writing export: %w", err)
			}

			return nil
		}

		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("mirror: encoding export record: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if format == ExportJSON {
		if _, err := io.WriteString(w, "\n]\n"); err != nil {
			return fmt.Errorf("mirror: writing export: %w", err)
		}
	}

	return nil
}

// ConnectionInfo is the result of a successful connectivity check.
type ConnectionInfo struct {
	SiteID      string
	DisplayName string
	Drives      []graph.Drive
}

// TestConnection acquires a token, resolves the configured site, and lists
// its drives. A package function rather than an Engine method so the CLI
// can probe connectivity without opening the catalog or blob store.
func TestConnection(ctx context.Context, cfg *config.Config, gc GraphClient) (*ConnectionInfo, error) {
	sp := &cfg.SharePoint

	site, err := gc.ResolveSite(ctx, sp.SiteHostname, sp.SitePath)
	if err != nil {
		return nil, err
	}

	drives, err := gc.SiteDrives(ctx, site.ID)
	if err != nil {
		return nil, err
	}

	return &ConnectionInfo{
		SiteID:      site.ID,
		DisplayName: site.DisplayName,
		Drives:      drives,
	}, nil
}

// ClearDeltaCursors resets every drive to full-sync state. Returns the
// number of cursors removed.
func (e *Engine) ClearDeltaCursors(ctx context.Context) (int64, error) {
	return e.cat.ClearDeltaLinks(ctx)
}

// StorageReport is the result of a verify-storage pass.
type StorageReport struct {
	OKCount int
	Missing []string // sha256 of blobs with no file
	Corrupt []string // sha256 of blobs whose bytes no longer hash to the row
}

// VerifyStorage rehashes every cataloged blob on disk, reporting rows whose
// file is gone or whose bytes no longer match.
func (e *Engine) VerifyStorage(ctx context.Context) (*StorageReport, error) {
	blobs, err := e.cat.ListBlobs(ctx)
	if err != nil {
		return nil, err
	}

	report := &StorageReport{}

	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := e.blobs.Verify(b.SHA256, b.Size)
		if err != nil {
			e.logger.Warn("verifying blob failed",
				slog.String("sha256", b.SHA256),
				slog.String("error", err.Error()),
			)
		}

		switch outcome {
		case VerifyOK:
			report.OKCount++
		case VerifyMissing:
			report.Missing = append(report.Missing, b.SHA256)
		case VerifyCorrupt:
			report.Corrupt = append(report.Corrupt, b.SHA256)
		}
	}

	e.logger.Info("storage verification complete",
		slog.Int("ok", report.OKCount),
		slog.Int("missing", len(report.Missing)),
		slog.Int("corrupt", len(report.Corrupt)),
	)

	return report, nil
}
