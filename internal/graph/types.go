package graph

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Site identifies a resolved SharePoint site.
type Site struct {
	ID          string
	DisplayName string
	WebURL      string
}

// Drive is a document library exposed through Graph.
type Drive struct {
	ID     string
	Name   string
	WebURL string
}

// Item is a normalized drive item from a delta page.
// Callers never see raw API data.
type Item struct {
	ID             string
	DriveID        string
	Name           string
	Path           string // absolute within the drive, e.g. "/Reports/Q1/summary.pdf"
	Size           int64
	IsFolder       bool
	IsDeleted      bool
	MimeType       string
	QuickXorHash   string // base64-encoded; empty when the server suppresses hashes
	SHA256Hash     string // hex; rarely populated on SharePoint
	WebURL         string
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	ModifiedAt     time.Time
	DownloadURL    string // pre-authenticated, ephemeral; never log
}

// DeltaPage is one fully-materialized page of delta changes.
// Exactly one of NextLink or DeltaLink is set on a well-formed response.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported — callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	WebURL               string       `json:"webUrl"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	ParentReference      *parentRef   `json:"parentReference"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	Deleted              *facetStub   `json:"deleted"`
	Package              *facetStub   `json:"package"`
	CreatedBy            *identitySet `json:"createdBy"`
	LastModifiedBy       *identitySet `json:"lastModifiedBy"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"` // "/drives/{id}/root:/sub/dir"
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type facetStub struct{}

type identitySet struct {
	User struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

// rootMarker separates the drive address from the path portion in
// parentReference.path values.
const rootMarker = "root:"

// toItem normalizes a Graph API driveItem into an Item. Names and paths are
// NFC-normalized so catalog lookups are stable regardless of how the server
// composed Unicode.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:        d.ID,
		Name:      norm.NFC.String(d.Name),
		Size:      d.Size,
		IsFolder:  d.Folder != nil,
		IsDeleted: d.Deleted != nil || d.Package != nil,
		WebURL:    d.WebURL,
	}

	// Packages (OneNote notebooks) are compound objects that cannot be
	// mirrored as files; surfacing them as deleted keeps the catalog clean
	// if one was ever recorded.
	if d.Package != nil {
		logger.Debug("treating package item as not mirrorable",
			slog.String("item_id", d.ID),
			slog.String("name", d.Name),
		)
	}

	if d.ParentReference != nil {
		item.DriveID = strings.ToLower(d.ParentReference.DriveID)
		item.Path = joinItemPath(d.ParentReference.Path, item.Name)
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType
		item.DownloadURL = d.DownloadURL

		if d.File.Hashes != nil && !item.IsDeleted {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA256Hash = strings.ToLower(d.File.Hashes.SHA256Hash)
		}
	}

	item.CreatedAt = parseGraphTime(d.CreatedDateTime, logger)
	item.ModifiedAt = parseGraphTime(d.LastModifiedDateTime, logger)

	if d.CreatedBy != nil {
		item.CreatedBy = d.CreatedBy.User.DisplayName
	}

	if d.LastModifiedBy != nil {
		item.LastModifiedBy = d.LastModifiedBy.User.DisplayName
	}

	return item
}

// joinItemPath derives the drive-absolute item path from the parent
// reference path ("/drives/{id}/root:/sub/dir") and the item name.
// Items directly under the drive root have no path portion after "root:".
func joinItemPath(parentPath, name string) string {
	idx := strings.Index(parentPath, rootMarker)
	if idx < 0 {
		return "/" + name
	}

	dir := parentPath[idx+len(rootMarker):]
	dir = norm.NFC.String(dir)

	if dir == "" {
		return "/" + name
	}

	return dir + "/" + name
}

// parseGraphTime parses an ISO-8601 timestamp from the API, returning the
// zero time (with a debug log) on malformed input rather than failing the page.
func parseGraphTime(s string, logger *slog.Logger) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		logger.Debug("unparseable timestamp in API response",
			slog.String("value", s),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t.UTC()
}
