package catalog

// Document is a mirrored SharePoint item. The (ItemID, DriveID) pair is the
// stable remote key; everything else is mutable metadata.
type Document struct {
	ID               int64
	ItemID           string
	DriveID          string
	Name             string
	Path             string
	MIME             string
	Size             int64
	WebURL           string
	CreatedBy        string
	LastModifiedBy   string
	RemoteCreatedAt  string
	RemoteModifiedAt string
	BlobID           *int64 // nil for metadata-only mode, deleted items, placeholders
	IsDeleted        bool
	SyncedAt         string
	CreatedAt        string
	UpdatedAt        string
}

// DocumentFields carries the mutable metadata of an upsert.
type DocumentFields struct {
	Name             string
	Path             string
	MIME             string
	Size             int64
	WebURL           string
	CreatedBy        string
	LastModifiedBy   string
	RemoteCreatedAt  string
	RemoteModifiedAt string
}

// equal reports whether the stored document carries exactly these fields.
func (f *DocumentFields) equal(d *Document) bool {
	return d.Name == f.Name &&
		d.Path == f.Path &&
		d.MIME == f.MIME &&
		d.Size == f.Size &&
		d.WebURL == f.WebURL &&
		d.CreatedBy == f.CreatedBy &&
		d.LastModifiedBy == f.LastModifiedBy &&
		d.RemoteCreatedAt == f.RemoteCreatedAt &&
		d.RemoteModifiedAt == f.RemoteModifiedAt
}

// UpsertAction classifies what an upsert did to the document row.
type UpsertAction string

const (
	ActionInserted        UpsertAction = "inserted"
	ActionUpdatedContent  UpsertAction = "updated_content"
	ActionUpdatedMetadata UpsertAction = "updated_metadata"
	ActionUnchanged       UpsertAction = "unchanged"
)

// UpsertResult is the outcome of UpsertDocument. Old is the pre-upsert row
// (nil on insert) so the caller can release a replaced blob and snapshot the
// before state for modify events.
type UpsertResult struct {
	Doc    *Document
	Old    *Document
	Action UpsertAction
}

// Blob is one unique content body, reference-counted by documents.
// QuickXor carries the server-side hash observed at download time so later
// delta entries can skip re-downloading unchanged content.
type Blob struct {
	ID        int64
	SHA256    string
	Size      int64
	MIME      string
	QuickXor  string
	Refcount  int64
	CreatedAt string
}

// ReleasedBlob describes the result of a refcount decrement. When Refcount
// reached zero the row is gone and the caller must remove the file.
type ReleasedBlob struct {
	ID       int64
	SHA256   string
	Refcount int64
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Counters aggregates per-run item dispositions. Fields are deltas when
// passed to AddCounters and totals when read back from a Run.
type Counters struct {
	Added           int64
	Modified        int64
	Removed         int64
	Unchanged       int64
	Skipped         int64
	BytesDownloaded int64
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Add accumulates delta into c.
func (c *Counters) Add(delta Counters) {
	c.Added += delta.Added
	c.Modified += delta.Modified
	c.Removed += delta.Removed
	c.Unchanged += delta.Unchanged
	c.Skipped += delta.Skipped
	c.BytesDownloaded += delta.BytesDownloaded
}

// Run is one invocation of the sync orchestrator.
type Run struct {
	ID           int64
	Status       RunStatus
	StartedAt    string
	CompletedAt  string
	IsFull       bool
	Counters     Counters
	ErrorMessage string
}

// EventType classifies audit events. A content change is always recorded as
// a modify_remove / modify_add pair under the same run, preserving the
// before and after snapshots without versioning blob bytes.
type EventType string

const (
	EventAdd          EventType = "add"
	EventRemove       EventType = "remove"
	EventModifyAdd    EventType = "modify_add"
	EventModifyRemove EventType = "modify_remove"
)

// EventSnapshot is the item state captured in an audit row.
type EventSnapshot struct {
	ItemID string
	Name   string
	Path   string
	Size   int64
	BlobID *int64
}

// Event is an append-only audit row.
type Event struct {
	ID         int64
	RunID      int64
	DocumentID *int64
	Type       EventType
	Snapshot   EventSnapshot
	LoggedAt   string
}

// DriveInfo is a row of the drives lookup table.
type DriveInfo struct {
	ID        string
	Name      string
	WebURL    string
	UpdatedAt string
}

// Stats summarizes catalog contents for the status surface.
type Stats struct {
	Documents int64
	Blobs     int64
	Bytes     int64
}
