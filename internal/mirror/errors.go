// Package mirror implements the sync orchestrator: it drives Graph delta
// queries over the site's drives, reconciles the change stream against the
// catalog, deduplicates content into the blob store, and records an
// auditable history of runs and per-item events.
package mirror

import "errors"

// ErrHashMismatch marks a downloaded blob whose QuickXorHash differs from
// the server-advertised value. Per-item: the blob is discarded and the item
// counted as skipped.
var ErrHashMismatch = errors.New("mirror: content hash mismatch")

// cancelledMessage is the error_message recorded when a run is stopped by
// the cancellation signal.
const cancelledMessage = "cancelled"
