// Package blobstore implements a content-addressed file store.
// Blobs live at {root}/{sha256[0:2]}/{sha256[2:4]}/{sha256}: the two-level
// fan-out keeps any single directory bounded, and the full hash in the
// filename makes the layout self-describing for recovery.
package blobstore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/spmirror/spmirror/pkg/quickxorhash"
)

// ErrNotFound is returned by Open when no blob exists for the given hash.
var ErrNotFound = errors.New("blobstore: blob not found")

// tmpDirName holds in-flight writes. Same filesystem as the final
// destination so the commit rename is atomic.
const tmpDirName = "tmp"

// sniffLen is how many leading bytes feed MIME detection.
const sniffLen = 512

// dirPerm and filePerm are the permissions for created directories and blobs.
const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is a content-addressed blob store rooted at a single directory.
// Writes are atomic via temp-then-rename; readers see either no file or a
// complete, correct file.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a Store rooted at root, creating the root and its temp
// directory if needed. Stale temp files from interrupted runs are swept.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpDir := filepath.Join(root, tmpDirName)
	if err := os.MkdirAll(tmpDir, dirPerm); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %s: %w", root, err)
	}

	s := &Store{root: root, logger: logger}
	s.sweepTemp()

	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the on-disk path a blob with the given hash lives at.
// The path is derived; the file may or may not exist.
func (s *Store) Path(sha string) string {
	return filepath.Join(s.root, sha[:2], sha[2:4], sha)
}

// PutResult describes a committed blob.
type PutResult struct {
	SHA256       string // 64 hex chars
	Size         int64
	MIME         string // sniffed from leading bytes
	QuickXorHash string // base64, same encoding the Graph API uses
	Existed      bool   // true when an identical blob was already on disk
}

// Writer streams one blob into the store. Obtain via NewWriter, feed it with
// io.Copy or Write calls, then call Commit exactly once. Abort releases the
// temp file and is safe to call after Commit (it becomes a no-op), so
// `defer w.Abort()` covers every exit path.
type Writer struct {
	store    *Store
	tmp      *os.File
	tmpPath  string
	sha      hash.Hash
	qxh      hash.Hash
	size     int64
	sniffBuf []byte
	done     bool
}

// NewWriter opens a temp file and returns a Writer for one blob.
func (s *Store) NewWriter() (*Writer, error) {
	tmpPath := filepath.Join(s.root, tmpDirName, uuid.NewString())

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return nil, fmt.Errorf("blobstore: creating temp file: %w", err)
	}

	return &Writer{
		store:    s,
		tmp:      f,
		tmpPath:  tmpPath,
		sha:      sha256.New(),
		qxh:      quickxorhash.New(),
		sniffBuf: make([]byte, 0, sniffLen),
	}, nil
}

// Write streams bytes to the temp file, feeding both content hashes and the
// MIME sniff buffer along the way.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if n > 0 {
		w.sha.Write(p[:n])
		w.qxh.Write(p[:n])
		w.size += int64(n)

		if len(w.sniffBuf) < sniffLen {
			take := min(sniffLen-len(w.sniffBuf), n)
			w.sniffBuf = append(w.sniffBuf, p[:take]...)
		}
	}

	if err != nil {
		return n, fmt.Errorf("blobstore: writing temp file: %w", err)
	}

	return n, nil
}

// Commit finalizes the blob: fsync, atomic rename to the hash-derived path.
// If an identical blob already exists with the expected size, the temp file
// is discarded and Existed is set (idempotent put).
func (w *Writer) Commit() (*PutResult, error) {
	if w.done {
		return nil, errors.New("blobstore: writer already finished")
	}
	w.done = true

	if err := w.tmp.Sync(); err != nil {
		w.discard()
		return nil, fmt.Errorf("blobstore: syncing temp file: %w", err)
	}

	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmpPath)
		return nil, fmt.Errorf("blobstore: closing temp file: %w", err)
	}

	res := &PutResult{
		SHA256:       hex.EncodeToString(w.sha.Sum(nil)),
		Size:         w.size,
		MIME:         sniffMIME(w.sniffBuf),
		QuickXorHash: base64.StdEncoding.EncodeToString(w.qxh.Sum(nil)),
	}

	dest := w.store.Path(res.SHA256)

	if info, err := os.Stat(dest); err == nil && info.Size() == res.Size {
		// Identical content is already stored; the temp copy is redundant.
		os.Remove(w.tmpPath)
		res.Existed = true

		w.store.logger.Debug("blob already present",
			slog.String("sha256", res.SHA256),
			slog.Int64("size", res.Size),
		)

		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		os.Remove(w.tmpPath)
		return nil, fmt.Errorf("blobstore: creating blob directory: %w", err)
	}

	if err := os.Rename(w.tmpPath, dest); err != nil {
		os.Remove(w.tmpPath)
		return nil, fmt.Errorf("blobstore: committing blob %s: %w", res.SHA256, err)
	}

	w.store.logger.Debug("blob committed",
		slog.String("sha256", res.SHA256),
		slog.Int64("size", res.Size),
		slog.String("mime", res.MIME),
	)

	return res, nil
}

// Abort removes the temp file. No-op after Commit or a prior Abort.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.discard()
}

func (w *Writer) discard() {
	w.tmp.Close()
	os.Remove(w.tmpPath)
}

// Put streams r into the store and commits it. Convenience over NewWriter
// for callers that already hold a reader.
func (s *Store) Put(r io.Reader) (*PutResult, error) {
	w, err := s.NewWriter()
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}

	return w.Commit()
}

// Open returns a reader over the blob's bytes, or ErrNotFound.
func (s *Store) Open(sha string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(sha))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sha)
		}

		return nil, fmt.Errorf("blobstore: opening blob %s: %w", sha, err)
	}

	return f, nil
}

// Delete removes the blob file and opportunistically prunes empty parent
// directories. Call only after the last catalog reference was released.
func (s *Store) Delete(sha string) error {
	path := s.Path(sha)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: deleting blob %s: %w", sha, err)
	}

	// Prune the aa/bb and aa levels if they emptied out. Failure here is
	// cosmetic — the next delete in the same prefix gets another chance.
	for dir := filepath.Dir(path); dir != s.root; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	s.logger.Debug("blob deleted", slog.String("sha256", sha))

	return nil
}

// VerifyResult is the outcome of a single blob verification.
type VerifyResult int

const (
	VerifyOK VerifyResult = iota
	VerifyMissing
	VerifyCorrupt
)

// Verify rehashes the blob on disk and checks both size and content hash.
func (s *Store) Verify(sha string, expectedSize int64) (VerifyResult, error) {
	f, err := os.Open(s.Path(sha))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VerifyMissing, nil
		}

		return VerifyMissing, fmt.Errorf("blobstore: opening blob %s: %w", sha, err)
	}
	defer f.Close()

	h := sha256.New()

	n, err := io.Copy(h, f)
	if err != nil {
		return VerifyCorrupt, fmt.Errorf("blobstore: reading blob %s: %w", sha, err)
	}

	if n != expectedSize || hex.EncodeToString(h.Sum(nil)) != sha {
		return VerifyCorrupt, nil
	}

	return VerifyOK, nil
}

// sniffMIME detects a content type from leading bytes, trimming the charset
// suffix http.DetectContentType appends for text types.
func sniffMIME(head []byte) string {
	mime := http.DetectContentType(head)
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}

	return mime
}

// sweepTemp removes leftovers under tmp/ from interrupted runs. In-flight
// writers always hold freshly-created uuid names, so anything present at
// startup is garbage.
func (s *Store) sweepTemp() {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDirName))
	if err != nil {
		return
	}

	for _, e := range entries {
		path := filepath.Join(s.root, tmpDirName, e.Name())
		if err := os.Remove(path); err == nil {
			s.logger.Warn("removed stale temp file", slog.String("path", path))
		}
	}
}
