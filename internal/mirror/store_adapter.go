package mirror

import "github.com/spmirror/spmirror/internal/blobstore"

// storeAdapter bridges *blobstore.Store to the BlobStore interface the
// engine consumes, translating the concrete result and outcome types.
type storeAdapter struct {
	store *blobstore.Store
}

// WrapStore adapts a blob store for use as the engine's BlobStore.
func WrapStore(store *blobstore.Store) BlobStore {
	return &storeAdapter{store: store}
}

func (a *storeAdapter) NewWriter() (BlobWriter, error) {
	w, err := a.store.NewWriter()
	if err != nil {
		return nil, err
	}

	return &writerAdapter{w: w}, nil
}

func (a *storeAdapter) Delete(sha string) error {
	return a.store.Delete(sha)
}

func (a *storeAdapter) Verify(sha string, expectedSize int64) (VerifyOutcome, error) {
	outcome, err := a.store.Verify(sha, expectedSize)

	switch outcome {
	case blobstore.VerifyOK:
		return VerifyOK, err
	case blobstore.VerifyCorrupt:
		return VerifyCorrupt, err
	default:
		return VerifyMissing, err
	}
}

func (a *storeAdapter) Path(sha string) string {
	return a.store.Path(sha)
}

type writerAdapter struct {
	w *blobstore.Writer
}

func (wa *writerAdapter) Write(p []byte) (int, error) {
	return wa.w.Write(p)
}

func (wa *writerAdapter) Commit() (*PutResult, error) {
	res, err := wa.w.Commit()
	if err != nil {
		return nil, err
	}

	return &PutResult{
		SHA256:       res.SHA256,
		Size:         res.Size,
		MIME:         res.MIME,
		QuickXorHash: res.QuickXorHash,
		Existed:      res.Existed,
	}, nil
}

func (wa *writerAdapter) Abort() {
	wa.w.Abort()
}
