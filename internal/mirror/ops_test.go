package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
)

func TestStatus(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	ctx := context.Background()

	report, err := env.engine.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, report.CurrentRun)
	assert.Nil(t, report.LastRun)
	assert.Zero(t, report.Stats.Documents)

	_, err = env.engine.Run(ctx, RunOpts{})
	require.NoError(t, err)

	report, err = env.engine.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.LastRun)
	assert.Equal(t, catalog.RunCompleted, report.LastRun.Status)
	assert.Equal(t, int64(3), report.Stats.Documents)
	assert.Equal(t, int64(3), report.Stats.Blobs)
	assert.Equal(t, int64(350), report.Stats.Bytes)
	require.Len(t, report.Drives, 1)
	assert.Equal(t, "Documents", report.Drives[0].Name)
}

func TestExportMetadata_JSONL(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	_, err := env.engine.Run(context.Background(), RunOpts{})
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, env.engine.ExportMetadata(context.Background(), &buf, ExportJSONL, true))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var rec map[string]any

	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "item-a", rec["item_id"])
	assert.Equal(t, "/A.pdf", rec["path"])
	assert.NotEmpty(t, rec["sha256"])

	blobPath, ok := rec["blob_path"].(string)
	require.True(t, ok)

	_, err = os.Stat(blobPath)
	assert.NoError(t, err, "blob_path must point at the stored file")
}

func TestExportMetadata_JSONArray(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	_, err := env.engine.Run(context.Background(), RunOpts{})
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, env.engine.ExportMetadata(context.Background(), &buf, ExportJSON, false))

	var recs []map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &recs))
	require.Len(t, recs, 3)

	for _, rec := range recs {
		assert.NotContains(t, rec, "blob_path")
	}
}

func TestExportMetadata_UnknownFormat(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})

	err := env.engine.ExportMetadata(context.Background(), &bytes.Buffer{}, "xml", false)
	require.Error(t, err)
}

func TestVerifyStorage(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	ctx := context.Background()

	_, err := env.engine.Run(ctx, RunOpts{})
	require.NoError(t, err)

	report, err := env.engine.VerifyStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.OKCount)
	assert.Empty(t, report.Missing)
	assert.Empty(t, report.Corrupt)

	// Damage one blob and delete another.
	blobs, err := env.cat.ListBlobs(ctx)
	require.NoError(t, err)
	require.Len(t, blobs, 3)

	require.NoError(t, os.WriteFile(env.store.Path(blobs[0].SHA256), []byte("tampered"), 0o644))
	require.NoError(t, os.Remove(env.store.Path(blobs[1].SHA256)))

	report, err = env.engine.VerifyStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OKCount)
	assert.Equal(t, []string{blobs[1].SHA256}, report.Missing)
	assert.Equal(t, []string{blobs[0].SHA256}, report.Corrupt)
}

func TestClearDeltaCursors(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	_, err := env.engine.Run(context.Background(), RunOpts{})
	require.NoError(t, err)

	n, err := env.engine.ClearDeltaCursors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestList_SearchAndDeleted(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})
	env.scriptColdStart()

	ctx := context.Background()

	_, err := env.engine.Run(ctx, RunOpts{})
	require.NoError(t, err)

	docs, err := env.engine.List(ctx, "docx", 0, false)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "B.docx", docs[0].Name)

	// Soft-delete item-b remotely, then list with and without tombstones.
	env.gc.pages["d1|t1"] = &graph.DeltaPage{
		Items:     []graph.Item{deletedItem("item-b")},
		DeltaLink: "t2",
	}

	_, err = env.engine.Run(ctx, RunOpts{})
	require.NoError(t, err)

	docs, err = env.engine.List(ctx, "docx", 0, false)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = env.engine.List(ctx, "docx", 0, true)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].IsDeleted)
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t, config.SyncConfig{})

	info, err := TestConnection(context.Background(), env.cfg, env.gc)
	require.NoError(t, err)
	assert.Equal(t, "site-1", info.SiteID)
	assert.Equal(t, "Engineering", info.DisplayName)
	require.Len(t, info.Drives, 1)
}
