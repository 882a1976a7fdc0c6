package graph

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_StreamsContent(t *testing.T) {
	content := []byte("file content bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d1/items/item-1/content", r.URL.Path)
		w.Write(content)
	}))
	defer srv.Close()

	var buf bytes.Buffer

	n, err := newTestClient(t, srv.URL).Download(context.Background(), "d1", "item-1", &buf)
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())
}

func TestDownload_FollowsRedirect(t *testing.T) {
	var storage *httptest.Server

	storage = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "redirected bytes")
	}))
	defer storage.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, storage.URL+"/blob", http.StatusFound)
	}))
	defer api.Close()

	var buf bytes.Buffer

	_, err := newTestClient(t, api.URL).Download(context.Background(), "d1", "i1", &buf)
	require.NoError(t, err)
	assert.Equal(t, "redirected bytes", buf.String())
}

func TestDownload_ItemVanished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var buf bytes.Buffer

	_, err := newTestClient(t, srv.URL).Download(context.Background(), "d1", "gone", &buf)
	assert.ErrorIs(t, err, ErrNotFound)
}
