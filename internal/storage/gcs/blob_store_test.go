package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pagesnap/internal/storage/gcs"
)

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, cfg gcs.Config, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObjectUsesPrefix(t *testing.T) {
	payload := []byte(`{"url":"https://example.com"}`)
	bucket := "snapshots"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulates the JSON API multipart upload.
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/b/%s/o", bucket))
		assert.Equal(t, "runs/scraped_data.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name":"runs/scraped_data.json","bucket":"snapshots"}`)
	})

	store := newTestStore(t, gcs.Config{Bucket: bucket, Prefix: "/runs/"}, handler)
	uri, err := store.PutObject(context.Background(), "scraped_data.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots/runs/scraped_data.json", uri)
}

func TestPutObjectError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	store := newTestStore(t, gcs.Config{Bucket: "snapshots"}, handler)
	_, err := store.PutObject(context.Background(), "scraped_data.json", "", bytes.NewReader([]byte("{}")))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	assert.ErrorContains(t, err, "path is required")
}

func TestGetObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Object reads use the XML API path /<bucket>/<object>.
		switch r.URL.Path {
		case "/snapshots/scraped_data.json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"title":"Example"}`)
		default:
			http.NotFound(w, r)
		}
	})

	store := newTestStore(t, gcs.Config{Bucket: "snapshots"}, handler)

	got, err := store.GetObject(context.Background(), "scraped_data.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Example"}`, string(got))

	_, err = store.GetObject(context.Background(), "missing.json")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
