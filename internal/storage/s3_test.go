package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamify/backend/internal/config"
)

type recordedPut struct {
	method      string
	path        string
	contentType string
}

func newFakeS3(t *testing.T) (*httptest.Server, func() []recordedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type")})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPut(nil), puts...)
	}
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{Region: "us-east-1"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestS3StorageSave(t *testing.T) {
	srv, puts := newFakeS3(t)

	store, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{
		Bucket:          "avatars",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	location, err := store.Save(context.Background(), "/avatars/u1/pic.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/avatars/avatars/u1/pic.png", location)

	recorded := puts()
	require.Len(t, recorded, 1)
	assert.Equal(t, http.MethodPut, recorded[0].method)
	assert.Equal(t, "/avatars/avatars/u1/pic.png", recorded[0].path)
	assert.Equal(t, "image/png", recorded[0].contentType)

	_, err = store.Save(context.Background(), "/", strings.NewReader(""))
	assert.Error(t, err)
}

func TestS3StorageUsesPublicBaseURL(t *testing.T) {
	srv, _ := newFakeS3(t)

	store, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{
		Bucket:          "avatars",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		PublicBaseURL:   "https://cdn.example.com/",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	location, err := store.Save(context.Background(), "avatars/u1/pic.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/u1/pic.jpg", location)
}
