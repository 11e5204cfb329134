package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "/media/")
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := store.Upload(ctx, &UploadRequest{
		Key:         "incident_photos/2026/10/14/photo.jpg",
		Reader:      bytes.NewReader([]byte("jpeg-bytes")),
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "/media/incident_photos/2026/10/14/photo.jpg", resp.URL)
	assert.Equal(t, int64(10), resp.Size)

	data, err := os.ReadFile(filepath.Join(dir, "incident_photos", "2026", "10", "14", "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	require.NoError(t, store.Delete(ctx, resp.Key))
	_, err = os.Stat(filepath.Join(dir, "incident_photos", "2026", "10", "14", "photo.jpg"))
	assert.True(t, os.IsNotExist(err))

	// повторное удаление не считается ошибкой
	assert.NoError(t, store.Delete(ctx, resp.Key))
}

func TestLocalStorage_KeyStaysInsideBasePath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(filepath.Join(dir, "media"), "/media")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), &UploadRequest{
		Key:    "../../escape.txt",
		Reader: bytes.NewReader([]byte("x")),
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "media", "escape.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_EmptyKey(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "/media")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), &UploadRequest{Key: "", Reader: bytes.NewReader(nil)})
	assert.Error(t, err)
}

func TestS3Storage_ObjectURL(t *testing.T) {
	s := &S3Storage{bucket: "fire", region: "eu-central-1"}
	assert.Equal(t, "https://fire.s3.eu-central-1.amazonaws.com/a/b.jpg", s.objectURL("a/b.jpg"))

	s.cdnDomain = "cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/a/b.jpg", s.objectURL("a/b.jpg"))
}
