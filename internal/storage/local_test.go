package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	tests := []struct {
		name        string
		basePath    string
		shouldError bool
	}{
		{
			name:     "valid path",
			basePath: t.TempDir(),
		},
		{
			name:     "non-existent path",
			basePath: filepath.Join(t.TempDir(), "nested", "path"),
		},
		{
			name:        "invalid path (file instead of directory)",
			basePath:    createTempFile(t),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewLocalStorage(tt.basePath, "")

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, storage)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.basePath, storage.basePath)

			info, err := os.Stat(tt.basePath)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		})
	}
}

func TestLocalStorage_Upload(t *testing.T) {
	base := t.TempDir()
	storage, err := NewLocalStorage(base, "http://cdn.local/photos/")
	require.NoError(t, err)

	file := NewBytesFile("beach.jpg", "", []byte("jpeg bytes"))
	asset, err := storage.Upload(context.Background(), file, UploadParams{Folder: "rapidphotoflow", AssetName: "1-abc-beach.jpg"})
	require.NoError(t, err)

	assert.Equal(t, "rapidphotoflow/1-abc-beach.jpg", asset.PublicID)
	assert.Equal(t, "http://cdn.local/photos/rapidphotoflow/1-abc-beach.jpg", asset.SecureURL)
	assert.Equal(t, int64(10), asset.Bytes)
	assert.Equal(t, "jpg", asset.Format)
	assert.True(t, storage.Exists(asset.PublicID))

	data, err := os.ReadFile(filepath.Join(base, "rapidphotoflow", "1-abc-beach.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	entries, err := os.ReadDir(filepath.Join(base, "rapidphotoflow"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp."), "temporary file left behind: %s", e.Name())
	}
}

func TestLocalStorage_UploadWithoutPublicURL(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	asset, err := storage.Upload(context.Background(), NewBytesFile("a.png", "", []byte("x")), UploadParams{AssetName: "a.png"})
	require.NoError(t, err)
	assert.Equal(t, "a.png", asset.PublicID)
	assert.True(t, strings.HasPrefix(asset.SecureURL, "file://"))
}

func TestLocalStorage_UploadCancelled(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = storage.Upload(ctx, NewBytesFile("a.png", "", []byte("x")), UploadParams{AssetName: "a.png"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, storage.Exists("a.png"))
}

func TestDiskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holiday.PNG")
	require.NoError(t, os.WriteFile(path, []byte("pngdata"), 0644))

	f, err := NewDiskFile(path)
	require.NoError(t, err)
	assert.Equal(t, "holiday.PNG", f.Name())
	assert.Equal(t, int64(7), f.Size())
	assert.Equal(t, "image/png", f.ContentType())

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()

	_, err = NewDiskFile(filepath.Dir(path))
	assert.Error(t, err)

	_, err = NewDiskFile(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func createTempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "not-a-dir")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
