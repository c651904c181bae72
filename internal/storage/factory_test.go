package storage

import (
	"context"
	"testing"

	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateLocalUploader(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{
		Type:      "local",
		LocalPath: t.TempDir(),
	})

	uploader, err := factory.CreateUploader(context.Background())
	require.NoError(t, err)
	require.IsType(t, &LocalStorage{}, uploader)

	asset, err := uploader.Upload(context.Background(), NewBytesFile("f.jpg", "", []byte("content")), UploadParams{Folder: "x", AssetName: "f.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "x/f.jpg", asset.PublicID)
}

func TestStorageFactory_CreateHTTPUploader(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{
		Type:         "http",
		Endpoint:     "https://api.example.com/v1_1/",
		CloudName:    "demo",
		UploadPreset: "unsigned",
	})

	uploader, err := factory.CreateUploader(context.Background())
	require.NoError(t, err)
	require.IsType(t, &HTTPStorage{}, uploader)
	assert.Equal(t, "https://api.example.com/v1_1/demo/image/upload", uploader.(*HTTPStorage).uploadURL)
}

func TestStorageFactory_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
		is   error
	}{
		{name: "unsupported type", cfg: config.StorageConfig{Type: "azure"}, is: ErrUnsupportedType},
		{name: "s3 without bucket", cfg: config.StorageConfig{Type: "s3"}},
		{name: "gcs without bucket", cfg: config.StorageConfig{Type: "gcs"}},
		{name: "http without endpoint", cfg: config.StorageConfig{Type: "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStorageFactory(&tt.cfg).CreateUploader(context.Background())
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestUploadParams_Key(t *testing.T) {
	assert.Equal(t, "a/b.jpg", UploadParams{Folder: "a", AssetName: "b.jpg"}.Key())
	assert.Equal(t, "b.jpg", UploadParams{AssetName: "b.jpg"}.Key())
}
