package storage

import (
	"context"
	"fmt"

	"github.com/lgulliver/photoflow/pkg/config"
)

// StorageFactory creates uploaders based on configuration
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateUploader creates an uploader for the configured type
func (sf *StorageFactory) CreateUploader(ctx context.Context) (Uploader, error) {
	switch sf.config.Type {
	case "local":
		return NewLocalStorage(sf.config.LocalPath, sf.config.PublicURL)
	case "s3":
		return NewS3Storage(ctx, sf.config)
	case "gcs":
		return NewGCSStorage(ctx, sf.config.Bucket, sf.config.PublicURL)
	case "http":
		return NewHTTPStorage(HTTPStorageOptions{
			Endpoint:     sf.config.Endpoint,
			CloudName:    sf.config.CloudName,
			UploadPreset: sf.config.UploadPreset,
			APIKey:       sf.config.APIKey,
			Timeout:      sf.config.Timeout,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, sf.config.Type)
	}
}
