package storage

import (
	"context"
	"errors"

	"github.com/lgulliver/photoflow/pkg/types"
)

var (
	// ErrUploadFailed wraps every backend failure returned from Upload
	ErrUploadFailed = errors.New("storage upload failed")
	// ErrUnsupportedType is returned by the factory for an unknown backend
	ErrUnsupportedType = errors.New("unsupported storage type")
)

// UploadParams tells a backend where to put an object
type UploadParams struct {
	// Folder is the destination folder or key prefix
	Folder string
	// AssetName is the unique object name inside Folder
	AssetName string
}

// Key joins folder and asset name into an object key
func (p UploadParams) Key() string {
	if p.Folder == "" {
		return p.AssetName
	}
	return p.Folder + "/" + p.AssetName
}

// Uploader defines the interface for pushing a file to object storage
type Uploader interface {
	// Upload stores the file and returns the backend's description of it.
	// A non-nil error means nothing usable was stored.
	Upload(ctx context.Context, file File, params UploadParams) (*types.StoredAsset, error)
}
