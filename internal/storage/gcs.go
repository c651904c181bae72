package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/lgulliver/photoflow/pkg/utils"
	"github.com/rs/zerolog/log"
)

// ObjectWriterFunc opens a writer for bucket/object with the given content type
type ObjectWriterFunc func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// GCSStorage implements Uploader on Google Cloud Storage
type GCSStorage struct {
	newWriter ObjectWriterFunc
	bucket    string
	publicURL string
	closer    io.Closer
}

// NewGCSStorage creates a client using application default credentials
func NewGCSStorage(ctx context.Context, bucket, publicURL string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage requires a bucket")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	newWriter := func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}

	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}

	log.Info().Str("bucket", bucket).Msg("gcs storage initialized")
	s := NewGCSStorageWithWriter(newWriter, bucket, publicURL)
	s.closer = client
	return s, nil
}

// NewGCSStorageWithWriter wires a custom writer factory
func NewGCSStorageWithWriter(newWriter ObjectWriterFunc, bucket, publicURL string) *GCSStorage {
	return &GCSStorage{
		newWriter: newWriter,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Upload streams the file into bucket/folder/assetName. The object is only
// committed once the writer closes cleanly.
func (s *GCSStorage) Upload(ctx context.Context, file File, params UploadParams) (*types.StoredAsset, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open source: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	object := params.Key()
	w := s.newWriter(ctx, s.bucket, object, file.ContentType())

	written, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: copy to gcs failed: %v", ErrUploadFailed, err)
	}
	if err := w.Close(); err != nil {
		log.Warn().Err(err).Str("bucket", s.bucket).Str("object", object).Msg("gcs finalize failed")
		return nil, fmt.Errorf("%w: failed to finalize upload: %v", ErrUploadFailed, err)
	}

	return &types.StoredAsset{
		PublicID:  object,
		SecureURL: s.publicURL + "/" + object,
		Bytes:     written,
		Format:    utils.FormatFromName(file.Name()),
	}, nil
}

// Close releases the underlying client, if this storage owns one
func (s *GCSStorage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
