package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/lgulliver/photoflow/pkg/utils"
	"github.com/rs/zerolog/log"
)

// LocalStorage implements Uploader on the local filesystem
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new local storage instance. publicURL, when set,
// is the prefix the stored files are served from.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Upload writes the file atomically under basePath/folder/assetName
func (ls *LocalStorage) Upload(ctx context.Context, file File, params UploadParams) (*types.StoredAsset, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := params.Key()
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to create directory")
		return nil, fmt.Errorf("%w: failed to create directory: %v", ErrUploadFailed, err)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open source: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	tempPath := fmt.Sprintf("%s.tmp.%d", fullPath, time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("temp_path", tempPath).Msg("failed to create temporary file")
		return nil, fmt.Errorf("%w: failed to create temporary file: %v", ErrUploadFailed, err)
	}
	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), src)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write content: %v", ErrUploadFailed, err)
	}
	if err := tempFile.Sync(); err != nil {
		return nil, fmt.Errorf("%w: failed to sync temporary file: %v", ErrUploadFailed, err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to move temporary file to final location")
		return nil, fmt.Errorf("%w: failed to move file to final location: %v", ErrUploadFailed, err)
	}

	log.Debug().
		Str("key", key).
		Int64("bytes_written", written).
		Str("checksum", hex.EncodeToString(hasher.Sum(nil))).
		Dur("duration", time.Since(startTime)).
		Msg("file stored")

	return &types.StoredAsset{
		PublicID:  key,
		SecureURL: ls.urlFor(key, fullPath),
		Bytes:     written,
		Format:    utils.FormatFromName(file.Name()),
	}, nil
}

// Exists reports whether publicID has been stored
func (ls *LocalStorage) Exists(publicID string) bool {
	_, err := os.Stat(filepath.Join(ls.basePath, filepath.FromSlash(publicID)))
	return err == nil
}

func (ls *LocalStorage) urlFor(key, fullPath string) string {
	if ls.publicURL != "" {
		return ls.publicURL + "/" + key
	}
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		abs = fullPath
	}
	return "file://" + filepath.ToSlash(abs)
}
