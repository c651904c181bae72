package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lgulliver/photoflow/pkg/utils"
)

// File is a read-only handle to the bytes being uploaded
type File interface {
	Name() string
	Size() int64
	ContentType() string
	Open() (io.ReadCloser, error)
}

// DiskFile is a File backed by a path on the local filesystem
type DiskFile struct {
	path string
	size int64
}

// NewDiskFile stats path and returns a handle to it
func NewDiskFile(path string) (*DiskFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &DiskFile{path: path, size: info.Size()}, nil
}

func (f *DiskFile) Name() string        { return filepath.Base(f.path) }
func (f *DiskFile) Size() int64         { return f.size }
func (f *DiskFile) ContentType() string { return utils.ContentTypeFor(f.path, "") }

func (f *DiskFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// BytesFile is an in-memory File, used for multipart uploads and tests
type BytesFile struct {
	name        string
	contentType string
	data        []byte
}

// NewBytesFile wraps data; an empty contentType is derived from the name
func NewBytesFile(name, contentType string, data []byte) *BytesFile {
	if contentType == "" {
		contentType = utils.ContentTypeFor(name, "")
	}
	return &BytesFile{name: name, contentType: contentType, data: data}
}

func (f *BytesFile) Name() string        { return f.name }
func (f *BytesFile) Size() int64         { return int64(len(f.data)) }
func (f *BytesFile) ContentType() string { return f.contentType }

func (f *BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
