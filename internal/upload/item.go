package upload

import (
	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/lgulliver/photoflow/pkg/utils"
)

// Status is the lifecycle state of one upload item
type Status string

const (
	StatusQueued              Status = "QUEUED"
	StatusUploadingToStorage  Status = "UPLOADING_TO_STORAGE"
	StatusUploadedToStorage   Status = "UPLOADED_TO_STORAGE"
	StatusStorageUploadFailed Status = "STORAGE_UPLOAD_FAILED"
	StatusRegistering         Status = "REGISTERING"
	StatusRegistered          Status = "REGISTERED"
	StatusRegistrationFailed  Status = "REGISTRATION_FAILED"
)

// Terminal reports whether no further automatic transition will happen
func (s Status) Terminal() bool {
	switch s {
	case StatusRegistered, StatusStorageUploadFailed, StatusRegistrationFailed:
		return true
	}
	return false
}

// ErrorSource tells which stage produced an item's error
type ErrorSource string

const (
	SourceStorage ErrorSource = "storage"
	SourceBackend ErrorSource = "backend"
)

// Item is one file's unit of work. Values handed out by the store are copies.
type Item struct {
	ID              string       `json:"id"`
	FileName        string       `json:"fileName"`
	File            storage.File `json:"-"`
	Status          Status       `json:"status"`
	StoragePublicID string       `json:"storagePublicId,omitempty"`
	StorageURL      string       `json:"storageUrl,omitempty"`
	SizeBytes       int64        `json:"sizeBytes,omitempty"`
	ContentType     string       `json:"contentType,omitempty"`
	Error           string       `json:"error,omitempty"`
	ErrorSource     ErrorSource  `json:"errorSource,omitempty"`
}

// registerRequest rebuilds the registration payload from stored fields
func (i Item) registerRequest() types.RegisterRequest {
	ct := i.ContentType
	if ct == "" {
		ct = utils.ContentTypeFor(i.FileName, "")
	}
	return types.RegisterRequest{
		StoragePublicID:  i.StoragePublicID,
		StorageURL:       i.StorageURL,
		OriginalFileName: i.FileName,
		SizeBytes:        i.SizeBytes,
		ContentType:      ct,
	}
}

// Progress is derived from the item list on every read
type Progress struct {
	Total              int `json:"total"`
	StorageUploaded    int `json:"storageUploaded"`
	StorageFailed      int `json:"storageFailed"`
	StorageUploading   int `json:"storageUploading"`
	Registered         int `json:"registered"`
	RegistrationFailed int `json:"registrationFailed"`
	Registering        int `json:"registering"`
	Completed          int `json:"completed"`
	Failed             int `json:"failed"`
}

func computeProgress(items []*Item) Progress {
	p := Progress{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusUploadingToStorage:
			p.StorageUploading++
		case StatusStorageUploadFailed:
			p.StorageFailed++
		case StatusUploadedToStorage:
			p.StorageUploaded++
		case StatusRegistering:
			p.StorageUploaded++
			p.Registering++
		case StatusRegistered:
			p.StorageUploaded++
			p.Registered++
		case StatusRegistrationFailed:
			p.StorageUploaded++
			p.RegistrationFailed++
		}
	}
	p.Completed = p.Registered
	p.Failed = p.StorageFailed + p.RegistrationFailed
	return p
}
