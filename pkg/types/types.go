package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// PhotoStatus is the processing status the registry keeps for a photo
type PhotoStatus string

const (
	PhotoStatusUploaded   PhotoStatus = "UPLOADED"
	PhotoStatusProcessing PhotoStatus = "PROCESSING"
	PhotoStatusCompleted  PhotoStatus = "COMPLETED"
	PhotoStatusReviewed   PhotoStatus = "REVIEWED"
	PhotoStatusFailed     PhotoStatus = "FAILED"
)

// Valid reports whether s is one of the known registry statuses
func (s PhotoStatus) Valid() bool {
	switch s {
	case PhotoStatusUploaded, PhotoStatusProcessing, PhotoStatusCompleted, PhotoStatusReviewed, PhotoStatusFailed:
		return true
	}
	return false
}

// DeleteMode selects how a bulk delete picks its targets
type DeleteMode string

const (
	DeleteModeExplicit     DeleteMode = "EXPLICIT"
	DeleteModeAll          DeleteMode = "ALL"
	DeleteModeAllCompleted DeleteMode = "ALL_COMPLETED"
	DeleteModeAllReviewed  DeleteMode = "ALL_REVIEWED"
)

// StoredAsset is what the object storage returns for a successful upload
type StoredAsset struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url,omitempty"`
	Bytes     int64  `json:"bytes"`
	Format    string `json:"format"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// RegisterRequest describes one stored asset to be registered with the backend
type RegisterRequest struct {
	StoragePublicID  string `json:"storagePublicId"`
	StorageURL       string `json:"storageUrl"`
	OriginalFileName string `json:"originalFileName"`
	SizeBytes        int64  `json:"sizeBytes"`
	ContentType      string `json:"contentType"`
}

// BulkRegisterRequest is the body of the bulk registration call
type BulkRegisterRequest struct {
	Photos []RegisterRequest `json:"photos"`
}

// RegistrationResult is the per-item outcome of a bulk registration
type RegistrationResult struct {
	StoragePublicID string `json:"storagePublicId"`
	Success         bool   `json:"success"`
	Photo           *Photo `json:"photo,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Photo is the registry's record for a registered asset
type Photo struct {
	ID               string      `json:"id"`
	StoragePublicID  string      `json:"storagePublicId,omitempty"`
	StorageURL       string      `json:"storageUrl,omitempty"`
	OriginalFileName string      `json:"originalFileName"`
	SizeBytes        int64       `json:"sizeBytes,omitempty"`
	ContentType      string      `json:"contentType"`
	Status           PhotoStatus `json:"status"`
	ThumbnailURL     string      `json:"thumbnailUrl,omitempty"`
	ProcessedAt      *Timestamp  `json:"processedAt,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	CreatedAt        Timestamp   `json:"createdAt"`
	UpdatedAt        Timestamp   `json:"updatedAt"`
}

// PhotoStatusUpdateRequest changes the status of a single photo
type PhotoStatusUpdateRequest struct {
	Status       PhotoStatus `json:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// BulkStatusUpdateRequest changes the status of several photos at once
type BulkStatusUpdateRequest struct {
	PhotoIDs []string    `json:"photoIds"`
	Status   PhotoStatus `json:"status"`
}

// ListPhotosQuery filters a photo listing; nil fields are not sent
type ListPhotosQuery struct {
	Status PhotoStatus
	Page   *int
	Size   *int
}

// BulkDeleteRequest deletes photos either by explicit ids or by mode
type BulkDeleteRequest struct {
	PhotoIDs     []string      `json:"photoIds,omitempty"`
	Mode         DeleteMode    `json:"mode,omitempty"`
	StatusFilter []PhotoStatus `json:"statusFilter,omitempty"`
}

// Validate defaults the mode to EXPLICIT and checks that ids and mode are not mixed
func (r *BulkDeleteRequest) Validate() error {
	if r.Mode == "" {
		r.Mode = DeleteModeExplicit
	}

	switch r.Mode {
	case DeleteModeExplicit, DeleteModeAll, DeleteModeAllCompleted, DeleteModeAllReviewed:
	default:
		return fmt.Errorf("unknown delete mode: %s", r.Mode)
	}

	if r.Mode == DeleteModeExplicit && len(r.PhotoIDs) == 0 {
		return fmt.Errorf("photoIds must be provided when mode is %s", DeleteModeExplicit)
	}
	if r.Mode != DeleteModeExplicit && len(r.PhotoIDs) > 0 {
		return fmt.Errorf("photoIds should not be provided when using mode-based deletion")
	}
	return nil
}

// FailedDeletion reports a photo whose stored asset could not be removed
type FailedDeletion struct {
	PhotoID         string `json:"photoId"`
	StoragePublicID string `json:"storagePublicId"`
	Error           string `json:"error"`
}

// BulkDeleteResponse summarises a bulk delete
type BulkDeleteResponse struct {
	RequestedCount     int              `json:"requestedCount"`
	DeletedCount       int              `json:"deletedCount"`
	StorageFailedCount int              `json:"storageFailedCount"`
	StorageFailed      []FailedDeletion `json:"storageFailed"`
}

// APIResponse is the envelope every registry endpoint answers with
type APIResponse[T any] struct {
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Data       T      `json:"data"`
}

// Timestamp accepts both RFC 3339 and zone-less local date-times, which is
// what the registry emits for its LocalDateTime fields.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if raw == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
