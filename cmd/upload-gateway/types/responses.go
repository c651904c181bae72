package types

import "github.com/lgulliver/photoflow/internal/upload"

// APIResponse is the envelope of every gateway response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UploadAccepted is returned when a session has been started
type UploadAccepted struct {
	SessionID string   `json:"sessionId"`
	Files     int      `json:"files"`
	Names     []string `json:"names"`
}

// RetryResult reports how many items a retry picked up
type RetryResult struct {
	SessionID string          `json:"sessionId"`
	Retried   int             `json:"retried"`
	Progress  upload.Progress `json:"progress"`
}

// ProgressResponse is the lightweight polling payload
type ProgressResponse struct {
	SessionID   string          `json:"sessionId"`
	IsUploading bool            `json:"isUploading"`
	Progress    upload.Progress `json:"progress"`
	Error       string          `json:"error,omitempty"`
}
