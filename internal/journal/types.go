package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is one recorded item transition of an upload session. Seq orders
// events that share a timestamp.
type Event struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID       string    `json:"sessionId" gorm:"index;not null"`
	ItemID          string    `json:"itemId" gorm:"index;not null"`
	Seq             int64     `json:"seq"`
	FileName        string    `json:"fileName"`
	FromStatus      string    `json:"fromStatus"`
	ToStatus        string    `json:"toStatus" gorm:"index;not null"`
	StoragePublicID string    `json:"storagePublicId,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorSource     string    `json:"errorSource,omitempty"`
	CreatedAt       time.Time `json:"createdAt" gorm:"index"`
}

// TableName sets the table name for Event
func (Event) TableName() string {
	return "upload_events"
}

// BeforeCreate generates a UUID for the event ID
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// EventQuery filters journal reads
type EventQuery struct {
	SessionID string
	ItemID    string
	ToStatus  string
	Since     *time.Time
	Limit     int
}

// SessionSummary counts the last known status of every item of a session
type SessionSummary struct {
	SessionID string         `json:"sessionId"`
	Items     int            `json:"items"`
	Events    int64          `json:"events"`
	ByStatus  map[string]int `json:"byStatus"`
	StartedAt *time.Time     `json:"startedAt,omitempty"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}
