package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultListLimit = 500

// Service persists and queries upload events
type Service struct {
	db *gorm.DB
}

// NewService creates a journal service on db
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Migrate creates the events table
func (s *Service) Migrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Record stores a single event
func (s *Service) Record(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record upload event: %w", err)
	}
	return nil
}

// RecordBatch stores several events in one insert
func (s *Service) RecordBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(events, 100).Error; err != nil {
		return fmt.Errorf("failed to record upload events: %w", err)
	}
	return nil
}

// List returns events matching q, oldest first
func (s *Service) List(ctx context.Context, q EventQuery) ([]Event, error) {
	db := s.db.WithContext(ctx).Model(&Event{})
	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.ItemID != "" {
		db = db.Where("item_id = ?", q.ItemID)
	}
	if q.ToStatus != "" {
		db = db.Where("to_status = ?", q.ToStatus)
	}
	if q.Since != nil {
		db = db.Where("created_at >= ?", *q.Since)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var events []Event
	if err := db.Order("created_at ASC, seq ASC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list upload events: %w", err)
	}
	return events, nil
}

// Summary derives per-status counts from the latest event of every item
func (s *Service) Summary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var events []Event
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load session events: %w", err)
	}

	summary := &SessionSummary{
		SessionID: sessionID,
		Events:    int64(len(events)),
		ByStatus:  make(map[string]int),
	}
	latest := make(map[string]string)
	for i := range events {
		latest[events[i].ItemID] = events[i].ToStatus
		if summary.StartedAt == nil {
			summary.StartedAt = &events[i].CreatedAt
		}
		summary.UpdatedAt = &events[i].CreatedAt
	}
	for _, status := range latest {
		summary.ByStatus[status]++
	}
	summary.Items = len(latest)
	return summary, nil
}

// Purge deletes events older than cutoff and returns how many were removed
func (s *Service) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge upload events: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("deleted", res.RowsAffected).Time("cutoff", cutoff).Msg("purged upload events")
	}
	return res.RowsAffected, nil
}
