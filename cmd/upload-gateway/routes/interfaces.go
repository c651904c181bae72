package routes

import (
	"context"

	"github.com/lgulliver/photoflow/internal/journal"
	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/internal/upload"
)

// Pipeline is the part of upload.Orchestrator the upload routes drive
type Pipeline interface {
	StartSession(ctx context.Context, files []storage.File) (<-chan struct{}, error)
	Snapshot() upload.Snapshot
	RetryFailedStorageUploads() int
	RetryFailedRegistrations(ctx context.Context) int
	ClearSession()
	IsUploading() bool
	SessionID() string
}

// EventLog reads the transition journal
type EventLog interface {
	List(ctx context.Context, q journal.EventQuery) ([]journal.Event, error)
	Summary(ctx context.Context, sessionID string) (*journal.SessionSummary, error)
}

// SnapshotReader reads snapshots published by the progress mirror
type SnapshotReader interface {
	Load(ctx context.Context, sessionID string) (*upload.Snapshot, error)
}
