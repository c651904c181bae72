package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lgulliver/photoflow/internal/common"
	"github.com/lgulliver/photoflow/internal/upload"
	"github.com/rs/zerolog/log"
)

const (
	defaultKeyPrefix = "photoflow:upload:"
	defaultInterval  = 250 * time.Millisecond
	defaultTTL       = time.Hour
	writeTimeout     = 2 * time.Second
)

// ErrNotFound is returned by Load when no snapshot is stored
var ErrNotFound = errors.New("progress snapshot not found")

// SnapshotCache is the subset of common.Cache the mirror writes to
type SnapshotCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// SnapshotSource produces the snapshot to publish
type SnapshotSource func() upload.Snapshot

// Options tunes a Mirror
type Options struct {
	KeyPrefix string
	// Interval is the minimum time between two writes
	Interval time.Duration
	TTL      time.Duration
}

// Mirror publishes session snapshots to a shared cache so that other gateway
// replicas and dashboards can read progress. Transitions only mark the
// mirror dirty; a background writer coalesces them.
type Mirror struct {
	cache  SnapshotCache
	source SnapshotSource
	opts   Options

	dirty chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	lastErr error
	writes  int
}

// NewMirror starts the background writer
func NewMirror(cache SnapshotCache, source SnapshotSource, opts Options) *Mirror {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	m := &Mirror{
		cache:  cache,
		source: source,
		opts:   opts,
		dirty:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// OnTransition implements upload.Observer
func (m *Mirror) OnTransition(upload.Transition) {
	m.MarkDirty()
}

// MarkDirty schedules a write without blocking
func (m *Mirror) MarkDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// SessionKey is the cache key of one session's snapshot
func (m *Mirror) SessionKey(sessionID string) string {
	return m.opts.KeyPrefix + "session:" + sessionID
}

// CurrentKey is the cache key of the latest session's snapshot
func (m *Mirror) CurrentKey() string {
	return m.opts.KeyPrefix + "current"
}

// Flush writes the current snapshot immediately
func (m *Mirror) Flush(ctx context.Context) error {
	snap := m.source()

	var err error
	if snap.SessionID == "" {
		err = m.cache.Delete(ctx, m.CurrentKey())
	} else {
		err = m.cache.Set(ctx, m.SessionKey(snap.SessionID), snap, m.opts.TTL)
		if err == nil {
			err = m.cache.Set(ctx, m.CurrentKey(), snap, m.opts.TTL)
		}
	}
	if err != nil {
		err = fmt.Errorf("failed to publish progress snapshot: %w", err)
	}

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.writes++
	}
	m.mu.Unlock()
	return err
}

// Load reads a published snapshot. An empty sessionID reads the latest one.
func (m *Mirror) Load(ctx context.Context, sessionID string) (*upload.Snapshot, error) {
	key := m.CurrentKey()
	if sessionID != "" {
		key = m.SessionKey(sessionID)
	}
	var snap upload.Snapshot
	if err := m.cache.Get(ctx, key, &snap); err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// Writes returns the number of successful writes
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// LastError returns the error of the most recent write, if any
func (m *Mirror) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Close stops the writer and publishes a last snapshot
func (m *Mirror) Close(ctx context.Context) error {
	m.once.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Flush(ctx)
}

func (m *Mirror) run() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		case <-m.dirty:
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := m.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("progress mirror write failed")
		}
		cancel()

		// transitions arriving meanwhile collapse into one more write
		timer := time.NewTimer(m.opts.Interval)
		select {
		case <-m.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
