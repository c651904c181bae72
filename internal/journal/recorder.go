package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgulliver/photoflow/internal/upload"
	"github.com/rs/zerolog/log"
)

const (
	defaultBufferSize = 1024
	flushBatchSize    = 64
	writeTimeout      = 5 * time.Second
)

// Recorder is an upload.Observer that writes transitions to the journal in
// the background. OnTransition never blocks: when the buffer is full the
// event is dropped and counted.
type Recorder struct {
	service *Service
	events  chan *Event
	seq     atomic.Int64
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts the writer goroutine. bufferSize <= 0 uses a default.
func NewRecorder(service *Service, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Recorder{
		service: service,
		events:  make(chan *Event, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// OnTransition implements upload.Observer
func (r *Recorder) OnTransition(t upload.Transition) {
	event := &Event{
		SessionID:       t.SessionID,
		ItemID:          t.Item.ID,
		Seq:             r.seq.Add(1),
		FileName:        t.Item.FileName,
		FromStatus:      string(t.From),
		ToStatus:        string(t.To),
		StoragePublicID: t.Item.StoragePublicID,
		Error:           t.Item.Error,
		ErrorSource:     string(t.Item.ErrorSource),
		CreatedAt:       time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.events <- event:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn().Int64("dropped", n).Msg("upload journal buffer full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events, writes what is buffered and waits for the
// writer to finish or ctx to expire
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]*Event, 0, flushBatchSize)
	for event := range r.events {
		batch = append(batch, event)
	drain:
		for len(batch) < flushBatchSize {
			select {
			case next, ok := <-r.events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		r.write(batch)
		batch = batch[:0]
	}
}

func (r *Recorder) write(batch []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.service.RecordBatch(ctx, batch); err != nil {
		log.Error().Err(err).Int("events", len(batch)).Msg("failed to write upload journal")
	}
}
