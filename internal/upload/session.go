package upload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgulliver/photoflow/pkg/types"
)

// signal is a channel that is closed at most once
type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func closedSignal() *signal {
	s := newSignal()
	s.close()
	return s
}

func (s *signal) close() {
	s.once.Do(func() { close(s.ch) })
}

// wait blocks until the signal closes or timeout elapses. A zero timeout
// waits forever.
func (s *signal) wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-s.ch
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}

// pendingEntry is one item waiting in the registration queue
type pendingEntry struct {
	itemID    string
	request   types.RegisterRequest
	submitted bool
}

// batch is a group of registrations submitted together
type batch struct {
	reason  string
	entries []pendingEntry
	done    *signal
}

func newBatch(reason string, entries []pendingEntry) *batch {
	return &batch{reason: reason, entries: entries, done: newSignal()}
}

// session is the mutable bookkeeping of one upload session. Item state lives
// in the Store; everything here is guarded by mu.
type session struct {
	token   string
	started time.Time
	invalid atomic.Bool

	// ctx carries uploads and registrations; it outlives the caller's request.
	// loopCtx only stops the scheduler from waiting once the session is abandoned.
	ctx     context.Context
	loopCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	queue    []string
	inflight int
	driving  bool
	done     *signal
	wake     chan struct{}

	pending     []*pendingEntry
	registering bool
	batches     []*batch
	idle        *signal
}

func newSession(parent context.Context, token string, ids []string) *session {
	ctx := context.WithoutCancel(parent)
	loopCtx, stop := context.WithCancel(ctx)
	return &session{
		token:   token,
		started: time.Now(),
		ctx:     ctx,
		loopCtx: loopCtx,
		stop:    stop,
		queue:   ids,
		wake:    make(chan struct{}, 1),
		done:    closedSignal(),
		idle:    closedSignal(),
	}
}

// notify wakes the scheduler loop without blocking
func (s *session) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) stale() bool {
	return s.invalid.Load()
}

// isDriving reports whether the scheduler or final flush is running
func (s *session) isDriving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driving
}

// abandon marks the session stale and releases everyone waiting on it
func (s *session) abandon() {
	s.invalid.Store(true)
	s.stop()

	s.mu.Lock()
	s.queue = nil
	s.pending = nil
	s.driving = false
	queued := s.batches
	s.batches = nil
	done := s.done
	s.mu.Unlock()

	for _, b := range queued {
		b.done.close()
	}
	done.close()
	s.notify()
}

// addPendingLocked appends an entry unless the item is already queued. Caller holds mu.
func (s *session) addPendingLocked(itemID string, req types.RegisterRequest) bool {
	for _, e := range s.pending {
		if e.itemID == itemID {
			return false
		}
	}
	s.pending = append(s.pending, &pendingEntry{itemID: itemID, request: req})
	return true
}

func (s *session) unsubmittedLocked() int {
	n := 0
	for _, e := range s.pending {
		if !e.submitted {
			n++
		}
	}
	return n
}

// claimLocked marks up to n unsubmitted entries as submitted and returns
// copies of them in queue order. Caller holds mu.
func (s *session) claimLocked(n int) []pendingEntry {
	var out []pendingEntry
	for _, e := range s.pending {
		if len(out) == n {
			break
		}
		if e.submitted {
			continue
		}
		e.submitted = true
		out = append(out, *e)
	}
	return out
}

// claimMatching marks every entry accepted by keep as submitted and returns copies
func (s *session) claimMatching(keep func(pendingEntry) bool) []pendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pendingEntry
	for _, e := range s.pending {
		if keep(*e) {
			e.submitted = true
			out = append(out, *e)
		}
	}
	return out
}

func (s *session) removePending(itemIDs map[string]struct{}) {
	if len(itemIDs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, e := range s.pending {
		if _, drop := itemIDs[e.itemID]; !drop {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
}

func (s *session) pendingIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.pending))
	for _, e := range s.pending {
		ids[e.itemID] = struct{}{}
	}
	return ids
}

func (s *session) clearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// dropQueuedBatches discards batches waiting behind the one in flight and
// returns their entries
func (s *session) dropQueuedBatches() []pendingEntry {
	s.mu.Lock()
	queued := s.batches
	s.batches = nil
	s.mu.Unlock()

	var dropped []pendingEntry
	for _, b := range queued {
		dropped = append(dropped, b.entries...)
		b.done.close()
	}
	return dropped
}

// batcherIdle returns the signal that closes once no batch is in flight
func (s *session) batcherIdle() *signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}
