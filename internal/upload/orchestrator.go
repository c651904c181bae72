package upload

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/rs/zerolog/log"
)

// Registrar is the part of the registry the pipeline depends on
type Registrar interface {
	BulkRegister(ctx context.Context, photos []types.RegisterRequest) ([]types.RegistrationResult, error)
}

// Options tunes an Orchestrator
type Options struct {
	// Concurrency bounds in-flight storage uploads
	Concurrency int
	// BatchSize is the registration batch threshold
	BatchSize int
	// FlushWaitTimeout bounds each wait of the final flush
	FlushWaitTimeout time.Duration
	// FinalRetryAttempts is how many extra batches the final flush sends
	// for entries that are still failed. Zero disables them.
	FinalRetryAttempts int
	// Folder is the destination folder passed to the uploader
	Folder string
	// Metrics may be nil
	Metrics *Metrics
	// Observers receive every item transition
	Observers []Observer
	// Now is used to name stored assets
	Now func() time.Time
}

// OptionsFromConfig maps the pipeline and storage sections onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:        cfg.Pipeline.Concurrency,
		BatchSize:          cfg.Pipeline.BatchSize,
		FlushWaitTimeout:   cfg.Pipeline.FlushWaitTimeout,
		FinalRetryAttempts: cfg.Pipeline.FinalRetryAttempts,
		Folder:             cfg.Storage.Folder,
	}
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.FlushWaitTimeout <= 0 {
		o.FlushWaitTimeout = 10 * time.Second
	}
	if o.FinalRetryAttempts < 0 {
		o.FinalRetryAttempts = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Snapshot is a consistent-enough view of the session for readers
type Snapshot struct {
	SessionID   string   `json:"sessionId"`
	IsUploading bool     `json:"isUploading"`
	Progress    Progress `json:"progress"`
	Items       []Item   `json:"items"`
	Error       string   `json:"error,omitempty"`
}

// Orchestrator owns the upload session: it starts the scheduler, runs the
// final flush and exposes state and retries to callers
type Orchestrator struct {
	uploader  storage.Uploader
	registrar Registrar
	opts      Options
	store     *Store
	metrics   *Metrics

	mu      sync.RWMutex
	session *session
}

// NewOrchestrator wires an orchestrator around an uploader and a registrar
func NewOrchestrator(uploader storage.Uploader, registrar Registrar, opts Options) *Orchestrator {
	opts.applyDefaults()

	observers := append([]Observer(nil), opts.Observers...)
	if opts.Metrics != nil {
		observers = append(observers, opts.Metrics)
	}

	return &Orchestrator{
		uploader:  uploader,
		registrar: registrar,
		opts:      opts,
		store:     NewStore(observers...),
		metrics:   opts.Metrics,
	}
}

// AddObserver registers an observer for subsequent transitions
func (o *Orchestrator) AddObserver(obs Observer) {
	o.store.AddObserver(obs)
}

// StartSession queues one item per file and starts uploading them. The
// returned channel closes once every item is terminal and the final flush has
// drained the registration queue, or when the session is cleared or replaced.
// It returns ErrSessionActive, without touching state, while another session
// is still uploading.
func (o *Orchestrator) StartSession(ctx context.Context, files []storage.File) (<-chan struct{}, error) {
	o.mu.Lock()
	if prev := o.session; prev != nil && !prev.stale() && prev.isDriving() {
		o.mu.Unlock()
		log.Warn().
			Str("session_id", prev.token).
			Int("files", len(files)).
			Msg("upload already in progress, ignoring new upload request")
		return nil, ErrSessionActive
	}

	token := uuid.NewString()
	items := make([]Item, 0, len(files))
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f == nil {
			continue
		}
		id := uuid.NewString()
		items = append(items, Item{ID: id, FileName: f.Name(), File: f, Status: StatusQueued})
		ids = append(ids, id)
	}

	s := newSession(ctx, token, ids)
	s.driving = true
	s.done = newSignal()

	prev := o.session
	o.store.Reset(token, items)
	o.session = s
	o.mu.Unlock()

	if prev != nil {
		prev.abandon()
	}

	o.metrics.sessionStarted()
	log.Info().Str("session_id", token).Int("items", len(items)).Msg("upload session started")

	go o.drive(s)
	return s.done.ch, nil
}

// UploadPhotos starts a session and blocks until it is finished
func (o *Orchestrator) UploadPhotos(ctx context.Context, files []storage.File) error {
	done, err := o.StartSession(ctx, files)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current session stops driving
func (o *Orchestrator) Wait(ctx context.Context) error {
	s := o.current()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFailedStorageUploads re-queues every STORAGE_UPLOAD_FAILED item with
// its storage fields cleared and restarts the scheduler if it has stopped.
// It returns the number of items re-queued.
func (o *Orchestrator) RetryFailedStorageUploads() int {
	s := o.current()
	if s == nil {
		return 0
	}
	failed := o.store.ItemsWithStatus(StatusStorageUploadFailed)

	s.mu.Lock()
	if s.stale() {
		s.mu.Unlock()
		return 0
	}
	n := 0
	for _, item := range failed {
		if o.store.ResetForRetry(s.token, item.ID) {
			s.queue = append(s.queue, item.ID)
			n++
		}
	}
	restart := n > 0 && !s.driving
	if restart {
		s.driving = true
		s.done = newSignal()
	}
	s.mu.Unlock()

	if n == 0 {
		return 0
	}
	s.notify()
	if restart {
		go o.drive(s)
	}

	log.Info().Str("session_id", s.token).Int("items", n).Bool("restarted", restart).Msg("retrying failed storage uploads")
	return n
}

// RetryFailedRegistrations resubmits every REGISTRATION_FAILED item that kept
// its storage fields as one batch, without uploading again, and waits for the
// batch to finish. It returns the number of items resubmitted.
func (o *Orchestrator) RetryFailedRegistrations(ctx context.Context) int {
	s := o.current()
	if s == nil {
		return 0
	}

	var entries []pendingEntry
	for _, item := range o.store.ItemsWithStatus(StatusRegistrationFailed) {
		if item.StoragePublicID == "" || item.StorageURL == "" {
			continue
		}
		if !o.store.MarkRegistering(s.token, item.ID) {
			continue
		}
		entries = append(entries, pendingEntry{itemID: item.ID, request: item.registerRequest(), submitted: true})
	}
	if len(entries) == 0 {
		return 0
	}

	log.Info().Str("session_id", s.token).Int("items", len(entries)).Msg("retrying failed registrations")

	b := newBatch("retry", entries)
	o.submit(s, b)
	select {
	case <-b.done.ch:
	case <-ctx.Done():
	}
	return len(entries)
}

// ClearSession drops every item and makes all pending work of the current
// session a no-op
func (o *Orchestrator) ClearSession() {
	o.mu.Lock()
	s := o.session
	o.session = nil
	o.store.Reset("", nil)
	o.mu.Unlock()

	if s != nil {
		s.abandon()
		log.Info().Str("session_id", s.token).Msg("upload session cleared")
	}
}

// Items returns the items of the current session in upload order
func (o *Orchestrator) Items() []Item {
	return o.store.Items()
}

// Progress derives the counters of the current session
func (o *Orchestrator) Progress() Progress {
	return o.store.Progress()
}

// IsUploading is true from session start until its final flush completes
func (o *Orchestrator) IsUploading() bool {
	s := o.current()
	return s != nil && !s.stale() && s.isDriving()
}

// SessionID returns the current session token, empty when there is none
func (o *Orchestrator) SessionID() string {
	return o.store.SessionID()
}

// Error returns the last storage error message of the current session
func (o *Orchestrator) Error() string {
	return o.store.LastError()
}

// Snapshot gathers the read side in one value
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		SessionID:   o.SessionID(),
		IsUploading: o.IsUploading(),
		Progress:    o.Progress(),
		Items:       o.Items(),
		Error:       o.Error(),
	}
}

func (o *Orchestrator) current() *session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session
}

// drive runs the scheduler and the final flush until no retried work is left
func (o *Orchestrator) drive(s *session) {
	for {
		o.runScheduler(s)
		if s.stale() {
			return
		}

		o.finalFlush(s)

		s.mu.Lock()
		if !s.stale() && len(s.queue) > 0 {
			s.mu.Unlock()
			continue
		}
		s.driving = false
		done := s.done
		s.mu.Unlock()

		done.close()
		if !s.stale() {
			p := o.store.Progress()
			log.Info().
				Str("session_id", s.token).
				Int("total", p.Total).
				Int("registered", p.Registered).
				Int("failed", p.Failed).
				Dur("elapsed", time.Since(s.started)).
				Msg("upload session finished")
		}
		return
	}
}

// finalFlush registers everything the batch threshold left behind. Every
// wait is bounded by FlushWaitTimeout; whatever is still REGISTERING or
// UPLOADED_TO_STORAGE at the end is failed so that no item is left unresolved.
func (o *Orchestrator) finalFlush(s *session) {
	timeout := o.opts.FlushWaitTimeout

	if !s.batcherIdle().wait(timeout) {
		dropped := s.dropQueuedBatches()
		log.Warn().
			Str("session_id", s.token).
			Dur("timeout", timeout).
			Int("dropped_items", len(dropped)).
			Msg("timed out waiting for registrations in flight")
		o.failRegistering(s, msgRegistrationTimeout)
		// dropped entries stay pending and go out again with the final batch
		for _, e := range dropped {
			o.forceRegistrationFailure(s, e.itemID, msgRegistrationTimeout)
		}
	}
	if s.stale() {
		return
	}

	queued := s.pendingIDs()
	for _, item := range o.store.ItemsWithStatus(StatusUploadedToStorage) {
		if _, ok := queued[item.ID]; ok {
			continue
		}
		log.Warn().
			Str("session_id", s.token).
			Str("item_id", item.ID).
			Msg("uploaded item missing from registration queue, re-queuing")
		s.mu.Lock()
		s.addPendingLocked(item.ID, item.registerRequest())
		s.mu.Unlock()
	}

	remaining := s.claimMatching(func(e pendingEntry) bool {
		item, ok := o.store.Get(e.itemID)
		return ok && item.Status != StatusRegistered
	})
	o.submitAndWait(s, "final", remaining, timeout)

	for attempt := 1; attempt <= o.opts.FinalRetryAttempts && !s.stale(); attempt++ {
		failed := s.claimMatching(func(e pendingEntry) bool {
			item, ok := o.store.Get(e.itemID)
			return ok && item.Status == StatusRegistrationFailed
		})
		if len(failed) == 0 {
			break
		}
		log.Info().
			Str("session_id", s.token).
			Int("attempt", attempt).
			Int("items", len(failed)).
			Msg("retrying failed registrations before finishing")
		o.submitAndWait(s, "final-retry", failed, timeout)
	}
	if s.stale() {
		return
	}

	if dropped := s.dropQueuedBatches(); len(dropped) > 0 {
		log.Warn().Str("session_id", s.token).Int("dropped_items", len(dropped)).Msg("dropping batches queued behind a stalled registration")
	}
	o.failRegistering(s, msgRegistrationNoAnswer)
	for _, item := range o.store.ItemsWithStatus(StatusUploadedToStorage) {
		o.forceRegistrationFailure(s, item.ID, msgRegistrationNoAnswer)
	}
	s.clearPending()
}

func (o *Orchestrator) submitAndWait(s *session, reason string, entries []pendingEntry, timeout time.Duration) {
	if len(entries) == 0 {
		return
	}
	b := newBatch(reason, entries)
	o.submit(s, b)
	if !b.done.wait(timeout) {
		log.Warn().
			Str("session_id", s.token).
			Str("reason", reason).
			Int("size", len(entries)).
			Msg("registration batch did not finish in time")
	}
}

// failRegistering forces every item still REGISTERING to REGISTRATION_FAILED
func (o *Orchestrator) failRegistering(s *session, message string) {
	for _, item := range o.store.ItemsWithStatus(StatusRegistering) {
		o.forceRegistrationFailure(s, item.ID, message)
	}
}

// forceRegistrationFailure fails an item that is REGISTERING or still
// UPLOADED_TO_STORAGE; registered and already failed items are left alone
func (o *Orchestrator) forceRegistrationFailure(s *session, id, message string) {
	item, ok := o.store.Get(id)
	if !ok || (item.Status != StatusRegistering && item.Status != StatusUploadedToStorage) {
		return
	}
	if o.store.MarkRegistrationFailed(s.token, id, message) {
		log.Warn().
			Str("session_id", s.token).
			Str("item_id", id).
			Str("error", message).
			Msg("forcing registration failure")
	}
}
