package upload

import (
	"fmt"
	"time"

	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// runScheduler drains the session's work queue with at most Concurrency
// uploads in flight. It returns once the queue is empty and nothing is in
// flight, or as soon as the session is abandoned.
func (o *Orchestrator) runScheduler(s *session) {
	sem := semaphore.NewWeighted(int64(o.opts.Concurrency))

	for {
		if s.stale() {
			return
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.inflight == 0
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
			case <-s.loopCtx.Done():
				return
			}
			continue
		}
		s.mu.Unlock()

		if err := sem.Acquire(s.loopCtx, 1); err != nil {
			return
		}

		s.mu.Lock()
		if len(s.queue) == 0 || s.stale() {
			s.mu.Unlock()
			sem.Release(1)
			continue
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		s.inflight++
		s.mu.Unlock()

		if !o.store.MarkUploading(s.token, id) {
			// already claimed, failed over or the session moved on
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
			sem.Release(1)
			continue
		}

		go func(id string) {
			defer sem.Release(1)
			o.uploadItem(s, id)

			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
			s.notify()
		}(id)
	}
}

// uploadItem pushes one claimed item to storage and queues its registration
func (o *Orchestrator) uploadItem(s *session, id string) {
	item, ok := o.store.Get(id)
	if !ok {
		return
	}
	if item.File == nil {
		o.store.MarkStorageFailed(s.token, id, "no file attached to upload item")
		return
	}

	assetName, err := utils.GenerateAssetName(item.FileName, o.opts.Now())
	if err != nil {
		o.store.MarkStorageFailed(s.token, id, err.Error())
		return
	}

	start := time.Now()
	o.metrics.uploadStarted()
	asset, err := o.uploader.Upload(s.ctx, item.File, storage.UploadParams{
		Folder:    o.opts.Folder,
		AssetName: assetName,
	})
	o.metrics.uploadFinished()

	if err == nil && (asset == nil || asset.PublicID == "") {
		err = fmt.Errorf("storage returned no asset id")
	}
	if err != nil {
		o.metrics.observeUpload(time.Since(start), 0, err)
		if o.store.MarkStorageFailed(s.token, id, err.Error()) {
			log.Warn().
				Err(err).
				Str("session_id", s.token).
				Str("item_id", id).
				Str("file", item.FileName).
				Msg("storage upload failed")
		}
		return
	}

	if asset.Bytes == 0 {
		asset.Bytes = item.File.Size()
	}
	o.metrics.observeUpload(time.Since(start), asset.Bytes, nil)

	contentType := item.File.ContentType()
	if contentType == "" {
		contentType = utils.ContentTypeFor(item.FileName, asset.Format)
	}

	uploaded, ok := o.store.MarkUploaded(s.token, id, asset, contentType)
	if !ok {
		return
	}

	log.Debug().
		Str("session_id", s.token).
		Str("item_id", id).
		Str("storage_public_id", asset.PublicID).
		Dur("duration", time.Since(start)).
		Msg("stored in object storage")

	o.enqueueRegistration(s, uploaded)
}

// enqueueRegistration adds the item to the pending queue and hands a full
// batch to the batcher without waiting for it
func (o *Orchestrator) enqueueRegistration(s *session, item Item) {
	s.mu.Lock()
	if s.stale() {
		s.mu.Unlock()
		return
	}
	if !s.addPendingLocked(item.ID, item.registerRequest()) {
		s.mu.Unlock()
		log.Warn().Str("session_id", s.token).Str("item_id", item.ID).Msg("item already queued for registration")
		return
	}

	var b *batch
	if s.unsubmittedLocked() >= o.opts.BatchSize {
		b = newBatch("threshold", s.claimLocked(o.opts.BatchSize))
	}
	s.mu.Unlock()

	if b != nil {
		o.submit(s, b)
	}
}
