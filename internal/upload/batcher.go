package upload

import (
	"fmt"
	"time"

	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/rs/zerolog/log"
)

// submit hands a batch to the session's batcher. Only one batch is ever in
// flight; later ones wait in order and are not marked REGISTERING until they
// are taken off the queue.
func (o *Orchestrator) submit(s *session, b *batch) {
	s.mu.Lock()
	if s.stale() {
		s.mu.Unlock()
		b.done.close()
		return
	}
	if s.registering {
		s.batches = append(s.batches, b)
		queued := len(s.batches)
		s.mu.Unlock()
		log.Debug().
			Str("session_id", s.token).
			Str("reason", b.reason).
			Int("size", len(b.entries)).
			Int("queued", queued).
			Msg("registration in flight, batch queued")
		return
	}
	s.registering = true
	s.idle = newSignal()
	s.mu.Unlock()

	go o.runBatches(s, b)
}

// runBatches registers b and then every batch queued behind it
func (o *Orchestrator) runBatches(s *session, b *batch) {
	for b != nil {
		o.registerBatch(s, b)
		b.done.close()

		s.mu.Lock()
		if len(s.batches) > 0 && !s.stale() {
			b = s.batches[0]
			s.batches[0] = nil
			s.batches = s.batches[1:]
		} else {
			b = nil
			s.registering = false
			s.idle.close()
		}
		s.mu.Unlock()
	}
}

// registerBatch submits one batch and applies every per-item outcome
func (o *Orchestrator) registerBatch(s *session, b *batch) {
	if s.stale() {
		return
	}

	entries := make([]pendingEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if o.store.MarkRegistering(s.token, e.itemID) {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 || s.stale() {
		return
	}

	requests := make([]types.RegisterRequest, len(entries))
	for i, e := range entries {
		requests[i] = e.request
	}

	start := time.Now()
	results, err := o.registrar.BulkRegister(s.ctx, requests)
	o.metrics.observeBatch(b.reason, len(requests), time.Since(start), err)

	if s.stale() {
		log.Debug().Str("session_id", s.token).Msg("discarding registration results for abandoned session")
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.token).
			Str("reason", b.reason).
			Int("size", len(requests)).
			Msg("bulk registration failed")
		for _, e := range entries {
			o.store.MarkRegistrationFailed(s.token, e.itemID, err.Error())
		}
		return
	}

	if len(results) != len(requests) {
		log.Warn().
			Str("session_id", s.token).
			Int("expected", len(requests)).
			Int("got", len(results)).
			Msg("registration result count mismatch")
	}

	byStorageID := make(map[string]types.RegistrationResult, len(results))
	for _, r := range results {
		byStorageID[r.StoragePublicID] = r
	}
	requested := make(map[string]struct{}, len(requests))
	for _, r := range requests {
		requested[r.StoragePublicID] = struct{}{}
	}
	for id := range byStorageID {
		if _, ok := requested[id]; !ok {
			log.Warn().Str("session_id", s.token).Str("storage_public_id", id).Msg("registration result for unknown item")
		}
	}

	registered := make(map[string]struct{})
	failed := 0
	for _, e := range entries {
		r, ok := byStorageID[e.request.StoragePublicID]
		switch {
		case !ok:
			o.store.MarkRegistrationFailed(s.token, e.itemID, fmt.Sprintf(msgNoResultFmt, len(requests), len(results)))
			failed++
		case r.Success:
			o.store.MarkRegistered(s.token, e.itemID)
			registered[e.itemID] = struct{}{}
		default:
			msg := r.Error
			if msg == "" {
				msg = msgNoErrorMessage
			}
			o.store.MarkRegistrationFailed(s.token, e.itemID, msg)
			failed++
		}
	}
	s.removePending(registered)

	log.Info().
		Str("session_id", s.token).
		Str("reason", b.reason).
		Int("registered", len(registered)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("registration batch completed")
}
