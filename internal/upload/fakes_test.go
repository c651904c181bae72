package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/pkg/types"
)

type fakeUploader struct {
	mu        sync.Mutex
	failures  map[string]int
	calls     map[string]int
	delay     time.Duration
	block     chan struct{}
	started   chan string
	active    int32
	maxActive int32
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// failTimes makes the next n uploads of name fail
func (f *fakeUploader) failTimes(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = n
}

func (f *fakeUploader) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeUploader) Upload(ctx context.Context, file storage.File, params storage.UploadParams) (*types.StoredAsset, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		prev := atomic.LoadInt32(&f.maxActive)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxActive, prev, cur) {
			break
		}
	}

	if f.started != nil {
		f.started <- file.Name()
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[file.Name()]++
	failing := f.failures[file.Name()] > 0
	if failing {
		f.failures[file.Name()]--
	}
	f.mu.Unlock()

	if failing {
		return nil, fmt.Errorf("%w: upload rejected for %s", storage.ErrUploadFailed, file.Name())
	}

	key := params.Key()
	return &types.StoredAsset{
		PublicID:  key,
		SecureURL: "https://cdn.test/" + key,
		Bytes:     file.Size(),
		Format:    "jpg",
	}, nil
}

type fakeRegistrar struct {
	mu        sync.Mutex
	batches   [][]types.RegisterRequest
	respond   func(reqs []types.RegisterRequest) ([]types.RegistrationResult, error)
	delay     time.Duration
	block     chan struct{}
	active    int32
	maxActive int32
}

func (f *fakeRegistrar) BulkRegister(ctx context.Context, reqs []types.RegisterRequest) ([]types.RegistrationResult, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		prev := atomic.LoadInt32(&f.maxActive)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxActive, prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.batches = append(f.batches, append([]types.RegisterRequest(nil), reqs...))
	respond := f.respond
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if respond != nil {
		return respond(reqs)
	}
	return allSucceed(reqs), nil
}

func (f *fakeRegistrar) setRespond(fn func(reqs []types.RegisterRequest) ([]types.RegistrationResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeRegistrar) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (f *fakeRegistrar) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeRegistrar) lastBatch() []types.RegisterRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func allSucceed(reqs []types.RegisterRequest) []types.RegistrationResult {
	out := make([]types.RegistrationResult, len(reqs))
	for i, r := range reqs {
		out[i] = types.RegistrationResult{
			StoragePublicID: r.StoragePublicID,
			Success:         true,
			Photo:           &types.Photo{ID: "photo-" + r.OriginalFileName, OriginalFileName: r.OriginalFileName},
		}
	}
	return out
}

var errRegistryDown = errors.New("registry unavailable: connection refused")

// transitionLog records every transition it sees
type transitionLog struct {
	mu          sync.Mutex
	transitions []Transition
}

func (l *transitionLog) OnTransition(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, t)
}

func (l *transitionLog) all() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.transitions...)
}

func (l *transitionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transitions)
}

func makeFiles(names ...string) []storage.File {
	files := make([]storage.File, len(names))
	for i, n := range names {
		files[i] = storage.NewBytesFile(n, "image/jpeg", []byte("data-"+n))
	}
	return files
}

func numberedFiles(n int) []storage.File {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("photo-%02d.jpg", i)
	}
	return makeFiles(names...)
}

func itemByName(items []Item, name string) (Item, bool) {
	for _, item := range items {
		if item.FileName == name {
			return item, true
		}
	}
	return Item{}, false
}
