package upload

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Concurrency:        5,
		BatchSize:          10,
		FlushWaitTimeout:   2 * time.Second,
		FinalRetryAttempts: 1,
		Folder:             "rapidphotoflow",
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// requireResolved checks that no item was left behind once uploading stopped
func requireResolved(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.False(t, o.IsUploading())
	p := o.Progress()
	assert.Equal(t, p.Total, p.Registered+p.RegistrationFailed+p.StorageFailed)
	assert.Zero(t, p.Registering)
	assert.Zero(t, p.StorageUploading)
}

func TestOrchestrator_TwelveFilesSubmitTenThenTwo(t *testing.T) {
	uploader := newFakeUploader()
	uploader.delay = 5 * time.Millisecond
	registrar := &fakeRegistrar{}
	o := NewOrchestrator(uploader, registrar, testOptions())

	require.NoError(t, o.UploadPhotos(testContext(t), numberedFiles(12)))

	assert.Equal(t, []int{10, 2}, registrar.batchSizes())
	requireResolved(t, o)

	p := o.Progress()
	assert.Equal(t, 12, p.Total)
	assert.Equal(t, 12, p.Registered)
	assert.Equal(t, 12, p.Completed)
	assert.Equal(t, 12, p.StorageUploaded)
	assert.Zero(t, p.Failed)

	for _, item := range o.Items() {
		assert.Equal(t, StatusRegistered, item.Status, item.FileName)
		assert.NotEmpty(t, item.StoragePublicID)
		assert.Contains(t, item.StoragePublicID, "rapidphotoflow/")
		assert.Equal(t, "https://cdn.test/"+item.StoragePublicID, item.StorageURL)
		assert.Empty(t, item.Error)
	}
}

func TestOrchestrator_RequestsCarryStoredFields(t *testing.T) {
	registrar := &fakeRegistrar{}
	o := NewOrchestrator(newFakeUploader(), registrar, testOptions())

	require.NoError(t, o.UploadPhotos(testContext(t), makeFiles("sunset.jpg")))

	batch := registrar.lastBatch()
	require.Len(t, batch, 1)
	item := o.Items()[0]
	assert.Equal(t, types.RegisterRequest{
		StoragePublicID:  item.StoragePublicID,
		StorageURL:       item.StorageURL,
		OriginalFileName: "sunset.jpg",
		SizeBytes:        int64(len("data-sunset.jpg")),
		ContentType:      "image/jpeg",
	}, batch[0])
	assert.Regexp(t, `^rapidphotoflow/\d+-[0-9a-z]{7}-sunset\.jpg$`, item.StoragePublicID)
}

func TestOrchestrator_MissingResultIsRetryable(t *testing.T) {
	registrar := &fakeRegistrar{}
	var dropX atomic.Bool
	dropX.Store(true)
	registrar.setRespond(func(reqs []types.RegisterRequest) ([]types.RegistrationResult, error) {
		var out []types.RegistrationResult
		for _, r := range allSucceed(reqs) {
			if dropX.Load() && r.Photo.OriginalFileName == "x.jpg" {
				continue
			}
			out = append(out, r)
		}
		return out, nil
	})

	o := NewOrchestrator(newFakeUploader(), registrar, testOptions())
	ctx := testContext(t)
	require.NoError(t, o.UploadPhotos(ctx, makeFiles("a.jpg", "b.jpg", "x.jpg")))
	requireResolved(t, o)

	x, ok := itemByName(o.Items(), "x.jpg")
	require.True(t, ok)
	assert.Equal(t, StatusRegistrationFailed, x.Status)
	assert.Equal(t, SourceBackend, x.ErrorSource)
	assert.Contains(t, x.Error, "No result from backend")
	assert.ErrorIs(t, Classify(x), ErrRegistration)
	require.NotEmpty(t, x.StoragePublicID)

	// the final flush sent all three, then one extra attempt for x
	assert.Equal(t, []int{3, 1}, registrar.batchSizes())
	assert.Equal(t, fmt.Sprintf(msgNoResultFmt, 1, 0), x.Error)

	p := o.Progress()
	assert.Equal(t, 2, p.Registered)
	assert.Equal(t, 1, p.RegistrationFailed)
	assert.Equal(t, 1, p.Failed)

	dropX.Store(false)
	assert.Equal(t, 1, o.RetryFailedRegistrations(ctx))

	retried, ok := itemByName(o.Items(), "x.jpg")
	require.True(t, ok)
	assert.Equal(t, StatusRegistered, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Empty(t, retried.ErrorSource)
	assert.Equal(t, x.StoragePublicID, retried.StoragePublicID)
	assert.Equal(t, x.StorageURL, retried.StorageURL)

	last := registrar.lastBatch()
	require.Len(t, last, 1)
	assert.Equal(t, x.StoragePublicID, last[0].StoragePublicID)

	assert.Zero(t, o.RetryFailedRegistrations(ctx))
}

func TestOrchestrator_ExplicitFailureMessages(t *testing.T) {
	registrar := &fakeRegistrar{}
	registrar.setRespond(func(reqs []types.RegisterRequest) ([]types.RegistrationResult, error) {
		out := allSucceed(reqs)
		for i := range out {
			switch reqs[i].OriginalFileName {
			case "dup.jpg":
				out[i] = types.RegistrationResult{StoragePublicID: reqs[i].StoragePublicID, Error: "Photo already registered"}
			case "silent.jpg":
				out[i] = types.RegistrationResult{StoragePublicID: reqs[i].StoragePublicID}
			}
		}
		return out, nil
	})

	opts := testOptions()
	opts.FinalRetryAttempts = 0
	o := NewOrchestrator(newFakeUploader(), registrar, opts)
	require.NoError(t, o.UploadPhotos(testContext(t), makeFiles("ok.jpg", "dup.jpg", "silent.jpg")))
	requireResolved(t, o)

	items := o.Items()
	dup, _ := itemByName(items, "dup.jpg")
	assert.Equal(t, StatusRegistrationFailed, dup.Status)
	assert.Equal(t, "Photo already registered", dup.Error)

	silent, _ := itemByName(items, "silent.jpg")
	assert.Equal(t, StatusRegistrationFailed, silent.Status)
	assert.Equal(t, msgNoErrorMessage, silent.Error)

	ok, _ := itemByName(items, "ok.jpg")
	assert.Equal(t, StatusRegistered, ok.Status)
	assert.Equal(t, 1, registrar.calls())
}

func TestOrchestrator_RetryFailedStorageUploads(t *testing.T) {
	uploader := newFakeUploader()
	failing := []string{"photo-01.jpg", "photo-03.jpg", "photo-05.jpg"}
	for _, name := range failing {
		uploader.failTimes(name, 1)
	}
	registrar := &fakeRegistrar{}
	o := NewOrchestrator(uploader, registrar, testOptions())
	ctx := testContext(t)

	require.NoError(t, o.UploadPhotos(ctx, numberedFiles(6)))
	requireResolved(t, o)

	before := map[string]Item{}
	for _, item := range o.Items() {
		before[item.FileName] = item
	}
	for _, name := range failing {
		item := before[name]
		assert.Equal(t, StatusStorageUploadFailed, item.Status)
		assert.Equal(t, SourceStorage, item.ErrorSource)
		assert.Contains(t, item.Error, "upload rejected")
		assert.Empty(t, item.StoragePublicID)
		assert.ErrorIs(t, Classify(item), ErrStorageUpload)
	}
	assert.Contains(t, o.Error(), "upload rejected")
	assert.Equal(t, 3, o.Progress().StorageFailed)

	assert.Equal(t, 3, o.RetryFailedStorageUploads())
	require.NoError(t, o.Wait(ctx))
	requireResolved(t, o)

	for _, item := range o.Items() {
		assert.Equal(t, StatusRegistered, item.Status, item.FileName)
		prev := before[item.FileName]
		if prev.Status == StatusRegistered {
			assert.Equal(t, prev.StoragePublicID, item.StoragePublicID, "untouched item changed")
			assert.Equal(t, 1, uploader.callsFor(item.FileName))
		} else {
			assert.NotEmpty(t, item.StoragePublicID)
			assert.Equal(t, 2, uploader.callsFor(item.FileName))
		}
	}

	// the retried items were registered by their own final flush
	assert.Equal(t, []int{3, 3}, registrar.batchSizes())
	assert.Zero(t, o.RetryFailedStorageUploads())
}

func TestOrchestrator_ClearSessionMidUpload(t *testing.T) {
	uploader := newFakeUploader()
	uploader.block = make(chan struct{})
	uploader.started = make(chan string, 3)
	registrar := &fakeRegistrar{}
	log := &transitionLog{}
	opts := testOptions()
	opts.Observers = []Observer{log}
	o := NewOrchestrator(uploader, registrar, opts)

	done, err := o.StartSession(testContext(t), makeFiles("a.jpg", "b.jpg", "c.jpg"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		<-uploader.started
	}
	require.True(t, o.IsUploading())
	assert.Equal(t, 3, o.Progress().StorageUploading)

	o.ClearSession()
	seen := log.count()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session channel not closed by ClearSession")
	}
	assert.False(t, o.IsUploading())
	assert.Empty(t, o.Items())
	assert.Empty(t, o.SessionID())

	close(uploader.block)

	assert.Never(t, func() bool {
		return registrar.calls() > 0 || log.count() != seen || len(o.Items()) > 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestOrchestrator_NewSessionSupersedesFinishedOne(t *testing.T) {
	o := NewOrchestrator(newFakeUploader(), &fakeRegistrar{}, testOptions())
	ctx := testContext(t)

	require.NoError(t, o.UploadPhotos(ctx, makeFiles("one.jpg")))
	first := o.SessionID()

	require.NoError(t, o.UploadPhotos(ctx, makeFiles("two.jpg", "three.jpg")))
	assert.NotEqual(t, first, o.SessionID())
	assert.Len(t, o.Items(), 2)
	assert.Equal(t, 2, o.Progress().Registered)
}

func TestOrchestrator_StartWhileActiveIsRejected(t *testing.T) {
	uploader := newFakeUploader()
	uploader.block = make(chan struct{})
	uploader.started = make(chan string, 2)
	o := NewOrchestrator(uploader, &fakeRegistrar{}, testOptions())
	ctx := testContext(t)

	done, err := o.StartSession(ctx, makeFiles("a.jpg", "b.jpg"))
	require.NoError(t, err)
	<-uploader.started
	<-uploader.started

	sessionID := o.SessionID()
	items := o.Items()

	_, err = o.StartSession(ctx, makeFiles("c.jpg"))
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.ErrorIs(t, o.UploadPhotos(ctx, makeFiles("d.jpg")), ErrSessionActive)

	assert.Equal(t, sessionID, o.SessionID())
	assert.Equal(t, items, o.Items())

	close(uploader.block)
	<-done
	requireResolved(t, o)
	assert.Len(t, o.Items(), 2)
	assert.Equal(t, 1, uploader.callsFor("a.jpg"))
	assert.Zero(t, uploader.callsFor("c.jpg"))
}

func TestOrchestrator_TransportErrorFailsWholeBatch(t *testing.T) {
	registrar := &fakeRegistrar{}
	registrar.setRespond(func([]types.RegisterRequest) ([]types.RegistrationResult, error) {
		return nil, errRegistryDown
	})
	o := NewOrchestrator(newFakeUploader(), registrar, testOptions())

	require.NoError(t, o.UploadPhotos(testContext(t), numberedFiles(4)))
	requireResolved(t, o)

	for _, item := range o.Items() {
		assert.Equal(t, StatusRegistrationFailed, item.Status)
		assert.Equal(t, SourceBackend, item.ErrorSource)
		assert.Equal(t, errRegistryDown.Error(), item.Error)
		assert.NotEmpty(t, item.StoragePublicID)
	}
	// final batch plus one extra attempt
	assert.Equal(t, []int{4, 4}, registrar.batchSizes())
	assert.Equal(t, 4, o.Progress().Failed)
}

func TestOrchestrator_ConcurrencyAndSerialization(t *testing.T) {
	uploader := newFakeUploader()
	uploader.delay = 10 * time.Millisecond
	registrar := &fakeRegistrar{delay: 15 * time.Millisecond}
	log := &transitionLog{}

	opts := testOptions()
	opts.Concurrency = 3
	opts.BatchSize = 2
	opts.Observers = []Observer{log}
	o := NewOrchestrator(uploader, registrar, opts)

	require.NoError(t, o.UploadPhotos(testContext(t), numberedFiles(20)))
	requireResolved(t, o)
	assert.Equal(t, 20, o.Progress().Registered)

	assert.LessOrEqual(t, atomic.LoadInt32(&uploader.maxActive), int32(3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&registrar.maxActive))

	total := 0
	for _, size := range registrar.batchSizes() {
		assert.LessOrEqual(t, size, 2)
		total += size
	}
	assert.Equal(t, 20, total)

	for _, tr := range log.all() {
		assert.LessOrEqual(t, tr.Progress.StorageUploading, 3)
		if tr.To == StatusRegistering || tr.To == StatusRegistered {
			assert.NotEmpty(t, tr.Item.StoragePublicID, "%s without storage id", tr.To)
		}
	}
}

func TestOrchestrator_FlushTimeoutForcesFailure(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	registrar := &fakeRegistrar{block: release}

	opts := testOptions()
	opts.BatchSize = 1
	opts.FlushWaitTimeout = 50 * time.Millisecond
	opts.FinalRetryAttempts = 0
	o := NewOrchestrator(newFakeUploader(), registrar, opts)

	start := time.Now()
	require.NoError(t, o.UploadPhotos(testContext(t), makeFiles("stuck.jpg")))
	assert.Less(t, time.Since(start), 2*time.Second)
	requireResolved(t, o)

	item := o.Items()[0]
	assert.Equal(t, StatusRegistrationFailed, item.Status)
	assert.Equal(t, msgRegistrationTimeout, item.Error)
	assert.ErrorIs(t, Classify(item), ErrRegistrationTimeout)
	assert.Equal(t, 1, registrar.calls())
}

func TestOrchestrator_FlushTimeoutFailsBatchesQueuedBehindStall(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	registrar := &fakeRegistrar{block: release}

	opts := testOptions()
	opts.Concurrency = 1
	opts.BatchSize = 1
	opts.FlushWaitTimeout = 50 * time.Millisecond
	opts.FinalRetryAttempts = 0
	o := NewOrchestrator(newFakeUploader(), registrar, opts)

	require.NoError(t, o.UploadPhotos(testContext(t), makeFiles("a.jpg", "b.jpg")))
	assert.False(t, o.IsUploading())
	requireResolved(t, o)

	for _, name := range []string{"a.jpg", "b.jpg"} {
		item, ok := itemByName(o.Items(), name)
		require.True(t, ok, name)
		assert.Equal(t, StatusRegistrationFailed, item.Status, name)
		assert.Equal(t, msgRegistrationTimeout, item.Error, name)
		assert.NotEmpty(t, item.StoragePublicID, name)
	}

	p := o.Progress()
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 2, p.RegistrationFailed)
	assert.Zero(t, p.Registering)
	assert.Equal(t, p.Total, p.Registered+p.RegistrationFailed+p.StorageFailed)
	assert.Equal(t, 1, registrar.calls())
}

func TestOrchestrator_EmptySession(t *testing.T) {
	registrar := &fakeRegistrar{}
	o := NewOrchestrator(newFakeUploader(), registrar, testOptions())

	require.NoError(t, o.UploadPhotos(testContext(t), nil))
	assert.False(t, o.IsUploading())
	assert.Equal(t, Progress{}, o.Progress())
	assert.Zero(t, registrar.calls())
	assert.NotEmpty(t, o.SessionID())
}

func TestOrchestrator_NoSession(t *testing.T) {
	o := NewOrchestrator(newFakeUploader(), &fakeRegistrar{}, testOptions())
	ctx := testContext(t)

	assert.Zero(t, o.RetryFailedStorageUploads())
	assert.Zero(t, o.RetryFailedRegistrations(ctx))
	assert.NoError(t, o.Wait(ctx))
	assert.False(t, o.IsUploading())
	assert.Empty(t, o.SessionID())
	o.ClearSession()

	snap := o.Snapshot()
	assert.Empty(t, snap.Items)
	assert.False(t, snap.IsUploading)
}

func TestOrchestrator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	uploader := newFakeUploader()
	uploader.failTimes("bad.jpg", 1)
	opts := testOptions()
	opts.Metrics = metrics
	o := NewOrchestrator(uploader, &fakeRegistrar{}, opts)

	require.NoError(t, o.UploadPhotos(testContext(t), makeFiles("good.jpg", "bad.jpg")))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.sessionsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(StatusRegistered))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(StatusStorageUploadFailed))))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(StatusQueued))))
	assert.Equal(t, float64(len("data-good.jpg")), testutil.ToFloat64(metrics.uploadedBytes))
	assert.Zero(t, testutil.ToFloat64(metrics.inflightUploads))

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{FinalRetryAttempts: -2}
	opts.applyDefaults()
	assert.Equal(t, 5, opts.Concurrency)
	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, 10*time.Second, opts.FlushWaitTimeout)
	assert.Zero(t, opts.FinalRetryAttempts)
	assert.NotNil(t, opts.Now)
}
