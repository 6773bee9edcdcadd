package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/kvstore"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/parser"
	"github.com/adloop/signage-agent-go/internal/remote"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

func init() {
	_ = logger.Init("error", "")
}

type fakeFetcher struct {
	mu     sync.Mutex
	marker models.ChangelogMarker
	err    error
	calls  int
}

func (f *fakeFetcher) FetchChangelog(_ context.Context) (models.ChangelogMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return models.ChangelogMarker{}, f.err
	}
	return f.marker, nil
}

func (f *fakeFetcher) set(marker models.ChangelogMarker, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marker = marker
	f.err = err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSyncer struct {
	mu      sync.Mutex
	runs    int
	failed  []string
	err     error
	release chan struct{}
}

func (f *fakeSyncer) Run(_ context.Context) (*models.SyncReport, error) {
	f.mu.Lock()
	f.runs++
	release := f.release
	err := f.err
	failed := f.failed
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &models.SyncReport{
		Started:   time.Now(),
		Finished:  time.Now(),
		Total:     len(failed),
		Completed: 0,
		Failed:    failed,
	}, nil
}

func (f *fakeSyncer) set(failed []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = failed
	f.err = err
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTestPoller(t *testing.T, fetcher *fakeFetcher, syncer *fakeSyncer) (*Poller, *catalog.Catalog) {
	t.Helper()

	store, err := kvstore.OpenFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cat, err := catalog.Open(context.Background(), store)
	require.NoError(t, err)

	return New(fetcher, cat, syncer, time.Minute), cat
}

func marker(id string) models.ChangelogMarker {
	return models.ChangelogMarker{ID: id, DateCreated: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPollOnceFirstChange(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("1")}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)

	p.pollOnce(context.Background())

	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "1", cat.Marker().ID)
	assert.Equal(t, StateIdle, p.State())
}

func TestPollOnceNoChange(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("22")}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)
	require.NoError(t, cat.SetMarker(context.Background(), marker("22")))

	p.pollOnce(context.Background())

	assert.Equal(t, 0, syncer.count())
	assert.Equal(t, "22", cat.Marker().ID)
}

func TestPollOnceChangeSyncsExactlyOnce(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("23")}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)
	require.NoError(t, cat.SetMarker(context.Background(), marker("22")))

	p.pollOnce(context.Background())
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "23", cat.Marker().ID)

	// The head has not moved again, so further ticks are no-ops.
	p.pollOnce(context.Background())
	p.pollOnce(context.Background())
	assert.Equal(t, 1, syncer.count())
}

func TestPollOnceTransportFailureDefers(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: &remote.TransportError{URL: "http://example.com", Err: fmt.Errorf("connection refused")}}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)
	require.NoError(t, cat.SetMarker(context.Background(), marker("22")))

	p.pollOnce(context.Background())

	// An unreachable backend is not "no change": nothing synced, marker kept.
	assert.Equal(t, 0, syncer.count())
	assert.Equal(t, "22", cat.Marker().ID)

	// Next tick with the network back picks up the update.
	fetcher.set(marker("23"), nil)
	p.pollOnce(context.Background())
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "23", cat.Marker().ID)
}

func TestPollOnceEmptyChangelog(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: parser.ErrEmptyChangelog}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)

	p.pollOnce(context.Background())

	assert.Equal(t, 0, syncer.count())
	assert.True(t, cat.Marker().IsZero())
}

func TestPollOnceSyncErrorKeepsMarker(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("23")}
	syncer := &fakeSyncer{err: fmt.Errorf("manifest unreachable")}
	p, cat := newTestPoller(t, fetcher, syncer)
	require.NoError(t, cat.SetMarker(context.Background(), marker("22")))

	p.pollOnce(context.Background())
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "22", cat.Marker().ID)

	// The marker never advanced, so the same head triggers a retry.
	syncer.set(nil, nil)
	p.pollOnce(context.Background())
	assert.Equal(t, 2, syncer.count())
	assert.Equal(t, "23", cat.Marker().ID)
}

func TestPollOncePartialFailureKeepsMarker(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("23")}
	syncer := &fakeSyncer{failed: []string{"7"}}
	p, cat := newTestPoller(t, fetcher, syncer)
	require.NoError(t, cat.SetMarker(context.Background(), marker("22")))

	p.pollOnce(context.Background())
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "22", cat.Marker().ID)

	syncer.set(nil, nil)
	p.pollOnce(context.Background())
	assert.Equal(t, 2, syncer.count())
	assert.Equal(t, "23", cat.Marker().ID)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("9")}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)

	report, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "9", cat.Marker().ID)
	assert.Equal(t, StateIdle, p.State())
}

func TestRefreshSyncError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("9")}
	syncer := &fakeSyncer{err: fmt.Errorf("manifest unreachable")}
	p, cat := newTestPoller(t, fetcher, syncer)

	report, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, cat.Marker().IsZero())
	assert.Equal(t, StateIdle, p.State())
}

func TestRefreshWithoutChangelogHead(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: &remote.TransportError{URL: "http://example.com", Err: fmt.Errorf("timeout")}}
	syncer := &fakeSyncer{}
	p, cat := newTestPoller(t, fetcher, syncer)

	// Sync runs anyway; the marker just cannot advance without a head.
	report, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, syncer.count())
	assert.True(t, cat.Marker().IsZero())
}

func TestRefreshWhileBusy(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetcher := &fakeFetcher{marker: marker("9")}
	syncer := &fakeSyncer{release: release}
	p, _ := newTestPoller(t, fetcher, syncer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Refresh(context.Background())
	}()

	require.Eventually(t, func() bool {
		return syncer.count() == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, StateSyncing, p.State())

	_, err := p.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-done
	assert.Equal(t, StateIdle, p.State())
}

func TestRunPollsImmediatelyAndPeriodically(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{marker: marker("1")}
	syncer := &fakeSyncer{}
	store, err := kvstore.OpenFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cat, err := catalog.Open(context.Background(), store)
	require.NoError(t, err)

	p := New(fetcher, cat, syncer, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return fetcher.count() >= 3
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	// Only the first tick found a change.
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "1", cat.Marker().ID)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(&fakeFetcher{}, nil, &fakeSyncer{}, 0)
	assert.Equal(t, time.Minute, p.interval)
	assert.Equal(t, StateIdle, p.State())
}
