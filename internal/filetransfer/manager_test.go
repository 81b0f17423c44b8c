package filetransfer_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-impact/csda-bulk-download/internal/auth"
	"github.com/nasa-impact/csda-bulk-download/internal/clients"
	"github.com/nasa-impact/csda-bulk-download/internal/filetransfer"
	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

// resultCollector gathers results from the manager's callback.
type resultCollector struct {
	mu      sync.Mutex
	results []filetransfer.Result
}

func (rc *resultCollector) add(result filetransfer.Result) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.results = append(rc.results, result)
}

func (rc *resultCollector) byStatus(status filetransfer.ResultStatus) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for _, r := range rc.results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func (rc *resultCollector) len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.results)
}

func newTestManager(
	t *testing.T,
	handler http.Handler,
	fs afero.Fs,
	concurrency int,
	collector *resultCollector,
) (filetransfer.DownloadManager, filetransfer.DownloadStats) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := clients.NewRetryClient(
		clients.WithRetryClientRetryMax(0),
		clients.WithCredentials(auth.NewBearerTokenProvider("test-token")),
	)
	transfer := filetransfer.NewAssetTransfer(filetransfer.AssetTransferParams{
		Client:   client,
		Fs:       fs,
		Logger:   observability.NewNoOpLogger(),
		BaseURL:  server.URL,
		DestRoot: "downloads",
	})

	stats := filetransfer.NewDownloadStats()
	manager := filetransfer.NewDownloadManager(filetransfer.DownloadManagerParams{
		Transfer:    transfer,
		Concurrency: concurrency,
		OnResult:    collector.add,
		Stats:       stats,
		Logger:      observability.NewNoOpLogger(),
	})
	return manager, stats
}

func sceneTask(i int) *filetransfer.Task {
	return &filetransfer.Task{
		RelativePath: []string{"collection1", fmt.Sprintf("scene%d", i), "visual"},
		Version:      filetransfer.EndpointV2,
	}
}

func TestOneResultPerTaskWithIsolatedFailure(t *testing.T) {
	collector := &resultCollector{}
	manager, stats := newTestManager(t,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// scene3 fails; the other nine succeed.
			if strings.Contains(r.URL.Path, "scene3") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, "pixels")
		}),
		afero.NewMemMapFs(), 4, collector)

	ctx := context.Background()
	manager.Start(ctx)
	for i := 0; i < 10; i++ {
		require.True(t, manager.AddTask(ctx, sceneTask(i)))
	}
	manager.Close()

	assert.Equal(t, 10, collector.len())
	assert.Equal(t, 9, collector.byStatus(filetransfer.StatusDownloaded))
	assert.Equal(t, 1, collector.byStatus(filetransfer.StatusFailed))

	counts := stats.GetCounts()
	assert.Equal(t, int32(9), counts.Downloaded)
	assert.Equal(t, int32(1), counts.Failed)
	assert.Equal(t, int32(10), counts.Total())
}

func TestSecondRunSkipsEverything(t *testing.T) {
	requests := &atomic.Int32{}
	fs := afero.NewMemMapFs()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, "pixels")
	})

	run := func() *resultCollector {
		collector := &resultCollector{}
		manager, _ := newTestManager(t, handler, fs, 4, collector)
		ctx := context.Background()
		manager.Start(ctx)
		for i := 0; i < 5; i++ {
			require.True(t, manager.AddTask(ctx, sceneTask(i)))
		}
		manager.Close()
		return collector
	}

	first := run()
	assert.Equal(t, 5, first.byStatus(filetransfer.StatusDownloaded))
	requestsAfterFirst := requests.Load()

	second := run()
	assert.Equal(t, 5, second.byStatus(filetransfer.StatusSkipped))
	assert.Equal(t, requestsAfterFirst, requests.Load(),
		"second run must not issue download requests")
}

func TestOutstandingTasksNeverExceedTwiceConcurrency(t *testing.T) {
	const concurrency = 2

	inFlight := &atomic.Int32{}
	maxInFlight := &atomic.Int32{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, "pixels")
	})

	submitted := &atomic.Int32{}
	completed := &atomic.Int32{}
	maxOutstanding := &atomic.Int32{}
	collector := &resultCollector{}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := clients.NewRetryClient(
		clients.WithRetryClientRetryMax(0),
		clients.WithCredentials(auth.NewBearerTokenProvider("test-token")),
	)
	transfer := filetransfer.NewAssetTransfer(filetransfer.AssetTransferParams{
		Client:   client,
		Fs:       afero.NewMemMapFs(),
		Logger:   observability.NewNoOpLogger(),
		BaseURL:  server.URL,
		DestRoot: "downloads",
	})
	manager := filetransfer.NewDownloadManager(filetransfer.DownloadManagerParams{
		Transfer:    transfer,
		Concurrency: concurrency,
		OnResult: func(result filetransfer.Result) {
			completed.Add(1)
			collector.add(result)
		},
		Logger: observability.NewNoOpLogger(),
	})

	ctx := context.Background()
	manager.Start(ctx)
	for i := 0; i < 30; i++ {
		require.True(t, manager.AddTask(ctx, sceneTask(i)))
		outstanding := submitted.Add(1) - completed.Load()
		for {
			old := maxOutstanding.Load()
			if outstanding <= old || maxOutstanding.CompareAndSwap(old, outstanding) {
				break
			}
		}
	}
	manager.Close()

	assert.Equal(t, 30, collector.len())
	assert.LessOrEqual(t, maxInFlight.Load(), int32(concurrency),
		"at most `concurrency` downloads may execute at once")
	assert.LessOrEqual(t, maxOutstanding.Load(), int32(2*concurrency),
		"at most 2x concurrency tasks may be outstanding")
}

func TestAddTaskNotAcceptedAfterCancellation(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "pixels")
	})
	collector := &resultCollector{}
	manager, _ := newTestManager(t, handler, afero.NewMemMapFs(), 1, collector)

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)

	// Fill the outstanding bound (2 x concurrency = 2).
	require.True(t, manager.AddTask(ctx, sceneTask(0)))
	require.True(t, manager.AddTask(ctx, sceneTask(1)))

	cancel()
	assert.False(t, manager.AddTask(ctx, sceneTask(2)))

	close(release)
	manager.Close()
}
