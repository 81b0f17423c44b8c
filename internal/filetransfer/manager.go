package filetransfer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

const taskBufferSize = 32

// A manager of asynchronous asset download tasks.
//
// Tasks execute on a bounded worker pool, and the producer feeding tasks in
// is itself bounded: at most 2×concurrency tasks may be outstanding
// (submitted but not completed) at any instant. When the bound is reached,
// AddTask blocks until a task completes, so an arbitrarily long task stream
// never accumulates in memory.
type DownloadManager interface {
	// Start asynchronously begins the main loop of the manager.
	Start(ctx context.Context)

	// AddTask schedules an asset download, blocking while the outstanding
	// bound is reached. It reports whether the task was accepted; it is
	// not accepted if the context is canceled while waiting.
	AddTask(ctx context.Context, task *Task) bool

	// Close waits for all outstanding tasks to complete.
	Close()
}

type downloadManager struct {
	// inChan is the channel of submitted tasks.
	inChan chan *Task

	// transfer executes a single task.
	transfer *AssetTransfer

	// stats tallies results for the run summary.
	stats DownloadStats

	// workers bounds the number of tasks executing at once.
	workers *semaphore.Weighted

	// outstanding bounds submitted-but-not-completed tasks at twice the
	// worker count. Acquired by the producer in AddTask, released when a
	// task's result is reported.
	outstanding *semaphore.Weighted

	// onResult receives each task's result. Called from worker
	// goroutines, exactly once per task.
	onResult func(Result)

	logger  *observability.CoreLogger
	printer *observability.Printer

	wg     sync.WaitGroup
	active bool
}

type DownloadManagerParams struct {
	Transfer *AssetTransfer

	// Concurrency is the worker pool size. Defaults to
	// DefaultConcurrency() when not positive.
	Concurrency int

	// OnResult receives each task's result. May be nil.
	OnResult func(Result)

	Stats   DownloadStats
	Logger  *observability.CoreLogger
	Printer *observability.Printer
}

func NewDownloadManager(params DownloadManagerParams) DownloadManager {
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}

	onResult := params.OnResult
	if onResult == nil {
		onResult = func(Result) {}
	}

	stats := params.Stats
	if stats == nil {
		stats = NewDownloadStats()
	}

	printer := params.Printer
	if printer == nil {
		printer = observability.NewPrinter()
	}

	return &downloadManager{
		inChan:      make(chan *Task, taskBufferSize),
		transfer:    params.Transfer,
		stats:       stats,
		workers:     semaphore.NewWeighted(int64(concurrency)),
		outstanding: semaphore.NewWeighted(int64(2 * concurrency)),
		onResult:    onResult,
		logger:      params.Logger,
		printer:     printer,
	}
}

func (dm *downloadManager) Start(ctx context.Context) {
	if dm.active {
		return
	}
	dm.active = true

	dm.wg.Add(1)
	go func() {
		defer dm.wg.Done()
		for task := range dm.inChan {
			dm.wg.Add(1)
			go func(task *Task) {
				defer dm.wg.Done()
				defer dm.outstanding.Release(1)

				if err := dm.workers.Acquire(ctx, 1); err != nil {
					dm.complete(Result{Task: task, Status: StatusFailed, Err: err})
					return
				}
				result := dm.transfer.Download(ctx, task)
				dm.workers.Release(1)

				dm.complete(result)
			}(task)
		}
	}()
}

func (dm *downloadManager) AddTask(ctx context.Context, task *Task) bool {
	if !dm.outstanding.TryAcquire(1) {
		dm.printer.WriteAtMostEvery(5*time.Second,
			"Waiting for some downloads to finish before scheduling more...")
		if err := dm.outstanding.Acquire(ctx, 1); err != nil {
			return false
		}
	}
	dm.logger.Debug("filetransfer: adding download task", "asset", task.String())
	dm.inChan <- task
	return true
}

// complete reports a task's result and updates statistics.
//
// A task failure surfaces only here; it never terminates the worker pool.
func (dm *downloadManager) complete(result Result) {
	dm.stats.Update(result)

	if result.Status == StatusFailed {
		dm.logger.CaptureError(result.Err, "asset", result.Task.String())
	}

	dm.onResult(result)
}

func (dm *downloadManager) Close() {
	if !dm.active {
		return
	}
	dm.logger.Debug("filetransfer: waiting for outstanding downloads")
	close(dm.inChan)
	dm.wg.Wait()
	dm.active = false
}
