package filetransfer

import (
	"fmt"
	"path"
	"runtime"
)

// EndpointVersion selects which generation of the download API serves a
// task. Orders placed through the legacy system are only available from v1.
type EndpointVersion int

const (
	EndpointV1 EndpointVersion = 1
	EndpointV2 EndpointVersion = 2
)

// Task is one requested asset, identified by its path within an order:
// collection (or legacy order), scene, asset type.
//
// Tasks are immutable once created and consumed exactly once by the
// scheduler.
type Task struct {
	// RelativePath is the ordered sequence of path segments identifying
	// the asset. It is also the asset's directory under the destination
	// root.
	RelativePath []string

	// Version is the download endpoint generation to request from.
	Version EndpointVersion
}

// String returns the slash-joined relative path.
func (t *Task) String() string {
	return path.Join(t.RelativePath...)
}

// RequestPath returns the API path serving this task's asset.
func (t *Task) RequestPath() string {
	return fmt.Sprintf("v%d/download/%s", t.Version, t.String())
}

// ResultStatus says how a task was resolved.
type ResultStatus int

const (
	// StatusDownloaded means the asset was fetched and written to disk.
	StatusDownloaded ResultStatus = iota

	// StatusSkipped means the destination already held data, so no
	// request was made. Distinct from success so callers can tally
	// "already had it" separately from "fetched now".
	StatusSkipped

	// StatusFailed means this task failed. Other tasks are unaffected.
	StatusFailed
)

func (s ResultStatus) String() string {
	switch s {
	case StatusDownloaded:
		return "downloaded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("ResultStatus(%d)", int(s))
	}
}

// Result is the outcome of one task. Exactly one is produced per task.
type Result struct {
	Task   *Task
	Status ResultStatus

	// Path is the local destination. Set for Downloaded and Skipped.
	Path string

	// Reason is why the task was skipped. Set for Skipped.
	Reason string

	// Err is the task's failure. Set for Failed.
	Err error

	// Bytes is the number of body bytes written. Set for Downloaded.
	Bytes int64
}

func (r Result) String() string {
	switch r.Status {
	case StatusDownloaded:
		return fmt.Sprintf("%s: downloaded to %s", r.Task, r.Path)
	case StatusSkipped:
		return fmt.Sprintf("%s: skipped, %s", r.Task, r.Reason)
	case StatusFailed:
		return fmt.Sprintf("%s: failed to download: %v", r.Task, r.Err)
	default:
		return fmt.Sprintf("%s: %s", r.Task, r.Status)
	}
}

// DefaultConcurrency is the worker count used when the user doesn't pick
// one. Downloads are I/O bound, so it is a multiple of the processor count.
func DefaultConcurrency() int {
	return 5 * runtime.GOMAXPROCS(0)
}
