package filetransfer

import (
	"fmt"
	"sync/atomic"
)

// DownloadStats tallies results across a run.
type DownloadStats interface {
	// Update records one task's result.
	Update(result Result)

	// GetCounts returns the per-status task counts.
	GetCounts() ResultCounts

	// GetDownloadedBytes returns the total body bytes written.
	GetDownloadedBytes() int64
}

// ResultCounts is a per-status breakdown of resolved tasks.
type ResultCounts struct {
	Downloaded int32
	Skipped    int32
	Failed     int32
}

// Total returns the number of resolved tasks.
func (c ResultCounts) Total() int32 {
	return c.Downloaded + c.Skipped + c.Failed
}

func (c ResultCounts) String() string {
	return fmt.Sprintf(
		"%d downloaded, %d skipped, %d failed",
		c.Downloaded, c.Skipped, c.Failed,
	)
}

type downloadStats struct {
	downloaded atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32

	downloadedBytes atomic.Int64
}

func NewDownloadStats() DownloadStats {
	return &downloadStats{}
}

func (ds *downloadStats) Update(result Result) {
	switch result.Status {
	case StatusDownloaded:
		ds.downloaded.Add(1)
		ds.downloadedBytes.Add(result.Bytes)
	case StatusSkipped:
		ds.skipped.Add(1)
	case StatusFailed:
		ds.failed.Add(1)
	}
}

func (ds *downloadStats) GetCounts() ResultCounts {
	return ResultCounts{
		Downloaded: ds.downloaded.Load(),
		Skipped:    ds.skipped.Load(),
		Failed:     ds.failed.Load(),
	}
}

func (ds *downloadStats) GetDownloadedBytes() int64 {
	return ds.downloadedBytes.Load()
}
