package filetransfer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-impact/csda-bulk-download/internal/filetransfer"
)

func TestDownloadStatsTalliesResults(t *testing.T) {
	stats := filetransfer.NewDownloadStats()
	task := &filetransfer.Task{RelativePath: []string{"c", "s", "a"}}

	stats.Update(filetransfer.Result{
		Task: task, Status: filetransfer.StatusDownloaded, Bytes: 100,
	})
	stats.Update(filetransfer.Result{
		Task: task, Status: filetransfer.StatusDownloaded, Bytes: 50,
	})
	stats.Update(filetransfer.Result{
		Task: task, Status: filetransfer.StatusSkipped,
	})
	stats.Update(filetransfer.Result{
		Task: task, Status: filetransfer.StatusFailed, Err: errors.New("nope"),
	})

	counts := stats.GetCounts()
	assert.Equal(t, int32(2), counts.Downloaded)
	assert.Equal(t, int32(1), counts.Skipped)
	assert.Equal(t, int32(1), counts.Failed)
	assert.Equal(t, int32(4), counts.Total())
	assert.Equal(t, int64(150), stats.GetDownloadedBytes())
	assert.Equal(t, "2 downloaded, 1 skipped, 1 failed", counts.String())
}
