package filetransfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"

	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

// downloadChunkSize is the copy buffer size for streaming bodies to disk.
const downloadChunkSize = 8 * 1024

// partialSuffix marks files whose body is still being written. A file is
// only renamed to its final name after the full body has been copied, so a
// crash mid-write never leaves a truncated file that looks complete.
const partialSuffix = ".partial"

// AssetTransfer downloads one asset from the CSDA API to local disk.
type AssetTransfer struct {
	// client carries the bearer credential on every request and retries
	// transient failures.
	client *retryablehttp.Client

	fs afero.Fs

	logger *observability.CoreLogger

	// baseURL is the root of the CSDA API.
	baseURL string

	// destRoot is the directory all assets are written under.
	destRoot string
}

type AssetTransferParams struct {
	Client   *retryablehttp.Client
	Fs       afero.Fs
	Logger   *observability.CoreLogger
	BaseURL  string
	DestRoot string
}

func NewAssetTransfer(params AssetTransferParams) *AssetTransfer {
	fs := params.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &AssetTransfer{
		client:   params.Client,
		fs:       fs,
		logger:   params.Logger,
		baseURL:  strings.TrimRight(params.BaseURL, "/"),
		destRoot: params.DestRoot,
	}
}

// Download resolves one task: skip if the destination already holds data,
// otherwise fetch the asset and stream it to disk.
//
// Every failure is folded into the returned result; Download never
// propagates an error to the scheduler.
func (at *AssetTransfer) Download(ctx context.Context, task *Task) Result {
	if len(task.RelativePath) == 0 {
		return Result{
			Task:   task,
			Status: StatusFailed,
			Err:    errors.New("task has an empty asset path"),
		}
	}

	destDir := filepath.Join(
		append([]string{at.destRoot}, task.RelativePath...)...)

	// The API grants each asset for download only once, so an already
	// populated destination means the asset was fetched by an earlier run
	// and must not be re-requested.
	populated, err := at.isPopulated(destDir)
	if err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}
	if populated {
		return Result{
			Task:   task,
			Status: StatusSkipped,
			Path:   destDir,
			Reason: fmt.Sprintf("files exist in %s", destDir),
		}
	}

	// MkdirAll is idempotent, so sibling tasks sharing a parent directory
	// may race here safely.
	if err := at.fs.MkdirAll(destDir, 0o755); err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}

	at.logger.Debug("filetransfer: downloading", "asset", task.String())

	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodGet,
		at.baseURL+"/"+task.RequestPath(),
		nil,
	)
	if err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}

	resp, err := at.client.Do(req)
	if err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			at.logger.CaptureError(
				fmt.Errorf("filetransfer: error closing response body: %v", err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Task: task, Status: StatusFailed, Err: responseError(resp)}
	}

	filename := task.RelativePath[len(task.RelativePath)-1]
	if name := dispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		filename = name
	}
	destPath := filepath.Join(destDir, filename)

	bytes, err := at.writeBody(resp.Body, destPath)
	if err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}

	return Result{Task: task, Status: StatusDownloaded, Path: destPath, Bytes: bytes}
}

// isPopulated reports whether the destination directory exists and holds at
// least one entry.
func (at *AssetTransfer) isPopulated(destDir string) (bool, error) {
	exists, err := afero.DirExists(at.fs, destDir)
	if err != nil || !exists {
		return false, err
	}

	empty, err := afero.IsEmpty(at.fs, destDir)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// writeBody streams the response body to destPath in fixed-size chunks.
// The body lands in a partial file first and is renamed into place only
// once fully written.
func (at *AssetTransfer) writeBody(body io.Reader, destPath string) (int64, error) {
	partialPath := destPath + partialSuffix

	file, err := at.fs.Create(partialPath)
	if err != nil {
		return 0, err
	}

	written, err := io.CopyBuffer(file, body, make([]byte, downloadChunkSize))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := at.fs.Remove(partialPath); removeErr != nil {
			at.logger.CaptureError(
				fmt.Errorf("filetransfer: error removing partial file %s: %v",
					partialPath, removeErr))
		}
		return 0, err
	}

	if err := at.fs.Rename(partialPath, destPath); err != nil {
		return 0, err
	}
	return written, nil
}

// responseError turns a non-2xx download response into an error, preferring
// the structured detail field the API returns in JSON bodies.
func responseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
	if err != nil {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		return errors.New(detail.Detail)
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return errors.New(msg)
}

// dispositionFilename extracts the filename from a Content-Disposition
// header, or returns "" if the header carries none.
func dispositionFilename(disposition string) string {
	_, after, found := strings.Cut(disposition, "filename=")
	if !found {
		return ""
	}
	return strings.Trim(after, `"`)
}
