package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hartell/matrixci/internal"
)

// CoverageReporter forwards one job's coverage report to the external sink,
// tagged with the job name.
type CoverageReporter interface {
	Report(ctx context.Context, lane, jobName string, coverage []byte) error
}

type HTTPCoverageSink struct {
	client *http.Client
	url    string
}

func NewHTTPCoverageSink(url string) *HTTPCoverageSink {
	return &HTTPCoverageSink{
		client: &http.Client{Timeout: 60 * time.Second},
		url:    url,
	}
}

func (s *HTTPCoverageSink) Report(
	ctx context.Context,
	lane, jobName string,
	coverage []byte,
) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.url, bytes.NewReader(coverage),
	)
	if err != nil {
		return ReportingError{JobName: jobName, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(internal.CoverageNameHeader, jobName)
	req.Header.Set(internal.CoverageLaneHeader, lane)

	resp, err := s.client.Do(req)
	if err != nil {
		return ReportingError{JobName: jobName, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ReportingError{
			JobName: jobName,
			Err:     fmt.Errorf("coverage sink returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// FileCoverageSink keeps reports on local disk under <dir>/<lane>/<job>. It
// is the sink used when no external one is configured.
type FileCoverageSink struct {
	dir string
}

func NewFileCoverageSink(dir string) *FileCoverageSink {
	if dir == "" {
		dir = internal.DefaultCoverageDir
	}
	return &FileCoverageSink{dir: dir}
}

func (s *FileCoverageSink) Report(
	ctx context.Context,
	lane, jobName string,
	coverage []byte,
) error {
	laneDir := filepath.Join(s.dir, lane)
	if err := os.MkdirAll(laneDir, 0o755); err != nil {
		return ReportingError{JobName: jobName, Err: err}
	}
	if err := os.WriteFile(filepath.Join(laneDir, jobName), coverage, 0o644); err != nil {
		return ReportingError{JobName: jobName, Err: err}
	}
	return nil
}
