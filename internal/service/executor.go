package service

import (
	"context"
	"errors"
	"io"

	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/store"
)

// JobResult is the outcome of executing one job spec. Exactly one is produced
// per spec, whatever happens to the job.
type JobResult struct {
	Spec     matrix.JobSpec
	Status   store.JobStatus
	Coverage []byte
	Err      error
}

// ExecuteJob runs one spec against the artifact, racing completion against
// the group timeout and the run's cancellation signal; whichever fires first
// decides the status. Timed-out and cancelled jobs never carry coverage.
func ExecuteJob(
	ctx context.Context,
	sandbox Sandbox,
	spec matrix.JobSpec,
	art io.Reader,
) JobResult {
	execCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	res, err := sandbox.RunJob(execCtx, spec, art)

	if ctx.Err() != nil {
		return JobResult{
			Spec:   spec,
			Status: store.JobCancelled,
			Err:    RunCancelError{Message: "job cancelled by a superseding run"},
		}
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return JobResult{
			Spec:   spec,
			Status: store.JobTimedOut,
			Err:    execCtx.Err(),
		}
	}
	if err != nil {
		return JobResult{
			Spec:   spec,
			Status: store.JobFailed,
			Err:    err,
		}
	}
	status := store.JobFailed
	if res.Passed {
		status = store.JobPassed
	}
	return JobResult{
		Spec:     spec,
		Status:   status,
		Coverage: res.Coverage,
	}
}
