package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hartell/matrixci/internal"
	"github.com/hartell/matrixci/internal/artifact"
	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/store"
	"github.com/hartell/matrixci/internal/util"
)

var ErrTriggerNotAdmitted = errors.New("trigger not admitted")

type MatrixLoader func() (*matrix.Declaration, error)

// Orchestrator sequences a run: build once, publish the artifact, expand the
// matrix and fan the artifact out to every job concurrently, streaming each
// job's coverage to the reporter as it completes. A failing job never stops
// its siblings; the run's terminal status reflects the worst outcome.
type Orchestrator struct {
	runStore  store.RunStore
	jobStore  store.JobStore
	artifacts artifact.Store
	lanes     *LaneController
	dialer    SandboxDialer
	reporter  CoverageReporter

	loadMatrix      MatrixLoader
	maxParallelJobs int64
	buildTimeout    time.Duration
}

func NewOrchestrator(
	runStore store.RunStore,
	jobStore store.JobStore,
	artifacts artifact.Store,
	lanes *LaneController,
	dialer SandboxDialer,
	reporter CoverageReporter,
	loadMatrix MatrixLoader,
	maxParallelJobs int64,
	buildTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		runStore:        runStore,
		jobStore:        jobStore,
		artifacts:       artifacts,
		lanes:           lanes,
		dialer:          dialer,
		reporter:        reporter,
		loadMatrix:      loadMatrix,
		maxParallelJobs: maxParallelJobs,
		buildTimeout:    buildTimeout,
	}
}

func (o *Orchestrator) Lanes() *LaneController {
	return o.lanes
}

// Execute runs the whole pipeline for one trigger. It blocks until the run
// reaches a terminal status; trigger sources call it in a goroutine.
func (o *Orchestrator) Execute(trigger Trigger) (*store.Run, error) {
	if !ShouldAdmit(trigger) {
		return nil, ErrTriggerNotAdmitted
	}

	run, err := o.runStore.CreateRun(
		context.Background(),
		trigger.Lane,
		trigger.Kind,
		CancelOnSupersede(trigger.Kind),
	)
	if err != nil {
		return nil, err
	}

	// the run outlives the trigger request, so its context does not derive
	// from it; cancellation comes from the lane controller alone
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decision := o.lanes.Admit(run, cancel)
	defer o.lanes.Release(run)
	if decision.SupersededRunID != nil {
		log.Printf("run %d superseded run %d on lane '%s'\n",
			run.RunID, *decision.SupersededRunID, run.Lane)
	}

	outputCh := make(chan string)
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		for out := range outputCh {
			if err := o.runStore.AppendRunOutput(context.Background(), run.RunID, out); err != nil {
				log.Printf("err appending run output: %+v\n", err)
			}
		}
	}()

	processErr := o.processRun(runCtx, run, outputCh)

	endedOn := time.Now().UTC()
	status := store.StatusSucceeded
	if processErr != nil {
		if _, ok := processErr.(RunCancelError); ok {
			status = store.StatusCancelled
		} else {
			status = store.StatusFailed
		}
		log.Printf("err processing run %d: %+v\n", run.RunID, processErr)
		outputCh <- fmt.Sprintf(`
=============================================
%s || %v
=============================================
`, strings.ToUpper(string(status)), processErr)
	} else {
		outputCh <- `
=============================================
PASS || All matrix jobs passed.
=============================================
`
	}
	close(outputCh)
	<-outputDone

	if err := o.runStore.UpdateRunEndedOn(
		context.Background(), run.RunID, status, &endedOn,
	); err != nil {
		log.Println("err updating run ended on:", errors.Join(processErr, err))
	}

	final, err := o.runStore.ReadRunByID(context.Background(), run.RunID)
	if err != nil {
		return run, errors.Join(processErr, err)
	}
	return final, processErr
}

func (o *Orchestrator) processRun(
	ctx context.Context,
	run *store.Run,
	outputCh chan<- string,
) error {
	if ctx.Err() != nil {
		return RunCancelError{Message: "run superseded before build started"}
	}

	decl, err := o.loadMatrix()
	if err != nil {
		outputCh <- fmt.Sprintf("err loading matrix declaration: %+v\n", err)
		return err
	}

	workdir := time.Now().UTC().Format(internal.RunDirLayout)
	run.WorkingDirectory = &workdir
	run.Status = store.StatusRunning
	run.StartedOn = util.AsPtr(time.Now().UTC())
	if err := o.runStore.UpdateRunStartedOn(
		context.Background(), run.RunID, workdir, run.Status, run.StartedOn,
	); err != nil {
		return err
	}

	sandbox, err := o.dialer.Dial(ctx, run, decl, outputCh)
	if err != nil {
		if ctx.Err() != nil {
			return RunCancelError{Message: "run superseded while connecting to the agent"}
		}
		outputCh <- fmt.Sprintf("err dialing sandbox: %+v\n", err)
		return err
	}
	defer sandbox.Close()

	// the build is a hard dependency edge: nothing runs without it
	buildCtx, cancelBuild := context.WithTimeout(ctx, o.buildTimeout)
	stream, err := sandbox.Build(buildCtx, run)
	cancelBuild()
	if err != nil {
		if _, ok := err.(RunCancelError); ok {
			return err
		}
		outputCh <- fmt.Sprintf("err building artifact: %+v\n", err)
		return err
	}

	handle, err := o.artifacts.Publish(ctx, run.RunID, stream)
	stream.Close()
	if err != nil {
		if ctx.Err() != nil {
			return RunCancelError{Message: "run superseded before artifact publish"}
		}
		return fmt.Errorf("err publishing artifact: %w", err)
	}
	if err := o.runStore.UpdateRunArtifact(
		context.Background(), run.RunID, string(handle),
	); err != nil {
		return err
	}
	outputCh <- fmt.Sprintf("Published artifact %s\n", handle)

	specs := matrix.Expand(decl)
	results := o.fanOut(ctx, run, sandbox, handle, specs, outputCh)

	if ctx.Err() != nil {
		return RunCancelError{Message: "run superseded by a newer run on the same lane"}
	}

	var reportingErr error
	failed := make([]string, 0)
	for _, r := range results {
		var re ReportingError
		if errors.As(r.Err, &re) && reportingErr == nil {
			reportingErr = re
		}
		if r.Spec.Required && r.Status != store.JobPassed {
			failed = append(failed, r.Spec.Name)
		}
	}
	if reportingErr != nil {
		return reportingErr
	}
	if len(failed) > 0 {
		return fmt.Errorf("required jobs did not pass: %s", strings.Join(failed, ", "))
	}
	return nil
}

// fanOut dispatches every spec concurrently, bounded by maxParallelJobs, and
// blocks until each has produced a result. Fail-fast is disabled on purpose:
// every job's outcome and coverage surface regardless of its siblings.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	run *store.Run,
	sandbox Sandbox,
	handle artifact.Handle,
	specs []matrix.JobSpec,
	outputCh chan<- string,
) []JobResult {
	sem := make(chan struct{}, o.maxParallelJobs)
	resultCh := make(chan JobResult)
	for _, spec := range specs {
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			resultCh <- o.runJob(ctx, run, sandbox, handle, spec, outputCh)
		}()
	}

	results := make([]JobResult, 0, len(specs))
	for range specs {
		results = append(results, <-resultCh)
	}
	return results
}

func (o *Orchestrator) runJob(
	ctx context.Context,
	run *store.Run,
	sandbox Sandbox,
	handle artifact.Handle,
	spec matrix.JobSpec,
	outputCh chan<- string,
) JobResult {
	job, err := o.jobStore.CreateJob(
		context.Background(),
		run.RunID,
		spec.Name,
		spec.Group,
		spec.Required,
		int64(spec.Timeout.Seconds()),
	)
	if err != nil {
		return JobResult{Spec: spec, Status: store.JobFailed, Err: err}
	}
	if err := o.jobStore.UpdateJobStartedOn(
		context.Background(), job.JobID, store.JobRunning, util.AsPtr(time.Now().UTC()),
	); err != nil {
		log.Printf("err updating job started on: %+v\n", err)
	}

	var result JobResult
	art, err := o.artifacts.Fetch(ctx, handle)
	if err != nil {
		status := store.JobFailed
		if ctx.Err() != nil {
			status = store.JobCancelled
		}
		result = JobResult{Spec: spec, Status: status, Err: err}
	} else {
		result = ExecuteJob(ctx, sandbox, spec, art)
		art.Close()
	}

	// stream to the aggregator as the job completes; cancelled and
	// timed-out jobs carry no coverage, and nothing is forwarded once the
	// run has been superseded
	var coverageHandle *string
	if result.Coverage != nil && ctx.Err() == nil {
		if err := o.reporter.Report(
			context.Background(), run.Lane, spec.Name, result.Coverage,
		); err != nil {
			result.Err = err
			outputCh <- fmt.Sprintf("err reporting coverage for job '%s': %+v\n", spec.Name, err)
		} else {
			coverageHandle = util.AsPtr(fmt.Sprintf("%s/%s", run.Lane, spec.Name))
		}
	}

	var errDetail *string
	if result.Err != nil {
		errDetail = util.AsPtr(result.Err.Error())
	}
	if err := o.jobStore.UpdateJobEndedOn(
		context.Background(),
		job.JobID,
		result.Status,
		coverageHandle,
		errDetail,
		util.AsPtr(time.Now().UTC()),
	); err != nil {
		log.Printf("err updating job ended on: %+v\n", err)
	}

	outputCh <- fmt.Sprintf("  |  Job '%s' finished: %s\n", spec.Name, result.Status)
	return result
}
