package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hartell/matrixci/internal"
	"github.com/hartell/matrixci/internal/artifact"
	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/store"
	"github.com/stretchr/testify/suite"

	_ "modernc.org/sqlite"
)

type fakeSandbox struct {
	mu        sync.Mutex
	buildErr  error
	builds    int
	results   map[string]*SandboxResult
	block     bool
	started   chan string
	artifacts map[string]string
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		results:   make(map[string]*SandboxResult),
		artifacts: make(map[string]string),
	}
}

func (s *fakeSandbox) Build(ctx context.Context, run *store.Run) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	s.builds++
	return io.NopCloser(strings.NewReader("built-artifact")), nil
}

func (s *fakeSandbox) RunJob(
	ctx context.Context,
	spec matrix.JobSpec,
	art io.Reader,
) (*SandboxResult, error) {
	b, err := io.ReadAll(art)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.artifacts[spec.Name] = string(b)
	started := s.started
	s.mu.Unlock()
	if started != nil {
		started <- spec.Name
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	res := s.results[spec.Name]
	s.mu.Unlock()
	if res == nil {
		res = &SandboxResult{Passed: true, Coverage: []byte("cov " + spec.Name)}
	}
	return res, nil
}

func (s *fakeSandbox) Close() error { return nil }

// fakeDialer hands out sandboxes in order, reusing the last one once the
// queue runs dry.
type fakeDialer struct {
	mu    sync.Mutex
	queue []*fakeSandbox
	err   error
	dials int
}

func (d *fakeDialer) Dial(
	ctx context.Context,
	run *store.Run,
	decl *matrix.Declaration,
	output chan<- string,
) (Sandbox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	sb := d.queue[0]
	if len(d.queue) > 1 {
		d.queue = d.queue[1:]
	}
	return sb, nil
}

type coverageReport struct {
	Lane     string
	JobName  string
	Coverage []byte
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []coverageReport
	failFor map[string]error
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{failFor: make(map[string]error)}
}

func (r *recordingReporter) Report(
	ctx context.Context,
	lane, jobName string,
	coverage []byte,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[jobName]; ok {
		return err
	}
	r.reports = append(r.reports, coverageReport{Lane: lane, JobName: jobName, Coverage: coverage})
	return nil
}

func (r *recordingReporter) byJob(jobName string) (coverageReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.JobName == jobName {
			return rep, true
		}
	}
	return coverageReport{}, false
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type orchestratorSuite struct {
	db       *sql.DB
	runStore *store.RunSQLiteStore
	jobStore *store.JobSQLiteStore
	suite.Suite
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(orchestratorSuite))
}

func (suite *orchestratorSuite) SetupSuite() {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	// the in-memory database lives on a single connection; a second pooled
	// connection would see an empty database
	db.SetMaxOpenConns(1)
	suite.db = db
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		log.Fatal(err)
	}

	store.RunMigrations(db, internal.MigrationsDir)

	suite.runStore = store.NewRunSQLiteStore(db, db)
	suite.jobStore = store.NewJobSQLiteStore(db, db)
}

func (suite *orchestratorSuite) TearDownSuite() {
	suite.db.Close()
}

func (suite *orchestratorSuite) newOrchestrator(
	dialer SandboxDialer,
	reporter CoverageReporter,
	decl *matrix.Declaration,
) *Orchestrator {
	artifacts, err := artifact.NewFileStore(suite.T().TempDir())
	suite.Require().NoError(err)
	return NewOrchestrator(
		suite.runStore,
		suite.jobStore,
		artifacts,
		NewLaneController(),
		dialer,
		reporter,
		func() (*matrix.Declaration, error) { return decl, nil },
		4,
		time.Minute,
	)
}

func testDeclaration() *matrix.Declaration {
	return &matrix.Declaration{
		Build: matrix.BuildSpec{Command: "./build.sh", Artifact: "out.tar.gz"},
		Test:  matrix.TestSpec{Command: "./run_job.sh", Coverage: "coverage.out"},
		Groups: []matrix.Group{
			{Group: "genesis", TimeoutMinutes: 30, Required: true, Jobs: []string{"unit-genesis-0", "unit-genesis-1"}},
			{Group: "atlas", TimeoutMinutes: 40, Required: true, Jobs: []string{"integration-atlas-0"}},
		},
	}
}

func (suite *orchestratorSuite) TestAllJobsPass() {
	// arrange
	sandbox := newFakeSandbox()
	dialer := &fakeDialer{queue: []*fakeSandbox{sandbox}}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "green-lane", Kind: store.TriggerPush})

	// assert
	suite.NoError(err)
	suite.Equal(store.StatusSucceeded, run.Status)
	suite.False(run.CancelOnSupersede)
	suite.NotNil(run.ArtifactHandle)
	suite.NotNil(run.StartedOn)
	suite.NotNil(run.EndedOn)
	suite.Require().NotNil(run.Output)
	suite.Contains(*run.Output, "PASS")

	suite.Equal(1, sandbox.builds)
	suite.Equal(1, dialer.dials)

	jobs, err := suite.jobStore.ListRunJobs(context.Background(), run.RunID)
	suite.NoError(err)
	suite.Len(jobs, 3)
	for _, job := range jobs {
		suite.Equal(store.JobPassed, job.Status)
		suite.Require().NotNil(job.CoverageHandle)
		suite.Equal(fmt.Sprintf("green-lane/%s", job.Name), *job.CoverageHandle)
		suite.NotNil(job.EndedOn)
	}

	suite.Equal(3, reporter.count())
	rep, ok := reporter.byJob("integration-atlas-0")
	suite.True(ok)
	suite.Equal("green-lane", rep.Lane)
	suite.Equal([]byte("cov integration-atlas-0"), rep.Coverage)

	// every job read the same published artifact
	for name, content := range sandbox.artifacts {
		suite.Equal("built-artifact", content, name)
	}
}

func (suite *orchestratorSuite) TestFailingJobDoesNotStopSiblings() {
	// arrange
	sandbox := newFakeSandbox()
	sandbox.results["unit-genesis-1"] = &SandboxResult{
		Passed:   false,
		Coverage: []byte("cov unit-genesis-1"),
	}
	dialer := &fakeDialer{queue: []*fakeSandbox{sandbox}}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "red-lane", Kind: store.TriggerPush})

	// assert
	suite.Error(err)
	suite.Contains(err.Error(), "unit-genesis-1")
	suite.Equal(store.StatusFailed, run.Status)

	jobs, readErr := suite.jobStore.ListRunJobs(context.Background(), run.RunID)
	suite.NoError(readErr)
	suite.Len(jobs, 3)
	statuses := make(map[string]store.JobStatus)
	for _, job := range jobs {
		statuses[job.Name] = job.Status
	}
	suite.Equal(store.JobPassed, statuses["unit-genesis-0"])
	suite.Equal(store.JobFailed, statuses["unit-genesis-1"])
	suite.Equal(store.JobPassed, statuses["integration-atlas-0"])

	// the failing job's coverage is still forwarded
	suite.Equal(3, reporter.count())
	rep, ok := reporter.byJob("unit-genesis-1")
	suite.True(ok)
	suite.Equal([]byte("cov unit-genesis-1"), rep.Coverage)
}

func (suite *orchestratorSuite) TestOptionalJobFailureKeepsRunGreen() {
	// arrange
	decl := testDeclaration()
	decl.Groups = append(decl.Groups, matrix.Group{
		Group:          "canary",
		TimeoutMinutes: 10,
		Required:       false,
		Jobs:           []string{"canary-0"},
	})
	sandbox := newFakeSandbox()
	sandbox.results["canary-0"] = &SandboxResult{Passed: false, Coverage: []byte("cov canary-0")}
	dialer := &fakeDialer{queue: []*fakeSandbox{sandbox}}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, decl)

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "canary-lane", Kind: store.TriggerPush})

	// assert
	suite.NoError(err)
	suite.Equal(store.StatusSucceeded, run.Status)
	suite.Equal(4, reporter.count())
}

func (suite *orchestratorSuite) TestBuildFailureRunsNoJobs() {
	// arrange
	sandbox := newFakeSandbox()
	sandbox.buildErr = errors.New("compile error in main.go")
	dialer := &fakeDialer{queue: []*fakeSandbox{sandbox}}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "broken-lane", Kind: store.TriggerPush})

	// assert
	suite.Error(err)
	suite.Equal(store.StatusFailed, run.Status)
	suite.Nil(run.ArtifactHandle)

	jobs, readErr := suite.jobStore.ListRunJobs(context.Background(), run.RunID)
	suite.NoError(readErr)
	suite.Empty(jobs)
	suite.Equal(0, reporter.count())
}

func (suite *orchestratorSuite) TestReportingFailureFailsTheRun() {
	// arrange
	sandbox := newFakeSandbox()
	dialer := &fakeDialer{queue: []*fakeSandbox{sandbox}}
	reporter := newRecordingReporter()
	reporter.failFor["unit-genesis-0"] = ReportingError{
		JobName: "unit-genesis-0",
		Err:     errors.New("sink returned status 503"),
	}
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "sink-lane", Kind: store.TriggerPush})

	// assert
	suite.Error(err)
	var reportingErr ReportingError
	suite.ErrorAs(err, &reportingErr)
	suite.Equal("unit-genesis-0", reportingErr.JobName)
	suite.Equal(store.StatusFailed, run.Status)

	// the job itself passed, but its coverage never reached the sink
	jobs, readErr := suite.jobStore.ListRunJobs(context.Background(), run.RunID)
	suite.NoError(readErr)
	for _, job := range jobs {
		suite.Equal(store.JobPassed, job.Status)
		if job.Name == "unit-genesis-0" {
			suite.Nil(job.CoverageHandle)
			suite.NotNil(job.Error)
		} else {
			suite.NotNil(job.CoverageHandle)
		}
	}
}

func (suite *orchestratorSuite) TestSupersedingRunCancelsPullRequestRun() {
	// arrange
	blocked := newFakeSandbox()
	blocked.block = true
	blocked.started = make(chan string, 3)
	fast := newFakeSandbox()
	dialer := &fakeDialer{queue: []*fakeSandbox{blocked, fast}}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	type outcome struct {
		run *store.Run
		err error
	}
	firstDone := make(chan outcome)
	go func() {
		run, err := orchestrator.Execute(Trigger{Lane: "pr-lane", Kind: store.TriggerPullRequest})
		firstDone <- outcome{run: run, err: err}
	}()
	for range 3 {
		<-blocked.started
	}

	// act
	second, secondErr := orchestrator.Execute(Trigger{Lane: "pr-lane", Kind: store.TriggerPullRequest})
	first := <-firstDone

	// assert
	suite.NoError(secondErr)
	suite.Equal(store.StatusSucceeded, second.Status)

	suite.Error(first.err)
	var cancelErr RunCancelError
	suite.ErrorAs(first.err, &cancelErr)
	suite.Equal(store.StatusCancelled, first.run.Status)

	firstJobs, err := suite.jobStore.ListRunJobs(context.Background(), first.run.RunID)
	suite.NoError(err)
	suite.Len(firstJobs, 3)
	for _, job := range firstJobs {
		suite.Equal(store.JobCancelled, job.Status)
		suite.Nil(job.CoverageHandle)
	}

	// only the superseding run's coverage reached the sink
	suite.Equal(3, reporter.count())
	for _, rep := range reporter.reports {
		suite.Equal("pr-lane", rep.Lane)
	}
	secondJobs, err := suite.jobStore.ListRunJobs(context.Background(), second.RunID)
	suite.NoError(err)
	suite.Len(secondJobs, 3)
	for _, job := range secondJobs {
		suite.Equal(store.JobPassed, job.Status)
	}
}

func (suite *orchestratorSuite) TestUnknownTriggerIsRejected() {
	// arrange
	orchestrator := suite.newOrchestrator(
		&fakeDialer{queue: []*fakeSandbox{newFakeSandbox()}},
		newRecordingReporter(),
		testDeclaration(),
	)

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "", Kind: store.TriggerPush})

	// assert
	suite.ErrorIs(err, ErrTriggerNotAdmitted)
	suite.Nil(run)
}

func (suite *orchestratorSuite) TestDialFailureFailsTheRun() {
	// arrange
	dialer := &fakeDialer{err: errors.New("ssh: unable to authenticate")}
	reporter := newRecordingReporter()
	orchestrator := suite.newOrchestrator(dialer, reporter, testDeclaration())

	// act
	run, err := orchestrator.Execute(Trigger{Lane: "agent-lane", Kind: store.TriggerManual})

	// assert
	suite.Error(err)
	suite.Equal(store.StatusFailed, run.Status)
	suite.Equal(0, reporter.count())
}
