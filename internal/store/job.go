package store

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPassed    JobStatus = "passed"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
	JobCancelled JobStatus = "cancelled"
)

// Job is the persisted outcome of one matrix job. The coverage handle is set
// only when the job actually ran to completion; a failing job still carries
// coverage, a timed-out or cancelled one never does.
type Job struct {
	JobID          int64      `param:"job_id" json:"job_id"`
	JobRunID       int64      `json:"job_run_id"`
	Name           string     `json:"name"`
	GroupName      string     `json:"group_name"`
	Required       bool       `json:"required"`
	TimeoutSeconds int64      `json:"timeout_seconds"`
	Status         JobStatus  `json:"status"`
	CoverageHandle *string    `json:"coverage_handle"`
	Error          *string    `json:"error"`
	StartedOn      *time.Time `json:"started_on"`
	EndedOn        *time.Time `json:"ended_on"`
}

type JobStore interface {
	CreateJob(context.Context, int64, string, string, bool, int64) (*Job, error)
	ReadJobByID(context.Context, int64) (*Job, error)
	UpdateJobStartedOn(context.Context, int64, JobStatus, *time.Time) error
	UpdateJobEndedOn(context.Context, int64, JobStatus, *string, *string, *time.Time) error
	ListRunJobs(context.Context, int64) ([]Job, error)
}
