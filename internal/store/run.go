package store

import (
	"context"
	"time"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
	StatusSucceeded RunStatus = "succeeded"
)

type TriggerKind string

const (
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerPush        TriggerKind = "push"
	TriggerSchedule    TriggerKind = "schedule"
	TriggerManual      TriggerKind = "manual"
)

// Run is one invocation of the pipeline. A run exclusively owns its artifact
// and its job results; nothing is shared across runs.
type Run struct {
	RunID             int64       `param:"run_id" json:"run_id"`
	Lane              string      `json:"lane"`
	TriggerKind       TriggerKind `json:"trigger_kind"`
	CancelOnSupersede bool        `json:"cancel_on_supersede"`
	ArtifactHandle    *string     `json:"artifact_handle"`
	WorkingDirectory  *string     `json:"working_directory"`
	Output            *string     `json:"-"`
	Status            RunStatus   `json:"status"`
	CreatedOn         time.Time   `json:"created_on"`
	StartedOn         *time.Time  `json:"started_on"`
	EndedOn           *time.Time  `json:"ended_on"`
}

type RunStore interface {
	CreateRun(context.Context, string, TriggerKind, bool) (*Run, error)
	ReadRunByID(context.Context, int64) (*Run, error)
	UpdateRunStartedOn(context.Context, int64, string, RunStatus, *time.Time) error
	UpdateRunArtifact(context.Context, int64, string) error
	UpdateRunEndedOn(context.Context, int64, RunStatus, *time.Time) error
	AppendRunOutput(context.Context, int64, string) error
	DeleteRun(context.Context, int64) error
	ListRuns(context.Context) ([]Run, error)
	ListLaneRuns(context.Context, string) ([]Run, error)
	ListRunsPaginated(context.Context, int64, int64) ([]Run, error)
	CountRuns(context.Context) (int64, error)
}
