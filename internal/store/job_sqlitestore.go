package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/hartell/matrixci/internal"
)

type JobSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewJobSQLiteStore(rdb, rwdb *sql.DB) *JobSQLiteStore {
	return &JobSQLiteStore{rdb, rwdb}
}

func (store *JobSQLiteStore) CreateJob(
	ctx context.Context,
	runID int64,
	name, groupName string,
	required bool,
	timeoutSeconds int64,
) (*Job, error) {
	j := &Job{
		JobRunID:       runID,
		Name:           name,
		GroupName:      groupName,
		Required:       required,
		TimeoutSeconds: timeoutSeconds,
		Status:         JobPending,
	}
	query := `insert into jobs (
		job_run_id,
		name,
		group_name,
		required,
		timeout_seconds,
		status
	)
	values ($1, $2, $3, $4, $5, $6)
	returning job_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, j, query,
		j.JobRunID, j.Name, j.GroupName, j.Required, j.TimeoutSeconds, j.Status,
	); err != nil {
		return nil, err
	}
	return j, nil
}

func (store *JobSQLiteStore) ReadJobByID(ctx context.Context, id int64) (*Job, error) {
	j := &Job{JobID: id}
	query := `select * from jobs where job_id = $1`
	if err := sqlscan.Get(ctx, store.rdb, j, query, j.JobID); err != nil {
		return nil, err
	}
	return j, nil
}

func (store *JobSQLiteStore) UpdateJobStartedOn(
	ctx context.Context,
	id int64,
	status JobStatus,
	startedOn *time.Time,
) error {
	query := `update jobs
	set status = $1,
		started_on = $2
	where job_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		startedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *JobSQLiteStore) UpdateJobEndedOn(
	ctx context.Context,
	id int64,
	status JobStatus,
	coverageHandle, errorDetail *string,
	endedOn *time.Time,
) error {
	query := `update jobs
	set status = $1,
		coverage_handle = $2,
		error = $3,
		ended_on = $4
	where job_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		coverageHandle,
		errorDetail,
		endedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *JobSQLiteStore) ListRunJobs(ctx context.Context, runID int64) ([]Job, error) {
	query := `select * from jobs
	where job_run_id = $1
	order by job_id`
	jobs := make([]Job, 0)
	err := sqlscan.Select(ctx, store.rdb, &jobs, query, runID)
	return jobs, err
}
