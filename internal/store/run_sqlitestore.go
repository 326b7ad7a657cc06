package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/hartell/matrixci/internal"
)

type RunSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLiteStore(rdb, rwdb *sql.DB) *RunSQLiteStore {
	return &RunSQLiteStore{rdb, rwdb}
}

func (store *RunSQLiteStore) CreateRun(
	ctx context.Context,
	lane string,
	triggerKind TriggerKind,
	cancelOnSupersede bool,
) (*Run, error) {
	r := &Run{
		Lane:              lane,
		TriggerKind:       triggerKind,
		CancelOnSupersede: cancelOnSupersede,
		Status:            StatusPending,
	}
	query := `insert into runs (
		lane,
		trigger_kind,
		cancel_on_supersede,
		status
	)
	values ($1, $2, $3, $4)
	returning run_id, created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, r, query,
		r.Lane, r.TriggerKind, r.CancelOnSupersede, r.Status,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) ReadRunByID(ctx context.Context, id int64) (*Run, error) {
	r := &Run{RunID: id}
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, r.RunID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) UpdateRunStartedOn(
	ctx context.Context,
	id int64,
	workingDirectory string,
	status RunStatus,
	startedOn *time.Time,
) error {
	query := `update runs
	set working_directory = $1,
		status = $2,
		started_on = $3
	where run_id = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		workingDirectory,
		status,
		startedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *RunSQLiteStore) UpdateRunArtifact(
	ctx context.Context,
	id int64,
	artifactHandle string,
) error {
	query := `update runs
	set artifact_handle = $1
	where run_id = $2`
	_, err := store.rwdb.ExecContext(ctx, query, artifactHandle, id)
	return err
}

func (store *RunSQLiteStore) UpdateRunEndedOn(
	ctx context.Context,
	id int64,
	status RunStatus,
	endedOn *time.Time,
) error {
	query := `update runs
	set status = $1,
		ended_on = $2
	where run_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		endedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *RunSQLiteStore) AppendRunOutput(ctx context.Context, id int64, out string) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r := &Run{RunID: id}
	readQuery := `select * from runs where run_id = $1`
	err = sqlscan.Get(ctx, tx, r, readQuery, r.RunID)
	if err != nil {
		return err
	}

	var existingOutput string
	if r.Output != nil {
		existingOutput = *r.Output
	}
	updateQuery := `update runs
	set output = $1
	where run_id = $2`
	_, err = tx.ExecContext(ctx, updateQuery, existingOutput+out, r.RunID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (store *RunSQLiteStore) DeleteRun(ctx context.Context, id int64) error {
	query := "delete from runs where run_id = $1"
	_, err := store.rwdb.ExecContext(ctx, query, id)
	return err
}

func (store *RunSQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	query := `select * from runs order by created_on desc`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query)
	return runs, err
}

func (store *RunSQLiteStore) ListLaneRuns(ctx context.Context, lane string) ([]Run, error) {
	query := `select * from runs
	where lane = $1
	order by created_on desc`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, lane)
	return runs, err
}

func (store *RunSQLiteStore) ListRunsPaginated(
	ctx context.Context,
	limit, offset int64,
) ([]Run, error) {
	query := `select * from runs
	order by created_on desc limit $1 offset $2`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, limit, offset)
	return runs, err
}

func (store *RunSQLiteStore) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	query := `select count(*) from runs`
	err := sqlscan.Get(ctx, store.rdb, &count, query)
	return count, err
}
