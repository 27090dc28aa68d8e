package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/round"
	"github.com/jmoiron/sqlx"
)

var ErrTaskNotFound = fmt.Errorf("task %w", pkgerrors.ErrNotFound)

type TaskRepository struct {
	db *Database
}

func NewTaskRepository(db *Database) *TaskRepository {
	return &TaskRepository{db: db}
}

type dbTask struct {
	PopulationName            string         `db:"population_name"`
	TaskID                    int64          `db:"task_id"`
	TotalIterations           int64          `db:"total_iterations"`
	MinAggregationSize        int64          `db:"min_aggregation_size"`
	MaxAggregationSize        int64          `db:"max_aggregation_size"`
	MaxParallel               int64          `db:"max_parallel"`
	Status                    int64          `db:"status"`
	JobType                   string         `db:"job_type"`
	CorrelationID             sql.NullString `db:"correlation_id"`
	MinClientVersion          sql.NullString `db:"min_client_version"`
	MaxClientVersion          sql.NullString `db:"max_client_version"`
	StartTaskNoEarlierThan    sql.NullTime   `db:"start_task_no_earlier_than"`
	DoNotCreateIterationAfter sql.NullTime   `db:"do_not_create_iteration_after"`
	Info                      []byte         `db:"info"`
	CreatedTime               sql.NullTime   `db:"created_time"`
}

const taskColumns = `population_name, task_id, total_iterations, min_aggregation_size, max_aggregation_size,
	max_parallel, status, job_type, correlation_id, min_client_version, max_client_version,
	start_task_no_earlier_than, do_not_create_iteration_after, info, created_time`

// CreateTask allocates the next task id of the population and stores the
// task with its first history row. A second active task of the same job
// type in the population is a precondition failure.
func (r *TaskRepository) CreateTask(ctx context.Context, t round.Task) (round.Task, error) {
	if t.ID.PopulationName == "" {
		return round.Task{}, fmt.Errorf("%w: population name", pkgerrors.ErrEmptyKey)
	}
	if !t.Info.JobType.Valid() {
		return round.Task{}, fmt.Errorf("%w: job type %q", pkgerrors.ErrPreconditionFailed, t.Info.JobType)
	}

	info, err := json.Marshal(t.Info)
	if err != nil {
		return round.Task{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	t.CreatedTime = r.db.now()
	_, err = r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		var active int64
		query := r.db.Rebind(`SELECT COUNT(*) FROM tasks WHERE population_name = ? AND job_type = ? AND status IN (?, ?)`)
		if err := tx.GetContext(ctx, &active, query,
			t.ID.PopulationName, string(t.Info.JobType), int64(round.TaskOpen), int64(round.TaskCreated)); err != nil {
			return false, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		if active > 0 {
			return false, fmt.Errorf("%w: population %s already has an active %s task",
				pkgerrors.ErrPreconditionFailed, t.ID.PopulationName, t.Info.JobType)
		}

		var next int64
		query = r.db.Rebind(`SELECT COALESCE(MAX(task_id) + 1, 0) FROM tasks WHERE population_name = ?`)
		if err := tx.GetContext(ctx, &next, query, t.ID.PopulationName); err != nil {
			return false, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		t.ID.TaskID = next

		keys := taskKeys(t.ID)
		if err := r.db.insert(ctx, tx, taskLedger.table, append(keys,
			column{"total_iterations", t.TotalIterations},
			column{"min_aggregation_size", t.MinAggregationSize},
			column{"max_aggregation_size", t.MaxAggregationSize},
			column{"max_parallel", t.MaxParallel},
			column{"status", int64(t.Status)},
			column{"job_type", string(t.Info.JobType)},
			column{"correlation_id", nullable(t.CorrelationID)},
			column{"min_client_version", nullable(t.MinClientVersion)},
			column{"max_client_version", nullable(t.MaxClientVersion)},
			column{"start_task_no_earlier_than", nullableTime(t.StartTaskNoEarlierThan)},
			column{"do_not_create_iteration_after", nullableTime(t.DoNotCreateIterationAfter)},
			column{"info", string(info)},
			column{"created_time", t.CreatedTime},
		)...); err != nil {
			return false, err
		}

		if err := r.db.insert(ctx, tx, taskLedger.history, append(taskKeys(t.ID),
			column{"status_id", round.FirstStatusID},
			column{"status", int64(t.Status)},
			column{"created_time", t.CreatedTime},
		)...); err != nil {
			return false, err
		}

		return true, nil
	})
	if err != nil {
		return round.Task{}, err
	}

	return t, nil
}

func (r *TaskRepository) GetTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	query := r.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE population_name = ? AND task_id = ?`)

	var dbt dbTask
	if err := r.db.GetContext(ctx, &dbt, query, id.PopulationName, id.TaskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Task{}, ErrTaskNotFound
		}

		return round.Task{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toTask(dbt)
}

func (r *TaskRepository) ListTasksOfStatus(ctx context.Context, status round.TaskStatus) ([]round.Task, error) {
	query := r.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY population_name, task_id`)

	return r.list(ctx, query, int64(status))
}

// ListActiveTasks returns the OPEN and CREATED tasks of a population.
func (r *TaskRepository) ListActiveTasks(ctx context.Context, population string) ([]round.Task, error) {
	query := r.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks
		WHERE population_name = ? AND status IN (?, ?) ORDER BY task_id`)

	return r.list(ctx, query, population, int64(round.TaskOpen), int64(round.TaskCreated))
}

func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, id round.TaskID, from, to round.TaskStatus) (bool, error) {
	return r.db.transit(ctx, transition{
		ledger: taskLedger,
		keys:   taskKeys(id),
		from:   int64(from),
		to:     int64(to),
	})
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]round.Task, error) {
	var rows []dbTask
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	tasks := make([]round.Task, 0, len(rows))
	for _, row := range rows {
		t, err := toTask(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func taskKeys(id round.TaskID) []column {
	return []column{
		{"population_name", id.PopulationName},
		{"task_id", id.TaskID},
	}
}

func toTask(row dbTask) (round.Task, error) {
	t := round.Task{
		ID:                 round.TaskID{PopulationName: row.PopulationName, TaskID: row.TaskID},
		TotalIterations:    row.TotalIterations,
		MinAggregationSize: row.MinAggregationSize,
		MaxAggregationSize: row.MaxAggregationSize,
		MaxParallel:        row.MaxParallel,
		Status:             round.TaskStatus(row.Status),
		CorrelationID:      row.CorrelationID.String,
		MinClientVersion:   row.MinClientVersion.String,
		MaxClientVersion:   row.MaxClientVersion.String,
	}
	if row.StartTaskNoEarlierThan.Valid {
		t.StartTaskNoEarlierThan = row.StartTaskNoEarlierThan.Time.UTC()
	}
	if row.DoNotCreateIterationAfter.Valid {
		t.DoNotCreateIterationAfter = row.DoNotCreateIterationAfter.Time.UTC()
	}
	if row.CreatedTime.Valid {
		t.CreatedTime = row.CreatedTime.Time.UTC()
	}
	if len(row.Info) > 0 {
		if err := json.Unmarshal(row.Info, &t.Info); err != nil {
			return round.Task{}, fmt.Errorf("%w: %w", ErrDBScan, err)
		}
	}
	t.Info.JobType = round.JobType(row.JobType)

	return t, nil
}
