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

var ErrIterationNotFound = fmt.Errorf("iteration %w", pkgerrors.ErrNotFound)

type IterationRepository struct {
	db *Database
}

func NewIterationRepository(db *Database) *IterationRepository {
	return &IterationRepository{db: db}
}

type dbIteration struct {
	PopulationName     string         `db:"population_name"`
	TaskID             int64          `db:"task_id"`
	IterationID        int64          `db:"iteration_id"`
	AttemptID          int64          `db:"attempt_id"`
	ReportGoal         int64          `db:"report_goal"`
	Status             int64          `db:"status"`
	BaseIterationID    int64          `db:"base_iteration_id"`
	BaseOnResultID     int64          `db:"base_on_result_id"`
	ResultID           int64          `db:"result_id"`
	AggregationLevel   int64          `db:"aggregation_level"`
	MaxAggregationSize int64          `db:"max_aggregation_size"`
	MinClientVersion   sql.NullString `db:"min_client_version"`
	MaxClientVersion   sql.NullString `db:"max_client_version"`
	Info               []byte         `db:"info"`
	CreatedTime        sql.NullTime   `db:"created_time"`
}

const iterationColumns = `population_name, task_id, iteration_id, attempt_id, report_goal, status,
	base_iteration_id, base_on_result_id, result_id, aggregation_level, max_aggregation_size,
	min_client_version, max_client_version, info, created_time`

// CreateIteration stores an iteration of an existing task with its first
// history row.
func (r *IterationRepository) CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error) {
	if it.ID.PopulationName == "" {
		return round.Iteration{}, fmt.Errorf("%w: population name", pkgerrors.ErrEmptyKey)
	}

	info, err := json.Marshal(it.Info)
	if err != nil {
		return round.Iteration{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	it.CreatedTime = r.db.now()
	_, err = r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		var tasks int64
		query := r.db.Rebind(`SELECT COUNT(*) FROM tasks WHERE population_name = ? AND task_id = ?`)
		if err := tx.GetContext(ctx, &tasks, query, it.ID.PopulationName, it.ID.TaskID); err != nil {
			return false, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		if tasks == 0 {
			return false, fmt.Errorf("%w: task %s/%d does not exist",
				pkgerrors.ErrPreconditionFailed, it.ID.PopulationName, it.ID.TaskID)
		}

		if err := r.db.insert(ctx, tx, iterationLedger.table, append(iterationKeys(it.ID),
			column{"report_goal", it.ReportGoal},
			column{"status", int64(it.Status)},
			column{"base_iteration_id", it.BaseIterationID},
			column{"base_on_result_id", it.BaseOnResultID},
			column{"result_id", it.ResultID},
			column{"aggregation_level", it.AggregationLevel},
			column{"max_aggregation_size", it.MaxAggregationSize},
			column{"min_client_version", nullable(it.MinClientVersion)},
			column{"max_client_version", nullable(it.MaxClientVersion)},
			column{"info", string(info)},
			column{"created_time", it.CreatedTime},
		)...); err != nil {
			return false, err
		}

		if err := r.db.insert(ctx, tx, iterationLedger.history, append(iterationKeys(it.ID),
			column{"status_id", round.FirstStatusID},
			column{"status", int64(it.Status)},
			column{"aggregation_level", it.AggregationLevel},
			column{"created_time", it.CreatedTime},
		)...); err != nil {
			return false, err
		}

		return true, nil
	})
	if err != nil {
		return round.Iteration{}, err
	}

	return it, nil
}

func (r *IterationRepository) GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error) {
	return getIteration(ctx, r.db, r.db.DB, id)
}

func (r *IterationRepository) ListIterationsOfStatus(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error) {
	query := r.db.Rebind(`SELECT ` + iterationColumns + ` FROM iterations WHERE status = ?
		ORDER BY population_name, task_id, iteration_id, attempt_id`)

	var rows []dbIteration
	if err := r.db.SelectContext(ctx, &rows, query, int64(status)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	iterations := make([]round.Iteration, 0, len(rows))
	for _, row := range rows {
		it, err := toIteration(row)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, it)
	}

	return iterations, nil
}

// GetLastIterationOfTask returns the latest attempt of the highest iteration
// of a task.
func (r *IterationRepository) GetLastIterationOfTask(ctx context.Context, id round.TaskID) (round.Iteration, error) {
	query := r.db.Rebind(`SELECT ` + iterationColumns + ` FROM iterations
		WHERE population_name = ? AND task_id = ?
		ORDER BY iteration_id DESC, attempt_id DESC LIMIT 1`)

	var row dbIteration
	if err := r.db.GetContext(ctx, &row, query, id.PopulationName, id.TaskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Iteration{}, ErrIterationNotFound
		}

		return round.Iteration{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toIteration(row)
}

// UpdateIterationStatus moves an iteration from (from.Status,
// from.AggregationLevel) to (to.Status, to.AggregationLevel).
func (r *IterationRepository) UpdateIterationStatus(ctx context.Context, from, to round.Iteration) (bool, error) {
	if from.ID != to.ID {
		return false, nil
	}

	level := []column{{"aggregation_level", from.AggregationLevel}}

	return r.db.transit(ctx, transition{
		ledger: iterationLedger,
		keys:   iterationKeys(from.ID),
		from:   int64(from.Status),
		to:     int64(to.Status),
		scope:  level,
		cas:    level,
		set:    []column{{"aggregation_level", to.AggregationLevel}},
		record: []column{{"aggregation_level", to.AggregationLevel}},
	})
}

func getIteration(ctx context.Context, db *Database, q sqlx.QueryerContext, id round.IterationID) (round.Iteration, error) {
	query := db.Rebind(`SELECT ` + iterationColumns + ` FROM iterations
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ?`)

	var row dbIteration
	if err := sqlx.GetContext(ctx, q, &row, query, id.PopulationName, id.TaskID, id.IterationID, id.AttemptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Iteration{}, ErrIterationNotFound
		}

		return round.Iteration{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toIteration(row)
}

func iterationKeys(id round.IterationID) []column {
	return []column{
		{"population_name", id.PopulationName},
		{"task_id", id.TaskID},
		{"iteration_id", id.IterationID},
		{"attempt_id", id.AttemptID},
	}
}

func toIteration(row dbIteration) (round.Iteration, error) {
	it := round.Iteration{
		ID: round.IterationID{
			PopulationName: row.PopulationName,
			TaskID:         row.TaskID,
			IterationID:    row.IterationID,
			AttemptID:      row.AttemptID,
		},
		ReportGoal:         row.ReportGoal,
		Status:             round.IterationStatus(row.Status),
		BaseIterationID:    row.BaseIterationID,
		BaseOnResultID:     row.BaseOnResultID,
		ResultID:           row.ResultID,
		AggregationLevel:   row.AggregationLevel,
		MaxAggregationSize: row.MaxAggregationSize,
		MinClientVersion:   row.MinClientVersion.String,
		MaxClientVersion:   row.MaxClientVersion.String,
	}
	if row.CreatedTime.Valid {
		it.CreatedTime = row.CreatedTime.Time.UTC()
	}
	if len(row.Info) > 0 {
		if err := json.Unmarshal(row.Info, &it.Info); err != nil {
			return round.Iteration{}, fmt.Errorf("%w: %w", ErrDBScan, err)
		}
	}

	return it, nil
}
