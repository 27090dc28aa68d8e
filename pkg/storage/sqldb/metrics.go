package sqldb

import (
	"context"
	"fmt"

	"github.com/absmach/fedround/round"
	"github.com/jmoiron/sqlx"
)

type MetricsRepository struct {
	db *Database
}

func NewMetricsRepository(db *Database) *MetricsRepository {
	return &MetricsRepository{db: db}
}

type dbModelMetric struct {
	PopulationName string  `db:"population_name"`
	TaskID         int64   `db:"task_id"`
	IterationID    int64   `db:"iteration_id"`
	AttemptID      int64   `db:"attempt_id"`
	MetricName     string  `db:"metric_name"`
	MetricValue    float64 `db:"metric_value"`
}

// UpsertModelMetrics writes all metrics in one transaction.
func (r *MetricsRepository) UpsertModelMetrics(ctx context.Context, metrics []round.ModelMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := r.db.Rebind(`INSERT INTO model_metrics
		(population_name, task_id, iteration_id, attempt_id, metric_name, metric_value, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (population_name, task_id, iteration_id, attempt_id, metric_name)
		DO UPDATE SET metric_value = excluded.metric_value, created_time = excluded.created_time`)
	now := r.db.now()

	_, err := r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		for _, m := range metrics {
			id := m.Iteration
			if _, err := tx.ExecContext(ctx, query,
				id.PopulationName, id.TaskID, id.IterationID, id.AttemptID, m.Name, m.Value, now); err != nil {
				return false, fmt.Errorf("%w: metric %s of %s: %w", ErrCreate, m.Name, id, err)
			}
		}

		return true, nil
	})

	return err
}

func (r *MetricsRepository) ListModelMetrics(ctx context.Context, id round.TaskID) ([]round.ModelMetric, error) {
	query := r.db.Rebind(`SELECT population_name, task_id, iteration_id, attempt_id, metric_name, metric_value
		FROM model_metrics WHERE population_name = ? AND task_id = ?
		ORDER BY iteration_id, attempt_id, metric_name`)

	var rows []dbModelMetric
	if err := r.db.SelectContext(ctx, &rows, query, id.PopulationName, id.TaskID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	metrics := make([]round.ModelMetric, len(rows))
	for i, row := range rows {
		metrics[i] = round.ModelMetric{
			Iteration: round.IterationID{
				PopulationName: row.PopulationName,
				TaskID:         row.TaskID,
				IterationID:    row.IterationID,
				AttemptID:      row.AttemptID,
			},
			Name:  row.MetricName,
			Value: row.MetricValue,
		}
	}

	return metrics, nil
}
