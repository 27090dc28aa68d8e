package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/round"
	"github.com/jmoiron/sqlx"
)

var ErrBatchNotFound = fmt.Errorf("aggregation batch %w", pkgerrors.ErrNotFound)

type BatchRepository struct {
	db *Database
}

func NewBatchRepository(db *Database) *BatchRepository {
	return &BatchRepository{db: db}
}

type dbBatch struct {
	PopulationName     string         `db:"population_name"`
	TaskID             int64          `db:"task_id"`
	IterationID        int64          `db:"iteration_id"`
	AttemptID          int64          `db:"attempt_id"`
	BatchID            string         `db:"batch_id"`
	AggregationLevel   int64          `db:"aggregation_level"`
	BatchSize          int64          `db:"batch_size"`
	CreatedByPartition string         `db:"created_by_partition"`
	Status             int64          `db:"status"`
	AggregatedBy       sql.NullString `db:"aggregated_by"`
	CreatedTime        sql.NullTime   `db:"created_time"`
}

const batchColumns = `population_name, task_id, iteration_id, attempt_id, batch_id, aggregation_level,
	batch_size, created_by_partition, status, aggregated_by, created_time`

func (r *BatchRepository) GetBatch(ctx context.Context, id round.BatchID) (round.AggregationBatch, error) {
	cond, args := where(batchKeys(id))
	query := r.db.Rebind(`SELECT ` + batchColumns + ` FROM aggregation_batches WHERE ` + cond)

	var row dbBatch
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.AggregationBatch{}, ErrBatchNotFound
		}

		return round.AggregationBatch{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toBatch(row), nil
}

// UpdateBatchStatus moves a batch from from.Status to to.Status. The version
// read is scoped to the batch level and its current aggregator.
func (r *BatchRepository) UpdateBatchStatus(ctx context.Context, from, to round.AggregationBatch) (bool, error) {
	if from.ID != to.ID {
		return false, nil
	}

	return r.db.transit(ctx, transition{
		ledger: batchLedger,
		keys:   batchKeys(from.ID),
		from:   int64(from.Status),
		to:     int64(to.Status),
		scope: []column{
			{"aggregation_level", from.AggregationLevel},
			{"aggregated_by", nullable(from.AggregatedBy)},
		},
		set: []column{{"aggregated_by", nullable(to.AggregatedBy)}},
		record: []column{
			{"aggregation_level", from.AggregationLevel},
			{"created_by_partition", from.CreatedByPartition},
			{"aggregated_by", nullable(to.AggregatedBy)},
		},
	})
}

// ListBatchIDsOfStatus lists the batches of an iteration at a level in a
// status. An empty partition matches every creator.
func (r *BatchRepository) ListBatchIDsOfStatus(ctx context.Context, id round.IterationID, level int64, status round.BatchStatus, partition string) ([]round.BatchID, error) {
	filter := []column{
		{"aggregation_level", level},
		{"status", int64(status)},
	}
	if partition != "" {
		filter = append(filter, column{"created_by_partition", partition})
	}
	cond, args := where(iterationKeys(id), filter)
	query := r.db.Rebind(`SELECT batch_id FROM aggregation_batches WHERE ` + cond + ` ORDER BY batch_id`)

	var batches []string
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	ids := make([]round.BatchID, len(batches))
	for i, b := range batches {
		ids[i] = round.BatchID{Iteration: id, BatchID: b}
	}

	return ids, nil
}

// SumBatchSizesOfStatus sums the sizes of the batches of an iteration at a
// level whose status is one of statuses. It is 0 when nothing matches.
func (r *BatchRepository) SumBatchSizesOfStatus(ctx context.Context, id round.IterationID, level int64, statuses ...round.BatchStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	codes := make([]int64, len(statuses))
	for i, s := range statuses {
		codes[i] = int64(s)
	}

	cond, args := where(iterationKeys(id), []column{{"aggregation_level", level}})
	query, inArgs, err := sqlx.In(`SELECT CAST(COALESCE(SUM(batch_size), 0) AS BIGINT) FROM aggregation_batches
		WHERE `+cond+` AND status IN (?)`, append(args, codes)...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var sum int64
	if err := r.db.GetContext(ctx, &sum, r.db.Rebind(query), inArgs...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return sum, nil
}

func insertBatch(ctx context.Context, db *Database, tx *sqlx.Tx, b round.AggregationBatch) error {
	created := db.now()
	if err := db.insert(ctx, tx, batchLedger.table, append(batchKeys(b.ID),
		column{"aggregation_level", b.AggregationLevel},
		column{"batch_size", b.BatchSize},
		column{"created_by_partition", b.CreatedByPartition},
		column{"status", int64(b.Status)},
		column{"aggregated_by", nullable(b.AggregatedBy)},
		column{"created_time", created},
	)...); err != nil {
		return err
	}

	return db.insert(ctx, tx, batchLedger.history, append(batchKeys(b.ID),
		column{"status_id", round.FirstStatusID},
		column{"status", int64(b.Status)},
		column{"aggregation_level", b.AggregationLevel},
		column{"created_by_partition", b.CreatedByPartition},
		column{"aggregated_by", nullable(b.AggregatedBy)},
		column{"created_time", created},
	)...)
}

func batchKeys(id round.BatchID) []column {
	return append(iterationKeys(id.Iteration), column{"batch_id", id.BatchID})
}

func toBatch(row dbBatch) round.AggregationBatch {
	b := round.AggregationBatch{
		ID: round.BatchID{
			Iteration: round.IterationID{
				PopulationName: row.PopulationName,
				TaskID:         row.TaskID,
				IterationID:    row.IterationID,
				AttemptID:      row.AttemptID,
			},
			BatchID: row.BatchID,
		},
		AggregationLevel:   row.AggregationLevel,
		BatchSize:          row.BatchSize,
		CreatedByPartition: row.CreatedByPartition,
		Status:             round.BatchStatus(row.Status),
		AggregatedBy:       row.AggregatedBy.String,
	}
	if row.CreatedTime.Valid {
		b.CreatedTime = row.CreatedTime.Time.UTC()
	}

	return b
}
