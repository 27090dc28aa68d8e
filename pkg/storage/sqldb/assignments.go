package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/round"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

// BulkChunkSize is the number of assignments moved per transaction by
// BulkUpdateAssignmentStatus.
const BulkChunkSize = 50

var ErrAssignmentNotFound = fmt.Errorf("assignment %w", pkgerrors.ErrNotFound)

type AssignmentRepository struct {
	db *Database
}

func NewAssignmentRepository(db *Database) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

type dbAssignment struct {
	PopulationName  string         `db:"population_name"`
	TaskID          int64          `db:"task_id"`
	IterationID     int64          `db:"iteration_id"`
	AttemptID       int64          `db:"attempt_id"`
	SessionID       string         `db:"session_id"`
	CorrelationID   sql.NullString `db:"correlation_id"`
	Status          int64          `db:"status"`
	StatusID        int64          `db:"status_id"`
	BatchID         sql.NullString `db:"batch_id"`
	BaseIterationID int64          `db:"base_iteration_id"`
	BaseOnResultID  int64          `db:"base_on_result_id"`
	ResultID        int64          `db:"result_id"`
	CreatedTime     sql.NullTime   `db:"created_time"`
}

const assignmentColumns = `population_name, task_id, iteration_id, attempt_id, session_id, correlation_id,
	status, status_id, batch_id, base_iteration_id, base_on_result_id, result_id, created_time`

// CreateAssignment assigns a session to a COLLECTING iteration, copying the
// iteration lineage onto the assignment.
func (r *AssignmentRepository) CreateAssignment(ctx context.Context, id round.IterationID, correlationID, sessionID string) (round.Assignment, error) {
	if sessionID == "" {
		return round.Assignment{}, fmt.Errorf("%w: session id", pkgerrors.ErrEmptyKey)
	}

	a := round.Assignment{
		ID:            round.AssignmentID{Iteration: id, SessionID: sessionID},
		CorrelationID: correlationID,
		Status:        round.AssignmentAssigned,
		StatusID:      round.FirstStatusID,
		CreatedTime:   r.db.now(),
	}

	_, err := r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		it, err := getIteration(ctx, r.db, tx, id)
		switch {
		case errors.Is(err, ErrIterationNotFound):
			return false, fmt.Errorf("%w: iteration %s does not exist", pkgerrors.ErrPreconditionFailed, id)
		case err != nil:
			return false, err
		case it.Status != round.IterationCollecting:
			return false, fmt.Errorf("%w: iteration %s is %s", pkgerrors.ErrPreconditionFailed, id, it.Status)
		}

		a.BaseIterationID = it.BaseIterationID
		a.BaseOnResultID = it.BaseOnResultID
		a.ResultID = it.ResultID

		if err := r.db.insert(ctx, tx, assignmentLedger.table, append(assignmentKeys(a.ID),
			column{"correlation_id", nullable(a.CorrelationID)},
			column{"status", int64(a.Status)},
			column{"status_id", a.StatusID},
			column{"batch_id", nil},
			column{"base_iteration_id", a.BaseIterationID},
			column{"base_on_result_id", a.BaseOnResultID},
			column{"result_id", a.ResultID},
			column{"created_time", a.CreatedTime},
		)...); err != nil {
			return false, err
		}

		if err := r.db.insert(ctx, tx, assignmentLedger.history, append(assignmentKeys(a.ID),
			column{"status_id", a.StatusID},
			column{"status", int64(a.Status)},
			column{"batch_id", nil},
			column{"created_time", a.CreatedTime},
		)...); err != nil {
			return false, err
		}

		return true, nil
	})
	if err != nil {
		return round.Assignment{}, err
	}

	return a, nil
}

func (r *AssignmentRepository) GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error) {
	query := r.db.Rebind(`SELECT ` + assignmentColumns + ` FROM assignments
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND session_id = ?`)

	var row dbAssignment
	if err := r.db.GetContext(ctx, &row, query,
		id.Iteration.PopulationName, id.Iteration.TaskID, id.Iteration.IterationID, id.Iteration.AttemptID, id.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Assignment{}, ErrAssignmentNotFound
		}

		return round.Assignment{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toAssignment(row), nil
}

// UpdateAssignmentStatus moves one unbatched assignment.
func (r *AssignmentRepository) UpdateAssignmentStatus(ctx context.Context, id round.AssignmentID, from, to round.AssignmentStatus) (bool, error) {
	return r.db.transit(ctx, assignmentTransition(id, "", "", from, to))
}

// ListAssignmentIDsOfStatus lists the assignments of an iteration in a status
// and batch, ordered by session id. An empty batch id selects unbatched
// assignments.
func (r *AssignmentRepository) ListAssignmentIDsOfStatus(ctx context.Context, id round.IterationID, status round.AssignmentStatus, batchID string) ([]round.AssignmentID, error) {
	cond, args := where(iterationKeys(id), []column{
		{"status", int64(status)},
		{"batch_id", nullable(batchID)},
	})
	query := r.db.Rebind(`SELECT session_id FROM assignments WHERE ` + cond + ` ORDER BY session_id`)

	var sessions []string
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return round.AssignmentIDs(id, sessions), nil
}

// ListAssignmentIDsOfStatusBefore lists the assignments whose latest history
// row has the status and was written before the given time.
func (r *AssignmentRepository) ListAssignmentIDsOfStatusBefore(ctx context.Context, id round.IterationID, status round.AssignmentStatus, before time.Time) ([]round.AssignmentID, error) {
	keys, keyArgs := where(iterationKeys(id))
	query := r.db.Rebind(`SELECT h.session_id FROM assignment_status_history h
		JOIN (SELECT session_id, MAX(status_id) AS status_id FROM assignment_status_history
			WHERE ` + keys + ` GROUP BY session_id) latest
		ON h.session_id = latest.session_id AND h.status_id = latest.status_id
		WHERE h.population_name = ? AND h.task_id = ? AND h.iteration_id = ? AND h.attempt_id = ?
		AND h.status = ? AND h.created_time < ?
		ORDER BY h.session_id`)

	args := append(keyArgs, id.PopulationName, id.TaskID, id.IterationID, id.AttemptID,
		int64(status), before.UTC().Truncate(time.Microsecond))

	var sessions []string
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return round.AssignmentIDs(id, sessions), nil
}

// CountActiveAssignments counts the assignments of an iteration that still
// occupy a slot.
func (r *AssignmentRepository) CountActiveAssignments(ctx context.Context, id round.IterationID) (int64, error) {
	cond, args := where(iterationKeys(id))
	query := r.db.Rebind(`SELECT COUNT(*) FROM assignments WHERE ` + cond + ` AND status <= ?`)

	var n int64
	if err := r.db.GetContext(ctx, &n, query, append(args, int64(round.MaxActiveAssignmentStatus))...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return n, nil
}

// BulkUpdateAssignmentStatus moves assignments of one batch (or unbatched
// ones when batchID is empty) in chunks of BulkChunkSize, one transaction per
// chunk, chunks running concurrently. It returns how many assignments moved.
// Assignments that are no longer in the from status are skipped. A failed
// chunk counts zero.
func (r *AssignmentRepository) BulkUpdateAssignmentStatus(ctx context.Context, ids []round.AssignmentID, batchID string, from, to round.AssignmentStatus) (int64, error) {
	var (
		g          errgroup.Group
		mu         sync.Mutex
		updated    int64
		violations []error
	)

	for start := 0; start < len(ids); start += BulkChunkSize {
		chunk := ids[start:min(start+BulkChunkSize, len(ids))]
		g.Go(func() error {
			n, err := r.updateChunk(ctx, chunk, batchID, from, to)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, pkgerrors.ErrInvariantViolation):
				violations = append(violations, err)
			case err != nil:
				r.db.logger.Warn("bulk assignment update chunk failed",
					slog.Int("chunk_size", len(chunk)),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
					slog.Any("error", err))
			default:
				updated += n
			}

			return nil
		})
	}
	_ = g.Wait()

	return updated, errors.Join(violations...)
}

func (r *AssignmentRepository) updateChunk(ctx context.Context, chunk []round.AssignmentID, batchID string, from, to round.AssignmentStatus) (int64, error) {
	var n int64
	_, err := r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		for _, id := range chunk {
			ok, err := r.db.transitInTx(ctx, tx, assignmentTransition(id, batchID, batchID, from, to), "assignment_update")
			if err != nil {
				return false, err
			}
			if !ok {
				r.db.logger.Debug("skipped assignment in bulk update",
					slog.String("assignment", id.String()),
					slog.String("from", from.String()))

				continue
			}
			n++
		}

		return true, nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// CreateBatchAndUpdateAssignments folds unbatched assignments into a new FULL
// aggregation batch in one transaction. Either every assignment moves and the
// batch is created, or nothing changes.
func (r *AssignmentRepository) CreateBatchAndUpdateAssignments(ctx context.Context, ids []round.AssignmentID, it round.Iteration, from, to round.AssignmentStatus, batchID, partition string) (bool, error) {
	if len(ids) == 0 || batchID == "" {
		return false, nil
	}

	batch := round.AggregationBatch{
		ID:                 round.BatchID{Iteration: it.ID, BatchID: batchID},
		AggregationLevel:   it.AggregationLevel,
		BatchSize:          int64(len(ids)),
		CreatedByPartition: partition,
		Status:             round.BatchFull,
	}

	return r.db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		for _, id := range ids {
			if id.Iteration != it.ID {
				return false, nil
			}
			tr := assignmentTransition(id, "", batchID, from, to)
			version, ok, err := r.db.versionRead(ctx, tx, tr)
			if err != nil || !ok {
				return false, err
			}
			if ok, err := r.db.apply(ctx, tx, tr, version); err != nil || !ok {
				return false, err
			}
		}

		if err := insertBatch(ctx, r.db, tx, batch); err != nil {
			return false, err
		}

		return true, nil
	})
}

// assignmentTransition scopes the version read to scopeBatch and records
// recordBatch on the new history row. Empty batch ids mean NULL.
func assignmentTransition(id round.AssignmentID, scopeBatch, recordBatch string, from, to round.AssignmentStatus) transition {
	tr := transition{
		ledger: assignmentLedger,
		keys:   assignmentKeys(id),
		from:   int64(from),
		to:     int64(to),
		scope:  []column{{"batch_id", nullable(scopeBatch)}},
		record: []column{{"batch_id", nullable(recordBatch)}},
	}
	if recordBatch != scopeBatch {
		tr.set = []column{{"batch_id", nullable(recordBatch)}}
	}

	return tr
}

func assignmentKeys(id round.AssignmentID) []column {
	return append(iterationKeys(id.Iteration), column{"session_id", id.SessionID})
}

func toAssignment(row dbAssignment) round.Assignment {
	a := round.Assignment{
		ID: round.AssignmentID{
			Iteration: round.IterationID{
				PopulationName: row.PopulationName,
				TaskID:         row.TaskID,
				IterationID:    row.IterationID,
				AttemptID:      row.AttemptID,
			},
			SessionID: row.SessionID,
		},
		CorrelationID:   row.CorrelationID.String,
		Status:          round.AssignmentStatus(row.Status),
		StatusID:        row.StatusID,
		BatchID:         row.BatchID.String,
		BaseIterationID: row.BaseIterationID,
		BaseOnResultID:  row.BaseOnResultID,
		ResultID:        row.ResultID,
	}
	if row.CreatedTime.Valid {
		a.CreatedTime = row.CreatedTime.Time.UTC()
	}

	return a
}
