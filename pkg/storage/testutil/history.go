package testutil

import (
	"testing"

	"github.com/absmach/fedround/round"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// StatusRow is one row of a status history table. Level is zero for
// entities without an aggregation level.
type StatusRow struct {
	StatusID int64 `db:"status_id"`
	Status   int64 `db:"status"`
	Level    int64 `db:"aggregation_level"`
}

// TaskHistory lists the status history of id, oldest first.
func TaskHistory(t *testing.T, db *sqlx.DB, id round.TaskID) []StatusRow {
	t.Helper()

	return history(t, db, `SELECT status_id, status, 0 AS aggregation_level FROM task_status_history
		WHERE population_name = ? AND task_id = ? ORDER BY status_id`,
		id.PopulationName, id.TaskID)
}

func IterationHistory(t *testing.T, db *sqlx.DB, id round.IterationID) []StatusRow {
	t.Helper()

	return history(t, db, `SELECT status_id, status, aggregation_level FROM iteration_status_history
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? ORDER BY status_id`,
		id.PopulationName, id.TaskID, id.IterationID, id.AttemptID)
}

func AssignmentHistory(t *testing.T, db *sqlx.DB, id round.AssignmentID) []StatusRow {
	t.Helper()

	it := id.Iteration

	return history(t, db, `SELECT status_id, status, 0 AS aggregation_level FROM assignment_status_history
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND session_id = ?
		ORDER BY status_id`,
		it.PopulationName, it.TaskID, it.IterationID, it.AttemptID, id.SessionID)
}

func BatchHistory(t *testing.T, db *sqlx.DB, id round.BatchID) []StatusRow {
	t.Helper()

	it := id.Iteration

	return history(t, db, `SELECT status_id, status, aggregation_level FROM aggregation_batch_status_history
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND batch_id = ?
		ORDER BY status_id`,
		it.PopulationName, it.TaskID, it.IterationID, it.AttemptID, id.BatchID)
}

// Latest returns the newest row of rows.
func Latest(t *testing.T, rows []StatusRow) StatusRow {
	t.Helper()
	require.NotEmpty(t, rows, "entity has no status history")

	return rows[len(rows)-1]
}

func history(t *testing.T, db *sqlx.DB, query string, args ...any) []StatusRow {
	t.Helper()

	var rows []StatusRow
	require.NoError(t, db.Select(&rows, db.Rebind(query), args...))

	return rows
}
