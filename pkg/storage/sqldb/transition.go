package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/jmoiron/sqlx"
)

// column is a column and its value. A nil value means NULL, both as a
// predicate and as a written value.
type column struct {
	name  string
	value any
}

// ledger pairs a current-row table with its append-only status history.
type ledger struct {
	table   string
	history string
	// statusID is set when the live row mirrors the latest status id.
	statusID bool
}

var (
	taskLedger       = ledger{table: "tasks", history: "task_status_history"}
	iterationLedger  = ledger{table: "iterations", history: "iteration_status_history"}
	assignmentLedger = ledger{table: "assignments", history: "assignment_status_history", statusID: true}
	batchLedger      = ledger{table: "aggregation_batches", history: "aggregation_batch_status_history"}
)

// transition describes one compare-and-append status change.
type transition struct {
	ledger ledger
	keys   []column
	from   int64
	to     int64
	// scope narrows the version read to one status thread of the entity.
	scope []column
	// cas adds live-row predicates next to status = from.
	cas []column
	// set writes extra live-row columns next to status = to.
	set []column
	// record writes extra history columns.
	record []column
}

func where(cols ...[]column) (string, []any) {
	var parts []string
	var args []any
	for _, group := range cols {
		for _, c := range group {
			if c.value == nil {
				parts = append(parts, c.name+" IS NULL")

				continue
			}
			parts = append(parts, c.name+" = ?")
			args = append(args, c.value)
		}
	}

	return strings.Join(parts, " AND "), args
}

// versionRead returns the highest status id of the history rows matching
// the transition's from status and scope. It reports false when there is
// no such row or when a newer row exists for the entity, in which case
// writing version+1 could only collide.
func (db *Database) versionRead(ctx context.Context, q sqlx.QueryerContext, tr transition) (int64, bool, error) {
	scope, scopeArgs := where([]column{{name: "status", value: tr.from}}, tr.scope)
	keys, keyArgs := where(tr.keys)

	query := fmt.Sprintf(`SELECT MAX(CASE WHEN %s THEN status_id END) AS version, MAX(status_id) AS latest
		FROM %s WHERE %s`, scope, tr.ledger.history, keys)

	var row struct {
		Version sql.NullInt64 `db:"version"`
		Latest  sql.NullInt64 `db:"latest"`
	}
	args := append(scopeArgs, keyArgs...)
	if err := sqlx.GetContext(ctx, q, &row, db.Rebind(query), args...); err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	if !row.Version.Valid || row.Version.Int64 != row.Latest.Int64 {
		return 0, false, nil
	}

	return row.Version.Int64, true, nil
}

// apply appends history row version+1 and swaps the live row status inside
// tx. It returns false when a racing writer got there first; the caller must
// then roll back. A history insert that does not write exactly one row is an
// invariant violation.
func (db *Database) apply(ctx context.Context, tx *sqlx.Tx, tr transition, version int64) (bool, error) {
	cols := make([]string, 0, len(tr.keys)+len(tr.record)+3)
	args := make([]any, 0, cap(cols))
	for _, c := range append(append([]column{}, tr.keys...), tr.record...) {
		cols = append(cols, c.name)
		args = append(args, c.value)
	}
	cols = append(cols, "status_id", "status", "created_time")
	args = append(args, version+1, tr.to, db.now())

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		tr.ledger.history, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	res, err := tx.ExecContext(ctx, db.Rebind(insert), args...)
	if err != nil {
		if db.dialect.IsConflict(err) {
			return false, nil
		}

		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n != 1 {
		return false, fmt.Errorf("%w: insert into %s affected %d rows", pkgerrors.ErrInvariantViolation, tr.ledger.history, n)
	}

	sets := []string{"status = ?"}
	setArgs := []any{tr.to}
	if tr.ledger.statusID {
		sets = append(sets, "status_id = ?")
		setArgs = append(setArgs, version+1)
	}
	for _, c := range tr.set {
		sets = append(sets, c.name+" = ?")
		setArgs = append(setArgs, c.value)
	}
	cond, condArgs := where(tr.keys, []column{{name: "status", value: tr.from}}, tr.cas)

	update := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, tr.ledger.table, strings.Join(sets, ", "), cond)
	res, err = tx.ExecContext(ctx, db.Rebind(update), append(setArgs, condArgs...)...)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	return n == 1, nil
}

// transit runs the full protocol for a single entity: version read outside
// the transaction, then history append and live-row CAS in one.
func (db *Database) transit(ctx context.Context, tr transition) (bool, error) {
	version, ok, err := db.versionRead(ctx, db.DB, tr)
	if err != nil || !ok {
		return false, err
	}

	return db.runTx(ctx, func(tx *sqlx.Tx) (bool, error) {
		return db.apply(ctx, tx, tr, version)
	})
}

// transitInTx runs the protocol for one entity inside an open transaction,
// guarded by a savepoint so a rejected entity leaves the rest of tx intact.
func (db *Database) transitInTx(ctx context.Context, tx *sqlx.Tx, tr transition, savepoint string) (bool, error) {
	version, ok, err := db.versionRead(ctx, tx, tr)
	if err != nil || !ok {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	applied, err := db.apply(ctx, tx, tr, version)
	if err == nil && applied {
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return false, fmt.Errorf("%w: %w", ErrUpdate, err)
		}

		return true, nil
	}

	if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, rbErr)
	}

	return false, err
}
