package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/jmoiron/sqlx"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrMigration    = errors.New("database migration error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
)

// Dialect carries the driver specific behaviour the shared queries need.
type Dialect interface {
	// Name is the sql-migrate dialect name.
	Name() string
	// IsConflict reports whether err is a primary key or unique violation.
	IsConflict(err error) bool
}

type Option func(*Database)

// WithClock overrides the time source used for created_time columns.
func WithClock(now func() time.Time) Option {
	return func(db *Database) {
		db.now = func() time.Time {
			return now().UTC().Truncate(time.Microsecond)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) {
		db.logger = logger
	}
}

// Database is the entity store. Every query is written with ? placeholders
// and rebound for the underlying driver.
type Database struct {
	*sqlx.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

func New(db *sqlx.DB, dialect Dialect, opts ...Option) *Database {
	database := &Database{
		DB:      db,
		dialect: dialect,
		logger:  slog.Default(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
	for _, opt := range opts {
		opt(database)
	}

	return database
}

func (db *Database) Dialect() Dialect {
	return db.dialect
}

// runTx commits when fn reports commit and rolls back otherwise.
func (db *Database) runTx(ctx context.Context, fn func(tx *sqlx.Tx) (bool, error)) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	commit, err := fn(tx)
	if err != nil || !commit {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			db.logger.Warn("failed to roll back transaction", slog.Any("error", rbErr))
		}

		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %w", ErrUpdate, err)
	}

	return true, nil
}

// insert writes one row. A key conflict wraps ErrEntityExists.
func (db *Database) insert(ctx context.Context, tx *sqlx.Tx, table string, cols ...column) error {
	names := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.name
		args[i] = c.value
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if _, err := tx.ExecContext(ctx, db.Rebind(query), args...); err != nil {
		if db.dialect.IsConflict(err) {
			return fmt.Errorf("%w: %s: %w", pkgerrors.ErrEntityExists, table, err)
		}

		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UTC().Truncate(time.Microsecond)
}

type Repositories struct {
	Tasks       *TaskRepository
	Iterations  *IterationRepository
	Assignments *AssignmentRepository
	Batches     *BatchRepository
	Metrics     *MetricsRepository
}

func NewRepositories(db *Database) *Repositories {
	return &Repositories{
		Tasks:       NewTaskRepository(db),
		Iterations:  NewIterationRepository(db),
		Assignments: NewAssignmentRepository(db),
		Batches:     NewBatchRepository(db),
		Metrics:     NewMetricsRepository(db),
	}
}
