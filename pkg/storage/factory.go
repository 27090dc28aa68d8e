package storage

import (
	"fmt"
	"io"
	"time"

	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/storage/postgres"
	"github.com/absmach/fedround/pkg/storage/sqldb"
	"github.com/absmach/fedround/pkg/storage/sqlite"
)

type Config struct {
	Type string `env:"FEDROUND_STORAGE_TYPE" envDefault:"sqlite"`

	PostgresHost    string `env:"FEDROUND_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"FEDROUND_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"FEDROUND_POSTGRES_USER"    envDefault:"fedround"`
	PostgresPass    string `env:"FEDROUND_POSTGRES_PASS"    envDefault:"fedround"`
	PostgresDB      string `env:"FEDROUND_POSTGRES_DB"      envDefault:"fedround"`
	PostgresSSLMode string `env:"FEDROUND_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"FEDROUND_SQLITE_PATH" envDefault:"./fedround.db"`

	LockTTL time.Duration `env:"FEDROUND_LOCK_TTL" envDefault:"5m"`
}

type Repositories struct {
	Tasks       TaskRepository
	Iterations  IterationRepository
	Assignments AssignmentRepository
	Batches     BatchRepository
	Metrics     MetricsRepository
	Locks       lock.Registry
	// Closer closes the underlying database connection.
	Closer io.Closer
}

// NewRepositories opens the configured store. owner identifies this process
// in the shared lock table. The memory type is a private SQLite database with
// in-process locks.
func NewRepositories(cfg Config, owner string, opts ...sqldb.Option) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.NewDatabase(
			cfg.PostgresHost,
			cfg.PostgresPort,
			cfg.PostgresUser,
			cfg.PostgresPass,
			cfg.PostgresDB,
			cfg.PostgresSSLMode,
			opts...,
		)
		if err != nil {
			return nil, err
		}

		return newRepositories(db, sqldb.NewLockRegistry(db, owner, cfg.LockTTL)), nil
	case "sqlite":
		db, err := sqlite.NewDatabase(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}

		return newRepositories(db, sqldb.NewLockRegistry(db, owner, cfg.LockTTL)), nil
	case "memory":
		db, err := sqlite.NewDatabase(sqlite.MemoryPath, opts...)
		if err != nil {
			return nil, err
		}

		return newRepositories(db, lock.NewRegistry()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

func newRepositories(db *sqldb.Database, locks lock.Registry) *Repositories {
	repos := sqldb.NewRepositories(db)

	return &Repositories{
		Tasks:       repos.Tasks,
		Iterations:  repos.Iterations,
		Assignments: repos.Assignments,
		Batches:     repos.Batches,
		Metrics:     repos.Metrics,
		Locks:       locks,
		Closer:      db,
	}
}
