package postgres

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedround/pkg/storage/sqldb"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

const uniqueViolation = "23505"

type dialect struct{}

func (dialect) Name() string {
	return "postgres"
}

func (dialect) IsConflict(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func NewDatabase(host, port, user, pass, name, sslMode string, opts ...sqldb.Option) (*sqldb.Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sqldb.ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(db); err != nil {
		db.Close()

		return nil, err
	}

	return sqldb.New(db, dialect{}, opts...), nil
}

func Migrate(db *sqlx.DB) error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "fedround_1",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS tasks (
						population_name               VARCHAR(254) NOT NULL,
						task_id                       BIGINT NOT NULL,
						total_iterations              BIGINT NOT NULL DEFAULT 0,
						min_aggregation_size          BIGINT NOT NULL DEFAULT 0,
						max_aggregation_size          BIGINT NOT NULL DEFAULT 0,
						max_parallel                  BIGINT NOT NULL DEFAULT 0,
						status                        BIGINT NOT NULL,
						job_type                      VARCHAR(32) NOT NULL,
						correlation_id                TEXT,
						min_client_version            TEXT,
						max_client_version            TEXT,
						start_task_no_earlier_than    TIMESTAMPTZ,
						do_not_create_iteration_after TIMESTAMPTZ,
						info                          JSONB,
						created_time                  TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(population_name, status)`,
					`CREATE TABLE IF NOT EXISTS task_status_history (
						population_name VARCHAR(254) NOT NULL,
						task_id         BIGINT NOT NULL,
						status_id       BIGINT NOT NULL,
						status          BIGINT NOT NULL,
						created_time    TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, status_id),
						FOREIGN KEY (population_name, task_id) REFERENCES tasks(population_name, task_id)
					)`,
					`CREATE TABLE IF NOT EXISTS iterations (
						population_name      VARCHAR(254) NOT NULL,
						task_id              BIGINT NOT NULL,
						iteration_id         BIGINT NOT NULL,
						attempt_id           BIGINT NOT NULL,
						report_goal          BIGINT NOT NULL,
						status               BIGINT NOT NULL,
						base_iteration_id    BIGINT NOT NULL DEFAULT 0,
						base_on_result_id    BIGINT NOT NULL DEFAULT 0,
						result_id            BIGINT NOT NULL DEFAULT 0,
						aggregation_level    BIGINT NOT NULL DEFAULT 0,
						max_aggregation_size BIGINT NOT NULL DEFAULT 0,
						min_client_version   TEXT,
						max_client_version   TEXT,
						info                 JSONB,
						created_time         TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id),
						FOREIGN KEY (population_name, task_id) REFERENCES tasks(population_name, task_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_iterations_status ON iterations(status)`,
					`CREATE TABLE IF NOT EXISTS iteration_status_history (
						population_name   VARCHAR(254) NOT NULL,
						task_id           BIGINT NOT NULL,
						iteration_id      BIGINT NOT NULL,
						attempt_id        BIGINT NOT NULL,
						status_id         BIGINT NOT NULL,
						status            BIGINT NOT NULL,
						aggregation_level BIGINT NOT NULL,
						created_time      TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, status_id)
					)`,
					`CREATE TABLE IF NOT EXISTS assignments (
						population_name   VARCHAR(254) NOT NULL,
						task_id           BIGINT NOT NULL,
						iteration_id      BIGINT NOT NULL,
						attempt_id        BIGINT NOT NULL,
						session_id        VARCHAR(254) NOT NULL,
						correlation_id    TEXT,
						status            BIGINT NOT NULL,
						status_id         BIGINT NOT NULL,
						batch_id          VARCHAR(254),
						base_iteration_id BIGINT NOT NULL DEFAULT 0,
						base_on_result_id BIGINT NOT NULL DEFAULT 0,
						result_id         BIGINT NOT NULL DEFAULT 0,
						created_time      TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, session_id),
						FOREIGN KEY (population_name, task_id, iteration_id, attempt_id)
							REFERENCES iterations(population_name, task_id, iteration_id, attempt_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_assignments_status
						ON assignments(population_name, task_id, iteration_id, attempt_id, status, batch_id)`,
					`CREATE TABLE IF NOT EXISTS assignment_status_history (
						population_name VARCHAR(254) NOT NULL,
						task_id         BIGINT NOT NULL,
						iteration_id    BIGINT NOT NULL,
						attempt_id      BIGINT NOT NULL,
						session_id      VARCHAR(254) NOT NULL,
						status_id       BIGINT NOT NULL,
						status          BIGINT NOT NULL,
						batch_id        VARCHAR(254),
						created_time    TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, session_id, status_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_assignment_history_status
						ON assignment_status_history(population_name, task_id, iteration_id, attempt_id, status, created_time)`,
					`CREATE TABLE IF NOT EXISTS aggregation_batches (
						population_name      VARCHAR(254) NOT NULL,
						task_id              BIGINT NOT NULL,
						iteration_id         BIGINT NOT NULL,
						attempt_id           BIGINT NOT NULL,
						batch_id             VARCHAR(254) NOT NULL,
						aggregation_level    BIGINT NOT NULL,
						batch_size           BIGINT NOT NULL,
						created_by_partition VARCHAR(254) NOT NULL,
						status               BIGINT NOT NULL,
						aggregated_by        VARCHAR(254),
						created_time         TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, batch_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_aggregation_batches_status
						ON aggregation_batches(population_name, task_id, iteration_id, attempt_id, aggregation_level, status)`,
					`CREATE TABLE IF NOT EXISTS aggregation_batch_status_history (
						population_name      VARCHAR(254) NOT NULL,
						task_id              BIGINT NOT NULL,
						iteration_id         BIGINT NOT NULL,
						attempt_id           BIGINT NOT NULL,
						batch_id             VARCHAR(254) NOT NULL,
						status_id            BIGINT NOT NULL,
						status               BIGINT NOT NULL,
						aggregation_level    BIGINT NOT NULL,
						created_by_partition VARCHAR(254) NOT NULL,
						aggregated_by        VARCHAR(254),
						created_time         TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, batch_id, status_id)
					)`,
					`CREATE TABLE IF NOT EXISTS collector_locks (
						name       VARCHAR(512) PRIMARY KEY,
						owner      VARCHAR(512) NOT NULL,
						expires_at BIGINT NOT NULL
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS collector_locks`,
					`DROP TABLE IF EXISTS aggregation_batch_status_history`,
					`DROP TABLE IF EXISTS aggregation_batches`,
					`DROP TABLE IF EXISTS assignment_status_history`,
					`DROP TABLE IF EXISTS assignments`,
					`DROP TABLE IF EXISTS iteration_status_history`,
					`DROP TABLE IF EXISTS iterations`,
					`DROP TABLE IF EXISTS task_status_history`,
					`DROP TABLE IF EXISTS tasks`,
				},
			},
			{
				Id: "fedround_2",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS model_metrics (
						population_name VARCHAR(254) NOT NULL,
						task_id         BIGINT NOT NULL,
						iteration_id    BIGINT NOT NULL,
						attempt_id      BIGINT NOT NULL,
						metric_name     VARCHAR(254) NOT NULL,
						metric_value    DOUBLE PRECISION NOT NULL,
						created_time    TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (population_name, task_id, iteration_id, attempt_id, metric_name)
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS model_metrics`,
				},
			},
		},
	}

	n, err := migrate.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("%w: %w", sqldb.ErrMigration, err)
	}
	if n > 0 {
		slog.Debug("applied database migrations", slog.Int("count", n))
	}

	return nil
}
