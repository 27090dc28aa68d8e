package sqlite_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/storage/sqldb"
	"github.com/absmach/fedround/pkg/storage/sqlite"
	"github.com/absmach/fedround/pkg/storage/testutil"
	"github.com/absmach/fedround/round"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *sqldb.Database

func TestMain(m *testing.M) {
	dbPath := filepath.Join(os.TempDir(), "test_"+uuid.NewString()+".db")

	var err error
	testDB, err = sqlite.NewDatabase(dbPath)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	os.Remove(dbPath)

	os.Exit(code)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockDB(t *testing.T) (*sqldb.Database, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	db, err := sqlite.NewDatabase(filepath.Join(t.TempDir(), "fedround.db"), sqldb.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, c
}

func seedIteration(t *testing.T, db *sqldb.Database, reportGoal int64) round.Iteration {
	t.Helper()
	ctx := context.Background()

	task, err := sqldb.NewTaskRepository(db).CreateTask(ctx, testutil.TestTask("pop-"+uuid.NewString(), round.JobTraining))
	require.NoError(t, err)

	it, err := sqldb.NewIterationRepository(db).CreateIteration(ctx, testutil.TestIteration(task.ID, 1, reportGoal))
	require.NoError(t, err)

	return it
}

func seedAssignments(t *testing.T, db *sqldb.Database, it round.IterationID, n int) []round.AssignmentID {
	t.Helper()
	repo := sqldb.NewAssignmentRepository(db)

	ids := make([]round.AssignmentID, n)
	for i := range ids {
		a, err := repo.CreateAssignment(context.Background(), it, "corr", fmt.Sprintf("session-%03d", i))
		require.NoError(t, err)
		ids[i] = a.ID
	}

	return ids
}

func moveAll(t *testing.T, db *sqldb.Database, ids []round.AssignmentID, from, to round.AssignmentStatus) {
	t.Helper()
	n, err := sqldb.NewAssignmentRepository(db).BulkUpdateAssignmentStatus(context.Background(), ids, "", from, to)
	require.NoError(t, err)
	require.Equal(t, int64(len(ids)), n)
}

func latestAssignmentHistory(t *testing.T, db *sqldb.Database, id round.AssignmentID) (int64, round.AssignmentStatus) {
	t.Helper()

	var row struct {
		StatusID int64 `db:"status_id"`
		Status   int64 `db:"status"`
	}
	query := db.Rebind(`SELECT status_id, status FROM assignment_status_history
		WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND session_id = ?
		ORDER BY status_id DESC LIMIT 1`)
	require.NoError(t, db.Get(&row, query,
		id.Iteration.PopulationName, id.Iteration.TaskID, id.Iteration.IterationID, id.Iteration.AttemptID, id.SessionID))

	return row.StatusID, round.AssignmentStatus(row.Status)
}

func TestCreateTask(t *testing.T) {
	repo := sqldb.NewTaskRepository(testDB)
	ctx := context.Background()
	population := "pop-" + uuid.NewString()

	first, err := repo.CreateTask(ctx, testutil.TestTask(population, round.JobTraining))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.ID.TaskID)

	cases := []struct {
		desc string
		task round.Task
		id   int64
		err  error
	}{
		{
			desc: "evaluation task next to an active training task",
			task: testutil.TestTask(population, round.JobEvaluation),
			id:   1,
		},
		{
			desc: "second active training task",
			task: testutil.TestTask(population, round.JobTraining),
			err:  pkgerrors.ErrPreconditionFailed,
		},
		{
			desc: "empty population",
			task: testutil.TestTask("", round.JobTraining),
			err:  pkgerrors.ErrEmptyKey,
		},
		{
			desc: "unknown job type",
			task: testutil.TestTask(population, round.JobType("inference")),
			err:  pkgerrors.ErrPreconditionFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			created, err := repo.CreateTask(ctx, tc.task)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, created.ID.TaskID)

			got, err := repo.GetTask(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.Info, got.Info)
			assert.Equal(t, created.CorrelationID, got.CorrelationID)
			assert.True(t, created.StartTaskNoEarlierThan.Equal(got.StartTaskNoEarlierThan))
		})
	}

	active, err := repo.ListActiveTasks(ctx, population)
	require.NoError(t, err)
	assert.Len(t, active, 2, "rejected create must not leave a row")

	ok, err := repo.UpdateTaskStatus(ctx, first.ID, round.TaskOpen, round.TaskCanceled)
	require.NoError(t, err)
	require.True(t, ok)

	next, err := repo.CreateTask(ctx, testutil.TestTask(population, round.JobTraining))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID.TaskID)
}

func TestGetTaskNotFound(t *testing.T) {
	_, err := sqldb.NewTaskRepository(testDB).GetTask(context.Background(), round.TaskID{PopulationName: "missing"})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestUpdateTaskStatus(t *testing.T) {
	repo := sqldb.NewTaskRepository(testDB)
	ctx := context.Background()

	task, err := repo.CreateTask(ctx, testutil.TestTask("pop-"+uuid.NewString(), round.JobTraining))
	require.NoError(t, err)

	cases := []struct {
		desc     string
		from, to round.TaskStatus
		ok       bool
		status   round.TaskStatus
	}{
		{desc: "open to created", from: round.TaskOpen, to: round.TaskCreated, ok: true, status: round.TaskCreated},
		{desc: "stale from status", from: round.TaskOpen, to: round.TaskCanceled, ok: false, status: round.TaskCreated},
		{desc: "created to completed", from: round.TaskCreated, to: round.TaskCompleted, ok: true, status: round.TaskCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ok, err := repo.UpdateTaskStatus(ctx, task.ID, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)

			got, err := repo.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			latest := testutil.Latest(t, testutil.TaskHistory(t, testDB.DB, task.ID))
			assert.Equal(t, int64(got.Status), latest.Status, "live status must match the latest history row")
		})
	}

	completed, err := repo.ListTasksOfStatus(ctx, round.TaskCompleted)
	require.NoError(t, err)
	var ids []round.TaskID
	for _, c := range completed {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, task.ID)
}

func TestCreateIteration(t *testing.T) {
	ctx := context.Background()
	tasks := sqldb.NewTaskRepository(testDB)
	repo := sqldb.NewIterationRepository(testDB)

	task, err := tasks.CreateTask(ctx, testutil.TestTask("pop-"+uuid.NewString(), round.JobTraining))
	require.NoError(t, err)

	cases := []struct {
		desc string
		it   round.Iteration
		err  error
	}{
		{
			desc: "first iteration",
			it:   testutil.TestIteration(task.ID, 1, 3),
		},
		{
			desc: "duplicate iteration",
			it:   testutil.TestIteration(task.ID, 1, 3),
			err:  pkgerrors.ErrEntityExists,
		},
		{
			desc: "missing parent task",
			it:   testutil.TestIteration(round.TaskID{PopulationName: "nowhere", TaskID: 9}, 1, 3),
			err:  pkgerrors.ErrPreconditionFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			created, err := repo.CreateIteration(ctx, tc.it)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			got, err := repo.GetIteration(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ReportGoal, got.ReportGoal)
			assert.Equal(t, created.Info, got.Info)
			assert.Equal(t, round.IterationCollecting, got.Status)
		})
	}

	second := testutil.TestIteration(task.ID, 2, 3)
	_, err = repo.CreateIteration(ctx, second)
	require.NoError(t, err)

	last, err := repo.GetLastIterationOfTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)

	_, err = repo.GetIteration(ctx, round.IterationID{PopulationName: "nowhere"})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestUpdateIterationStatus(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewIterationRepository(testDB)
	it := seedIteration(t, testDB, 3)

	aggregating := it
	aggregating.Status = round.IterationAggregating
	aggregating.AggregationLevel = 1

	other := aggregating
	other.ID.AttemptID = 7

	wrongLevel := it
	wrongLevel.AggregationLevel = 5

	cases := []struct {
		desc     string
		from, to round.Iteration
		ok       bool
	}{
		{desc: "mismatching ids", from: it, to: other, ok: false},
		{desc: "wrong from level", from: wrongLevel, to: aggregating, ok: false},
		{desc: "collecting to aggregating", from: it, to: aggregating, ok: true},
		{desc: "replay of the same transition", from: it, to: aggregating, ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			before := testutil.IterationHistory(t, testDB.DB, it.ID)

			ok, err := repo.UpdateIterationStatus(ctx, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)

			after := testutil.IterationHistory(t, testDB.DB, it.ID)
			if tc.ok {
				assert.Len(t, after, len(before)+1)
			} else {
				assert.Equal(t, before, after, "a rejected transition appends no history")
			}

			got, err := repo.GetIteration(ctx, it.ID)
			require.NoError(t, err)
			latest := testutil.Latest(t, after)
			assert.Equal(t, int64(got.Status), latest.Status, "live status must match the latest history row")
			assert.Equal(t, got.AggregationLevel, latest.Level)
		})
	}

	got, err := repo.GetIteration(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, round.IterationAggregating, got.Status)
	assert.Equal(t, int64(1), got.AggregationLevel)

	var history []struct {
		StatusID int64 `db:"status_id"`
		Status   int64 `db:"status"`
		Level    int64 `db:"aggregation_level"`
	}
	require.NoError(t, testDB.Select(&history, testDB.Rebind(`SELECT status_id, status, aggregation_level
		FROM iteration_status_history WHERE population_name = ? ORDER BY status_id`), it.ID.PopulationName))
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[1].StatusID)
	assert.Equal(t, int64(round.IterationAggregating), history[1].Status)
	assert.Equal(t, int64(1), history[1].Level)

	collecting, err := repo.ListIterationsOfStatus(ctx, round.IterationCollecting)
	require.NoError(t, err)
	for _, c := range collecting {
		assert.NotEqual(t, it.ID, c.ID)
	}
}

func TestCreateAssignment(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewAssignmentRepository(testDB)
	it := seedIteration(t, testDB, 3)

	closed := seedIteration(t, testDB, 3)
	aggregating := closed
	aggregating.Status = round.IterationAggregating
	ok, err := sqldb.NewIterationRepository(testDB).UpdateIterationStatus(ctx, closed, aggregating)
	require.NoError(t, err)
	require.True(t, ok)

	cases := []struct {
		desc    string
		it      round.IterationID
		session string
		err     error
	}{
		{desc: "new session", it: it.ID, session: "s1"},
		{desc: "duplicate session", it: it.ID, session: "s1", err: pkgerrors.ErrEntityExists},
		{desc: "empty session", it: it.ID, session: "", err: pkgerrors.ErrEmptyKey},
		{desc: "missing iteration", it: round.IterationID{PopulationName: "nowhere"}, session: "s1", err: pkgerrors.ErrPreconditionFailed},
		{desc: "iteration not collecting", it: closed.ID, session: "s1", err: pkgerrors.ErrPreconditionFailed},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			a, err := repo.CreateAssignment(ctx, tc.it, "corr", tc.session)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			got, err := repo.GetAssignment(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, round.AssignmentAssigned, got.Status)
			assert.Equal(t, round.FirstStatusID, got.StatusID)
			assert.Empty(t, got.BatchID)
			assert.Equal(t, it.ResultID, got.ResultID)
			assert.Equal(t, it.BaseOnResultID, got.BaseOnResultID)
		})
	}
}

func TestUpdateAssignmentStatus(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewAssignmentRepository(testDB)
	it := seedIteration(t, testDB, 3)
	id := seedAssignments(t, testDB, it.ID, 1)[0]

	steps := []struct {
		desc     string
		from, to round.AssignmentStatus
		ok       bool
	}{
		{desc: "assigned to local completed", from: round.AssignmentAssigned, to: round.AssignmentLocalCompleted, ok: true},
		{desc: "stale from status", from: round.AssignmentAssigned, to: round.AssignmentLocalTimeout, ok: false},
		{desc: "local completed to upload completed", from: round.AssignmentLocalCompleted, to: round.AssignmentUploadCompleted, ok: true},
	}

	for _, tc := range steps {
		t.Run(tc.desc, func(t *testing.T) {
			ok, err := repo.UpdateAssignmentStatus(ctx, id, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)

			got, err := repo.GetAssignment(ctx, id)
			require.NoError(t, err)
			statusID, status := latestAssignmentHistory(t, testDB, id)
			assert.Equal(t, status, got.Status, "live status must match the latest history row")
			assert.Equal(t, statusID, got.StatusID)
		})
	}
}

// diverged is a transition whose live row was moved without a history row.
type diverged struct {
	transit func() (bool, error)
	history func() []testutil.StatusRow
	live    func() int64
}

func TestTransitionRejectsDivergedLiveRow(t *testing.T) {
	ctx := context.Background()
	tasks := sqldb.NewTaskRepository(testDB)
	iterations := sqldb.NewIterationRepository(testDB)
	assignments := sqldb.NewAssignmentRepository(testDB)
	batches := sqldb.NewBatchRepository(testDB)

	exec := func(t *testing.T, query string, args ...any) {
		t.Helper()
		_, err := testDB.Exec(testDB.Rebind(query), args...)
		require.NoError(t, err)
	}

	cases := []struct {
		desc    string
		diverge func(t *testing.T) diverged
		status  int64
	}{
		{
			desc:   "task",
			status: int64(round.TaskCanceled),
			diverge: func(t *testing.T) diverged {
				task, err := tasks.CreateTask(ctx, testutil.TestTask("pop-"+uuid.NewString(), round.JobTraining))
				require.NoError(t, err)
				exec(t, `UPDATE tasks SET status = ? WHERE population_name = ? AND task_id = ?`,
					int64(round.TaskCanceled), task.ID.PopulationName, task.ID.TaskID)

				return diverged{
					transit: func() (bool, error) {
						return tasks.UpdateTaskStatus(ctx, task.ID, round.TaskOpen, round.TaskCompleted)
					},
					history: func() []testutil.StatusRow { return testutil.TaskHistory(t, testDB.DB, task.ID) },
					live: func() int64 {
						got, err := tasks.GetTask(ctx, task.ID)
						require.NoError(t, err)

						return int64(got.Status)
					},
				}
			},
		},
		{
			desc:   "iteration",
			status: int64(round.IterationCanceled),
			diverge: func(t *testing.T) diverged {
				it := seedIteration(t, testDB, 3)
				exec(t, `UPDATE iterations SET status = ?
					WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ?`,
					int64(round.IterationCanceled), it.ID.PopulationName, it.ID.TaskID, it.ID.IterationID, it.ID.AttemptID)
				aggregating := it
				aggregating.Status = round.IterationAggregating
				aggregating.AggregationLevel = 1

				return diverged{
					transit: func() (bool, error) { return iterations.UpdateIterationStatus(ctx, it, aggregating) },
					history: func() []testutil.StatusRow { return testutil.IterationHistory(t, testDB.DB, it.ID) },
					live: func() int64 {
						got, err := iterations.GetIteration(ctx, it.ID)
						require.NoError(t, err)

						return int64(got.Status)
					},
				}
			},
		},
		{
			desc:   "assignment",
			status: int64(round.AssignmentLocalFailed),
			diverge: func(t *testing.T) diverged {
				it := seedIteration(t, testDB, 3)
				id := seedAssignments(t, testDB, it.ID, 1)[0]
				exec(t, `UPDATE assignments SET status = ?
					WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND session_id = ?`,
					int64(round.AssignmentLocalFailed), it.ID.PopulationName, it.ID.TaskID, it.ID.IterationID, it.ID.AttemptID, id.SessionID)

				return diverged{
					transit: func() (bool, error) {
						return assignments.UpdateAssignmentStatus(ctx, id, round.AssignmentAssigned, round.AssignmentLocalCompleted)
					},
					history: func() []testutil.StatusRow { return testutil.AssignmentHistory(t, testDB.DB, id) },
					live: func() int64 {
						got, err := assignments.GetAssignment(ctx, id)
						require.NoError(t, err)

						return int64(got.Status)
					},
				}
			},
		},
		{
			desc:   "batch",
			status: int64(round.BatchFailed),
			diverge: func(t *testing.T) diverged {
				it := seedIteration(t, testDB, 3)
				ids := seedAssignments(t, testDB, it.ID, 2)
				moveAll(t, testDB, ids, round.AssignmentAssigned, round.AssignmentUploadCompleted)
				ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, ids, it,
					round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, "b1", it.ID.String())
				require.NoError(t, err)
				require.True(t, ok)
				b, err := batches.GetBatch(ctx, round.BatchID{Iteration: it.ID, BatchID: "b1"})
				require.NoError(t, err)
				exec(t, `UPDATE aggregation_batches SET status = ?
					WHERE population_name = ? AND task_id = ? AND iteration_id = ? AND attempt_id = ? AND batch_id = ?`,
					int64(round.BatchFailed), it.ID.PopulationName, it.ID.TaskID, it.ID.IterationID, it.ID.AttemptID, "b1")
				published := b
				published.Status = round.BatchPublishCompleted

				return diverged{
					transit: func() (bool, error) { return batches.UpdateBatchStatus(ctx, b, published) },
					history: func() []testutil.StatusRow { return testutil.BatchHistory(t, testDB.DB, b.ID) },
					live: func() int64 {
						got, err := batches.GetBatch(ctx, b.ID)
						require.NoError(t, err)

						return int64(got.Status)
					},
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			d := tc.diverge(t)
			before := d.history()

			ok, err := d.transit()
			require.NoError(t, err)
			assert.False(t, ok)

			assert.Equal(t, before, d.history(), "a rejected transition appends no history")
			assert.Equal(t, tc.status, d.live())
		})
	}
}

func TestConcurrentTransitionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewAssignmentRepository(testDB)
	it := seedIteration(t, testDB, 3)
	id := seedAssignments(t, testDB, it.ID, 1)[0]

	const writers = 8
	results := make(chan bool, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.UpdateAssignmentStatus(ctx, id, round.AssignmentAssigned, round.AssignmentLocalCompleted)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	statusID, status := latestAssignmentHistory(t, testDB, id)
	assert.Equal(t, int64(2), statusID)
	assert.Equal(t, round.AssignmentLocalCompleted, status)
}

func TestBulkUpdateAssignmentStatus(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewAssignmentRepository(testDB)
	it := seedIteration(t, testDB, 3)
	ids := seedAssignments(t, testDB, it.ID, 2*sqldb.BulkChunkSize+20)

	moveAll(t, testDB, ids[:10], round.AssignmentAssigned, round.AssignmentLocalFailed)

	cases := []struct {
		desc    string
		ids     []round.AssignmentID
		batchID string
		updated int64
	}{
		{desc: "empty input", ids: nil, updated: 0},
		{desc: "skips assignments no longer assigned", ids: ids, updated: int64(len(ids) - 10)},
		{desc: "rerun moves nothing", ids: ids, updated: 0},
		{desc: "scoped to a batch that does not exist", ids: ids, batchID: "missing", updated: 0},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			n, err := repo.BulkUpdateAssignmentStatus(ctx, tc.ids, tc.batchID, round.AssignmentAssigned, round.AssignmentLocalCompleted)
			require.NoError(t, err)
			assert.Equal(t, tc.updated, n)
		})
	}

	completed, err := repo.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentLocalCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, ids[10:], completed)
}

func TestCreateBatchAndUpdateAssignments(t *testing.T) {
	ctx := context.Background()
	assignments := sqldb.NewAssignmentRepository(testDB)
	batches := sqldb.NewBatchRepository(testDB)
	it := seedIteration(t, testDB, 3)
	ids := seedAssignments(t, testDB, it.ID, 3)
	moveAll(t, testDB, ids[:2], round.AssignmentAssigned, round.AssignmentUploadCompleted)

	t.Run("all or nothing", func(t *testing.T) {
		ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, ids, it,
			round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, "batch-a", it.ID.String())
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = batches.GetBatch(ctx, round.BatchID{Iteration: it.ID, BatchID: "batch-a"})
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

		unbatched, err := assignments.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentUploadCompleted, "")
		require.NoError(t, err)
		assert.Equal(t, ids[:2], unbatched)
	})

	t.Run("empty ids", func(t *testing.T) {
		ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, nil, it,
			round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, "batch-b", it.ID.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("full batch", func(t *testing.T) {
		ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, ids[:2], it,
			round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, "batch-c", it.ID.String())
		require.NoError(t, err)
		require.True(t, ok)

		batch, err := batches.GetBatch(ctx, round.BatchID{Iteration: it.ID, BatchID: "batch-c"})
		require.NoError(t, err)
		assert.Equal(t, round.BatchFull, batch.Status)
		assert.Equal(t, int64(2), batch.BatchSize)
		assert.Equal(t, it.AggregationLevel, batch.AggregationLevel)
		assert.Equal(t, it.ID.String(), batch.CreatedByPartition)
		assert.Empty(t, batch.AggregatedBy)

		members, err := assignments.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentUploadCompleted, "batch-c")
		require.NoError(t, err)
		assert.Equal(t, ids[:2], members)

		for _, id := range ids[:2] {
			a, err := assignments.GetAssignment(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "batch-c", a.BatchID)
			assert.Equal(t, int64(3), a.StatusID)
		}
	})

	t.Run("batched assignments cannot join another batch", func(t *testing.T) {
		ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, ids[:2], it,
			round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, "batch-d", it.ID.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bulk update scoped to the batch", func(t *testing.T) {
		n, err := assignments.BulkUpdateAssignmentStatus(ctx, ids, "batch-c", round.AssignmentUploadCompleted, round.AssignmentRemoteFailed)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		a, err := assignments.GetAssignment(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, round.AssignmentRemoteFailed, a.Status)
		assert.Equal(t, "batch-c", a.BatchID, "batch id is never cleared")
	})
}

func TestUpdateBatchStatus(t *testing.T) {
	ctx := context.Background()
	assignments := sqldb.NewAssignmentRepository(testDB)
	batches := sqldb.NewBatchRepository(testDB)
	it := seedIteration(t, testDB, 3)
	ids := seedAssignments(t, testDB, it.ID, 4)
	moveAll(t, testDB, ids, round.AssignmentAssigned, round.AssignmentUploadCompleted)

	for i, batchID := range []string{"b1", "b2"} {
		ok, err := assignments.CreateBatchAndUpdateAssignments(ctx, ids[2*i:2*i+2], it,
			round.AssignmentUploadCompleted, round.AssignmentUploadCompleted, batchID, it.ID.String())
		require.NoError(t, err)
		require.True(t, ok)
	}

	b1, err := batches.GetBatch(ctx, round.BatchID{Iteration: it.ID, BatchID: "b1"})
	require.NoError(t, err)
	b2, err := batches.GetBatch(ctx, round.BatchID{Iteration: it.ID, BatchID: "b2"})
	require.NoError(t, err)

	// b2 gets a newer history row than its live row.
	_, err = testDB.Exec(testDB.Rebind(`INSERT INTO aggregation_batch_status_history
		(population_name, task_id, iteration_id, attempt_id, batch_id, status_id, status, aggregation_level, created_by_partition, created_time)
		VALUES (?, ?, ?, ?, ?, 2, ?, 0, ?, ?)`),
		it.ID.PopulationName, it.ID.TaskID, it.ID.IterationID, it.ID.AttemptID, "b2",
		int64(round.BatchFailed), it.ID.String(), time.Now().UTC())
	require.NoError(t, err)

	published := func(b round.AggregationBatch) round.AggregationBatch {
		b.Status = round.BatchPublishCompleted

		return b
	}

	cases := []struct {
		desc     string
		from, to round.AggregationBatch
		ok       bool
		status   round.BatchStatus
	}{
		{desc: "mismatching ids", from: b1, to: published(b2), ok: false, status: round.BatchFull},
		{desc: "mismatching history", from: b2, to: published(b2), ok: false, status: round.BatchFull},
		{desc: "full to publish completed", from: b1, to: published(b1), ok: true, status: round.BatchPublishCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			before := testutil.BatchHistory(t, testDB.DB, tc.from.ID)

			ok, err := batches.UpdateBatchStatus(ctx, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)

			got, err := batches.GetBatch(ctx, tc.from.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)

			after := testutil.BatchHistory(t, testDB.DB, tc.from.ID)
			if !tc.ok {
				assert.Equal(t, before, after, "a rejected transition appends no history")

				return
			}
			require.Len(t, after, len(before)+1)
			assert.Equal(t, int64(got.Status), testutil.Latest(t, after).Status, "live status must match the latest history row")
		})
	}

	sum, err := batches.SumBatchSizesOfStatus(ctx, it.ID, 0, round.BatchPublishCompleted, round.BatchUploadCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	sum, err = batches.SumBatchSizesOfStatus(ctx, it.ID, 1, round.BatchPublishCompleted)
	require.NoError(t, err)
	assert.Zero(t, sum)

	full, err := batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchFull, it.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []round.BatchID{b2.ID}, full)

	other, err := batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchFull, "another-partition")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestListAssignmentIDsOfStatusBefore(t *testing.T) {
	ctx := context.Background()
	db, c := newClockDB(t)
	repo := sqldb.NewAssignmentRepository(db)
	it := seedIteration(t, db, 3)

	stale := seedAssignments(t, db, it.ID, 2)
	c.Advance(2 * time.Hour)
	fresh, err := repo.CreateAssignment(ctx, it.ID, "corr", "session-fresh")
	require.NoError(t, err)

	before := c.Now().Add(-time.Hour)
	ids, err := repo.ListAssignmentIDsOfStatusBefore(ctx, it.ID, round.AssignmentAssigned, before)
	require.NoError(t, err)
	assert.Equal(t, stale, ids)

	// A later history row resets the age of an assignment.
	ok, err := repo.UpdateAssignmentStatus(ctx, stale[0], round.AssignmentAssigned, round.AssignmentLocalCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	ids, err = repo.ListAssignmentIDsOfStatusBefore(ctx, it.ID, round.AssignmentAssigned, before)
	require.NoError(t, err)
	assert.Equal(t, stale[1:], ids)

	ids, err = repo.ListAssignmentIDsOfStatusBefore(ctx, it.ID, round.AssignmentLocalCompleted, before)
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := repo.CountActiveAssignments(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err = repo.UpdateAssignmentStatus(ctx, fresh.ID, round.AssignmentAssigned, round.AssignmentLocalNotEligible)
	require.NoError(t, err)
	require.True(t, ok)

	n, err = repo.CountActiveAssignments(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLockRegistry(t *testing.T) {
	ctx := context.Background()
	db, c := newClockDB(t)

	first := sqldb.NewLockRegistry(db, "first", time.Minute)
	second := sqldb.NewLockRegistry(db, "second", time.Minute)
	name := lock.CollectorName("pop/0/1/0")

	held := first.Obtain(name)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = held.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder may renew its lease")

	contender := second.Obtain(name)
	ok, err = contender.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = second.Obtain(lock.TimeoutCollectorName("pop/0/1/0")).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, contender.Unlock(ctx))
	ok, err = contender.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "unlock by a non-holder is a no-op")

	c.Advance(2 * time.Minute)
	ok, err = contender.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	require.NoError(t, contender.Unlock(ctx))
	ok, err = first.Obtain(name).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestModelMetrics(t *testing.T) {
	ctx := context.Background()
	repo := sqldb.NewMetricsRepository(testDB)
	first := seedIteration(t, testDB, 3)
	second := first.ID
	second.IterationID = 2

	require.NoError(t, repo.UpsertModelMetrics(ctx, nil))
	require.NoError(t, repo.UpsertModelMetrics(ctx, []round.ModelMetric{
		{Iteration: second, Name: "loss", Value: 0.4},
		{Iteration: first.ID, Name: "loss", Value: 0.9},
		{Iteration: first.ID, Name: "accuracy", Value: 0.5},
	}))
	// A second write of the same metric replaces its value.
	require.NoError(t, repo.UpsertModelMetrics(ctx, []round.ModelMetric{
		{Iteration: first.ID, Name: "loss", Value: 0.8},
	}))

	got, err := repo.ListModelMetrics(ctx, round.TaskID{PopulationName: first.ID.PopulationName, TaskID: first.ID.TaskID})
	require.NoError(t, err)
	assert.Equal(t, []round.ModelMetric{
		{Iteration: first.ID, Name: "accuracy", Value: 0.5},
		{Iteration: first.ID, Name: "loss", Value: 0.8},
		{Iteration: second, Name: "loss", Value: 0.4},
	}, got)

	none, err := repo.ListModelMetrics(ctx, round.TaskID{PopulationName: "pop-" + uuid.NewString()})
	require.NoError(t, err)
	assert.Empty(t, none)
}
