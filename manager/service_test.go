package manager_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/cache"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/fedround/pkg/storage/testutil"
	"github.com/absmach/fedround/round"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (manager.Service, *storage.Repositories) {
	t.Helper()

	repos, err := storage.NewRepositories(storage.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "manager.db"),
		LockTTL:    time.Minute,
	}, "manager-test")
	require.NoError(t, err)
	t.Cleanup(func() { repos.Closer.Close() })

	full, err := cache.NewNegative(time.Minute)
	require.NoError(t, err)
	t.Cleanup(full.Close)

	locator := blob.NewLocator(blob.Config{
		GradientBucketTemplate:   "gradient-%d",
		AggregatedBucketTemplate: "aggregated-%d",
		ModelBucketTemplate:      "model-%d",
		GradientPartitions:       2,
		AggregatedPartitions:     1,
		ModelPartitions:          1,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return manager.NewService(repos, locator, full, logger), repos
}

func population() string {
	return "pop-" + uuid.NewString()[:8]
}

func seedIteration(t *testing.T, svc manager.Service, pop string, maxSize int64) round.Iteration {
	t.Helper()
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, testutil.TestTask(pop, round.JobTraining))
	require.NoError(t, err)

	it := testutil.TestIteration(task.ID, 1, 2)
	it.MaxAggregationSize = maxSize
	it, err = svc.CreateIteration(ctx, it)
	require.NoError(t, err)

	return it
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	svc, repos := newService(t)
	pop := population()

	evaluation := testutil.TestTask(pop, round.JobEvaluation)
	evaluation.Status = round.TaskCreated

	cases := []struct {
		desc   string
		task   round.Task
		status round.TaskStatus
		err    error
	}{
		{
			desc:   "create training task",
			task:   testutil.TestTask(pop, round.JobTraining),
			status: round.TaskOpen,
		},
		{
			desc: "create second active training task",
			task: testutil.TestTask(pop, round.JobTraining),
			err:  pkgerrors.ErrPreconditionFailed,
		},
		{
			desc:   "create evaluation task in created status",
			task:   evaluation,
			status: round.TaskCreated,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := svc.CreateTask(ctx, tc.task)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)

			stored, err := repos.Tasks.GetTask(ctx, got.ID)
			require.NoError(t, err)
			assert.Equal(t, got.ID, stored.ID)
		})
	}
}

func TestCancelTask(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	task, err := svc.CreateTask(ctx, testutil.TestTask(population(), round.JobTraining))
	require.NoError(t, err)

	cases := []struct {
		desc string
		id   round.TaskID
		err  error
	}{
		{
			desc: "cancel open task",
			id:   task.ID,
		},
		{
			desc: "cancel canceled task",
			id:   task.ID,
			err:  pkgerrors.ErrConflict,
		},
		{
			desc: "cancel missing task",
			id:   round.TaskID{PopulationName: "missing", TaskID: 42},
			err:  pkgerrors.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := svc.CancelTask(ctx, tc.id)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, round.TaskCanceled, got.Status)
		})
	}
}

func TestCreateIteration(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	task, err := svc.CreateTask(ctx, testutil.TestTask(population(), round.JobTraining))
	require.NoError(t, err)

	it := testutil.TestIteration(task.ID, 1, 2)
	it.Status = round.IterationAggregating
	it.AggregationLevel = 3

	got, err := svc.CreateIteration(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, round.IterationCollecting, got.Status)
	assert.Equal(t, int64(0), got.AggregationLevel)

	fetched, err := svc.GetIteration(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, fetched.ID)

	listed, err := svc.ListIterations(ctx, round.IterationCollecting)
	require.NoError(t, err)
	assert.Contains(t, ids(listed), got.ID)

	_, err = svc.GetIteration(ctx, round.IterationID{PopulationName: "missing"})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func ids(its []round.Iteration) []round.IterationID {
	out := make([]round.IterationID, len(its))
	for i, it := range its {
		out[i] = it.ID
	}

	return out
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	pop := population()
	it := seedIteration(t, svc, pop, 2)

	canceled := population()
	seeded := seedIteration(t, svc, canceled, 10)
	_, err := svc.CancelTask(ctx, seeded.ID.Task())
	require.NoError(t, err)

	cases := []struct {
		desc       string
		population string
		err        error
	}{
		{
			desc:       "check in without population",
			population: "",
			err:        pkgerrors.ErrEmptyKey,
		},
		{
			desc:       "check in to unknown population",
			population: population(),
			err:        pkgerrors.ErrNotFound,
		},
		{
			desc:       "check in to population of canceled task",
			population: canceled,
			err:        pkgerrors.ErrNotFound,
		},
		{
			desc:       "first check in",
			population: pop,
		},
		{
			desc:       "second check in fills the iteration",
			population: pop,
		},
		{
			desc:       "check in to full iteration",
			population: pop,
			err:        pkgerrors.ErrNotFound,
		},
		{
			desc:       "check in again while marked full",
			population: pop,
			err:        pkgerrors.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := svc.CheckIn(ctx, tc.population, "device-corr")
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, it.ID, got.Assignment.ID.Iteration)
			assert.Equal(t, round.AssignmentAssigned, got.Assignment.Status)
			assert.Equal(t, "device-corr", got.Assignment.CorrelationID)
			assert.NotEmpty(t, got.Assignment.ID.SessionID)
			assert.Contains(t, got.GradientUpload.Object, got.Assignment.ID.SessionID)
			assert.NotEmpty(t, got.CheckpointDownload.Object)
			assert.NotEmpty(t, got.PlanDownload.Object)
		})
	}
}

func TestReportAssignment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	pop := population()
	seedIteration(t, svc, pop, 10)
	c, err := svc.CheckIn(ctx, pop, "device-corr")
	require.NoError(t, err)
	id := c.Assignment.ID

	cases := []struct {
		desc   string
		id     round.AssignmentID
		status round.AssignmentStatus
		err    error
	}{
		{
			desc:   "report server side status",
			id:     id,
			status: round.AssignmentUploadCompleted,
			err:    pkgerrors.ErrInvalidData,
		},
		{
			desc:   "report timeout",
			id:     id,
			status: round.AssignmentLocalTimeout,
			err:    pkgerrors.ErrInvalidData,
		},
		{
			desc:   "report missing assignment",
			id:     round.AssignmentID{Iteration: id.Iteration, SessionID: "missing"},
			status: round.AssignmentLocalCompleted,
			err:    pkgerrors.ErrConflict,
		},
		{
			desc:   "report local completion",
			id:     id,
			status: round.AssignmentLocalCompleted,
		},
		{
			desc:   "report failure after completion",
			id:     id,
			status: round.AssignmentLocalFailed,
			err:    pkgerrors.ErrConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := svc.ReportAssignment(ctx, tc.id, tc.status)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, round.FirstStatusID+1, got.StatusID)
		})
	}

	got, err := svc.GetAssignment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, round.AssignmentLocalCompleted, got.Status)
}
