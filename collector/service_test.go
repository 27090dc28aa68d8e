package collector_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedround/collector"
	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/messages"
	"github.com/absmach/fedround/pkg/mqtt/mocks"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/fedround/pkg/storage/sqldb"
	"github.com/absmach/fedround/pkg/storage/testutil"
	"github.com/absmach/fedround/round"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	aggregatorTopic   = "test/aggregator"
	modelUpdaterTopic = "test/model-updater"
	notificationTopic = "test/notifications"
)

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

type env struct {
	svc     collector.Service
	repos   *storage.Repositories
	store   blob.Store
	locator *blob.Locator
	pub     *mocks.MockPubSub
	clock   *clock
	db      *sqlx.DB
}

func testConfig() collector.Config {
	return collector.Config{
		BatchSize:             2,
		LocalComputeTimeout:   time.Hour,
		UploadTimeout:         time.Hour,
		BatchFailureThreshold: -1,
		AggregatorTopic:       aggregatorTopic,
		ModelUpdaterTopic:     modelUpdaterTopic,
		NotificationTopic:     notificationTopic,
		ListingPartitions:     collector.HexPartitions,
		NotificationLockWait:  time.Second,
	}
}

func newEnv(t *testing.T, cfg collector.Config) *env {
	t.Helper()

	c := &clock{now: time.Now().UTC()}
	repos, err := storage.NewRepositories(storage.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "collector.db"),
		LockTTL:    time.Minute,
	}, "collector-test", sqldb.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Closer.Close() })

	locator := blob.NewLocator(blob.Config{
		GradientBucketTemplate:   "gradient-%d",
		AggregatedBucketTemplate: "aggregated-%d",
		ModelBucketTemplate:      "model-%d",
		GradientPartitions:       2,
		AggregatedPartitions:     1,
		ModelPartitions:          1,
	})
	store := blob.NewMemoryStore()
	pub := new(mocks.MockPubSub)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := collector.NewService(cfg, repos, store, locator, pub, logger, collector.WithClock(c.Now))

	db, ok := repos.Closer.(*sqldb.Database)
	require.True(t, ok)

	return &env{svc: svc, repos: repos, store: store, locator: locator, pub: pub, clock: c, db: db.DB}
}

func (e *env) seedIteration(t *testing.T, reportGoal int64, jobType round.JobType) round.Iteration {
	t.Helper()
	ctx := context.Background()

	task, err := e.repos.Tasks.CreateTask(ctx, testutil.TestTask("pop-"+uuid.NewString()[:8], jobType))
	require.NoError(t, err)

	it := testutil.TestIteration(task.ID, 1, reportGoal)
	it.Info.TaskInfo.JobType = jobType
	it, err = e.repos.Iterations.CreateIteration(ctx, it)
	require.NoError(t, err)

	return it
}

// seedAssignments creates n assignments whose session ids start with a hex
// digit, as uuids do.
func (e *env) seedAssignments(t *testing.T, it round.Iteration, n int, status round.AssignmentStatus) []round.Assignment {
	t.Helper()
	ctx := context.Background()

	as := make([]round.Assignment, n)
	ids := make([]round.AssignmentID, n)
	for i := range as {
		a, err := e.repos.Assignments.CreateAssignment(ctx, it.ID, "corr", fmt.Sprintf("%02x-%s", i, uuid.NewString()[:8]))
		require.NoError(t, err)
		as[i] = a
		ids[i] = a.ID
	}

	if status != round.AssignmentAssigned {
		moved, err := e.repos.Assignments.BulkUpdateAssignmentStatus(ctx, ids, "", round.AssignmentAssigned, status)
		require.NoError(t, err)
		require.Equal(t, int64(n), moved)
	}

	return as
}

func (e *env) uploadGradients(t *testing.T, as ...round.Assignment) {
	t.Helper()
	for _, a := range as {
		require.NoError(t, e.store.Upload(context.Background(), e.locator.UploadGradient(a), []byte("gradient")))
	}
}

func (e *env) acceptPublishes() {
	e.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (e *env) aggregatorMessages() []messages.AggregatorMessage {
	var msgs []messages.AggregatorMessage
	for _, call := range e.pub.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == aggregatorTopic {
			msgs = append(msgs, call.Arguments.Get(2).(messages.AggregatorMessage))
		}
	}

	return msgs
}

func (e *env) modelUpdaterMessages() []messages.ModelUpdaterMessage {
	var msgs []messages.ModelUpdaterMessage
	for _, call := range e.pub.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == modelUpdaterTopic {
			msgs = append(msgs, call.Arguments.Get(2).(messages.ModelUpdaterMessage))
		}
	}

	return msgs
}

func (e *env) assignmentStatus(t *testing.T, id round.AssignmentID) round.Assignment {
	t.Helper()
	a, err := e.repos.Assignments.GetAssignment(context.Background(), id)
	require.NoError(t, err)

	return a
}

func (e *env) iteration(t *testing.T, id round.IterationID) round.Iteration {
	t.Helper()
	it, err := e.repos.Iterations.GetIteration(context.Background(), id)
	require.NoError(t, err)

	return it
}

// assertLedger checks that every live status matches the latest row of its
// status history.
func (e *env) assertLedger(t *testing.T, it round.IterationID, as []round.Assignment, batches ...round.BatchID) {
	t.Helper()
	ctx := context.Background()

	live := e.iteration(t, it)
	latest := testutil.Latest(t, testutil.IterationHistory(t, e.db, it))
	assert.Equal(t, int64(live.Status), latest.Status, "iteration %s", it)
	assert.Equal(t, live.AggregationLevel, latest.Level, "iteration %s", it)

	for _, a := range as {
		got := e.assignmentStatus(t, a.ID)
		latest := testutil.Latest(t, testutil.AssignmentHistory(t, e.db, a.ID))
		assert.Equal(t, int64(got.Status), latest.Status, "assignment %s", a.ID.SessionID)
		assert.Equal(t, got.StatusID, latest.StatusID, "assignment %s", a.ID.SessionID)
	}

	for _, id := range batches {
		b, err := e.repos.Batches.GetBatch(ctx, id)
		require.NoError(t, err)
		latest := testutil.Latest(t, testutil.BatchHistory(t, e.db, id))
		assert.Equal(t, int64(b.Status), latest.Status, "batch %s", id.BatchID)
	}
}

// historySizes counts the history rows of the iteration and its assignments.
func (e *env) historySizes(t *testing.T, it round.IterationID, as []round.Assignment) []int {
	t.Helper()

	sizes := []int{len(testutil.IterationHistory(t, e.db, it))}
	for _, a := range as {
		sizes = append(sizes, len(testutil.AssignmentHistory(t, e.db, a.ID)))
	}

	return sizes
}

func batchIDs(t *testing.T, msgs []messages.AggregatorMessage) []round.BatchID {
	t.Helper()

	ids := make([]round.BatchID, len(msgs))
	for i, m := range msgs {
		id, err := round.ParseRequestID(m.RequestID)
		require.NoError(t, err)
		ids[i] = id
	}

	return ids
}

func (e *env) uploadAggregates(t *testing.T, msgs ...messages.AggregatorMessage) {
	t.Helper()
	for _, m := range msgs {
		out := blob.Description{Host: m.AggregatedGradientOutputBucket, Object: m.AggregatedGradientOutputObject}
		require.NoError(t, e.store.Upload(context.Background(), out, []byte("aggregate")))
	}
}

func TestProcessCollecting(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testConfig())
	e.acceptPublishes()

	it := e.seedIteration(t, 5, round.JobTraining)
	as := e.seedAssignments(t, it, 5, round.AssignmentLocalCompleted)
	e.uploadGradients(t, as[:4]...)

	require.NoError(t, e.svc.ProcessCollecting(ctx))

	msgs := e.aggregatorMessages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Len(t, m.Gradients, 2)
		assert.Equal(t, notificationTopic, m.NotificationTopic)
		batch, err := round.ParseRequestID(m.RequestID)
		require.NoError(t, err)
		assert.Equal(t, it.ID, batch.Iteration)
		assert.Equal(t, e.locator.UploadAggregatedGradient(it).Object+batch.BatchID+"/gradient", m.AggregatedGradientOutputObject)

		b, err := e.repos.Batches.GetBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, round.BatchPublishCompleted, b.Status)
		assert.Equal(t, int64(2), b.BatchSize)
		assert.Equal(t, it.ID.String(), b.CreatedByPartition)
	}
	for _, a := range as[:4] {
		got := e.assignmentStatus(t, a.ID)
		assert.Equal(t, round.AssignmentUploadCompleted, got.Status)
		assert.NotEmpty(t, got.BatchID)
	}
	assert.Equal(t, round.AssignmentLocalCompleted, e.assignmentStatus(t, as[4].ID).Status)
	assert.Equal(t, round.IterationCollecting, e.iteration(t, it.ID).Status)

	e.uploadGradients(t, as[4])
	require.NoError(t, e.svc.ProcessCollecting(ctx))

	msgs = e.aggregatorMessages()
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[2].Gradients, 1)
	last := e.assignmentStatus(t, as[4].ID)
	assert.Equal(t, round.AssignmentUploadCompleted, last.Status)
	assert.NotEmpty(t, last.BatchID)

	got := e.iteration(t, it.ID)
	assert.Equal(t, round.IterationAggregating, got.Status)
	assert.Equal(t, int64(1), got.AggregationLevel)

	e.assertLedger(t, it.ID, as, batchIDs(t, msgs)...)

	// A further sweep has nothing left to do.
	sizes := e.historySizes(t, it.ID, as)
	require.NoError(t, e.svc.ProcessCollecting(ctx))
	assert.Len(t, e.aggregatorMessages(), 3)
	assert.Equal(t, got, e.iteration(t, it.ID))
	assert.Equal(t, sizes, e.historySizes(t, it.ID, as))
}

func TestProcessCollectingGroupsLeftovers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testConfig())
	e.acceptPublishes()

	it := e.seedIteration(t, 3, round.JobTraining)
	as := e.seedAssignments(t, it, 2, round.AssignmentUploadCompleted)

	require.NoError(t, e.svc.ProcessCollecting(ctx))

	msgs := e.aggregatorMessages()
	require.Len(t, msgs, 1)
	id, err := round.ParseRequestID(msgs[0].RequestID)
	require.NoError(t, err)

	b, err := e.repos.Batches.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.BatchSize)
	assert.Empty(t, b.AggregatedBy)
	assert.Equal(t, int64(0), b.AggregationLevel)
	for _, a := range as {
		assert.Equal(t, id.BatchID, e.assignmentStatus(t, a.ID).BatchID)
	}
	assert.Equal(t, round.IterationCollecting, e.iteration(t, it.ID).Status)
}

func TestProcessCollectingPublishFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testConfig())
	e.pub.On("Publish", mock.Anything, aggregatorTopic, mock.Anything).Return(assert.AnError).Once()
	e.acceptPublishes()

	it := e.seedIteration(t, 10, round.JobTraining)
	e.seedAssignments(t, it, 2, round.AssignmentUploadCompleted)

	require.NoError(t, e.svc.ProcessCollecting(ctx))

	full, err := e.repos.Batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchFull, "")
	require.NoError(t, err)
	require.Len(t, full, 1)

	require.NoError(t, e.svc.ProcessCollecting(ctx))

	full, err = e.repos.Batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchFull, "")
	require.NoError(t, err)
	assert.Empty(t, full)
	published, err := e.repos.Batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchPublishCompleted, "")
	require.NoError(t, err)
	assert.Len(t, published, 1)
}

func TestProcessCollectingSkipsLockedIteration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testConfig())
	e.acceptPublishes()

	it := e.seedIteration(t, 2, round.JobTraining)
	e.seedAssignments(t, it, 2, round.AssignmentUploadCompleted)

	held := e.repos.Locks.Obtain(lock.CollectorName(it.ID.String()))
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.svc.ProcessCollecting(ctx))
	assert.Empty(t, e.aggregatorMessages())
	assert.Equal(t, round.IterationCollecting, e.iteration(t, it.ID).Status)

	require.NoError(t, held.Unlock(ctx))
	require.NoError(t, e.svc.ProcessCollecting(ctx))
	assert.Len(t, e.aggregatorMessages(), 1)
	assert.Equal(t, round.IterationAggregating, e.iteration(t, it.ID).Status)
}

func TestProcessAggregating(t *testing.T) {
	cases := []struct {
		desc       string
		jobType    round.JobType
		uploaded   int
		status     round.IterationStatus
		level      int64
		checkpoint bool
	}{
		{
			desc:     "waits for missing aggregates",
			jobType:  round.JobTraining,
			uploaded: 1,
			status:   round.IterationAggregating,
			level:    1,
		},
		{
			desc:       "training moves to applying",
			jobType:    round.JobTraining,
			uploaded:   2,
			status:     round.IterationApplying,
			level:      2,
			checkpoint: true,
		},
		{
			desc:     "evaluation omits new checkpoints",
			jobType:  round.JobEvaluation,
			uploaded: 2,
			status:   round.IterationApplying,
			level:    2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, testConfig())
			e.acceptPublishes()

			it := e.seedIteration(t, 4, tc.jobType)
			as := e.seedAssignments(t, it, 4, round.AssignmentLocalCompleted)
			e.uploadGradients(t, as...)
			require.NoError(t, e.svc.ProcessCollecting(ctx))
			require.Equal(t, round.IterationAggregating, e.iteration(t, it.ID).Status)

			msgs := e.aggregatorMessages()
			require.Len(t, msgs, 2)
			e.uploadAggregates(t, msgs[:tc.uploaded]...)

			require.NoError(t, e.svc.ProcessAggregating(ctx))

			got := e.iteration(t, it.ID)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.level, got.AggregationLevel)

			uploaded, err := e.repos.Batches.ListBatchIDsOfStatus(ctx, it.ID, 0, round.BatchUploadCompleted, "")
			require.NoError(t, err)
			assert.Len(t, uploaded, tc.uploaded)
			e.assertLedger(t, it.ID, as, batchIDs(t, msgs)...)

			// Running the sweep again changes nothing and publishes nothing new.
			sizes := e.historySizes(t, it.ID, as)
			published := len(e.modelUpdaterMessages())
			require.NoError(t, e.svc.ProcessAggregating(ctx))
			assert.Equal(t, got, e.iteration(t, it.ID))
			assert.Equal(t, sizes, e.historySizes(t, it.ID, as))
			assert.Len(t, e.modelUpdaterMessages(), published)

			updates := e.modelUpdaterMessages()
			if tc.status != round.IterationApplying {
				assert.Empty(t, updates)

				return
			}
			require.Len(t, updates, 1)
			assert.Equal(t, it.ID.String(), updates[0].RequestID)
			assert.Len(t, updates[0].IntermediateGradients, 2)
			assert.Equal(t, e.locator.UploadAggregatedGradient(it).Object, updates[0].IntermediateGradientPrefix)
			assert.Equal(t, tc.checkpoint, updates[0].NewCheckpointOutputObject != "")
			assert.Equal(t, tc.checkpoint, updates[0].NewClientCheckpointOutputObject != "")
			assert.NotEmpty(t, updates[0].MetricsOutputObject)
		})
	}
}

func TestProcessTimeouts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testConfig())

	it := e.seedIteration(t, 10, round.JobTraining)
	stale := e.seedAssignments(t, it, 2, round.AssignmentAssigned)
	staleUpload := e.seedAssignments(t, it, 1, round.AssignmentLocalCompleted)

	e.clock.Advance(90 * time.Minute)
	fresh := e.seedAssignments(t, it, 2, round.AssignmentAssigned)

	require.NoError(t, e.svc.ProcessTimeouts(ctx))

	for _, a := range stale {
		assert.Equal(t, round.AssignmentLocalTimeout, e.assignmentStatus(t, a.ID).Status)
	}
	assert.Equal(t, round.AssignmentUploadTimeout, e.assignmentStatus(t, staleUpload[0].ID).Status)
	for _, a := range fresh {
		assert.Equal(t, round.AssignmentAssigned, e.assignmentStatus(t, a.ID).Status)
	}

	active, err := e.repos.Assignments.CountActiveAssignments(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	all := append(append(append([]round.Assignment{}, stale...), staleUpload...), fresh...)
	e.assertLedger(t, it.ID, all)

	// Timed out assignments are not moved twice.
	sizes := e.historySizes(t, it.ID, all)
	require.NoError(t, e.svc.ProcessTimeouts(ctx))
	assert.Equal(t, sizes, e.historySizes(t, it.ID, all))
	for _, a := range stale {
		assert.Equal(t, round.AssignmentLocalTimeout, e.assignmentStatus(t, a.ID).Status)
	}
	assert.Equal(t, round.AssignmentUploadTimeout, e.assignmentStatus(t, staleUpload[0].ID).Status)
}
