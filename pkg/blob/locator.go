package blob

import (
	"fmt"
	"hash/fnv"

	"github.com/absmach/fedround/round"
)

const (
	GradientFile         = "gradient"
	checkpointFile       = "checkpoint"
	clientCheckpointFile = "client_checkpoint"
	metricsFile          = "metrics"
	serverPlanFile       = "server_phase"
	clientPlanFile       = "client_only_plan"
)

type Config struct {
	// Bucket templates each hold one %d, replaced by the partition.
	GradientBucketTemplate   string `env:"GRADIENT_BUCKET_TEMPLATE"   envDefault:"fedround-gradient-%d"`
	AggregatedBucketTemplate string `env:"AGGREGATED_BUCKET_TEMPLATE" envDefault:"fedround-aggregated-%d"`
	ModelBucketTemplate      string `env:"MODEL_BUCKET_TEMPLATE"      envDefault:"fedround-model-%d"`
	GradientPartitions       int    `env:"GRADIENT_PARTITIONS"        envDefault:"1"`
	AggregatedPartitions     int    `env:"AGGREGATED_PARTITIONS"      envDefault:"1"`
	ModelPartitions          int    `env:"MODEL_PARTITIONS"           envDefault:"1"`
}

// Partitioner maps objects to storage partitions.
type Partitioner struct {
	GradientPartitions   int
	AggregatedPartitions int
	ModelPartitions      int
}

func (p Partitioner) Gradient(sessionID string) int {
	return bucketOf(sessionID, p.GradientPartitions)
}

func (p Partitioner) Aggregated(population string, task, result int64) int {
	return bucketOf(fmt.Sprintf("%s/%d/%d", population, task, result), p.AggregatedPartitions)
}

func (p Partitioner) Model(population string, task, result int64) int {
	return bucketOf(fmt.Sprintf("%s/%d/%d", population, task, result), p.ModelPartitions)
}

func bucketOf(key string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % uint32(count))
}

// Locator builds the descriptions of every object the round engine hands
// out or consumes. Objects are laid out as
// population/task/result/{d,s}/... inside partitioned buckets.
type Locator struct {
	cfg         Config
	partitioner Partitioner
}

func NewLocator(cfg Config) *Locator {
	return &Locator{
		cfg: cfg,
		partitioner: Partitioner{
			GradientPartitions:   max(cfg.GradientPartitions, 1),
			AggregatedPartitions: max(cfg.AggregatedPartitions, 1),
			ModelPartitions:      max(cfg.ModelPartitions, 1),
		},
	}
}

// UploadGradient is where a device uploads its gradient.
func (l *Locator) UploadGradient(a round.Assignment) Description {
	it := a.ID.Iteration

	return Description{
		Host:   fmt.Sprintf(l.cfg.GradientBucketTemplate, l.partitioner.Gradient(a.ID.SessionID)),
		Object: gradientFolder(it.PopulationName, it.TaskID, a.ResultID) + a.ID.SessionID + "/" + GradientFile,
	}
}

// DownloadGradients returns the device gradient folder of the iteration in
// every gradient partition.
func (l *Locator) DownloadGradients(it round.Iteration) []Description {
	folder := gradientFolder(it.ID.PopulationName, it.ID.TaskID, it.ResultID)
	descs := make([]Description, l.partitioner.GradientPartitions)
	for i := range descs {
		descs[i] = Description{Host: fmt.Sprintf(l.cfg.GradientBucketTemplate, i), Object: folder}
	}

	return descs
}

// UploadAggregatedGradient is the folder receiving intermediate aggregates at
// the iteration's current level.
func (l *Locator) UploadAggregatedGradient(it round.Iteration) Description {
	return l.aggregated(it, it.AggregationLevel)
}

// DownloadAggregatedGradient is the folder holding the aggregates of the
// previous level.
func (l *Locator) DownloadAggregatedGradient(it round.Iteration) Description {
	return l.aggregated(it, it.AggregationLevel-1)
}

func (l *Locator) aggregated(it round.Iteration, level int64) Description {
	return Description{
		Host: fmt.Sprintf(l.cfg.AggregatedBucketTemplate,
			l.partitioner.Aggregated(it.ID.PopulationName, it.ID.TaskID, it.ResultID)),
		Object: fmt.Sprintf("%s/%d/%d/s/0/%d/", it.ID.PopulationName, it.ID.TaskID, it.ResultID, level),
	}
}

// DownloadCheckpoint is the server checkpoint the iteration starts from.
func (l *Locator) DownloadCheckpoint(it round.Iteration) Description {
	result := it.CheckpointResultID()

	return Description{
		Host:   l.modelBucket(it.ID.PopulationName, it.ID.TaskID, result),
		Object: serverPath(it.ID.PopulationName, it.ID.TaskID, result, checkpointFile),
	}
}

// DownloadClientCheckpoint is the checkpoint a device trains from.
func (l *Locator) DownloadClientCheckpoint(a round.Assignment) Description {
	it := a.ID.Iteration

	return Description{
		Host:   l.modelBucket(it.PopulationName, it.TaskID, a.BaseOnResultID),
		Object: devicePath(it.PopulationName, it.TaskID, a.BaseOnResultID, clientCheckpointFile),
	}
}

func (l *Locator) UploadCheckpoints(it round.Iteration) []Description {
	return l.replicas(serverPath(it.ID.PopulationName, it.ID.TaskID, it.ResultID, checkpointFile))
}

func (l *Locator) UploadClientCheckpoints(it round.Iteration) []Description {
	return l.replicas(devicePath(it.ID.PopulationName, it.ID.TaskID, it.ResultID, clientCheckpointFile))
}

func (l *Locator) UploadMetrics(it round.Iteration) []Description {
	return l.replicas(serverPath(it.ID.PopulationName, it.ID.TaskID, it.ResultID, metricsFile))
}

func (l *Locator) DownloadServerPlan(it round.Iteration) Description {
	return Description{
		Host:   l.modelBucket(it.ID.PopulationName, it.ID.TaskID, it.BaseOnResultID),
		Object: serverPath(it.ID.PopulationName, it.ID.TaskID, 0, serverPlanFile),
	}
}

func (l *Locator) DownloadClientPlan(a round.Assignment) Description {
	it := a.ID.Iteration

	return Description{
		Host:   l.modelBucket(it.PopulationName, it.TaskID, a.BaseOnResultID),
		Object: serverPath(it.PopulationName, it.TaskID, 0, clientPlanFile),
	}
}

func (l *Locator) UploadServerPlans(task round.TaskID) []Description {
	return l.replicas(serverPath(task.PopulationName, task.TaskID, 0, serverPlanFile))
}

func (l *Locator) UploadClientPlans(task round.TaskID) []Description {
	return l.replicas(serverPath(task.PopulationName, task.TaskID, 0, clientPlanFile))
}

func (l *Locator) modelBucket(population string, task, result int64) string {
	return fmt.Sprintf(l.cfg.ModelBucketTemplate, l.partitioner.Model(population, task, result))
}

// replicas places the object in every model partition so readers find it
// whichever partition they hash to.
func (l *Locator) replicas(object string) []Description {
	descs := make([]Description, l.partitioner.ModelPartitions)
	for i := range descs {
		descs[i] = Description{Host: fmt.Sprintf(l.cfg.ModelBucketTemplate, i), Object: object}
	}

	return descs
}

func gradientFolder(population string, task, result int64) string {
	return fmt.Sprintf("%s/%d/%d/d/", population, task, result)
}

func serverPath(population string, task, result int64, file string) string {
	return fmt.Sprintf("%s/%d/%d/s/0/%s", population, task, result, file)
}

func devicePath(population string, task, result int64, file string) string {
	return fmt.Sprintf("%s/%d/%d/d/0/%s", population, task, result, file)
}
