// Package collector drives iterations through collection, aggregation and
// promotion to model update. Every sweep step is guarded by a per-iteration
// lock and mutates state only through status transitions, so any number of
// collector processes can run the same sweeps.
package collector

import (
	"context"
	"time"

	"github.com/absmach/fedround/pkg/messages"
)

// HexPartitions are the listing prefixes of uuid named folders.
var HexPartitions = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "a", "b", "c", "d", "e", "f"}

type Service interface {
	// ProcessCollecting runs one collecting step for every COLLECTING
	// iteration.
	ProcessCollecting(ctx context.Context) error
	// ProcessAggregating runs one aggregating step for every AGGREGATING
	// iteration.
	ProcessAggregating(ctx context.Context) error
	// ProcessTimeouts times out stale assignments of COLLECTING iterations.
	ProcessTimeouts(ctx context.Context) error
	// HandleAggregatorNotification reacts to an aggregator outcome. A returned
	// error asks for the notification to be redelivered.
	HandleAggregatorNotification(ctx context.Context, n messages.AggregatorNotification) error
}

// Publisher dispatches work orders.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

type Config struct {
	BatchSize           int64         `env:"BATCH_SIZE"            envDefault:"100"`
	LocalComputeTimeout time.Duration `env:"LOCAL_COMPUTE_TIMEOUT" envDefault:"15m"`
	UploadTimeout       time.Duration `env:"UPLOAD_TIMEOUT"        envDefault:"15m"`
	// BatchFailureThreshold is the number of failed batches an iteration
	// tolerates. Negative values disable the check.
	BatchFailureThreshold int64         `env:"BATCH_FAILURE_THRESHOLD" envDefault:"-1"`
	AggregatorTopic       string        `env:"AGGREGATOR_TOPIC"        envDefault:"fedround/aggregator"`
	ModelUpdaterTopic     string        `env:"MODEL_UPDATER_TOPIC"     envDefault:"fedround/model-updater"`
	NotificationTopic     string        `env:"NOTIFICATION_TOPIC"      envDefault:"fedround/aggregator/notifications"`
	ListingPartitions     []string      `env:"LISTING_PARTITIONS"      envDefault:"0,1,2,3,4,5,6,7,8,9,a,b,c,d,e,f" envSeparator:","`
	NotificationLockWait  time.Duration `env:"NOTIFICATION_LOCK_WAIT"  envDefault:"30s"`
	CollectSchedule       string        `env:"COLLECT_SCHEDULE"        envDefault:"@every 1s"`
	TimeoutSchedule       string        `env:"TIMEOUT_SCHEDULE"        envDefault:"@every 1m"`
}

func (c Config) failureThreshold() (int64, bool) {
	return c.BatchFailureThreshold, c.BatchFailureThreshold >= 0
}
