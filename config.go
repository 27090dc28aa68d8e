package fedround

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the file form of the daemon settings. Zero values keep the
// environment configuration.
type Config struct {
	Collector CollectorConfig `toml:"collector"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	MQTT      MQTTConfig      `toml:"mqtt"`
	Manager   ManagerConfig   `toml:"manager"`
}

type CollectorConfig struct {
	BatchSize             int64  `toml:"batch_size"`
	LocalComputeTimeout   string `toml:"local_compute_timeout"`
	UploadTimeout         string `toml:"upload_timeout"`
	BatchFailureThreshold *int64 `toml:"batch_failure_threshold"`
	AggregatorTopic       string `toml:"aggregator_topic"`
	ModelUpdaterTopic     string `toml:"model_updater_topic"`
	NotificationTopic     string `toml:"notification_topic"`
	CollectSchedule       string `toml:"collect_schedule"`
	TimeoutSchedule       string `toml:"timeout_schedule"`
}

type LifecycleConfig struct {
	Schedule          string `toml:"schedule"`
	ApplyingWarnAfter string `toml:"applying_warn_after"`
}

type MQTTConfig struct {
	Address string `toml:"address"`
	Codec   string `toml:"codec"`
}

type ManagerConfig struct {
	URL string `toml:"url"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
