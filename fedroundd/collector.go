package fedroundd

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fedround"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

const defHTTPPort = "7070"

var configPath string

var collectorCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start collector",
		Long:  `Start the collector sweeps and the manager API. Settings come from the environment, overridden by --config.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				cmd.PrintErrf("failed to load configuration: %s\n", err.Error())

				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			if err := Start(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start collector: %s\n", err.Error())
			}
			cancel()
		},
	},
}

func NewCollectorCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "collector [start]",
		Short: "Collector management",
		Long:  `Run the fedround collector.`,
	}

	for i := range collectorCmd {
		cmd.AddCommand(&collectorCmd[i])
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	return &cmd
}

// LoadConfig reads the environment and then applies the TOML file at path,
// if any.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	cfg.Server.Port = defHTTPPort
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	if path == "" {
		return cfg, nil
	}

	file, err := fedround.LoadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyFile(&cfg, file); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyFile overrides cfg with the non-zero settings of file.
func ApplyFile(cfg *Config, file *fedround.Config) error {
	c := file.Collector
	if c.BatchSize > 0 {
		cfg.Collector.BatchSize = c.BatchSize
	}
	if c.BatchFailureThreshold != nil {
		cfg.Collector.BatchFailureThreshold = *c.BatchFailureThreshold
	}
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"local_compute_timeout", c.LocalComputeTimeout, &cfg.Collector.LocalComputeTimeout},
		{"upload_timeout", c.UploadTimeout, &cfg.Collector.UploadTimeout},
		{"applying_warn_after", file.Lifecycle.ApplyingWarnAfter, &cfg.Lifecycle.ApplyingWarnAfter},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	override(&cfg.Collector.AggregatorTopic, c.AggregatorTopic)
	override(&cfg.Collector.ModelUpdaterTopic, c.ModelUpdaterTopic)
	override(&cfg.Collector.NotificationTopic, c.NotificationTopic)
	override(&cfg.Collector.CollectSchedule, c.CollectSchedule)
	override(&cfg.Collector.TimeoutSchedule, c.TimeoutSchedule)
	override(&cfg.Lifecycle.Schedule, file.Lifecycle.Schedule)
	override(&cfg.MQTT.Address, file.MQTT.Address)
	override(&cfg.MQTT.Codec, file.MQTT.Codec)

	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
