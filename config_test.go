package fedround_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedround"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.toml")
	require.NoError(t, os.WriteFile(valid, []byte(`
[collector]
batch_size = 50
upload_timeout = "10m"
batch_failure_threshold = 0
aggregator_topic = "fl/aggregate"

[lifecycle]
schedule = "@every 30s"

[mqtt]
address = "tcp://broker:1883"
codec = "cbor"

[manager]
url = "http://manager:7070"
`), 0o600))

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[collector\n"), 0o600))

	cases := []struct {
		desc string
		path string
		err  bool
	}{
		{desc: "valid file", path: valid},
		{desc: "missing file", path: filepath.Join(dir, "missing.toml"), err: true},
		{desc: "malformed file", path: invalid, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg, err := fedround.LoadConfig(tc.path)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(50), cfg.Collector.BatchSize)
			assert.Equal(t, "10m", cfg.Collector.UploadTimeout)
			require.NotNil(t, cfg.Collector.BatchFailureThreshold)
			assert.Equal(t, int64(0), *cfg.Collector.BatchFailureThreshold)
			assert.Equal(t, "fl/aggregate", cfg.Collector.AggregatorTopic)
			assert.Equal(t, "cbor", cfg.MQTT.Codec)
			assert.Equal(t, "@every 30s", cfg.Lifecycle.Schedule)
			assert.Equal(t, "http://manager:7070", cfg.Manager.URL)
		})
	}
}
