package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/bca/internal/enginetest"
	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/environment"
)

const sampleYAML = `
name: office
timesteps_per_hour: 6
engine:
  warmup_days: 2
  run_days: 3
metrics:
  - name: zn0_temp
    category: var
    key: [Zone Mean Air Temperature, Zone 1]
  - name: htg_sp
    category: actuator
    key: [Zone Temperature Control, Heating Setpoint, Zone 1]
  - name: oa_db
    category: weather
    key: [outdoor_dry_bulb]
calling_points:
  - point: callback_begin_zone_timestep_after_init_heat_balance
    state_stride: 2
    actuate: true
  - point: callback_end_zone_timestep_after_zone_reporting
    update_state: false
record_sets:
  - name: hourly
    point: callback_begin_zone_timestep_after_init_heat_balance
    stride: 6
    metrics: [zn0_temp, hour]
export:
  csv_dir: out
  kafka:
    topic: bca.snapshots
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("yaml file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		assert.Equal(t, "office", cfg.Name)
		assert.Equal(t, 6, cfg.TimestepsPerHour)
		assert.Equal(t, 2, cfg.Engine.WarmupDays)
		require.Len(t, cfg.Metrics, 3)
		assert.Equal(t, []string{"Zone Temperature Control", "Heating Setpoint", "Zone 1"}, cfg.Metrics[1].Key)
		require.Len(t, cfg.CallingPoints, 2)
		require.NotNil(t, cfg.CallingPoints[1].UpdateState)
		assert.False(t, *cfg.CallingPoints[1].UpdateState)
		// defaults survive a partial file
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, 21.0, cfg.Controller.Target)
	})

	t.Run("json file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `{"name": "j", "timesteps_per_hour": 12, "engine": {"run_days": 1}}`))
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.TimestepsPerHour)
	})

	t.Run("no file uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.TimestepsPerHour)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("BCA_TIMESTEPS_PER_HOUR", "10")
		t.Setenv("BCA_LOG_LEVEL", "debug")
		t.Setenv("BCA_METRICS_ADDR", ":9102")
		t.Setenv("INFLUXDB_TOKEN", "secret")
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.TimestepsPerHour)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, ":9102", cfg.MetricsAddr)
		assert.Equal(t, "secret", cfg.Export.Influx.Token)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Export.Kafka.Brokers)
	})

	t.Run("api key follows the provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		cfg, err := Load(writeConfig(t, "controller:\n  type: llm\n  provider: gemini\n"))
		require.NoError(t, err)
		assert.Equal(t, "g-key", cfg.Controller.APIKey)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unparseable file", func(t *testing.T) {
		_, err := Load(writeConfig(t, "name: [unterminated"))
		assert.ErrorContains(t, err, "tried YAML and JSON")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		target error
	}{
		{"non-divisor timesteps", func(c *Config) { c.TimestepsPerHour = 7 }, core.ErrConfiguration},
		{"zero run days", func(c *Config) { c.Engine.RunDays = 0 }, core.ErrConfiguration},
		{"unknown category", func(c *Config) {
			c.Metrics = []MetricConfig{{Name: "x", Category: "sensor", Key: []string{"a"}}}
		}, core.ErrConfiguration},
		{"wrong key arity", func(c *Config) {
			c.Metrics = []MetricConfig{{Name: "x", Category: "actuator", Key: []string{"a", "b"}}}
		}, core.ErrMalformedDeclaration},
		{"unknown calling point", func(c *Config) {
			c.CallingPoints = []BindingConfig{{Point: "callback_lunch"}}
		}, core.ErrConfiguration},
		{"record set stride", func(c *Config) {
			c.RecordSets = []RecordSetConfig{{Name: "r", Point: string(core.BeginNewEnvironment), Stride: 0, Metrics: []string{"hour"}}}
		}, core.ErrConfiguration},
		{"kafka without topic", func(c *Config) { c.Export.Kafka.Brokers = []string{"k:9092"} }, core.ErrConfiguration},
		{"bad controller", func(c *Config) { c.Controller.Type = "pid" }, core.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.target)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestApply(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	env, err := environment.New(enginetest.New(),
		environment.WithTimestepsPerHour(cfg.TimestepsPerHour),
		environment.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	var asked []string
	err = cfg.Apply(env, func(b BindingConfig) ([]environment.BindingOption, error) {
		asked = append(asked, b.Point)
		if !b.Actuate {
			return nil, nil
		}
		return []environment.BindingOption{environment.WithActuator(func() (map[string]*float64, error) {
			return nil, nil
		})}, nil
	})
	require.NoError(t, err)

	assert.Len(t, env.Declarations(), 3)
	assert.Equal(t, []core.CallingPoint{
		core.BeginZoneTimestepAfterInitHeatBalance,
		core.EndZoneTimestepAfterZoneReporting,
	}, env.BoundCallingPoints())
	assert.Equal(t, []string{"hourly"}, env.RecordSetNames())
	assert.Len(t, asked, 2)
}

func TestBindingOptions(t *testing.T) {
	off := false
	assert.Len(t, BindingConfig{}.Options(), 0)
	assert.Len(t, BindingConfig{UpdateState: &off, StateStride: 2, ActuationStride: 3}.Options(), 3)
}
