// Package config loads run configurations: which metrics to declare, which
// calling points to bind and where the results go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/environment"
	"github.com/boristopalov/bca/pkg/logging"
)

var validate = validator.New()

type Config struct {
	Name             string            `yaml:"name" json:"name" validate:"required"`
	TimestepsPerHour int               `yaml:"timesteps_per_hour" json:"timesteps_per_hour" validate:"oneof=1 2 3 4 5 6 10 12 15 20 30 60"`
	Engine           EngineConfig      `yaml:"engine" json:"engine"`
	Metrics          []MetricConfig    `yaml:"metrics" json:"metrics" validate:"dive"`
	CallingPoints    []BindingConfig   `yaml:"calling_points" json:"calling_points" validate:"dive"`
	RecordSets       []RecordSetConfig `yaml:"record_sets" json:"record_sets" validate:"dive"`
	Controller       ControllerConfig  `yaml:"controller" json:"controller"`
	Export           ExportConfig      `yaml:"export" json:"export"`
	Logging          logging.Config    `yaml:"logging" json:"logging"`
	MetricsAddr      string            `yaml:"metrics_addr" json:"metrics_addr"`
}

// EngineConfig configures the simulation run. Model and Weather are passed
// to engines that read input files; the built-in engine uses the day counts.
type EngineConfig struct {
	Model      string   `yaml:"model" json:"model"`
	Weather    string   `yaml:"weather" json:"weather"`
	OutputDir  string   `yaml:"output_dir" json:"output_dir"`
	WarmupDays int      `yaml:"warmup_days" json:"warmup_days" validate:"gte=0"`
	RunDays    int      `yaml:"run_days" json:"run_days" validate:"gte=1"`
	Args       []string `yaml:"args" json:"args"`
}

type MetricConfig struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Category string   `yaml:"category" json:"category" validate:"required"`
	Key      []string `yaml:"key" json:"key" validate:"required,min=1,max=3"`
}

// BindingConfig binds one calling point. Zero strides mean 1.
type BindingConfig struct {
	Point           string `yaml:"point" json:"point" validate:"required"`
	UpdateState     *bool  `yaml:"update_state" json:"update_state"`
	StateStride     int    `yaml:"state_stride" json:"state_stride" validate:"gte=0"`
	ActuationStride int    `yaml:"actuation_stride" json:"actuation_stride" validate:"gte=0"`
	Observe         bool   `yaml:"observe" json:"observe"`
	Actuate         bool   `yaml:"actuate" json:"actuate"`
}

type RecordSetConfig struct {
	Name    string   `yaml:"name" json:"name" validate:"required"`
	Point   string   `yaml:"point" json:"point" validate:"required"`
	Stride  int      `yaml:"stride" json:"stride" validate:"gte=1"`
	Metrics []string `yaml:"metrics" json:"metrics" validate:"required,min=1"`
}

type ControllerConfig struct {
	Type     string  `yaml:"type" json:"type" validate:"omitempty,oneof=none thermostat llm"`
	ZoneTemp string  `yaml:"zone_temp" json:"zone_temp"`
	Heating  string  `yaml:"heating" json:"heating"`
	Cooling  string  `yaml:"cooling" json:"cooling"`
	Target   float64 `yaml:"target" json:"target"`
	Deadband float64 `yaml:"deadband" json:"deadband" validate:"gte=0"`

	Provider       string `yaml:"provider" json:"provider" validate:"omitempty,oneof=openai gemini"`
	Model          string `yaml:"model" json:"model"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIKey         string `yaml:"-" json:"-"`
	MemoryCapacity int    `yaml:"memory_capacity" json:"memory_capacity" validate:"gte=0"`
}

type ExportConfig struct {
	CSVDir string       `yaml:"csv_dir" json:"csv_dir"`
	Influx InfluxConfig `yaml:"influx" json:"influx"`
	Kafka  KafkaConfig  `yaml:"kafka" json:"kafka"`
}

type InfluxConfig struct {
	URL         string `yaml:"url" json:"url" validate:"omitempty,url"`
	Token       string `yaml:"token" json:"token"`
	Org         string `yaml:"org" json:"org" validate:"required_with=URL"`
	Bucket      string `yaml:"bucket" json:"bucket" validate:"required_with=URL"`
	Measurement string `yaml:"measurement" json:"measurement"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required_with=Brokers"`
}

// Default returns a configuration with the built-in engine settings.
func Default() *Config {
	return &Config{
		Name:             "bca",
		TimestepsPerHour: 4,
		Engine: EngineConfig{
			WarmupDays: 1,
			RunDays:    1,
		},
		Controller: ControllerConfig{
			Type:           "none",
			Target:         21,
			Deadband:       1,
			MemoryCapacity: 20,
		},
		Export: ExportConfig{
			Influx: InfluxConfig{Measurement: "bca"},
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. Files are parsed as YAML, then JSON.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BCA_TIMESTEPS_PER_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.TimestepsPerHour = i
		}
	}
	if v := os.Getenv("BCA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BCA_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Export.Influx.Token = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Export.Kafka.Brokers = strings.Split(v, ",")
	}
	switch c.Controller.Provider {
	case "openai":
		c.Controller.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		c.Controller.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks struct tags and the names the engine will reject anyway,
// so a bad file fails before the simulation starts.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	for _, m := range c.Metrics {
		cat, err := core.ParseCategory(m.Category)
		if err != nil {
			return fmt.Errorf("metric %q: %w", m.Name, err)
		}
		if len(m.Key) != cat.KeyArity() {
			return fmt.Errorf("%w: metric %q is a %s and needs %d key fields, got %d",
				core.ErrMalformedDeclaration, m.Name, cat, cat.KeyArity(), len(m.Key))
		}
	}
	for _, b := range c.CallingPoints {
		if !core.IsCallingPoint(b.Point) {
			return fmt.Errorf("%w: unknown calling point %q", core.ErrConfiguration, b.Point)
		}
	}
	for _, rs := range c.RecordSets {
		if !core.IsCallingPoint(rs.Point) {
			return fmt.Errorf("%w: record set %q uses unknown calling point %q", core.ErrConfiguration, rs.Name, rs.Point)
		}
	}
	return nil
}

// Options translates the binding's state settings into environment options.
func (b BindingConfig) Options() []environment.BindingOption {
	var opts []environment.BindingOption
	if b.UpdateState != nil && !*b.UpdateState {
		opts = append(opts, environment.WithoutStateUpdate())
	}
	if b.StateStride > 0 {
		opts = append(opts, environment.WithStateStride(b.StateStride))
	}
	if b.ActuationStride > 0 {
		opts = append(opts, environment.WithActuationStride(b.ActuationStride))
	}
	return opts
}

// ControllerFunc supplies the observation and actuation options of one
// binding.
type ControllerFunc func(b BindingConfig) ([]environment.BindingOption, error)

// Apply declares every metric, binds every calling point and declares the
// record sets on env. controller may be nil when nothing observes or acts.
func (c *Config) Apply(env *environment.Environment, controller ControllerFunc) error {
	for _, m := range c.Metrics {
		cat, err := core.ParseCategory(m.Category)
		if err != nil {
			return err
		}
		if err := env.DeclareMetric(m.Name, cat, m.Key...); err != nil {
			return err
		}
	}
	for _, b := range c.CallingPoints {
		opts := b.Options()
		if controller != nil {
			extra, err := controller(b)
			if err != nil {
				return fmt.Errorf("controller for %s: %w", b.Point, err)
			}
			opts = append(opts, extra...)
		}
		if err := env.BindCallingPoint(core.CallingPoint(b.Point), opts...); err != nil {
			return err
		}
	}
	for _, rs := range c.RecordSets {
		if err := env.DeclareRecordSet(rs.Name, core.CallingPoint(rs.Point), rs.Stride, rs.Metrics...); err != nil {
			return err
		}
	}
	return nil
}
