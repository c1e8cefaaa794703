// Package config defines configuration parsing and validation for the bridge.
//
// The bridge is configured from a YAML file whose settings live under the
// top-level "main" key, with a small set of process-level knobs (environment,
// ops listener, OTLP endpoint) taken from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

// RetrieversParams tunes the upstream feed retrievers.
type RetrieversParams struct {
	// DownRequestsSleep is the pause between backward-fill pages.
	DownRequestsSleep float64 `yaml:"down_requests_sleep"`
	// UpRequestsSleep is the pause between forward-sync pages.
	UpRequestsSleep float64 `yaml:"up_requests_sleep"`
	// UpWaitSleep is how long the feeder sleeps at the head of the stream.
	// Values below 30 seconds hammer the upstream API and are rejected.
	UpWaitSleep float64 `yaml:"up_wait_sleep"`
	// QueueSize bounds the feeder's internal buffer.
	QueueSize int `yaml:"queue_size"`
}

// StorageConfig selects and configures the storage plugin.
type StorageConfig struct {
	StorageType string `yaml:"storage_type"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DB          int    `yaml:"db"`
	Password    string `yaml:"password"`
	// DSN is used by SQL-backed storages (postgres).
	DSN string `yaml:"dsn"`
}

// WorkerConfig selects the worker plugin.
type WorkerConfig struct {
	WorkerType string `yaml:"worker_type"`
}

// FilterConfig selects the filter plugin. An empty filter type disables the
// filter stage and the main queue aliases the input queue.
type FilterConfig struct {
	FilterType string `yaml:"filter_type"`
}

// KafkaConfig configures the kafka forwarding handler.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config holds all bridge settings from the "main" section of the YAML file.
type Config struct {
	ResourcesAPIServer  string            `yaml:"resources_api_server"`
	ResourcesAPIVersion string            `yaml:"resources_api_version"`
	Resource            string            `yaml:"resource"`
	ExtraParams         map[string]string `yaml:"extra_params"`
	RetrieversParams    RetrieversParams  `yaml:"retrievers_params"`
	UserAgent           string            `yaml:"user_agent"`

	WorkersMin         int `yaml:"workers_min" validate:"gte=1"`
	WorkersMax         int `yaml:"workers_max" validate:"gte=1"`
	RetryWorkersMin    int `yaml:"retry_workers_min" validate:"gte=1"`
	RetryWorkersMax    int `yaml:"retry_workers_max" validate:"gte=1"`
	FilterWorkersCount int `yaml:"filter_workers_count" validate:"gte=1"`

	InputQueueSize              int `yaml:"input_queue_size"`
	ResourceItemsQueueSize      int `yaml:"resource_items_queue_size"`
	RetryResourceItemsQueueSize int `yaml:"retry_resource_items_queue_size"`

	WorkersIncThreshold float64 `yaml:"workers_inc_threshold" validate:"gte=0,lte=100"`
	WorkersDecThreshold float64 `yaml:"workers_dec_threshold" validate:"gte=0,lte=100"`

	// Intervals are configured in seconds to match the upstream deployment
	// configs this bridge is dropped into.
	QueuesControllerTimeout float64 `yaml:"queues_controller_timeout" validate:"gt=0"`
	WatchInterval           float64 `yaml:"watch_interval" validate:"gt=0"`
	PerfomanceWindow        float64 `yaml:"perfomance_window" validate:"gt=0"`
	// RetryDefaultTimeout is the request_interval step applied to a client
	// after a throttled or failed request, in seconds.
	RetryDefaultTimeout float64 `yaml:"retry_default_timeout" validate:"gte=0"`

	StorageConfig StorageConfig `yaml:"storage_config"`
	WorkerConfig  WorkerConfig  `yaml:"worker_config"`
	FilterConfig  FilterConfig  `yaml:"filter_config"`
	Kafka         KafkaConfig   `yaml:"kafka"`

	// Handlers is an optional allow-list of handler plugin names. Empty means
	// every registered handler is active.
	Handlers []string `yaml:"handlers"`
}

// File is the top-level YAML document layout.
type File struct {
	Main Config `yaml:"main"`
}

// Env holds process-level settings taken from environment variables.
type Env struct {
	AppEnv       string `env:"APP_ENV" envDefault:"dev"`
	OpsAddr      string `env:"OPS_ADDR" envDefault:":9090"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"procurement-bridge"`
}

// IsDev reports whether the process runs in development mode.
func (e Env) IsDev() bool { return strings.ToLower(e.AppEnv) == "dev" }

// LoadEnv parses environment variables into an Env.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("op=config.LoadEnv: %w", err)
	}
	return e, nil
}

// Default returns a Config populated with the defaults the original bridge
// deployments assume.
func Default() Config {
	return Config{
		ResourcesAPIVersion: "2.4",
		Resource:            "tenders",
		UserAgent:           "bridge.basic",
		RetrieversParams: RetrieversParams{
			DownRequestsSleep: 5,
			UpRequestsSleep:   1,
			UpWaitSleep:       30,
			QueueSize:         101,
		},
		WorkersMin:                  1,
		WorkersMax:                  3,
		RetryWorkersMin:             1,
		RetryWorkersMax:             2,
		FilterWorkersCount:          1,
		InputQueueSize:              10000,
		ResourceItemsQueueSize:      10000,
		RetryResourceItemsQueueSize: 10000,
		WorkersIncThreshold:         75,
		WorkersDecThreshold:         35,
		QueuesControllerTimeout:     60,
		WatchInterval:               10,
		PerfomanceWindow:            300,
		RetryDefaultTimeout:         5,
		StorageConfig:               StorageConfig{StorageType: "redis"},
		WorkerConfig:                WorkerConfig{WorkerType: "basic"},
		FilterConfig:                FilterConfig{FilterType: "basic"},
	}
}

// Load parses the YAML document in data on top of the defaults and validates
// the result.
func Load(data []byte) (Config, error) {
	cfg := Default()
	var f File
	f.Main = cfg
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("%w: parse yaml: %v", domain.ErrConfig, err)
	}
	cfg = f.Main
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads and parses the YAML configuration file at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", domain.ErrConfig, path, err)
	}
	return Load(data)
}

// Validate checks the invariants the bridge refuses to start without.
func (c Config) Validate() error {
	if c.ResourcesAPIServer == "" {
		return fmt.Errorf("%w: empty or missing 'resources_api_server'", domain.ErrConfig)
	}
	u, err := url.Parse(c.ResourcesAPIServer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid 'resources_api_server' url", domain.ErrConfig)
	}
	if c.RetrieversParams.UpWaitSleep < 30 {
		return fmt.Errorf("%w: invalid 'up_wait_sleep' in 'retrievers_params', value must not be less than 30", domain.ErrConfig)
	}
	if c.WorkersMax < c.WorkersMin {
		return fmt.Errorf("%w: 'workers_max' below 'workers_min'", domain.ErrConfig)
	}
	if c.RetryWorkersMax < c.RetryWorkersMin {
		return fmt.Errorf("%w: 'retry_workers_max' below 'retry_workers_min'", domain.ErrConfig)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return nil
}

// Seconds helpers; the YAML carries plain second counts.

// ControllerTick returns the queue controller interval.
func (c Config) ControllerTick() time.Duration {
	return time.Duration(c.QueuesControllerTimeout * float64(time.Second))
}

// WatchTick returns the supervisor/watcher interval.
func (c Config) WatchTick() time.Duration {
	return time.Duration(c.WatchInterval * float64(time.Second))
}

// PerformanceWindow returns the latency sliding-window length.
func (c Config) PerformanceWindow() time.Duration {
	return time.Duration(c.PerfomanceWindow * float64(time.Second))
}

// RetryTimeout returns the request_interval backoff step.
func (c Config) RetryTimeout() time.Duration {
	return time.Duration(c.RetryDefaultTimeout * float64(time.Second))
}

// UpWaitSleep returns the feeder head-of-stream sleep.
func (c Config) UpWaitSleep() time.Duration {
	return time.Duration(c.RetrieversParams.UpWaitSleep * float64(time.Second))
}
