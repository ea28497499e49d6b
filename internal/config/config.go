// Package config loads runner configuration from an optional YAML
// file overlaid with environment variables. Environment wins over the
// file, the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10m" parse.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full runner configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Build     BuildConfig    `yaml:"build"`
	Jobs      JobsConfig     `yaml:"jobs"`
	FixDB     FixDBConfig    `yaml:"fix_db"`
	Events    EventsConfig   `yaml:"events"`
	Customer  CustomerConfig `yaml:"customer"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BuildConfig tunes the adaptive build loop.
type BuildConfig struct {
	WorkspaceRoot  string   `yaml:"workspace_root"`
	MaxAttempts    int      `yaml:"max_attempts"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	ZephyrBase     string   `yaml:"zephyr_base"`
	InstallCommand []string `yaml:"install_command,omitempty"`
}

// JobsConfig tunes the worker pool and job retention.
type JobsConfig struct {
	Workers         int      `yaml:"workers"`
	QueueSize       int      `yaml:"queue_size"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	MaxAge          Duration `yaml:"max_age"`
}

// FixDBConfig locates the successful-configuration database. An empty
// path keeps the cache in memory only.
type FixDBConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig configures the optional NATS job event stream.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CustomerConfig carries per-tenant identity for artifact uploads.
type CustomerConfig struct {
	Name                   string   `yaml:"name"`
	AllowedInstallationIDs []string `yaml:"allowed_installation_ids,omitempty"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Build: BuildConfig{
			WorkspaceRoot:  "/tmp/nabla-builds",
			MaxAttempts:    8,
			AttemptTimeout: Duration(10 * time.Minute),
			ZephyrBase:     "/opt/zephyr",
		},
		Jobs: JobsConfig{
			Workers:         2,
			QueueSize:       100,
			CleanupInterval: Duration(10 * time.Minute),
			MaxAge:          Duration(time.Hour),
		},
		FixDB:     FixDBConfig{Path: ""},
		Events:    EventsConfig{SubjectPrefix: "nabla.jobs"},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the config file at path (optional, empty path skips the
// file) and applies environment overrides. A .env file next to the
// process is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as baffling
// runtime behavior.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Build.MaxAttempts <= 0 {
		return fmt.Errorf("build.max_attempts must be positive, got %d", c.Build.MaxAttempts)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs.queue_size must be positive, got %d", c.Jobs.QueueSize)
	}
	if c.Build.WorkspaceRoot == "" {
		return fmt.Errorf("build.workspace_root must not be empty")
	}
	return nil
}

// applyEnv overlays NABLA_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "NABLA_HOST")
	setInt(&cfg.Server.Port, "NABLA_PORT")
	setString(&cfg.Build.WorkspaceRoot, "NABLA_WORKSPACE_ROOT")
	setInt(&cfg.Build.MaxAttempts, "NABLA_MAX_ATTEMPTS")
	setDuration(&cfg.Build.AttemptTimeout, "NABLA_ATTEMPT_TIMEOUT")
	setString(&cfg.Build.ZephyrBase, "ZEPHYR_BASE")
	setInt(&cfg.Jobs.Workers, "NABLA_WORKERS")
	setInt(&cfg.Jobs.QueueSize, "NABLA_QUEUE_SIZE")
	setDuration(&cfg.Jobs.CleanupInterval, "NABLA_CLEANUP_INTERVAL")
	setDuration(&cfg.Jobs.MaxAge, "NABLA_JOB_MAX_AGE")
	setString(&cfg.FixDB.Path, "NABLA_FIX_DB_PATH")
	setString(&cfg.Events.NATSURL, "NATS_URL")
	setString(&cfg.Events.SubjectPrefix, "NABLA_EVENT_SUBJECT_PREFIX")
	setString(&cfg.Customer.Name, "CUSTOMER_NAME")
	setString(&cfg.LogLevel, "NABLA_LOG_LEVEL")
	setString(&cfg.LogFormat, "NABLA_LOG_FORMAT")

	if v := os.Getenv("NABLA_ALLOWED_INSTALLATION_IDS"); v != "" {
		ids := strings.Split(v, ",")
		out := ids[:0]
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
		cfg.Customer.AllowedInstallationIDs = out
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
