// Package config loads the xpol TOML configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/xpol/internal/cron"
	"github.com/loykin/xpol/internal/env"
	"github.com/loykin/xpol/internal/logger"
	"github.com/loykin/xpol/internal/metrics"
	"github.com/loykin/xpol/internal/process"
	"github.com/loykin/xpol/internal/server"
	"github.com/loykin/xpol/internal/store"
	"github.com/loykin/xpol/pkg/client"
)

// EnvPrefix is the prefix of environment overrides, e.g. XPOL_STORE_DSN.
const EnvPrefix = "XPOL"

// Lock kinds accepted in [store] lock.
const (
	LockMutex = "mutex"
	LockFile  = "file"
	LockRedis = "redis"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env        []string         `toml:"env" mapstructure:"env"`
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Log        logger.Options   `toml:"log" mapstructure:"log"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Store      StoreConfig      `toml:"store" mapstructure:"store"`
	Server     server.Config    `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
}

type SupervisorConfig struct {
	Name            string        `toml:"name" mapstructure:"name"`
	Exec            string        `toml:"exec" mapstructure:"exec"`
	Args            []string      `toml:"args" mapstructure:"args"`
	ExchangeFile    string        `toml:"exchange_file" mapstructure:"exchange_file"`
	URL             string        `toml:"url" mapstructure:"url"`
	Tick            time.Duration `toml:"tick" mapstructure:"tick"`
	ExchangeTimeout time.Duration `toml:"exchange_timeout" mapstructure:"exchange_timeout"`
	// PIDFile records the supervisor's own pid so `xpol request` can find it.
	PIDFile       string                      `toml:"pidfile" mapstructure:"pidfile"`
	WorkerPIDFile string                      `toml:"worker_pidfile" mapstructure:"worker_pidfile"`
	WorkDir       string                      `toml:"workdir" mapstructure:"workdir"`
	HistoryDSN    string                      `toml:"history_dsn" mapstructure:"history_dsn"`
	WorkerLog     logger.Config               `toml:"worker_log" mapstructure:"worker_log"`
	Sample        metrics.WorkerSamplerConfig `toml:"sample" mapstructure:"sample"`
	TLS           client.TLSClientConfig      `toml:"tls" mapstructure:"tls"`
	Insecure      bool                        `toml:"insecure" mapstructure:"insecure"`
}

type StoreConfig struct {
	DSN       string        `toml:"dsn" mapstructure:"dsn"`
	Retention time.Duration `toml:"retention" mapstructure:"retention"`
	Lock      string        `toml:"lock" mapstructure:"lock"`
	LockPath  string        `toml:"lock_path" mapstructure:"lock_path"`
	RedisURL  string        `toml:"redis_url" mapstructure:"redis_url"`
	RedisKey  string        `toml:"redis_key" mapstructure:"redis_key"`
	LockTTL   time.Duration `toml:"lock_ttl" mapstructure:"lock_ttl"`
	// PurgeSchedule ("@every 10m") enables a background purge in serve.
	PurgeSchedule string `toml:"purge_schedule" mapstructure:"purge_schedule"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("supervisor.name", "worker")
	v.SetDefault("supervisor.exec", "")
	v.SetDefault("supervisor.exchange_file", "")
	v.SetDefault("supervisor.url", "")
	v.SetDefault("supervisor.tick", time.Second)
	v.SetDefault("supervisor.exchange_timeout", client.DefaultTimeout)
	v.SetDefault("supervisor.pidfile", "")
	v.SetDefault("supervisor.worker_pidfile", "")
	v.SetDefault("supervisor.workdir", "")
	v.SetDefault("supervisor.history_dsn", "")
	v.SetDefault("supervisor.sample.enabled", false)
	v.SetDefault("supervisor.sample.interval", 5*time.Second)
	v.SetDefault("supervisor.insecure", false)

	v.SetDefault("store.dsn", "sqlite://xpol.db")
	v.SetDefault("store.retention", store.DefaultRetention)
	v.SetDefault("store.lock", LockMutex)
	v.SetDefault("store.lock_path", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.redis_key", "")
	v.SetDefault("store.lock_ttl", 30*time.Second)
	v.SetDefault("store.purge_schedule", "")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.path", "/xpol")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
}

// Load reads path (when non-empty) on top of the defaults and applies
// XPOL_* environment overrides. Dots in keys map to underscores.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &fc, nil
}

// Validate checks the sections used by the supervise command.
func (s SupervisorConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Exec) == "" {
		errs = append(errs, errors.New("supervisor.exec is required"))
	}
	if strings.TrimSpace(s.ExchangeFile) == "" {
		errs = append(errs, errors.New("supervisor.exchange_file is required"))
	}
	if strings.TrimSpace(s.URL) == "" {
		errs = append(errs, errors.New("supervisor.url is required"))
	}
	if s.Tick <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.tick must be positive, got %s", s.Tick))
	}
	if s.ExchangeTimeout < 0 {
		errs = append(errs, fmt.Errorf("supervisor.exchange_timeout must not be negative, got %s", s.ExchangeTimeout))
	}
	return errors.Join(errs...)
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(s.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if s.Retention <= 0 {
		errs = append(errs, fmt.Errorf("store.retention must be positive, got %s", s.Retention))
	}
	switch s.Lock {
	case "", LockMutex:
	case LockFile:
		if s.LockPath == "" {
			errs = append(errs, errors.New("store.lock_path is required for the file lock"))
		}
	case LockRedis:
		if s.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis lock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.lock %q", s.Lock))
	}
	if s.PurgeSchedule != "" {
		if _, err := cron.ParseEvery(s.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Errorf("store.purge_schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m MetricsConfig) Validate() error {
	if m.Enabled && strings.TrimSpace(m.Listen) == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	return nil
}

// ValidateServe checks everything the serve command needs.
func (fc *FileConfig) ValidateServe() error {
	var errs []error
	if err := fc.Store.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(fc.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if !strings.HasPrefix(fc.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path must start with '/', got %q", fc.Server.Path))
	}
	if err := fc.Metrics.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateSupervise checks everything the supervise command needs.
func (fc *FileConfig) ValidateSupervise() error {
	return errors.Join(fc.Supervisor.Validate(), fc.Metrics.Validate())
}

// WorkerEnv composes the worker environment from use_os_env, env_files
// and the top-level env list, in that order of precedence.
func (fc *FileConfig) WorkerEnv() ([]string, error) {
	e := env.New(fc.UseOSEnv)
	if err := e.LoadFiles(fc.EnvFiles...); err != nil {
		return nil, err
	}
	e.SetPairs(fc.Env)
	return e.Merge(nil), nil
}

// WorkerSpec converts the supervisor section into a process.Spec.
func (fc *FileConfig) WorkerSpec() process.Spec {
	s := fc.Supervisor
	return process.Spec{
		Name:    s.Name,
		Command: s.Exec,
		Args:    append([]string(nil), s.Args...),
		WorkDir: s.WorkDir,
		PIDFile: s.WorkerPIDFile,
		Log:     s.WorkerLog,
	}
}

// ClientConfig converts the supervisor section into a store client config.
func (fc *FileConfig) ClientConfig() client.Config {
	s := fc.Supervisor
	cfg := client.DefaultConfig()
	cfg.URL = s.URL
	cfg.Timeout = s.ExchangeTimeout
	cfg.Insecure = s.Insecure
	if s.TLS.Enabled {
		tls := s.TLS
		cfg.TLS = &tls
	}
	return cfg
}
