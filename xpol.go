// Package xpol embeds the xpol gene exchange: a supervisor that turns worker
// signals into store exchanges, and the shared gene store behind it.
package xpol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/xpol/internal/config"
	"github.com/loykin/xpol/internal/cron"
	"github.com/loykin/xpol/internal/detector"
	"github.com/loykin/xpol/internal/history"
	hfactory "github.com/loykin/xpol/internal/history/factory"
	"github.com/loykin/xpol/internal/lock"
	"github.com/loykin/xpol/internal/metrics"
	"github.com/loykin/xpol/internal/process"
	"github.com/loykin/xpol/internal/server"
	"github.com/loykin/xpol/internal/store"
	sfactory "github.com/loykin/xpol/internal/store/factory"
	"github.com/loykin/xpol/internal/supervisor"
	"github.com/loykin/xpol/pkg/client"
)

// Re-export core types for external consumers.

type Config = config.FileConfig

type StoreConfig = config.StoreConfig

type Store = store.Store

type Supervisor = supervisor.Supervisor

type Intent = supervisor.Intent

type HistorySink = history.Sink

type Client = client.Client

const (
	IntentDownload = supervisor.IntentDownload
	IntentUpload   = supervisor.IntentUpload
)

// LoadConfig reads a TOML config; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// RegisterMetrics registers xpol collectors; safe to call more than once.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewLocker builds the store lock named by cfg.Lock. close releases any
// connection the lock holds.
func NewLocker(ctx context.Context, cfg StoreConfig) (l lock.Locker, closeFn func() error, err error) {
	noop := func() error { return nil }
	switch cfg.Lock {
	case "", config.LockMutex:
		return lock.NewMutex(), noop, nil
	case config.LockFile:
		if cfg.LockPath == "" {
			return nil, nil, errors.New("file lock requires a lock path")
		}
		return lock.NewFile(cfg.LockPath), noop, nil
	case config.LockRedis:
		r, err := lock.NewRedisFromURL(ctx, cfg.RedisURL, cfg.RedisKey, cfg.LockTTL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock %q", cfg.Lock)
	}
}

// OpenStore opens the engine named by cfg.DSN, creates its schema and puts
// it behind the configured lock. close releases the engine and the lock.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (s *Store, closeFn func() error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := sfactory.NewFromDSN(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := backend.EnsureSchema(ctx); err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	locker, closeLock, err := NewLocker(ctx, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	st := store.New(backend, locker,
		store.WithRetention(cfg.Retention),
		store.WithLogger(logger),
	)
	return st, func() error { return errors.Join(closeLock(), backend.Close()) }, nil
}

// SchedulePurge starts a background purge of st on schedule ("@every 10m").
// Stop the returned scheduler to end it.
func SchedulePurge(ctx context.Context, st *Store, schedule string, logger *slog.Logger) (*cron.Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sch := cron.NewScheduler(logger)
	err := sch.Add(&cron.Job{Name: "purge", Schedule: schedule, Run: func(ctx context.Context) error {
		_, err := st.Purge(ctx)
		return err
	}})
	if err != nil {
		return nil, err
	}
	if err := sch.Start(ctx); err != nil {
		return nil, err
	}
	return sch, nil
}

// NewStoreHandler exposes s over the form protocol at path.
func NewStoreHandler(s *Store, path string, logger *slog.Logger, withMetrics bool) http.Handler {
	return server.NewRouter(s, path, logger).WithMetrics(withMetrics).Handler()
}

// NewClient returns a store client for cfg.URL.
func NewClient(cfg client.Config) (*Client, error) { return client.New(cfg) }

// NewHistorySink opens the sink for dsn, or a sink that drops everything
// when dsn is empty.
func NewHistorySink(dsn string) (HistorySink, error) {
	if dsn == "" {
		return history.Nop{}, nil
	}
	return hfactory.NewSinkFromDSN(dsn)
}

// RequestExchange asks the supervisor whose pid is recorded in pidfile to
// run intent on its next tick. A stale pid file is refused rather than
// signalling whatever process now holds the pid.
func RequestExchange(pidfile string, intent Intent) error {
	pid, err := detector.PIDFile{Path: pidfile}.Lookup()
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return supervisor.Request(pid, intent)
}

// RunSupervisor starts the worker described by cfg.Supervisor and supervises
// it until shutdown. The returned code is the process exit code; err is
// non-nil only when supervision could not start.
func RunSupervisor(ctx context.Context, cfg *Config, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ValidateSupervise(); err != nil {
		return 1, err
	}
	sc := cfg.Supervisor

	workerEnv, err := cfg.WorkerEnv()
	if err != nil {
		return 1, err
	}
	cc := cfg.ClientConfig()
	cc.Logger = logger
	cli, err := client.New(cc)
	if err != nil {
		return 1, err
	}
	sink, err := NewHistorySink(sc.HistoryDSN)
	if err != nil {
		return 1, fmt.Errorf("history sink: %w", err)
	}
	if c, ok := sink.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	if sc.PIDFile != "" {
		if err := process.WritePIDFile(sc.PIDFile, os.Getpid()); err != nil {
			return 1, fmt.Errorf("write supervisor pid file: %w", err)
		}
		defer func() { _ = os.Remove(sc.PIDFile) }()
	}

	// handlers go in before the worker exists: it may signal immediately
	sigCh, stopSignals := supervisor.Notify()
	defer stopSignals()

	w, err := process.Start(cfg.WorkerSpec(), os.Getpid(), workerEnv)
	if err != nil {
		return 1, err
	}
	sup, err := supervisor.New(supervisor.Config{
		Name:            sc.Name,
		ExchangeFile:    sc.ExchangeFile,
		Tick:            sc.Tick,
		ExchangeTimeout: sc.ExchangeTimeout,
	}, w, cli,
		supervisor.WithHistory(sink),
		supervisor.WithLogger(logger),
		supervisor.WithSignals(sigCh),
	)
	if err != nil {
		_ = w.Terminate()
		w.Wait()
		return 1, err
	}

	if sc.Sample.Enabled {
		sampler := metrics.NewWorkerSampler(sc.Sample, logger)
		if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("worker sampler disabled", "error", err)
		} else {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go sampler.Run(sctx, sc.Name, w.PID())
		}
	}

	return sup.Run(ctx), nil
}
