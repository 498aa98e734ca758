package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// WorkerSample is one resource reading of the supervised worker.
type WorkerSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// WorkerSamplerConfig holds configuration for worker resource sampling
type WorkerSamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// WorkerSampler polls CPU and memory usage of one worker process via gopsutil
// and exposes the latest reading as gauges.
type WorkerSampler struct {
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last WorkerSample

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewWorkerSampler creates a sampler; Interval defaults to 5s.
func NewWorkerSampler(cfg WorkerSamplerConfig, logger *slog.Logger) *WorkerSampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xpol",
			Subsystem: "worker",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &WorkerSampler{
		interval:   interval,
		logger:     logger,
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the worker."),
		memoryRSS:  gauge("memory_rss_bytes", "Resident memory of the worker."),
		numThreads: gauge("num_threads", "Number of threads of the worker."),
		numFDs:     gauge("num_fds", "Open file descriptors of the worker (Unix only)."),
	}
}

// RegisterMetrics registers the worker gauges with the provided registerer
func (s *WorkerSampler) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Sample takes one reading of pid and records it under name.
func (s *WorkerSampler) Sample(ctx context.Context, name string, pid int) (WorkerSample, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return WorkerSample{}, err
	}
	sample := WorkerSample{PID: int32(pid), Timestamp: time.Now()}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		sample.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		sample.MemoryRSS = mem.RSS
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		sample.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDsWithContext(ctx); err == nil {
			sample.NumFDs = n
		}
	}

	s.mu.Lock()
	s.last = sample
	s.mu.Unlock()

	s.cpuPercent.WithLabelValues(name).Set(sample.CPUPercent)
	s.memoryRSS.WithLabelValues(name).Set(float64(sample.MemoryRSS))
	s.numThreads.WithLabelValues(name).Set(float64(sample.NumThreads))
	s.numFDs.WithLabelValues(name).Set(float64(sample.NumFDs))
	return sample, nil
}

// Last returns the most recent sample.
func (s *WorkerSampler) Last() WorkerSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run samples pid every interval until ctx is done or the process vanishes.
func (s *WorkerSampler) Run(ctx context.Context, name string, pid int) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sample(ctx, name, pid); err != nil {
				s.logger.Debug("worker sampling stopped", "pid", pid, "error", err)
				return
			}
		}
	}
}
