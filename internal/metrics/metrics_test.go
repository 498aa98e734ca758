package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistration(t *testing.T) {
	t.Helper()
	prev := regOK.Load()
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(prev) })
}

func TestRegisterTwiceRecordsOnce(t *testing.T) {
	resetRegistration(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncTick("download")
	ObserveExchange("download", nil, 0.2)
	ObserveExchange("upload", errors.New("x"), 0.1)
	IncWorkerSignal("resume_a")
	IncStoreOp("submit", nil)
	ObserveLockWait(0.001)
	AddPurged(3)
	AddPurged(0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]int{}
	for _, mf := range mfs {
		got[mf.GetName()] = len(mf.GetMetric())
	}
	for _, name := range []string{
		"xpol_supervisor_ticks_total",
		"xpol_supervisor_exchanges_total",
		"xpol_supervisor_exchange_duration_seconds",
		"xpol_supervisor_worker_signals_total",
		"xpol_store_operations_total",
		"xpol_store_lock_wait_seconds",
		"xpol_store_purged_records_total",
	} {
		assert.Positive(t, got[name], name)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(exchanges.WithLabelValues("upload", OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(storeOps.WithLabelValues("submit", OutcomeOK)))
}

func TestHandlerExposesDefaultRegistry(t *testing.T) {
	resetRegistration(t)
	require.NoError(t, Register(prometheus.DefaultRegisterer))
	IncTick("none")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `xpol_supervisor_ticks_total{intent="none"}`)
}

func TestParallelStoreOps(t *testing.T) {
	resetRegistration(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	before := testutil.ToFloat64(storeOps.WithLabelValues("fetch", OutcomeOK))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStoreOp("fetch", nil)
			ObserveLockWait(0.0001)
		}()
	}
	wg.Wait()
	assert.Equal(t, before+50, testutil.ToFloat64(storeOps.WithLabelValues("fetch", OutcomeOK)))
}

func TestHelpersAreNoopsUntilRegistered(t *testing.T) {
	resetRegistration(t)
	before := testutil.ToFloat64(purged)
	assert.NotPanics(t, func() {
		IncTick("upload")
		ObserveExchange("upload", nil, 1)
		IncWorkerSignal("terminate")
		IncStoreOp("fetch", errors.New("x"))
		ObserveLockWait(1)
		AddPurged(1)
	})
	assert.Equal(t, before, testutil.ToFloat64(purged))
}

type failingRegisterer struct{ prometheus.Registerer }

func (failingRegisterer) Register(prometheus.Collector) error { return errors.New("registry closed") }

func TestRegisterPropagatesError(t *testing.T) {
	resetRegistration(t)
	assert.EqualError(t, Register(failingRegisterer{}), "registry closed")
	assert.False(t, regOK.Load())
}

func TestWorkerSamplerSelf(t *testing.T) {
	s := NewWorkerSampler(WorkerSamplerConfig{Enabled: true}, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, s.RegisterMetrics(reg))
	require.NoError(t, s.RegisterMetrics(reg))

	sample, err := s.Sample(context.Background(), "self", os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), sample.PID)
	assert.NotZero(t, sample.MemoryRSS)
	assert.Equal(t, sample, s.Last())
	assert.Equal(t, float64(sample.MemoryRSS), testutil.ToFloat64(s.memoryRSS.WithLabelValues("self")))
}

func TestWorkerSamplerRunStopsOnCancel(t *testing.T) {
	s := NewWorkerSampler(WorkerSamplerConfig{Interval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, "self", os.Getpid())
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop")
	}
	assert.NotZero(t, s.Last().PID)
}
