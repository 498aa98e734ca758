// Package supervisor runs the tick loop that keeps one worker alive and turns
// external download/upload requests into exchanges with a gene store.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/loykin/xpol/internal/history"
	"github.com/loykin/xpol/internal/metrics"
	"github.com/loykin/xpol/internal/process"
)

const (
	DefaultTick            = time.Second
	DefaultExchangeTimeout = 30 * time.Second

	historyTimeout = 5 * time.Second
)

// Worker is the supervised process.
type Worker interface {
	PID() int
	Signal(sig process.Signal) error
	Terminate() error
	Wait() process.ExitStatus
	Exited() <-chan struct{}
}

// Exchanger talks to the gene store.
type Exchanger interface {
	FetchOne(ctx context.Context) ([]byte, error)
	SubmitOne(ctx context.Context, payload []byte) error
}

// Config controls the tick loop.
type Config struct {
	// Name labels the worker in logs and history.
	Name string
	// ExchangeFile is the local file shared with the worker.
	ExchangeFile string
	// Tick is the loop period; DefaultTick when zero.
	Tick time.Duration
	// ExchangeTimeout bounds each remote call; zero disables it.
	ExchangeTimeout time.Duration
}

// Supervisor owns one worker for its whole life. Signal handling only
// touches the atomics below; the tick loop is their single consumer.
type Supervisor struct {
	cfg       Config
	worker    Worker
	exchanger Exchanger
	sink      history.Sink
	logger    *slog.Logger
	sigCh     <-chan os.Signal

	intent   atomic.Int32
	shutdown atomic.Bool
	failed   atomic.Bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHistory sends lifecycle and exchange events to sink.
func WithHistory(sink history.Sink) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSignals makes Run consume ch instead of installing its own handlers.
// Use it with Notify when signals must be caught before the worker starts.
func WithSignals(ch <-chan os.Signal) Option {
	return func(s *Supervisor) { s.sigCh = ch }
}

// Notify starts catching the supervisor's signals. Until stop is called,
// a worker request that arrives early is buffered instead of hitting the
// default action, which would kill the process.
func Notify() (ch <-chan os.Signal, stop func()) {
	c := make(chan os.Signal, 8)
	signal.Notify(c, notifySignals...)
	return c, func() { signal.Stop(c) }
}

// New returns a supervisor for an already started worker.
func New(cfg Config, worker Worker, exchanger Exchanger, opts ...Option) (*Supervisor, error) {
	if worker == nil || exchanger == nil {
		return nil, errors.New("supervisor needs a worker and an exchanger")
	}
	if cfg.ExchangeFile == "" {
		return nil, errors.New("exchange file is required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.ExchangeTimeout < 0 {
		cfg.ExchangeTimeout = 0
	}
	s := &Supervisor{
		cfg:       cfg,
		worker:    worker,
		exchanger: exchanger,
		sink:      history.Nop{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("worker", cfg.Name)
	return s, nil
}

// RequestDownload records a download intent, replacing any pending one.
func (s *Supervisor) RequestDownload() { s.intent.Store(int32(IntentDownload)) }

// RequestUpload records an upload intent, replacing any pending one.
func (s *Supervisor) RequestUpload() { s.intent.Store(int32(IntentUpload)) }

// RequestShutdown asks the loop to stop after the current tick.
func (s *Supervisor) RequestShutdown() { s.shutdown.Store(true) }

// Pending returns the intent the next tick will consume.
func (s *Supervisor) Pending() Intent { return Intent(s.intent.Load()) }

// ShuttingDown reports whether shutdown has been requested.
func (s *Supervisor) ShuttingDown() bool { return s.shutdown.Load() }

// HandleSignal applies one OS signal. Unknown signals are ignored.
func (s *Supervisor) HandleSignal(sig os.Signal) {
	switch classify(sig) {
	case actionShutdown:
		s.RequestShutdown()
	case actionDownload:
		s.RequestDownload()
	case actionUpload:
		s.RequestUpload()
	}
}

// Run installs signal handlers, ticks until shutdown and then stops the
// worker. It returns the process exit code: 0 only if the worker ended
// cleanly and no exchange failed.
func (s *Supervisor) Run(ctx context.Context) int {
	sigCh := s.sigCh
	if sigCh == nil {
		ch, stop := Notify()
		defer stop()
		sigCh = ch
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				s.HandleSignal(sig)
			case <-done:
				return
			}
		}
	}()

	s.emit(history.Event{Type: history.EventWorkerStart})
	s.logger.Info("supervisor started", "pid", s.worker.PID(), "tick", s.cfg.Tick, "exchange_file", s.cfg.ExchangeFile)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for !s.shutdown.Load() {
		select {
		case <-ctx.Done():
			s.RequestShutdown()
		case <-s.worker.Exited():
			s.logger.Warn("worker exited unexpectedly", "pid", s.worker.PID())
			s.RequestShutdown()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
	return s.stop()
}

// Tick performs one loop iteration: it notices a dead worker, consumes the
// pending intent and runs the matching exchange. A failed exchange requests
// shutdown.
func (s *Supervisor) Tick(ctx context.Context) {
	select {
	case <-s.worker.Exited():
		s.RequestShutdown()
		return
	default:
	}

	intent := Intent(s.intent.Swap(int32(IntentNoOp)))
	metrics.IncTick(intent.String())

	var err error
	switch intent {
	case IntentDownload:
		err = s.exchange(ctx, intent, s.download)
	case IntentUpload:
		err = s.exchange(ctx, intent, s.upload)
	default:
		return
	}
	if err != nil {
		s.failed.Store(true)
		s.RequestShutdown()
	}
}

func (s *Supervisor) exchange(ctx context.Context, intent Intent, fn func(context.Context) (int, error)) error {
	start := time.Now()
	if s.cfg.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
		defer cancel()
	}
	n, err := fn(ctx)
	metrics.ObserveExchange(intent.String(), err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("exchange failed", "intent", intent.String(), "error", err)
		s.emit(history.Event{Type: history.EventExchangeFailed, Error: fmt.Sprintf("%s: %v", intent, err)})
		return err
	}
	s.logger.Info("exchange done", "intent", intent.String(), "bytes", n, "duration", time.Since(start))
	t := history.EventDownload
	if intent == IntentUpload {
		t = history.EventUpload
	}
	s.emit(history.Event{Type: t, Bytes: n})
	return nil
}

// download fetches one payload, publishes it to the exchange file and then
// wakes the worker with ResumeA.
func (s *Supervisor) download(ctx context.Context) (int, error) {
	data, err := s.exchanger.FetchOne(ctx)
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(s.cfg.ExchangeFile, data); err != nil {
		return 0, fmt.Errorf("write exchange file: %w", err)
	}
	return len(data), s.signal(process.SignalResumeA)
}

// upload submits the worker's exchange file and then wakes it with ResumeB.
func (s *Supervisor) upload(ctx context.Context) (int, error) {
	data, err := os.ReadFile(s.cfg.ExchangeFile)
	if err != nil {
		return 0, fmt.Errorf("read exchange file: %w", err)
	}
	if err := s.exchanger.SubmitOne(ctx, data); err != nil {
		return 0, err
	}
	return len(data), s.signal(process.SignalResumeB)
}

func (s *Supervisor) signal(sig process.Signal) error {
	if err := s.worker.Signal(sig); err != nil {
		return fmt.Errorf("signal worker %s: %w", sig, err)
	}
	metrics.IncWorkerSignal(sig.String())
	return nil
}

// stop terminates the worker unless it is already gone, waits for it and
// folds the outcome into an exit code.
func (s *Supervisor) stop() int {
	sentTerm := false
	select {
	case <-s.worker.Exited():
	default:
		if err := s.worker.Terminate(); err != nil {
			if !errors.Is(err, process.ErrNotRunning) {
				s.logger.Error("terminate worker", "error", err)
			}
		} else {
			sentTerm = true
			metrics.IncWorkerSignal(process.SignalTerminate.String())
		}
	}
	st := s.worker.Wait()

	clean := st.Success() || (sentTerm && st.TerminatedBy(process.SignalTerminate))
	ev := history.Event{Type: history.EventWorkerExit}
	if !clean {
		ev.Error = exitText(st)
	}
	s.emit(ev)

	code := 0
	if !clean || s.failed.Load() {
		code = 1
	}
	s.logger.Info("supervisor stopped", "exit_code", st.Code, "exit_signal", st.Signal, "clean", clean, "exchange_failed", s.failed.Load(), "code", code)
	return code
}

func exitText(st process.ExitStatus) string {
	switch {
	case st.Err != nil:
		return st.Err.Error()
	case st.Signal != "":
		return "killed by " + st.Signal
	default:
		return fmt.Sprintf("exit status %d", st.Code)
	}
}

// emit records e; sink failures are logged only.
func (s *Supervisor) emit(e history.Event) {
	e.OccurredAt = time.Now().UTC()
	e.Name = s.cfg.Name
	e.PID = s.worker.PID()
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.sink.Send(ctx, e); err != nil {
		s.logger.Warn("history send failed", "event", string(e.Type), "error", err)
	}
}
