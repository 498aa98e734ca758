package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/xpol"
	"github.com/loykin/xpol/internal/logger"
	"github.com/loykin/xpol/internal/server"
	"github.com/loykin/xpol/pkg/client"
)

// session is the per-command setup shared by every subcommand.
type session struct {
	cfg    *xpol.Config
	logger *slog.Logger
	closer io.Closer
}

func openSession(flags *GlobalFlags) (*session, error) {
	cfg, err := xpol.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	l, c, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	slog.SetDefault(l)
	return &session{cfg: cfg, logger: l, closer: c}, nil
}

func (s *session) Close() { _ = s.closer.Close() }

// startMetrics serves /metrics on cfg.Metrics.Listen until ctx ends.
func (s *session) startMetrics(ctx context.Context) error {
	if !s.cfg.Metrics.Enabled {
		return nil
	}
	if err := xpol.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	srv, err := server.NewServer(server.Config{Listen: s.cfg.Metrics.Listen}, xpol.MetricsHandler())
	if err != nil {
		return err
	}
	go func() {
		if err := server.Serve(ctx, srv); err != nil {
			s.logger.Error("metrics server", "error", err)
		}
	}()
	s.logger.Info("metrics listening", "listen", s.cfg.Metrics.Listen)
	return nil
}

func createSuperviseCommand(globalFlags *GlobalFlags, flags *SuperviseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run a worker and exchange its genes on request",
		Long: `Start the configured worker and serve its download (SIGUSR1) and
upload (SIGUSR2) requests until SIGTERM/SIGINT or worker exit.

Examples:
  xpol supervise --config=xpol.toml
  xpol supervise --exec=./evolver --url=http://store:8080/xpol --file=/tmp/genes.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervise(cmd.Context(), globalFlags, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Exec, "exec", "", "worker executable (overrides supervisor.exec)")
	cmd.Flags().StringVar(&flags.URL, "url", "", "store URL (overrides supervisor.url)")
	cmd.Flags().StringVar(&flags.File, "file", "", "exchange file (overrides supervisor.exchange_file)")
	cmd.Flags().DurationVar(&flags.Tick, "tick", 0, "loop period (overrides supervisor.tick)")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "supervisor pid file (overrides supervisor.pidfile)")
	return cmd
}

func applySuperviseFlags(cfg *xpol.Config, flags *SuperviseFlags) {
	if flags.Exec != "" {
		cfg.Supervisor.Exec = flags.Exec
	}
	if flags.URL != "" {
		cfg.Supervisor.URL = flags.URL
	}
	if flags.File != "" {
		cfg.Supervisor.ExchangeFile = flags.File
	}
	if flags.Tick > 0 {
		cfg.Supervisor.Tick = flags.Tick
	}
	if flags.PidFile != "" {
		cfg.Supervisor.PIDFile = flags.PidFile
	}
}

func runSupervise(ctx context.Context, globalFlags *GlobalFlags, flags *SuperviseFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	applySuperviseFlags(s.cfg, flags)

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.startMetrics(mctx); err != nil {
		return err
	}
	code, err := xpol.RunSupervisor(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func createServeCommand(globalFlags *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gene store HTTP server",
		Long: `Serve the gene store over the form protocol (todo=get|put).

Examples:
  xpol serve --config=xpol.toml
  xpol serve --dsn=sqlite://genes.db --listen=:8080
  xpol serve --daemonize --pidfile=/run/xpol-store.pid --logfile=/var/log/xpol-store.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), globalFlags, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&flags.DSN, "dsn", "", "store DSN (overrides store.dsn)")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the server pid to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(ctx context.Context, globalFlags *GlobalFlags, flags *ServeFlags, stdout io.Writer) error {
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile, stdout)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	if flags.Listen != "" {
		s.cfg.Server.Listen = flags.Listen
	}
	if flags.DSN != "" {
		s.cfg.Store.DSN = flags.DSN
	}
	if err := s.cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile); err != nil {
			return err
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	st, closeStore, err := xpol.OpenStore(ctx, s.cfg.Store, s.logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if s.cfg.Store.PurgeSchedule != "" {
		sch, err := xpol.SchedulePurge(ctx, st, s.cfg.Store.PurgeSchedule, s.logger)
		if err != nil {
			return err
		}
		defer sch.Stop()
	}

	if s.cfg.Metrics.Enabled {
		if err := xpol.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	handler := xpol.NewStoreHandler(st, s.cfg.Server.Path, s.logger, s.cfg.Metrics.Enabled)
	srv, err := server.NewServer(s.cfg.Server, handler)
	if err != nil {
		return err
	}
	s.logger.Info("gene store listening",
		"listen", s.cfg.Server.Listen,
		"path", s.cfg.Server.Path,
		"tls", srv.TLSConfig != nil,
		"retention", st.Retention(),
		"lock", s.cfg.Store.Lock,
	)
	return server.Serve(ctx, srv)
}

func exchangeClient(s *session, flags *ExchangeFlags) (*xpol.Client, error) {
	cc := s.cfg.ClientConfig()
	if flags.URL != "" {
		cc.URL = flags.URL
	}
	if flags.Timeout > 0 {
		cc.Timeout = flags.Timeout
	}
	cc.Logger = s.logger
	return xpol.NewClient(cc)
}

func addExchangeFlags(cmd *cobra.Command, flags *ExchangeFlags, fileUsage string) {
	cmd.Flags().StringVar(&flags.URL, "url", "", "store URL (overrides supervisor.url)")
	cmd.Flags().StringVar(&flags.File, "file", "", fileUsage)
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", client.DefaultTimeout, "request timeout")
}

func createFetchCommand(globalFlags *GlobalFlags, flags *ExchangeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one random gene payload from the store",
		Long: `Fetch one payload from the retention window. An empty store yields
an empty payload.

Examples:
  xpol fetch --url=http://store:8080/xpol > genes.bin
  xpol fetch --file=genes.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), globalFlags, flags, cmd.OutOrStdout())
		},
	}
	addExchangeFlags(cmd, flags, "write the payload here instead of stdout")
	return cmd
}

func runFetch(ctx context.Context, globalFlags *GlobalFlags, flags *ExchangeFlags, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	cli, err := exchangeClient(s, flags)
	if err != nil {
		return err
	}
	payload, err := cli.FetchOne(ctx)
	if err != nil {
		return err
	}
	if flags.File != "" {
		return os.WriteFile(flags.File, payload, 0o644)
	}
	_, err = stdout.Write(payload)
	return err
}

func createSubmitCommand(globalFlags *GlobalFlags, flags *ExchangeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one gene payload to the store",
		Long: `Submit a payload read from stdin or --file.

Examples:
  xpol submit --url=http://store:8080/xpol < genes.bin
  xpol submit --file=genes.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), globalFlags, flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addExchangeFlags(cmd, flags, "read the payload from this file instead of stdin")
	return cmd
}

func runSubmit(ctx context.Context, globalFlags *GlobalFlags, flags *ExchangeFlags, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	var payload []byte
	if flags.File != "" {
		payload, err = os.ReadFile(flags.File)
	} else {
		payload, err = io.ReadAll(stdin)
	}
	if err != nil {
		return err
	}
	cli, err := exchangeClient(s, flags)
	if err != nil {
		return err
	}
	if err := cli.SubmitOne(ctx, payload); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "submitted %d bytes\n", len(payload))
	return nil
}

func openStoreFromFlags(ctx context.Context, s *session, flags *StoreFlags) (*xpol.Store, func() error, error) {
	if flags.DSN != "" {
		s.cfg.Store.DSN = flags.DSN
	}
	if err := s.cfg.Store.Validate(); err != nil {
		return nil, nil, err
	}
	return xpol.OpenStore(ctx, s.cfg.Store, s.logger)
}

func createCountCommand(globalFlags *GlobalFlags, flags *StoreFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored records, expired ones included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd.Context(), globalFlags, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.DSN, "dsn", "", "store DSN (overrides store.dsn)")
	return cmd
}

func runCount(ctx context.Context, globalFlags *GlobalFlags, flags *StoreFlags, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	st, closeStore, err := openStoreFromFlags(ctx, s, flags)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	n, err := st.Count(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, n)
	return err
}

func createPurgeCommand(globalFlags *GlobalFlags, flags *StoreFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context(), globalFlags, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.DSN, "dsn", "", "store DSN (overrides store.dsn)")
	return cmd
}

func runPurge(ctx context.Context, globalFlags *GlobalFlags, flags *StoreFlags, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(globalFlags)
	if err != nil {
		return err
	}
	defer s.Close()
	st, closeStore, err := openStoreFromFlags(ctx, s, flags)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	n, err := st.Purge(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "purged %d\n", n)
	return err
}

func createRequestCommand(globalFlags *GlobalFlags, flags *RequestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "request download|upload",
		Short:     "Ask a running supervisor to exchange on its next tick",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"download", "upload"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(globalFlags, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "supervisor pid file (overrides supervisor.pidfile)")
	return cmd
}

func parseIntent(s string) (xpol.Intent, error) {
	switch s {
	case "download":
		return xpol.IntentDownload, nil
	case "upload":
		return xpol.IntentUpload, nil
	}
	return 0, fmt.Errorf("unknown request %q (want download or upload)", s)
}

func runRequest(globalFlags *GlobalFlags, flags *RequestFlags, what string) error {
	intent, err := parseIntent(what)
	if err != nil {
		return err
	}
	pidFile := flags.PidFile
	if pidFile == "" {
		cfg, err := xpol.LoadConfig(globalFlags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		pidFile = cfg.Supervisor.PIDFile
	}
	if pidFile == "" {
		return fmt.Errorf("supervisor pid file is required: use --pidfile or supervisor.pidfile")
	}
	return xpol.RequestExchange(pidFile, intent)
}
