package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/sessiond/internal/config"
	"github.com/Iron-Ham/sessiond/internal/dispatch"
	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/logging"
	"github.com/Iron-Ham/sessiond/internal/metrics"
	"github.com/Iron-Ham/sessiond/internal/router"
	"github.com/Iron-Ham/sessiond/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session event router",
	Long: `Run the session event router.

Sessions are restored from the store directory on startup (unless
session.warm_start is false), events are dispatched to live sessions, dirty
sessions are flushed to disk periodically and on shutdown, and idle sessions
expire. Metrics and health endpoints are served on --listen.

If the store directory is unusable and store.required is false, the server
runs with memory-only sessions and logs a warning.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "ops HTTP listen address (empty string disables)")
	serveCmd.Flags().String("store-dir", "", "session store directory")
	_ = viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("store.dir", serveCmd.Flags().Lookup("store-dir"))
}

// server holds the composed components of a running sessiond.
type server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	store    session.Store
	registry *session.Registry
	bus      *event.Bus
	router   *router.Router
	flusher  *session.Flusher
	sweeper  *session.Sweeper
}

// newServer builds every component from cfg. It does not start anything.
func newServer(cfg *config.Config, logger *logging.Logger) (*server, error) {
	m := metrics.New()

	store, err := session.OpenStore(session.StoreOptions{
		Dir:       cfg.Store.Dir,
		Required:  cfg.Store.Required,
		MinFreeMB: cfg.Store.MinFreeMB,
	}, logger.WithComponent("store"), m)
	if err != nil {
		return nil, err
	}

	policy, err := scopePolicy(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	table := dispatch.DefaultTable(policy)
	table.Freeze()

	reg := session.NewRegistry(store, cfg.Session.BacklogMax,
		session.WithLogger(logger.WithComponent("registry")),
		session.WithMetrics(m),
	)
	bus := event.NewBus(event.WithBusLogger(logger.WithComponent("bus")))
	rt := router.New(reg, table, policy,
		router.WithLogger(logger),
		router.WithMetrics(m),
		router.WithQueueSize(cfg.Dispatch.QueueSize),
	)
	sweeper := session.NewSweeper(reg, bus, session.SweepConfig{
		IdleExpiry:    cfg.Session.IdleExpiry,
		ExpiryWarning: cfg.Session.ExpiryWarning,
		Interval:      cfg.Session.SweepInterval,
	}, logger)

	return &server{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		store:    store,
		registry: reg,
		bus:      bus,
		router:   rt,
		flusher:  session.NewFlusher(reg, cfg.Store.FlushInterval, cfg.Store.FlushWorkers, logger),
		sweeper:  sweeper,
	}, nil
}

func scopePolicy(cfg config.DispatchConfig) (*dispatch.ScopePolicy, error) {
	rules := make([]dispatch.Rule, len(cfg.Scopes))
	for i, r := range cfg.Scopes {
		rules[i] = dispatch.Rule{Pattern: r.Pattern, Scope: dispatch.Scope(r.Scope)}
	}
	return dispatch.NewScopePolicy(dispatch.Scope(cfg.DefaultScope), rules)
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails. The flusher's final flush runs only after the router has
// drained its queue, so no routed message is lost on shutdown.
func (s *server) run(ctx context.Context) error {
	if s.cfg.Session.WarmStart {
		n, err := s.registry.Restore(ctx)
		if err != nil {
			s.logger.Warn("warm start incomplete", "restored", n, "error", err.Error())
		}
	}

	detach := s.router.Attach(s.bus)
	defer detach()

	g, gctx := errgroup.WithContext(ctx)
	flushCtx, stopFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFlush()

	g.Go(func() error {
		defer stopFlush()
		return s.router.Run(gctx)
	})
	g.Go(func() error {
		return s.flusher.Run(flushCtx)
	})
	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})
	if path := viper.ConfigFileUsed(); path != "" {
		w, err := config.NewWatcher(path, s.applyConfig, func(err error) {
			s.logger.Warn("config reload rejected", "error", err.Error())
		})
		if err != nil {
			s.logger.Warn("config file will not be watched", "path", path, "error", err.Error())
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	if addr := s.cfg.Server.Listen; addr != "" {
		h := newOpsHandler(s.registry, s.router, s.metrics)
		g.Go(func() error {
			return runOpsServer(gctx, addr, h, s.logger.WithComponent("ops"))
		})
	}

	s.logger.Info("sessiond started",
		"persistent", s.registry.Persistent(),
		"sessions", s.registry.Len(),
	)
	return g.Wait()
}

// applyConfig applies the settings that can change without a restart.
func (s *server) applyConfig(cfg *config.Config) {
	if level := logging.ParseLevel(cfg.Logging.Level); level != s.logger.Level() {
		s.logger.Info("log level changed", "from", s.logger.Level(), "to", level)
		s.logger.SetLevel(level)
	}
	if cfg.Session.BacklogMax != s.cfg.Session.BacklogMax {
		s.logger.Info("backlog limit changed", "from", s.cfg.Session.BacklogMax, "to", cfg.Session.BacklogMax)
		s.registry.SetBacklogLimit(cfg.Session.BacklogMax)
	}
	s.cfg.Logging.Level = cfg.Logging.Level
	s.cfg.Session.BacklogMax = cfg.Session.BacklogMax
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Dir:    cfg.Logging.Dir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	if srv.store.Persistent() {
		lock, err := session.AcquireStoreLock(cfg.Store.Dir, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("failed to release store lock", "error", err.Error())
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.run(ctx)
}
