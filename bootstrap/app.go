package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sentinel/api"
	"sentinel/config"
	"sentinel/detect"
	"sentinel/ingest"
	"sentinel/notify"
	"sentinel/service"
	"sentinel/storage"
	"sentinel/util/goroutine"

	"go.uber.org/zap"
)

// Options adjusts how NewApp builds the application
type Options struct {
	// ConfigPath names an explicit config file
	ConfigPath string
	// Ephemeral forces the in-memory backend
	Ephemeral bool
	// DisableCollector turns the simulated collector off regardless of config
	DisableCollector bool
	// DisableAPI turns the HTTP server off regardless of config
	DisableAPI bool
}

// App represents the Sentinel application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Repository storage.CaseRepository
	Bus        *notify.Bus
	Cases      *service.CaseStore
	Rules      *detect.RuleSet
	Engine     *detect.Engine

	Hub       *api.Hub
	APIServer *api.API
	Simulator *ingest.Simulator

	listener  net.Listener
	serviceWg sync.WaitGroup
	errCh     chan error
	cancel    context.CancelFunc

	shutdownOnce sync.Once
}

// NewApp loads configuration and initializes every component.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	cfg, err := InitConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return nil, err
	}
	applyOptions(cfg, opts)

	logger, _, err := InitLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewAppWithConfig(ctx, cfg, logger)
}

func applyOptions(cfg *config.Config, opts Options) {
	if opts.Ephemeral {
		cfg.Storage.Backend = config.BackendMemory
	}
	if opts.DisableCollector {
		cfg.Collector.Enabled = false
	}
	if opts.DisableAPI {
		cfg.API.Enabled = false
	}
}

// NewAppWithConfig initializes components from an already loaded config.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
		errCh:  make(chan error, 1),
	}

	sugar.Info("Sentinel starting...")
	logConfig(cfg, sugar)

	rules, err := InitRuleSet(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Rules = rules

	repo, err := InitRepository(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Repository = repo

	app.Bus = notify.NewBus(sugar.Named("notify"), cfg.Notify.HandlerWarnAfter)

	cases, err := service.OpenCaseStore(ctx, repo, app.Bus, service.CaseStoreConfig{
		Analyst:      cfg.Case.Analyst,
		SeedNote:     cfg.Case.SeedNote,
		WriteTimeout: cfg.Storage.WriteTimeout,
		WriteRetries: cfg.Storage.WriteRetries,
		RetryBackoff: cfg.Storage.RetryBackoff,
	}, sugar.Named("cases"))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to open case store: %w", err)
	}
	app.Cases = cases

	engine, err := InitEngine(rules, cases, app.Bus, cfg, "engine", sugar.Named("detect"))
	if err != nil {
		repo.Close()
		return nil, err
	}
	app.Engine = engine

	if cfg.Collector.Enabled {
		sim, err := ingest.NewSimulator(engine, ingest.SimulatorConfig{
			Interval:       cfg.Collector.Interval,
			MaliciousRatio: cfg.Collector.MaliciousRatio,
			Host:           cfg.Collector.Host,
			User:           cfg.Collector.User,
		}, sugar.Named("collector"))
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to create simulated collector: %w", err)
		}
		app.Simulator = sim
	}

	return app, nil
}

// Start launches the API server and the simulated collector.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Config.API.Enabled {
		if err := a.startAPIServer(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if a.Simulator != nil {
		a.Simulator.Start(runCtx)
	}
	return nil
}

func (a *App) startAPIServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.ListenAddr(), err)
	}
	a.listener = ln

	a.Hub = api.NewHub(ctx, a.Bus, a.Config.Notify.WebSocketBuffer, a.Sugar.Named("ws"))
	a.Hub.Start()
	a.APIServer = api.NewAPI(a.Engine, a.Cases, a.Hub, a.Config.API, a.Sugar.Named("api"))

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("api-server", a.Sugar)
		if err := a.APIServer.Serve(ln); err != nil {
			a.Sugar.Errorw("API server failed", "error", err)
			select {
			case a.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// APIAddr returns the bound API address, or "" when the API is disabled
func (a *App) APIAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts the app and blocks until ctx is cancelled, a termination
// signal arrives or the API server fails. It always shuts down before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown()
		return err
	}
	a.Sugar.Infow("Sentinel running", "api_addr", a.APIAddr())

	var runErr error
	select {
	case <-ctx.Done():
		a.Sugar.Info("Shutdown signal received")
	case runErr = <-a.errCh:
	}
	a.Shutdown()
	return runErr
}

// Shutdown gracefully shuts down all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	// Producers first so no ingest races the store closing
	a.Sugar.Info("Phase 1: Stopping simulated collector...")
	if a.Simulator != nil {
		a.Simulator.Stop()
	}

	a.Sugar.Info("Phase 2: Stopping API server...")
	if a.APIServer != nil {
		timeout := a.Config.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.APIServer.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Closing case repository...")
	if a.Repository != nil {
		if err := a.Repository.Close(); err != nil {
			a.Sugar.Errorw("Failed to close case repository", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
