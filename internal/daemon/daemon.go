package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/websocket"

	"harmonix/internal/activity"
	"harmonix/internal/api"
	"harmonix/internal/config"
	"harmonix/internal/deps"
	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/recovery"
	"harmonix/internal/services/aubio"
	"harmonix/internal/services/demucs"
	"harmonix/internal/services/ytdlp"
	"harmonix/internal/workflow"
)

// Daemon wires the registry, library, orchestrator, and HTTP surface into a
// single lifecycle with flock-based locking to prevent multiple instances.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *jobs.Registry
	cancels      *jobs.CancelRegistry
	store        *library.Store
	activity     *activity.Store
	orchestrator *workflow.Orchestrator
	api          *api.Service
	hub          *progressHub
	upgrader     websocket.Upgrader

	lockPath string
	lock     *flock.Flock

	server  *http.Server
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option adjusts daemon construction.
type Option func(*settings)

type settings struct {
	engines *workflow.Engines
}

// WithEngines substitutes the external tool clients. Tests use this to run
// the full pipeline without yt-dlp, aubio, or demucs installed.
func WithEngines(engines workflow.Engines) Option {
	return func(s *settings) { s.engines = &engines }
}

// New constructs a daemon with all dependencies built from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	var tuning settings
	for _, opt := range opts {
		opt(&tuning)
	}

	storeOpts := []library.Option{}
	if cfg.Workflow.ReservationTTLSeconds > 0 {
		storeOpts = append(storeOpts, library.WithReservationTTL(time.Duration(cfg.Workflow.ReservationTTLSeconds)*time.Second))
	}
	store, err := library.NewStore(cfg.Paths.StorageDir, cfg.Paths.ArchiveDir, logger, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open content library: %w", err)
	}

	var engines workflow.Engines
	if tuning.engines != nil {
		engines = *tuning.engines
	} else {
		downloader, err := ytdlp.New(cfg.Processing.YtdlpBin, cfg.Processing.DownloadTimeout)
		if err != nil {
			return nil, fmt.Errorf("configure downloader: %w", err)
		}
		analyzer, err := aubio.New(cfg.Processing.AubioBin, cfg.Processing.AnalyzeTimeout)
		if err != nil {
			return nil, fmt.Errorf("configure analyzer: %w", err)
		}
		separator, err := demucs.New(cfg.Processing.DemucsBin, cfg.Processing.ProcessTimeout)
		if err != nil {
			return nil, fmt.Errorf("configure separator: %w", err)
		}
		engines = workflow.Engines{
			Downloader: downloader,
			Analyzer:   analyzer,
			Separator:  separator,
		}
	}

	registry := jobs.NewRegistry()
	cancels := jobs.NewCancelRegistry()
	hub := newProgressHub(logger)

	orchOpts := []workflow.Option{workflow.WithUpdateFunc(hub.Publish)}
	apiOpts := []api.Option{}

	var activityStore *activity.Store
	if cfg.Activity.Enabled {
		activityStore, err = activity.Open(cfg.Activity.Path)
		if err != nil {
			return nil, fmt.Errorf("open activity log: %w", err)
		}
		orchOpts = append(orchOpts, workflow.WithActivity(activityStore))
		apiOpts = append(apiOpts, api.WithActivity(activityStore))
	}

	orch := workflow.New(cfg, registry, cancels, store, engines, logger, orchOpts...)
	svc := api.NewService(registry, store, orch, logger, apiOpts...)

	lockPath := filepath.Join(cfg.Paths.LogDir, "harmonixd.lock")
	return &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		registry:     registry,
		cancels:      cancels,
		store:        store,
		activity:     activityStore,
		orchestrator: orch,
		api:          svc,
		hub:          hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, restores interrupted jobs from disk, and
// brings up the orchestrator and the HTTP listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another harmonix daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	for _, status := range deps.CheckBinaries(deps.Requirements(d.cfg)) {
		if status.Available {
			continue
		}
		if status.Optional {
			d.logger.Warn("optional tool unavailable, feature degraded",
				logging.String("tool", status.Name),
				logging.String("detail", status.Detail))
			continue
		}
		d.logger.Error("required tool unavailable, jobs will fail",
			logging.String("tool", status.Name),
			logging.String("detail", status.Detail))
	}

	scanner := recovery.NewScanner(d.store, d.logger)
	snapshots, err := scanner.Scan()
	if err != nil {
		d.logger.Warn("startup recovery scan failed", logging.Error(err))
	} else if restored := scanner.Restore(d.registry, snapshots); restored > 0 {
		d.logger.Info("restored jobs from disk", logging.Int("jobs", restored))
	}

	if err := d.orchestrator.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start orchestrator: %w", err)
	}

	d.server = &http.Server{
		Addr:        d.cfg.Paths.APIBind,
		Handler:     d.router(),
		ReadTimeout: 30 * time.Second,
	}
	server := d.server
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server stopped", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("harmonix daemon started",
		logging.String("bind", d.cfg.Paths.APIBind),
		logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the HTTP listener, stops background processing, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("http shutdown incomplete", logging.Error(err))
		}
		cancel()
		d.server = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orchestrator.Stop()
	d.hub.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("harmonix daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.activity != nil {
		return d.activity.Close()
	}
	return nil
}

// Handler exposes the HTTP surface for tests driving the daemon through
// httptest instead of a real listener.
func (d *Daemon) Handler() http.Handler {
	return d.router()
}
