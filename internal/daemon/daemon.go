// Package daemon composes the render orchestration service: stores, provider
// adapters, the guardrail gate, pipeline workers, the pod reaper, and the
// HTTP API, with a file lock enforcing single-instance execution.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"showrunner/internal/api"
	"showrunner/internal/compute"
	"showrunner/internal/config"
	"showrunner/internal/guardrail"
	"showrunner/internal/health"
	"showrunner/internal/ledger"
	"showrunner/internal/logging"
	"showrunner/internal/pipeline"
	"showrunner/internal/queue"
	"showrunner/internal/services/stitch"
	"showrunner/internal/services/tts"
	"showrunner/internal/services/videogen"
	"showrunner/internal/storage"
)

const (
	gateCleanupInterval = 5 * time.Minute
	podReapInterval     = time.Minute
)

// Daemon owns the long-running services and enforces single-instance
// execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *queue.Store
	ledger   *ledger.Store
	compute  *compute.Manager
	pipeline *pipeline.Pipeline
	gate     *guardrail.Gate
	server   *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	Queue        queue.HealthSummary
}

// New wires every component from configuration. Providers without
// credentials come up in stub mode.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	ledgerStore, err := ledger.Open(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	provider, err := compute.NewProvider(cfg.Compute)
	if err != nil {
		store.Close()
		ledgerStore.Close()
		return nil, err
	}
	idleTimeout := time.Duration(cfg.Compute.IdleTimeoutMinutes) * time.Minute
	manager := compute.NewManager(provider, idleTimeout, logger)

	artifactStore, err := storage.NewFromConfig(cfg.Storage, cfg.Paths.WorkDir)
	if err != nil {
		store.Close()
		ledgerStore.Close()
		return nil, err
	}

	ttsClient := tts.NewFromConfig(cfg.TTS)
	videoGenClient := videogen.NewFromConfig(cfg.VideoGen)
	stitchClient := stitch.NewFromConfig(cfg.Stitch)

	gate := guardrail.NewGate(cfg.Guardrails, ledgerStore, logger)
	pipe := pipeline.New(cfg, store, ledgerStore,
		ttsClient, videoGenClient, stitchClient, manager, artifactStore, logger)

	agg := health.NewAggregator(0)
	agg.Register("tts", ttsClient.Configured(), ttsClient.Healthy)
	agg.Register("videogen", videoGenClient.Configured(), videoGenClient.Healthy)
	agg.Register("stitch", stitchClient.Configured(), stitchClient.Healthy)
	agg.Register("compute", provider.Configured(), provider.Healthy)
	agg.Register("storage", artifactStore.Configured(), artifactStore.Healthy)
	agg.Register("queue", true, func(ctx context.Context) error {
		_, err := store.Health(ctx)
		return err
	})

	server := api.NewServer(cfg, store, ledgerStore, gate, agg, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "showrunner.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		ledger:   ledgerStore,
		compute:  manager,
		pipeline: pipe,
		gate:     gate,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	return d, nil
}

// Start acquires the daemon lock and launches workers, the pod reaper, and
// the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another showrunner instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pipeline.Run(runCtx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.compute.RunReaper(runCtx, podReapInterval)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.gate.RunCleanup(runCtx, gateCleanupInterval)
	}()

	if err := d.server.Start(runCtx); err != nil {
		cancel()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop drains workers, re-queues in-flight jobs, retires the warm pod, and
// releases the lock. In-flight jobs come back as delayed so a restart picks
// them up instead of leaving them stuck active.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.server.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if requeued, err := d.store.RequeueActive(shutdownCtx, "daemon shutdown"); err != nil {
		d.logger.Warn("failed to re-queue in-flight jobs", logging.Error(err))
	} else if requeued > 0 {
		d.logger.Info("re-queued in-flight jobs", logging.Int64("count", requeued))
	}
	if err := d.compute.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("failed to retire pod", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if d.ledger != nil {
		errs = append(errs, d.ledger.Close())
	}
	return errors.Join(errs...)
}

// APIAddr reports the bound API address once started.
func (d *Daemon) APIAddr() string {
	return d.server.Addr()
}

// Status returns current runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	summary, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health read failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		QueueDBPath:  filepath.Join(d.cfg.Paths.WorkDir, "queue.db"),
		LockFilePath: d.lockPath,
		Queue:        summary,
	}
}
