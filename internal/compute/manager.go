package compute

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"showrunner/internal/logging"
	"showrunner/internal/services"
)

// Manager leases pods from the active provider. One warm pod is shared
// across concurrent jobs with reference counting so a shutdown never races a
// still-running scene. Idle pods are reclaimed by ReapIdle.
type Manager struct {
	provider Provider
	logger   *slog.Logger

	mu          sync.Mutex
	pod         *leasedPod
	idleTimeout time.Duration

	now func() time.Time
}

type leasedPod struct {
	id         string
	refs       int
	lastActive time.Time
}

func NewManager(provider Provider, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		provider:    provider,
		idleTimeout: idleTimeout,
		logger:      logger.With(logging.String(logging.FieldComponent, "compute")),
		now:         time.Now,
	}
}

// Provider returns the active provider, for health probes.
func (m *Manager) Provider() Provider { return m.provider }

// Acquire returns a pod ID for video synthesis, reusing the warm pod when one
// is already leased. Callers must pair every Acquire with a Release.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pod != nil {
		m.pod.refs++
		m.pod.lastActive = m.now()
		return m.pod.id, nil
	}

	pod, err := m.provider.Launch(ctx)
	if err != nil {
		return "", services.Wrap(services.ErrResource, "compute", "acquire", "launch pod", err)
	}
	m.pod = &leasedPod{id: pod.ID, refs: 1, lastActive: m.now()}
	m.logger.Info("pod launched",
		logging.String("pod_id", pod.ID),
		logging.String(logging.FieldProvider, m.provider.Name()))
	return pod.ID, nil
}

// Release drops one lease on the pod. The pod stays warm for reuse until the
// idle reaper or Shutdown retires it.
func (m *Manager) Release(podID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pod == nil || m.pod.id != podID {
		return
	}
	if m.pod.refs > 0 {
		m.pod.refs--
	}
	m.pod.lastActive = m.now()
}

// Status reports the provider-side status of a pod.
func (m *Manager) Status(ctx context.Context, podID string) (string, error) {
	return m.provider.Status(ctx, podID)
}

// ReapIdle shuts down the warm pod when it has no leases and has been idle
// past the configured timeout. It is intended to run on a ticker.
func (m *Manager) ReapIdle(ctx context.Context) error {
	m.mu.Lock()
	if m.pod == nil || m.pod.refs > 0 || m.now().Sub(m.pod.lastActive) < m.idleTimeout {
		m.mu.Unlock()
		return nil
	}
	podID := m.pod.id
	m.pod = nil
	m.mu.Unlock()

	if err := m.provider.Shutdown(ctx, podID); err != nil {
		return services.Wrap(services.ErrResource, "compute", "reap", "shutdown idle pod", err)
	}
	m.logger.Info("idle pod reaped", logging.String("pod_id", podID))
	return nil
}

// RunReaper invokes ReapIdle on the given interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ReapIdle(ctx); err != nil {
				m.logger.Warn("idle pod reap failed", logging.Error(err))
			}
		}
	}
}

// Shutdown force-retires the warm pod regardless of lease count. Used on
// daemon stop after workers have drained.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pod := m.pod
	m.pod = nil
	m.mu.Unlock()
	if pod == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx, pod.id); err != nil {
		return services.Wrap(services.ErrResource, "compute", "shutdown", "retire pod", err)
	}
	m.logger.Info("pod retired", logging.String("pod_id", pod.id))
	return nil
}
