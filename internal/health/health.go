// Package health aggregates liveness probes across the external services the
// render pipeline depends on. Probes run concurrently with individual
// timeouts so one hung provider cannot mask the state of the others. The
// aggregator is read-only and never gates admission.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"showrunner/internal/services"
)

// Service status values.
const (
	StatusOnline        = "online"
	StatusOffline       = "offline"
	StatusNotConfigured = "not_configured"
	StatusError         = "error"
)

const defaultProbeTimeout = 5 * time.Second

// ServiceHealth is one probe outcome.
type ServiceHealth struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latencyMs"`
	Detail    string        `json:"detail,omitempty"`
}

// Report is the aggregate outcome across all registered probes.
type Report struct {
	Healthy  bool            `json:"healthy"`
	Services []ServiceHealth `json:"services"`
}

// ProbeFunc checks one service. A nil return means the service is reachable.
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name       string
	configured bool
	check      ProbeFunc
}

// Aggregator fans out registered probes on demand.
type Aggregator struct {
	mu      sync.Mutex
	probes  []probe
	timeout time.Duration

	now func() time.Time
}

func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Aggregator{timeout: timeout, now: time.Now}
}

// Register adds a probe. Unconfigured services are reported as such without
// ever running their check.
func (a *Aggregator) Register(name string, configured bool, check ProbeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes = append(a.probes, probe{name: name, configured: configured, check: check})
}

// Check runs every registered probe concurrently and aggregates the results.
// The report is healthy only when no configured service is offline or
// erroring; unconfigured services never count against health.
func (a *Aggregator) Check(ctx context.Context) Report {
	a.mu.Lock()
	probes := make([]probe, len(a.probes))
	copy(probes, a.probes)
	a.mu.Unlock()

	results := make([]ServiceHealth, len(probes))
	var wg sync.WaitGroup
	wg.Add(len(probes))
	for i, p := range probes {
		go func(i int, p probe) {
			defer wg.Done()
			results[i] = a.runProbe(ctx, p)
		}(i, p)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	healthy := true
	for _, result := range results {
		if result.Status == StatusOffline || result.Status == StatusError {
			healthy = false
		}
	}
	return Report{Healthy: healthy, Services: results}
}

func (a *Aggregator) runProbe(ctx context.Context, p probe) (result ServiceHealth) {
	result = ServiceHealth{Name: p.name, Status: StatusOnline}
	if !p.configured {
		result.Status = StatusNotConfigured
		return result
	}
	if p.check == nil {
		result.Status = StatusError
		result.Detail = "no probe registered"
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusError
			result.Detail = fmt.Sprintf("probe panicked: %v", r)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := a.now()
	err := p.check(probeCtx)
	result.Latency = a.now().Sub(start)
	result.LatencyMS = result.Latency.Milliseconds()

	switch {
	case err == nil:
	case errors.Is(err, services.ErrConfiguration):
		result.Status = StatusError
		result.Detail = err.Error()
	default:
		result.Status = StatusOffline
		result.Detail = err.Error()
	}
	return result
}
