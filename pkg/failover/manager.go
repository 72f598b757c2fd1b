// Package failover routes model calls to a primary provider and falls
// back to a secondary one after repeated failures, probing the primary
// periodically to switch back.
package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/providers"
)

const (
	modeNormal   = "normal"
	modeDegraded = "degraded"
)

// Route is one provider plus the model it serves.
type Route struct {
	Name     string
	Model    string
	Provider providers.LLMProvider
}

type SwitchEvent struct {
	From   string
	To     string
	Reason string
	At     time.Time
}

type Options struct {
	// FailureThreshold is how many consecutive primary failures force
	// the degraded mode. Zero means 3.
	FailureThreshold int
	// ProbeInterval is how long to wait between primary probes while
	// degraded. Zero means 2 minutes.
	ProbeInterval time.Duration
	OnSwitch      func(SwitchEvent)
}

// Manager implements providers.LLMProvider over two routes. In normal
// mode every call goes to the primary; a failed call is retried once
// on the fallback. In degraded mode calls go to the fallback until a
// probe of the primary succeeds.
type Manager struct {
	mu          sync.Mutex
	primary     Route
	fallback    Route
	mode        string
	failures    int
	threshold   int
	probeEvery  time.Duration
	nextProbeAt time.Time
	onSwitch    func(SwitchEvent)
	now         func() time.Time
}

func NewManager(primary, fallback Route, opts Options) *Manager {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	probe := opts.ProbeInterval
	if probe <= 0 {
		probe = 2 * time.Minute
	}
	return &Manager{
		primary:    primary,
		fallback:   fallback,
		mode:       modeNormal,
		threshold:  threshold,
		probeEvery: probe,
		onSwitch:   opts.OnSwitch,
		now:        time.Now,
	}
}

// ActiveRoute reports which route the next call will use.
func (m *Manager) ActiveRoute() Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == modeDegraded {
		return m.fallback
	}
	return m.primary
}

func (m *Manager) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.Response, error) {
	return m.call(ctx, func(route Route) (*providers.Response, error) {
		return route.Provider.Chat(ctx, messages, tools, routeModel(route, model), options)
	})
}

func (m *Manager) ChatStream(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}, onDelta func(string)) (*providers.Response, error) {
	return m.call(ctx, func(route Route) (*providers.Response, error) {
		return route.Provider.ChatStream(ctx, messages, tools, routeModel(route, model), options, onDelta)
	})
}

func routeModel(route Route, requested string) string {
	if route.Model != "" {
		return route.Model
	}
	return requested
}

func (m *Manager) call(ctx context.Context, do func(Route) (*providers.Response, error)) (*providers.Response, error) {
	if m.shouldProbePrimary() {
		resp, err := do(m.primary)
		if err == nil {
			m.recover()
			return resp, nil
		}
		m.deferProbe()
		if countable(err) {
			logger.WarnCF("failover", "Primary probe failed", map[string]interface{}{
				"route": m.primary.Name,
				"error": err.Error(),
			})
		}
		return do(m.fallback)
	}

	route := m.ActiveRoute()
	resp, err := do(route)
	if err == nil {
		if route.Name == m.primary.Name {
			m.resetFailures()
		}
		return resp, nil
	}
	if !countable(err) || route.Name != m.primary.Name {
		return nil, err
	}

	m.recordPrimaryFailure(err)
	if m.fallback.Provider == nil {
		return nil, err
	}
	return do(m.fallback)
}

// countable reports whether the error indicates route health rather
// than a cancelled or timed-out request.
func countable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) shouldProbePrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == modeDegraded && !m.now().Before(m.nextProbeAt)
}

func (m *Manager) deferProbe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProbeAt = m.now().Add(m.probeEvery)
}

func (m *Manager) resetFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
}

func (m *Manager) recordPrimaryFailure(err error) {
	m.mu.Lock()
	m.failures++
	crossed := m.mode == modeNormal && m.failures >= m.threshold
	if crossed {
		m.mode = modeDegraded
		m.nextProbeAt = m.now().Add(m.probeEvery)
	}
	onSwitch := m.onSwitch
	from, to := m.primary.Name, m.fallback.Name
	m.mu.Unlock()

	if crossed {
		logger.WarnCF("failover", "Switching to fallback provider", map[string]interface{}{
			"from":  from,
			"to":    to,
			"error": err.Error(),
		})
		if onSwitch != nil {
			onSwitch(SwitchEvent{From: from, To: to, Reason: err.Error(), At: m.now()})
		}
	}
}

func (m *Manager) recover() {
	m.mu.Lock()
	wasDegraded := m.mode == modeDegraded
	m.mode = modeNormal
	m.failures = 0
	onSwitch := m.onSwitch
	from, to := m.fallback.Name, m.primary.Name
	m.mu.Unlock()

	if wasDegraded {
		logger.InfoCF("failover", "Primary provider recovered", map[string]interface{}{
			"route": to,
		})
		if onSwitch != nil {
			onSwitch(SwitchEvent{From: from, To: to, Reason: "primary recovered", At: m.now()})
		}
	}
}
