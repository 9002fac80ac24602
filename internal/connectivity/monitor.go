// Package connectivity derives a single Online/Offline signal from the
// platform-reported connectivity flag combined with an active probe against
// a health endpoint. The platform flag alone is necessary but not
// sufficient: it can be true behind a captive portal or a dead uplink.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/logging"
)

// FlagSource reports the platform connectivity flag. Implementations must be
// safe for concurrent use.
type FlagSource interface {
	Online() bool
}

// Prober performs one side-effect-free round trip to the health endpoint.
// A nil error means the network path to the service is usable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Handler receives connectivity transitions. Handlers run on the monitor's
// event goroutine in subscription order; they must not block.
type Handler func(online bool)

type subscription struct {
	id      int
	handler Handler
}

// Monitor publishes a debounced Online/Offline state.
type Monitor struct {
	flag   FlagSource
	prober Prober
	cfg    conf.ConnectivitySettings
	logger *slog.Logger

	online  atomic.Bool
	started atomic.Bool

	mu     sync.Mutex
	subs   []subscription
	nextID int

	cancel context.CancelFunc
	done   chan struct{}

	// debounce state, touched only by the event goroutine
	candidate      bool
	candidateSince time.Time
}

// NewMonitor creates a monitor. It does not start probing until Start.
func NewMonitor(flag FlagSource, prober Prober, cfg conf.ConnectivitySettings) *Monitor {
	return &Monitor{
		flag:   flag,
		prober: prober,
		cfg:    cfg,
		logger: logging.ForService("connectivity"),
	}
}

// Start begins periodic evaluation. The first evaluation runs synchronously
// so IsOnline is meaningful immediately after Start returns.
func (m *Monitor) Start(ctx context.Context) {
	if m.started.Swap(true) {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	initial := m.evaluate(runCtx)
	m.online.Store(initial)
	m.candidate = initial
	m.candidateSince = time.Now()
	m.logger.Info("connectivity monitor started", "online", initial)

	go m.run(runCtx)
}

// Stop halts evaluation. Subscribed handlers receive no further calls once
// Stop returns.
func (m *Monitor) Stop() {
	if !m.started.Swap(false) {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("connectivity monitor stopped")
}

// IsOnline returns the current published state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers a handler for transitions and returns its unsubscribe
// function. Unsubscribing is idempotent.
func (m *Monitor) Subscribe(handler Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, handler: handler})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.subs {
			if m.subs[i].id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	interval := m.cfg.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.step(m.evaluate(ctx))
		}
	}
}

// step feeds one observation into the debounce window and publishes a
// transition once the candidate state has held past it.
func (m *Monitor) step(observed bool) {
	if observed != m.candidate {
		m.candidate = observed
		m.candidateSince = time.Now()
	}

	published := m.online.Load()
	if m.candidate == published {
		return
	}
	if time.Since(m.candidateSince) < m.cfg.Debounce {
		return
	}

	m.online.Store(m.candidate)
	m.logger.Info("connectivity transition", "online", m.candidate)
	m.notify(m.candidate)
}

// notify invokes handlers in subscription order on the event goroutine.
func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, s := range subs {
		s.handler(online)
	}
}

// evaluate combines the platform flag with the active probe. The probe only
// runs when the flag claims connectivity; a false flag is trusted as-is.
func (m *Monitor) evaluate(ctx context.Context) bool {
	if m.flag != nil && !m.flag.Online() {
		return false
	}

	probeCtx := ctx
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	if err := m.prober.Probe(probeCtx); err != nil {
		m.logger.Debug("probe failed", "error", err)
		return false
	}
	return true
}

// PlatformFlag is a settable FlagSource fed by platform online/offline
// callbacks.
type PlatformFlag struct {
	online atomic.Bool
}

// NewPlatformFlag creates a flag with the given initial state.
func NewPlatformFlag(initial bool) *PlatformFlag {
	f := &PlatformFlag{}
	f.online.Store(initial)
	return f
}

// Set records the platform-reported state.
func (f *PlatformFlag) Set(online bool) {
	f.online.Store(online)
}

// Online implements FlagSource.
func (f *PlatformFlag) Online() bool {
	return f.online.Load()
}
