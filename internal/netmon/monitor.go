// Package netmon tracks whether the device can reach the backend.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// DefaultInterval is the polling period between connectivity probes.
const DefaultInterval = 5 * time.Second

// Prober checks connectivity once. Any error means offline.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber probes by issuing a HEAD request. Any response below 500 counts
// as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("netmon: probe status %d", resp.StatusCode)
	}
	return nil
}

// Listener is called synchronously, in registration order, whenever the
// offline state flips.
type Listener func(offline bool)

// Options configures a Monitor.
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	// WatchPaths are files whose modification signals a network change
	// (for example /etc/resolv.conf). Each change triggers an immediate probe.
	WatchPaths []string
}

// Monitor exposes the last known connectivity state. It starts offline and
// stays offline until a probe succeeds.
type Monitor struct {
	prober Prober
	opts   Options
	logger *slog.Logger

	probeMu sync.Mutex // serializes probes so transitions are reported in order

	mu        sync.Mutex
	offline   bool
	listeners map[int]Listener
	nextID    int
}

// New creates a monitor. Zero option values fall back to defaults.
func New(prober Prober, opts Options, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = opts.Interval
	}
	return &Monitor{
		prober:    prober,
		opts:      opts,
		logger:    logger,
		offline:   true,
		listeners: make(map[int]Listener),
	}
}

// IsOffline returns the last known state.
func (m *Monitor) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// OnChange registers fn and returns a function that unregisters it.
func (m *Monitor) OnChange(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Check probes once, records the result, notifies listeners on a flip and
// returns the new offline state. A failed or timed-out probe means offline.
func (m *Monitor) Check(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()
	offline := err != nil

	m.mu.Lock()
	changed := offline != m.offline
	m.offline = offline
	var fns []Listener
	if changed {
		ids := make([]int, 0, len(m.listeners))
		for id := range m.listeners {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fns = append(fns, m.listeners[id])
		}
	}
	m.mu.Unlock()

	if changed {
		if offline {
			m.logger.Info("netmon: offline", slog.String("error", err.Error()))
		} else {
			m.logger.Info("netmon: online")
		}
		for _, fn := range fns {
			fn(offline)
		}
	}
	return offline
}

// Run probes immediately, then on every tick and on every watched-path
// change, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	changes := make(chan struct{}, 1)
	if len(m.opts.WatchPaths) > 0 {
		go func() {
			if err := watchPaths(ctx, m.opts.WatchPaths, m.logger, changes); err != nil {
				m.logger.Warn("netmon: watch disabled, polling only", slog.String("error", err.Error()))
			}
		}()
	}

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		case <-changes:
			m.logger.Debug("netmon: network change signalled")
			m.Check(ctx)
			ticker.Reset(m.opts.Interval)
		}
	}
}
