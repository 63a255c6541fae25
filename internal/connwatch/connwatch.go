// Package connwatch watches a remote service and reports when it comes
// and goes. While the service is up it is probed at a fixed interval;
// while it is down the probe interval backs off exponentially from
// Backoff.Initial up to Backoff.Max, and snaps back after a success.
//
// Every change of state, including the first observation, is passed to
// OnChange. The transport layer never retries, so this is the only
// place a down server is re-checked.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the first retry delay after a failure (default 2s).
	Initial time.Duration
	// Max caps the retry delay (default 60s).
	Max time.Duration
	// Multiplier grows the delay after each failure (default 2).
	Multiplier float64
	// Interval is the probe period while the service is up (default 30s).
	Interval time.Duration
	// Timeout bounds a single probe (default 10s).
	Timeout time.Duration
}

// DefaultBackoff returns 2s, 4s, 8s ... 60s while down and a 30s poll
// while up.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Interval:   30 * time.Second,
		Timeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the service in logs and Status.
	Name string
	// Probe checks service health. Required.
	Probe ProbeFunc
	// Backoff controls timing. Zero fields take DefaultBackoff values.
	Backoff Backoff
	// OnChange runs on the watcher goroutine after each state change.
	// It should return promptly; the next probe waits for it.
	OnChange func(ctx context.Context, s Status)
	// Logger uses slog.Default() if nil.
	Logger *slog.Logger
}

// Status is a point-in-time view of the watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checks    int       `json:"checks"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service until stopped.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	observed bool
	delay    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Watcher without starting it. It panics if Name is
// empty or Probe is nil.
func New(cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger.With("service", cfg.Name),
		status: Status{Name: cfg.Name},
		delay:  cfg.Backoff.Initial,
		done:   make(chan struct{}),
	}
}

// Start creates a Watcher and runs it in the background until ctx is
// cancelled or Stop is called. The first probe runs immediately.
func Start(ctx context.Context, cfg Config) *Watcher {
	w := New(cfg)
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return w
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Status returns the current status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop cancels a started watcher and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(w.check(ctx))
		}
	}
}

// check runs one probe, records it, fires OnChange on a state change
// and returns the delay until the next probe.
func (w *Watcher) check(ctx context.Context) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.Timeout)
	err := w.cfg.Probe(probeCtx)
	cancel()

	w.mu.Lock()
	changed := !w.observed || w.status.Ready != (err == nil)
	w.observed = true
	w.status.Ready = err == nil
	w.status.Checks++
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	snapshot := w.status

	var next time.Duration
	if err == nil {
		w.delay = w.cfg.Backoff.Initial
		next = w.cfg.Backoff.Interval
	} else {
		next = w.delay
		w.delay = min(time.Duration(float64(w.delay)*w.cfg.Backoff.Multiplier), w.cfg.Backoff.Max)
	}
	w.mu.Unlock()

	switch {
	case changed && err == nil:
		w.logger.Info("service reachable", "checks", snapshot.Checks)
	case changed:
		w.logger.Warn("service unreachable", "error", err, "retry_in", next.String())
	case err != nil:
		w.logger.Debug("service still unreachable", "error", err, "retry_in", next.String())
	}

	if changed && w.cfg.OnChange != nil {
		w.cfg.OnChange(ctx, snapshot)
	}
	return next
}
