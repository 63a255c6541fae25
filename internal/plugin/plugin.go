// Package plugin wires farmlink into an agent host. Register hands the
// host a health service, a gateway_start hook, the LlamaFarm provider
// and the mock tools; the host decides when services start and stop.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/farmlink/internal/config"
	"github.com/nugget/farmlink/internal/connwatch"
	"github.com/nugget/farmlink/internal/events"
	"github.com/nugget/farmlink/internal/httpkit"
	"github.com/nugget/farmlink/internal/llamafarm"
	"github.com/nugget/farmlink/internal/provider"
	"github.com/nugget/farmlink/internal/reconcile"
	"github.com/nugget/farmlink/internal/tools"
)

// Plugin identity.
const (
	ID      = "llamafarm"
	Name    = "LlamaFarm"
	Version = "2026.1.30"

	// HealthServiceID names the service that watches the model server.
	HealthServiceID = "llamafarm-health"
)

// Service is a background task owned by the host.
type Service struct {
	ID    string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Host is the surface an agent host exposes to plugins.
type Host interface {
	Logger() *slog.Logger
	RegisterService(s Service)
	RegisterProvider(p *provider.Provider)
	RegisterTool(t tools.Tool)
	On(kind string, h events.Handler)
	Emit(ctx context.Context, e events.Event)
}

// Plugin is the registered integration. Its client and reconciler are
// shared by the health service and by callers of Reconcile.
type Plugin struct {
	cfg        config.LlamaFarmConfig
	host       Host
	logger     *slog.Logger
	client     *llamafarm.Client
	reconciler *reconcile.Reconciler
	clientOpts []llamafarm.Option

	watch   bool
	backoff connwatch.Backoff

	mu      sync.Mutex
	watcher *connwatch.Watcher
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithClientOptions passes options to the LlamaFarm client.
func WithClientOptions(opts ...llamafarm.Option) Option {
	return func(p *Plugin) { p.clientOpts = append(p.clientOpts, opts...) }
}

// WithWatch keeps probing the server after the first check, re-running
// the health handler whenever reachability changes.
func WithWatch(b connwatch.Backoff) Option {
	return func(p *Plugin) {
		p.watch = true
		p.backoff = b
	}
}

// Register builds the plugin from cfg and registers everything it
// provides with host.
func Register(host Host, cfg config.LlamaFarmConfig, opts ...Option) *Plugin {
	logger := host.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		cfg:    cfg,
		host:   host,
		logger: logger.With("plugin", ID),
	}
	for _, o := range opts {
		o(p)
	}

	id := llamafarm.Identity{Namespace: cfg.Namespace, Project: cfg.Project}
	clientOpts := p.clientOpts
	if cfg.TimeoutSec > 0 {
		hc := httpkit.NewClient(httpkit.WithTimeout(time.Duration(cfg.TimeoutSec) * time.Second))
		clientOpts = append([]llamafarm.Option{llamafarm.WithHTTPClient(hc)}, clientOpts...)
	}
	p.client = llamafarm.NewClient(cfg.ServerURL, id, p.logger, clientOpts...)
	p.reconciler = reconcile.New(p.client, p.logger)

	p.logger.Info("llamafarm extension registered", "server", p.client.BaseURL())

	host.RegisterService(Service{
		ID:    HealthServiceID,
		Start: p.startHealth,
		Stop:  p.stopHealth,
	})

	host.On(events.KindGatewayStart, func(_ context.Context, _ events.Event) {
		p.logger.Info("llamafarm extension active", "project", id.String())
	})

	host.RegisterProvider(provider.New(provider.Defaults{
		ServerURL: p.client.BaseURL(),
		Identity:  id,
		ModelName: cfg.ModelName,
	}, provider.WithLogger(p.logger), provider.WithClientOptions(clientOpts...)))

	for _, t := range tools.MockTools(p.logger) {
		host.RegisterTool(t)
	}
	return p
}

// Client returns the plugin's LlamaFarm client.
func (p *Plugin) Client() *llamafarm.Client { return p.client }

// Reconcile brings the configured project in line with its desired
// config and announces the result.
func (p *Plugin) Reconcile(ctx context.Context) reconcile.Result {
	res := p.reconciler.Reconcile(ctx, reconcile.DesiredConfig(p.client.Identity(), p.cfg.ModelName))
	if res.OK() {
		p.logger.Info("llamafarm project ready", "project", res.Namespace+"/"+res.Project, "created", res.Created)
	} else {
		p.logger.Warn("llamafarm project not reconciled", "project", res.Namespace+"/"+res.Project, "error", res.Error)
	}

	data := map[string]any{
		"namespace":      res.Namespace,
		"project":        res.Project,
		"created":        res.Created,
		"server_healthy": res.ServerHealthy,
	}
	if res.Error != "" {
		data["error"] = res.Error
	}
	p.host.Emit(ctx, events.Event{Source: events.SourceLlamaFarm, Kind: events.KindReconciled, Data: data})
	return res
}

// Status returns the health watcher's view of the server. Without a
// running watcher it reports not ready.
func (p *Plugin) Status() connwatch.Status {
	p.mu.Lock()
	w := p.watcher
	p.mu.Unlock()
	if w == nil {
		return connwatch.Status{Name: HealthServiceID}
	}
	return w.Status()
}

func (p *Plugin) probe(ctx context.Context) error {
	h, err := p.client.Health(ctx)
	if err != nil {
		return err
	}
	if h.Status != llamafarm.StatusHealthy {
		return fmt.Errorf("server reports status %q", h.Status)
	}
	return nil
}

func (p *Plugin) startHealth(ctx context.Context) error {
	if p.watch {
		w := connwatch.Start(ctx, connwatch.Config{
			Name:     HealthServiceID,
			Probe:    p.probe,
			Backoff:  p.backoff,
			OnChange: p.onHealth,
			Logger:   p.logger,
		})
		p.mu.Lock()
		p.watcher = w
		p.mu.Unlock()
		return nil
	}

	err := p.probe(ctx)
	s := connwatch.Status{Name: HealthServiceID, Ready: err == nil, Checks: 1, LastCheck: time.Now()}
	if err != nil {
		s.LastError = err.Error()
	}
	p.onHealth(ctx, s)
	return nil
}

func (p *Plugin) stopHealth(context.Context) error {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	return nil
}

// onHealth logs a reachability change and, when the server is healthy
// and auto_bootstrap is on, reconciles the project.
func (p *Plugin) onHealth(ctx context.Context, s connwatch.Status) {
	server := p.client.BaseURL()
	data := map[string]any{"server": server, "ready": s.Ready}
	if s.Ready {
		p.logger.Info("llamafarm server healthy", "server", server, "project", p.client.Identity().String())
	} else {
		p.logger.Warn("llamafarm server is not healthy", "server", server, "error", s.LastError)
		data["error"] = s.LastError
	}
	p.host.Emit(ctx, events.Event{Source: events.SourceLlamaFarm, Kind: events.KindServerHealth, Data: data})

	if s.Ready && p.cfg.Bootstrap() {
		p.Reconcile(ctx)
	}
}
