package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nugget/farmlink/internal/events"
	"github.com/nugget/farmlink/internal/plugin"
	"github.com/nugget/farmlink/internal/provider"
	"github.com/nugget/farmlink/internal/tools"
)

// host is the in-process agent host used by the CLI. It keeps what
// plugins register and runs their services in registration order.
type host struct {
	logger *slog.Logger
	bus    *events.Bus
	tools  *tools.Registry

	mu        sync.Mutex
	services  []plugin.Service
	started   []plugin.Service
	providers map[string]*provider.Provider
}

func newHost(logger *slog.Logger, bus *events.Bus) *host {
	return &host{
		logger:    logger,
		bus:       bus,
		tools:     tools.NewRegistry(),
		providers: make(map[string]*provider.Provider),
	}
}

func (h *host) Logger() *slog.Logger { return h.logger }

func (h *host) RegisterService(s plugin.Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = append(h.services, s)
	h.logger.Debug("service registered", "service", s.ID)
}

// RegisterProvider indexes p under its id and every alias.
func (h *host) RegisterProvider(p *provider.Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[p.ID] = p
	for _, a := range p.Aliases {
		h.providers[a] = p
	}
	h.logger.Debug("provider registered", "provider", p.ID, "aliases", p.Aliases)
}

func (h *host) RegisterTool(t tools.Tool) {
	h.tools.Register(t)
	h.logger.Debug("tool registered", "tool", t.Name())
}

func (h *host) On(kind string, handler events.Handler) { h.bus.On(kind, handler) }

func (h *host) Emit(ctx context.Context, e events.Event) { h.bus.Emit(ctx, e) }

// provider looks up a provider by id or alias.
func (h *host) provider(name string) *provider.Provider {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.providers[name]
}

// start runs every registered service's Start. A failing service is
// logged and skipped; it is not stopped later.
func (h *host) start(ctx context.Context) {
	h.mu.Lock()
	services := append([]plugin.Service(nil), h.services...)
	h.mu.Unlock()

	for _, s := range services {
		if s.Start == nil {
			continue
		}
		if err := s.Start(ctx); err != nil {
			h.logger.Error("service failed to start", "service", s.ID, "error", err)
			continue
		}
		h.mu.Lock()
		h.started = append(h.started, s)
		h.mu.Unlock()
		h.logger.Info("service started", "service", s.ID)
	}
}

// stop stops started services in reverse order.
func (h *host) stop(ctx context.Context) {
	h.mu.Lock()
	started := h.started
	h.started = nil
	h.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		if s.Stop == nil {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			h.logger.Warn("service failed to stop", "service", s.ID, "error", err)
			continue
		}
		h.logger.Debug("service stopped", "service", s.ID)
	}
}
