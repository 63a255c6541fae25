package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/farmlink/internal/buildinfo"
	"github.com/nugget/farmlink/internal/connwatch"
	"github.com/nugget/farmlink/internal/events"
	"github.com/nugget/farmlink/internal/mqtt"
	"github.com/nugget/farmlink/internal/plugin"
	"github.com/nugget/farmlink/internal/workspace"
)

// runServe handles "farmlink serve". It materializes the workspace,
// registers the plugin with an in-process host, starts the health
// service and the optional MQTT publisher, then blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
//
// Shutdown emits gateway_stop, stops services in reverse order and
// publishes MQTT "offline" before disconnecting.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	e, err := setup(stdout, configPath)
	if err != nil {
		return err
	}
	logger := e.logger
	cfg := e.cfg
	logger.Info("starting farmlink", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", e.cfgPath,
		"server", cfg.LlamaFarm.ServerURL,
		"project", e.identity().String(),
		"state_dir", e.stateDir,
		"auto_bootstrap", cfg.LlamaFarm.Bootstrap(),
	)

	ws := workspace.New(e.stateDir, workspaceSettings(e), logger)
	if _, err := ws.Materialize(); err != nil {
		return fmt.Errorf("materialize workspace: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()
	h := newHost(logger, bus)
	lf := plugin.Register(h, cfg.LlamaFarm, plugin.WithWatch(connwatch.DefaultBackoff()))

	// --- MQTT publisher ---
	var mqttPub *mqtt.Publisher
	var mqttDone sync.WaitGroup
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(e.stateDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		var opts []mqtt.Option
		if cfg.Usage.Enabled {
			store, err := openUsage(e)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, mqtt.WithTokens(func(ctx context.Context) (int64, error) {
				sum, err := store.Day(ctx, time.Now())
				return sum.TotalTokens(), err
			}))
		}

		project := e.identity().String()
		mqttPub = mqtt.New(cfg.MQTT, instanceID, func() mqtt.Status {
			return mqtt.Status{
				Version:     buildinfo.Version,
				Uptime:      buildinfo.Uptime().String(),
				Server:      lf.Client().BaseURL(),
				Project:     project,
				ServerReady: lf.Status().Ready,
			}
		}, logger, opts...)

		// Subscribe before any service runs so the first health and
		// reconcile events are queued while the broker connects.
		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		mqttDone.Add(1)
		go func() {
			defer mqttDone.Done()
			if err := mqttPub.Start(ctx, sub); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	h.start(ctx)
	bus.Emit(ctx, events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindGatewayStart,
		Data:   map[string]any{"port": cfg.Gateway.Port, "mode": cfg.Gateway.Mode},
	})

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	bus.Emit(shutdownCtx, events.Event{Source: events.SourceGateway, Kind: events.KindGatewayStop})
	h.stop(shutdownCtx)

	mqttDone.Wait()
	if mqttPub != nil {
		if err := mqttPub.Stop(shutdownCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}

	logger.Info("farmlink stopped")
	return nil
}

func workspaceSettings(e *env) workspace.Settings {
	return workspace.Settings{
		ServerURL:   e.cfg.LlamaFarm.ServerURL,
		Identity:    e.identity(),
		ModelName:   e.cfg.LlamaFarm.ModelName,
		GatewayPort: e.cfg.Gateway.Port,
		GatewayMode: e.cfg.Gateway.Mode,
	}
}
