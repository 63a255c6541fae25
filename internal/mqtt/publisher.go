package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/farmlink/internal/config"
	"github.com/nugget/farmlink/internal/events"
)

// Status is the periodic status document.
type Status struct {
	InstanceID  string `json:"instance_id"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Server      string `json:"server"`
	Project     string `json:"project"`
	ServerReady bool   `json:"server_ready"`
	TokensToday int64  `json:"tokens_today"`
}

// StatusFunc reports the fields of Status the publisher does not track
// itself. InstanceID and TokensToday are filled in by the publisher.
type StatusFunc func() Status

// TokenFunc reports the tokens used so far today.
type TokenFunc func(ctx context.Context) (int64, error)

// broker is the part of *autopaho.ConnectionManager the publisher uses.
type broker interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher forwards bus events and periodic status to the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	status     StatusFunc
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	tokens      TokenFunc
	connectWait time.Duration

	mu       sync.Mutex
	retained map[string][]byte // topic -> last retained payload
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTokens sets the source of the tokens_today status field. Without
// it the field is always zero.
func WithTokens(f TokenFunc) Option {
	return func(p *Publisher) { p.tokens = f }
}

// New creates a Publisher but does not connect. Call Start to connect
// and begin publishing.
func New(cfg config.MQTTConfig, instanceID string, status StatusFunc, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:         cfg,
		instanceID:  instanceID,
		status:      status,
		logger:      logger,
		connectWait: 30 * time.Second,
		retained:    make(map[string][]byte),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start connects to the broker and publishes until ctx is cancelled or
// sub is closed. The caller subscribes before starting services, so
// events emitted while the broker is still connecting are queued on sub
// and forwarded once Start reaches its loop.
func (p *Publisher) Start(ctx context.Context, sub <-chan events.Event) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.topic("availability"),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
			p.republishRetained(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "farmlink-" + p.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, p.connectWait)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx, cm, sub)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) run(ctx context.Context, b broker, sub <-chan events.Event) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStatus(ctx, b)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStatus(ctx, b)
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.handleEvent(ctx, b, e)
		}
	}
}

func (p *Publisher) topic(suffix string) string {
	return "farmlink/" + p.cfg.DeviceName + "/" + suffix
}

// eventTopic maps an event kind to its topic suffix and retain flag.
// Kinds without a topic are not forwarded.
func eventTopic(kind string) (suffix string, retain bool, ok bool) {
	switch kind {
	case events.KindServerHealth:
		return "llamafarm/health", true, true
	case events.KindReconciled:
		return "llamafarm/reconcile", true, true
	case events.KindGatewayStart, events.KindGatewayStop:
		return "gateway", false, true
	}
	return "", false, false
}

func (p *Publisher) handleEvent(ctx context.Context, b broker, e events.Event) {
	suffix, retain, ok := eventTopic(e.Kind)
	if !ok {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.topic(suffix)
	if retain {
		p.mu.Lock()
		p.retained[topic] = payload
		p.mu.Unlock()
	}
	p.publish(ctx, b, topic, payload, retain)
}

func (p *Publisher) statusDocument(ctx context.Context) Status {
	var s Status
	if p.status != nil {
		s = p.status()
	}
	s.InstanceID = p.instanceID
	if p.tokens != nil {
		n, err := p.tokens(ctx)
		if err != nil {
			p.logger.Warn("mqtt token count unavailable", "error", err)
		}
		s.TokensToday = n
	}
	return s
}

func (p *Publisher) publishStatus(ctx context.Context, b broker) {
	payload, err := json.Marshal(p.statusDocument(ctx))
	if err != nil {
		p.logger.Error("mqtt marshal status", "error", err)
		return
	}
	p.publish(ctx, b, p.topic("status"), payload, true)
}

func (p *Publisher) republishRetained(ctx context.Context, b broker) {
	p.mu.Lock()
	snapshot := make(map[string][]byte, len(p.retained))
	for k, v := range p.retained {
		snapshot[k] = v
	}
	p.mu.Unlock()

	for topic, payload := range snapshot {
		p.publish(ctx, b, topic, payload, true)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, b broker, status string) {
	if p.publish(ctx, b, p.topic("availability"), []byte(status), true) {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) publish(ctx context.Context, b broker, topic string, payload []byte, retain bool) bool {
	if _, err := b.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	p.logger.Debug("mqtt published", "topic", topic, "bytes", len(payload))
	return true
}
