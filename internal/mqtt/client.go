package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atonkyra/ls-ruuvi/internal/config"
	"github.com/atonkyra/ls-ruuvi/internal/types"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Status is the retained gateway liveness message. The broker publishes the
// offline variant as our will if the connection drops.
type Status struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	will, err := json.Marshal(Status{Online: false})
	if err != nil {
		return nil, fmt.Errorf("marshal will: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)
	opts.SetWill(c.StatusTopic(), string(will), 1, true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)

		// Handlers must not block on tokens; the status publish completes
		// in the background.
		if data, err := json.Marshal(Status{Online: true, Timestamp: time.Now()}); err == nil {
			mc.Publish(c.StatusTopic(), 1, true, data)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes connection to the MQTT broker.
// This function waits for the initial connection, and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry(true) the token may stay pending while paho retries.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// TelemetryTopic is <prefix>/<address>/telemetry.
func (c *Client) TelemetryTopic(address string) string {
	return fmt.Sprintf("%s/%s/telemetry", strings.TrimSuffix(c.cfg.MQTTTopicPrefix, "/"), address)
}

// StatusTopic is <prefix>/status.
func (c *Client) StatusTopic() string {
	return strings.TrimSuffix(c.cfg.MQTTTopicPrefix, "/") + "/status"
}

// PublishTelemetry publishes one decoded advertisement to the beacon's topic.
func (c *Client) PublishTelemetry(telemetry types.Telemetry) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	if telemetry.Address == "" {
		return fmt.Errorf("telemetry without address")
	}
	if telemetry.Timestamp.IsZero() {
		telemetry.Timestamp = time.Now()
	}

	topic := c.TelemetryTopic(telemetry.Address)

	data, err := json.Marshal(telemetry)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	if err := c.publish(topic, false, data); err != nil {
		c.logger.Error("failed to publish telemetry", "topic", topic, "error", err)
		return fmt.Errorf("publish telemetry: %w", err)
	}

	c.logger.Debug("published telemetry", "topic", topic, "address", telemetry.Address, "format", telemetry.Format)
	return nil
}

func (c *Client) publish(topic string, retained bool, data []byte) error {
	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Healthy reports an error while the broker connection is down.
func (c *Client) Healthy() error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to %s:%d", c.cfg.MQTTBroker, c.cfg.MQTTPort)
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection.
// Idempotent; after Disconnect, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.IsConnected() {
		data, err := json.Marshal(Status{Online: false, Timestamp: time.Now()})
		if err == nil {
			if err := c.publish(c.StatusTopic(), true, data); err != nil {
				c.logger.Warn("failed to publish offline status", "error", err)
			}
		}
	}

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
