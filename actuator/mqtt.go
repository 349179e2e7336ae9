package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"rssi-haptics/models"

	"github.com/eclipse/paho.golang/paho"
)

const DefaultTopicPrefix = "haptics"

var ErrNotConnected = errors.New("mqtt actuator is not connected")

// Message is the payload published for each actuation.
type Message struct {
	TargetID  string                  `json:"target_id"`
	SessionID string                  `json:"session_id"`
	Command   models.ActuationCommand `json:"command"`
	Pattern   *models.PulsePattern    `json:"pattern,omitempty"`
	ZScore    float64                 `json:"z_score"`
	IssuedAt  time.Time               `json:"issued_at"`
}

// MQTTActuator publishes actuation commands to a haptic device over MQTT v5.
type MQTTActuator struct {
	client      *paho.Client
	topicPrefix string
	logger      *slog.Logger

	mu        sync.Mutex
	connected bool
}

type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Logger      *slog.Logger
}

// Dial connects to the broker at opts.Broker (host:port or tcp://host:port).
func Dial(ctx context.Context, opts Options) (*MQTTActuator, error) {
	addr, err := brokerAddress(opts.Broker)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial mqtt broker %s: %w", addr, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &MQTTActuator{
		topicPrefix: opts.TopicPrefix,
		logger:      logger,
	}
	if a.topicPrefix == "" {
		a.topicPrefix = DefaultTopicPrefix
	}

	a.client = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			a.setConnected(false)
			a.logger.Error("mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			a.setConnected(false)
			a.logger.Warn("mqtt broker disconnected", "reason_code", d.ReasonCode)
		},
	})

	ca, err := a.client.Connect(ctx, &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("mqtt broker refused connection: reason code %d", ca.ReasonCode)
	}

	a.setConnected(true)
	return a, nil
}

func brokerAddress(broker string) (string, error) {
	if broker == "" {
		return "", errors.New("mqtt broker address is required")
	}
	u, err := url.Parse(broker)
	if err == nil && u.Scheme != "" && u.Host != "" {
		if u.Scheme != "tcp" && u.Scheme != "mqtt" {
			return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
		}
		return u.Host, nil
	}
	return broker, nil
}

func (a *MQTTActuator) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

func (a *MQTTActuator) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Topic is where commands for targetID are published.
func (a *MQTTActuator) Topic(targetID string) string {
	return a.topicPrefix + "/" + targetID + "/actuation"
}

// Actuate publishes pulse and cancel commands. None commands are not published.
func (a *MQTTActuator) Actuate(ctx context.Context, result models.AnalysisResult) error {
	if !result.Command.IsPulse() && !result.Command.IsCancel() {
		return nil
	}
	if !a.Connected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(Message{
		TargetID:  result.TargetID,
		SessionID: result.SessionID,
		Command:   result.Command,
		Pattern:   result.Command.Pattern(),
		ZScore:    result.ZScore,
		IssuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	format := byte(1)
	expiry := uint32(1)
	_, err = a.client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   a.Topic(result.TargetID),
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:   "application/json",
			PayloadFormat: &format,
			MessageExpiry: &expiry,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", result.Command.Kind, result.TargetID, err)
	}
	return nil
}

func (a *MQTTActuator) Close() error {
	if !a.Connected() {
		return nil
	}
	a.setConnected(false)
	return a.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
