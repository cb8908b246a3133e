package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
	"rc-vehicle-core/utils"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AppliedCommand is the JSON document published after every successful
// apply.
type AppliedCommand struct {
	message.Command
	Seq      uint64    `json:"seq"`
	FailSafe bool      `json:"failsafe"`
	At       time.Time `json:"at"`
}

// Publishing wraps a Driver and reports every command the inner driver
// accepted. Publish failures are logged and counted, never returned.
type Publishing struct {
	inner   Driver
	pub     Publisher
	topic   string
	seq     atomic.Uint64
	now     func() time.Time
	log     zerolog.Logger
	metrics *utils.Metrics
}

func NewPublishing(inner Driver, pub Publisher, topic string, log zerolog.Logger, metrics *utils.Metrics) *Publishing {
	if metrics == nil {
		metrics = utils.NopMetrics()
	}
	return &Publishing{
		inner:   inner,
		pub:     pub,
		topic:   topic,
		now:     time.Now,
		log:     log.With().Str("component", "publisher").Str("topic", topic).Logger(),
		metrics: metrics,
	}
}

func (p *Publishing) Apply(ctx context.Context, cmd message.Command) error {
	if err := p.inner.Apply(ctx, cmd); err != nil {
		return err
	}

	doc := AppliedCommand{
		Command:  cmd,
		Seq:      p.seq.Add(1),
		FailSafe: cmd.IsFailSafe(),
		At:       p.now().UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		p.metrics.PublishFailed(ctx)
		p.log.Warn().Err(err).Msg("marshal applied command")
		return nil
	}
	if err := p.pub.Publish(ctx, p.topic, payload); err != nil {
		p.metrics.PublishFailed(ctx)
		p.log.Warn().Err(err).Uint64("seq", doc.Seq).Msg("publish failed")
	}
	return nil
}

// MQTTConfig addresses the broker the applied commands go to.
type MQTTConfig struct {
	Broker   string
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	log     zerolog.Logger
}

// NewMQTTPublisher connects to the broker. The client id gets a random
// suffix so several vehicles can share one configured prefix.
func NewMQTTPublisher(cfg MQTTConfig, log zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	log = log.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	// with ConnectRetry the token only completes once connected; do not
	// hold up vehicle start for the broker
	if token.WaitTimeout(cfg.Timeout) && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}

	return &MQTTPublisher{client: client, qos: cfg.QoS, timeout: cfg.Timeout, log: log}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	token := p.client.Publish(topic, p.qos, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("publish to %s timed out after %s", topic, p.timeout)
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
