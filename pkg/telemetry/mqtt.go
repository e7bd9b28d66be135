package telemetry

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"

	"crane-go/pkg/log"
)

// MQTTClient is the part of the paho client the publisher uses.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTConfig configures an MQTT publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic is the prefix; snapshots go to <Topic>/<session-id>.
	Topic    string
	QoS      byte
	Retained bool
}

// MQTTPublisher publishes snapshots to an MQTT broker.
type MQTTPublisher struct {
	client   MQTTClient
	topic    string
	qos      byte
	retained bool
	logger   *log.Logger
}

// NewMQTTPublisher connects to cfg.Broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	logger := log.GetLogger("mqtt")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("connection lost, reconnecting")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, pkgerrors.Wrapf(token.Error(), "connect to MQTT broker %s", cfg.Broker)
	}
	return NewMQTTPublisherWithClient(client, cfg), nil
}

// NewMQTTPublisherWithClient publishes through an existing client.
func NewMQTTPublisherWithClient(client MQTTClient, cfg MQTTConfig) *MQTTPublisher {
	if cfg.QoS > 2 {
		cfg.QoS = 2
	}
	return &MQTTPublisher{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		logger:   log.GetLogger("mqtt"),
	}
}

// Name implements Sink.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Topic returns the topic for a session.
func (p *MQTTPublisher) Topic(sessionID string) string {
	return p.topic + "/" + sessionID
}

// Publish implements Sink.
func (p *MQTTPublisher) Publish(ctx context.Context, sessionID string, payload []byte) error {
	return p.publish(ctx, p.Topic(sessionID), payload)
}

// Forget clears the retained snapshot of a session.
func (p *MQTTPublisher) Forget(ctx context.Context, sessionID string) error {
	if !p.retained {
		return nil
	}
	return p.publish(ctx, p.Topic(sessionID), []byte{})
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return pkgerrors.New("MQTT client is not connected")
	}
	token := p.client.Publish(topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return pkgerrors.Wrapf(ctx.Err(), "publish to %s", topic)
	}
	if err := token.Error(); err != nil {
		return pkgerrors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}

// Close implements Sink.
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("disconnected")
	}
	return nil
}
