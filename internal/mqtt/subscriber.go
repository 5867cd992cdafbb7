package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"climatelog/internal/config"
)

// MessageHandler receives every message delivered on the subscribed topic.
// Errors are logged by the subscriber; messages are never redelivered.
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

var ErrStopped = errors.New("mqtt subscriber stopped")

const subscribeQoS = byte(1)

// Subscriber delivers readings from one topic to a MessageHandler and exposes
// the broker connection state through IsConnected and Ready.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	broker  string
	logger  *slog.Logger
	handler atomic.Pointer[MessageHandler]
	up      atomic.Bool

	// life is handed to the handler and ends with Disconnect.
	life context.Context
	stop context.CancelFunc
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	life, stop := context.WithCancel(context.Background())
	s := &Subscriber{
		topic:  cfg.MQTTTopic,
		broker: brokerURL(cfg),
		logger: logger,
		life:   life,
		stop:   stop,
	}

	opts := clientOptions(cfg, cfg.MQTTClientID)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.up.Store(false)
		logger.Warn("mqtt connection lost", "broker", s.broker, "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting", "broker", s.broker)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func brokerURL(cfg config.Config) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort)
}

// clientOptions holds the connection settings shared by the subscriber and publisher.
func clientOptions(cfg config.Config, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername).SetPassword(cfg.MQTTPassword)
	}
	return opts
}

// onConnect runs on a paho goroutine after every (re)connect. A clean session
// drops subscriptions, so the topic is subscribed again each time.
func (s *Subscriber) onConnect(c mqtt.Client) {
	s.up.Store(true)
	s.logger.Info("mqtt connected", "broker", s.broker)

	token := c.Subscribe(s.topic, subscribeQoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.dispatch(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		s.logger.Error("mqtt subscribe timed out", "topic", s.topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.topic, "error", err)
		return
	}
	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", subscribeQoS)
}

// SetMessageHandler must be called before Connect.
func (s *Subscriber) SetMessageHandler(handler MessageHandler) {
	s.handler.Store(&handler)
}

// Connect waits for the first successful connect. Paho keeps retrying in the
// background until then, so Connect returns early only when ctx ends or the
// subscriber is stopped.
func (s *Subscriber) Connect(ctx context.Context) error {
	if s.life.Err() != nil {
		return ErrStopped
	}
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.client.Disconnect(0)
		return ctx.Err()
	case <-s.life.Done():
		s.client.Disconnect(0)
		return ErrStopped
	}
}

func (s *Subscriber) dispatch(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	h := s.handler.Load()
	if h == nil {
		s.logger.Warn("no message handler set, dropping message", "topic", topic)
		return
	}
	if err := (*h)(s.life, topic, payload); err != nil {
		s.logger.Debug("message handler failed", "topic", topic, "error", err)
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.up.Load() && s.client.IsConnected()
}

// Ready reports the broker connection for the health endpoint.
func (s *Subscriber) Ready(context.Context) error {
	if !s.IsConnected() {
		return errors.New("mqtt not connected")
	}
	return nil
}

// Disconnect unsubscribes and closes the connection. Safe to call more than once.
func (s *Subscriber) Disconnect() {
	s.stop()

	if s.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.up.Store(false)
	s.logger.Info("mqtt subscriber disconnected")
}
