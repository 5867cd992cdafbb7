package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"climatelog/internal/config"
)

// Reading is the payload sensors publish.
type Reading struct {
	Temperature float64    `json:"temperature"`
	Humidity    float64    `json:"humidity"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

type Publisher struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	opts := clientOptions(cfg, cfg.MQTTClientID+"-publisher")
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	return &Publisher{client: mqtt.NewClient(opts), topic: cfg.MQTTTopic, logger: logger}
}

func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends one reading to the configured topic at QoS 1.
func (p *Publisher) Publish(ctx context.Context, r Reading) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish reading", "topic", p.topic, "error", err)
		return fmt.Errorf("publish reading: %w", err)
	}

	p.logger.Debug("published reading", "topic", p.topic, "size", len(data))
	return nil
}

func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
}
