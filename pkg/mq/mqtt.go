package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	QoS         byte
	// PublishTimeout bounds the wait for the broker acknowledgement when
	// the context carries no deadline.
	PublishTimeout time.Duration
}

type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
}

func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "emotion-server-" + uuid.NewString()[:8]
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Log.Warnw("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		logger.Log.Warnw("MQTT broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	logger.Log.Infow("MQTT publisher ready", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return newMQTTPublisher(client, cfg), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig) *MQTTPublisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTTPublisher{client: client, cfg: cfg}
}

// Topic is the topic an event for key is published to.
func (p *MQTTPublisher) Topic(key string) string {
	return p.cfg.TopicPrefix + routingSegment(key)
}

func (p *MQTTPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	timeout := p.cfg.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := p.client.Publish(p.Topic(key), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish to %s timed out after %v", p.Topic(key), timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
