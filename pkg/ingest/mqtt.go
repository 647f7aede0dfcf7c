package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
)

// UplinkTopic returns the topic a gateway publishes uplinks on.
func UplinkTopic(gatewayID string) string {
	return fmt.Sprintf(config.UplinkTopicFormat, gatewayID)
}

// AckTopic returns the downlink topic of a gateway.
func AckTopic(gatewayID string) string {
	return fmt.Sprintf(config.AckTopicFormat, gatewayID)
}

// MQTTClient subscribes to gateway uplinks and publishes ACKs.
type MQTTClient struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTTClient connects to the broker in cfg.
func NewMQTTClient(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(config.MQTTConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTClient{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Subscribe routes every uplink on the configured topic to ing.
func (c *MQTTClient) Subscribe(ctx context.Context, ing *Ingester) error {
	handle := MessageHandler(ctx, ing, c.logger)
	token := c.client.Subscribe(c.topic, config.MQTTQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handle(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, token.Error())
	}
	c.logger.Info("subscribed to gateway uplinks", zap.String("topic", c.topic))
	return nil
}

// Ack publishes ack to the gateway's downlink topic.
func (c *MQTTClient) Ack(ctx context.Context, ack Ack) error {
	payload, err := json.Marshal(ack)
	if err != nil {
		return err
	}

	topic := AckTopic(ack.GatewayID)
	token := c.client.Publish(topic, config.MQTTQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, waiting briefly for in-flight work.
func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}

// MessageHandler decodes uplink payloads and passes them to ing. Bad
// payloads are logged and dropped; MQTT has no reply channel for them.
func MessageHandler(ctx context.Context, ing *Ingester, logger *zap.Logger) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		u, err := DecodeUplink(payload)
		if err != nil {
			logger.Warn("dropping uplink", zap.String("topic", topic), zap.Error(err))
			return
		}
		if _, err := ing.Ingest(ctx, SourceMQTT, u); err != nil {
			logger.Warn("uplink not stored",
				zap.String("topic", topic),
				zap.String("device_id", u.Record.DeviceID),
				zap.Error(err))
		}
	}
}
