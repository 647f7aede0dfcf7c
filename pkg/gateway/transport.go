package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/ingest"
)

// ErrDelivery is returned when the server refused a batch.
var ErrDelivery = errors.New("uplink delivery failed")

// Transport delivers a batch of uplinks
type Transport interface {
	Send(ctx context.Context, batch []ingest.Uplink) error
}

// HTTPTransport posts batches to POST /v1/records
type HTTPTransport struct {
	client *resty.Client

	mu   sync.Mutex
	last ingest.IngestResponse
}

// NewHTTPTransport creates a transport for the server at baseURL
func NewHTTPTransport(baseURL string) *HTTPTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(sendTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &HTTPTransport{client: client}
}

// Send posts batch as one JSON array. A batch rejected as a whole is an
// error; per-record rejections are reported in LastResponse.
func (t *HTTPTransport) Send(ctx context.Context, batch []ingest.Uplink) error {
	if len(batch) == 0 {
		return nil
	}

	var out ingest.IngestResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(batch).
		SetResult(&out).
		Post("/v1/records")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode(), resp.String())
	}
	t.mu.Lock()
	t.last = out
	t.mu.Unlock()
	return nil
}

// LastResponse returns the server's answer to the last delivered batch
func (t *HTTPTransport) LastResponse() ingest.IngestResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Publisher is the part of an MQTT client used to publish uplinks
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTTransport publishes each uplink on its gateway's uplink topic
type MQTTTransport struct {
	client Publisher
}

// NewMQTTTransport wraps a connected MQTT client
func NewMQTTTransport(client Publisher) *MQTTTransport {
	return &MQTTTransport{client: client}
}

// DialMQTT connects to broker and returns a transport publishing through it
func DialMQTT(broker, clientID string) (*MQTTTransport, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(config.MQTTConnectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTTransport(client), func() { client.Disconnect(250) }, nil
}

// Send publishes every uplink and stops at the first failure
func (t *MQTTTransport) Send(ctx context.Context, batch []ingest.Uplink) error {
	for _, u := range batch {
		payload, err := json.Marshal(u)
		if err != nil {
			return err
		}

		topic := ingest.UplinkTopic(u.Record.GatewayID)
		token := t.client.Publish(topic, config.MQTTQoS, false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: publish to %s: %w", ErrDelivery, topic, err)
		}
	}
	return nil
}
