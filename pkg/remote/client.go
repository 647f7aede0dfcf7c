// Package remote reads and deletes records through a remote record API
// (GET /v1/devices, GET /v1/records, DELETE /v1/records).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/httpx"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/telemetry"
)

const (
	devicesPath = "/v1/devices"
	recordsPath = "/v1/records"
)

// ErrRemote wraps every failure talking to the remote API.
var ErrRemote = errors.New("remote record API")

// Client is a resty client for the remote record API.
type Client struct {
	http    *resty.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a client for cfg.BaseURL. Server errors and transport
// failures are retried cfg.Retries times. m may be nil.
func New(cfg config.RemoteConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRemoteTimeout
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})

	return &Client{http: client, metrics: m, logger: logger}
}

// Devices returns the remote device list, sorted.
func (c *Client) Devices(ctx context.Context) ([]string, error) {
	body, err := c.do("devices", c.http.R().SetContext(ctx), resty.MethodGet, devicesPath)
	if err != nil {
		return nil, err
	}

	var devices []string
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("%w: decode devices: %w", ErrRemote, err)
	}
	return devices, nil
}

// Query returns the device's records in the inclusive range r. Both a bare
// array and an {"Items": [...]} body are accepted.
func (c *Client) Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(map[string]string{
		"device_id": deviceID,
		"start":     strconv.FormatInt(r.Start, 10),
		"end":       strconv.FormatInt(r.End, 10),
	})
	body, err := c.do("query", req, resty.MethodGet, recordsPath)
	if err != nil {
		return nil, err
	}

	records, err := telemetry.DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	return records, nil
}

// DeleteRange deletes the device's records in the inclusive range r.
func (c *Client) DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error) {
	return c.delete(ctx, "delete_range", map[string]string{
		"device_id": deviceID,
		"start":     strconv.FormatInt(r.Start, 10),
		"end":       strconv.FormatInt(r.End, 10),
	})
}

// DeleteAll deletes every record of the device.
func (c *Client) DeleteAll(ctx context.Context, deviceID string) (int, error) {
	return c.delete(ctx, "delete_all", map[string]string{
		"device_id": deviceID,
		"all":       "true",
	})
}

func (c *Client) delete(ctx context.Context, op string, params map[string]string) (int, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(params)
	body, err := c.do(op, req, resty.MethodDelete, recordsPath)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Deleted *int `json:"deleted"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Deleted == nil {
		return 0, fmt.Errorf("%w: unexpected delete response %q", ErrRemote, truncate(body))
	}
	return *resp.Deleted, nil
}

func (c *Client) do(op string, req *resty.Request, method, path string) ([]byte, error) {
	start := time.Now()
	resp, err := req.Execute(method, path)
	elapsed := time.Since(start)

	if err == nil && resp.IsError() {
		err = fmt.Errorf("status %d: %s", resp.StatusCode(), truncate([]byte(httpx.ErrorMessage(resp.Body()))))
	}
	c.metrics.ObserveRemote(op, elapsed, err)

	if err != nil {
		c.logger.Error("remote request failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrRemote, op, err)
	}

	c.logger.Debug("remote request",
		zap.String("op", op),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", elapsed))
	return resp.Body(), nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
