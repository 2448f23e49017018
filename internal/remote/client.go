// Package remote is the client for the backend that owns the per-subject
// status row and receives readings and prediction requests.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/httputil"
)

// ErrNoRow is returned by FetchRow when the backend holds no row for the
// subject.
var ErrNoRow = errors.New("no status row for subject")

// maxBody bounds how much of a response body is read.
const maxBody = 1 << 20

// Client talks to the backend. Each call is bounded by Timeout and is not
// retried.
type Client struct {
	base    string
	http    httputil.HTTPClient
	timeout time.Duration
}

// NewClient returns a Client for the backend at base. A nil hc uses the
// default HTTP client.
func NewClient(base string, hc httputil.HTTPClient, timeout time.Duration) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc, timeout: timeout}
}

// Base returns the backend base URL.
func (c *Client) Base() string { return c.base }

// FetchRow returns the current status row for subject, or ErrNoRow.
func (c *Client) FetchRow(ctx context.Context, subject string) (Row, error) {
	const op = "remote.fetch_row"
	var env rowEnvelope
	status, err := c.do(ctx, op, http.MethodGet, "/picron/"+url.PathEscape(subject), nil, &env)
	if status == http.StatusNotFound {
		return Row{}, ErrNoRow
	}
	if err != nil {
		return Row{}, err
	}
	if len(env.Data) == 0 {
		return Row{}, ErrNoRow
	}
	return env.Data[0], nil
}

// SubmitReading posts a labelled reading to the dataset collection.
func (c *Client) SubmitReading(ctx context.Context, data SensorData) error {
	_, err := c.do(ctx, "remote.submit_reading", http.MethodPost, "/data/", data, nil)
	return err
}

// SubmitPrediction posts an unlabelled reading and returns the model output.
func (c *Client) SubmitPrediction(ctx context.Context, subject string, in SensorInput) (Prediction, error) {
	var env predictionEnvelope
	_, err := c.do(ctx, "remote.submit_prediction", http.MethodPost, "/predict/"+url.PathEscape(subject), in, &env)
	return env.Prediction, err
}

// SubmitStatusReset upserts the status row for subject.
func (c *Client) SubmitStatusReset(ctx context.Context, subject string, data PicronData) error {
	_, err := c.do(ctx, "remote.submit_status_reset", http.MethodPost, "/picron/"+url.PathEscape(subject), data, nil)
	return err
}

// PublishLive pushes the latest reading to the live dashboard row.
func (c *Client) PublishLive(ctx context.Context, data LiveSensorData) error {
	_, err := c.do(ctx, "remote.publish_live", http.MethodPost, "/livesensor/", data, nil)
	return err
}

// do sends one request and decodes a 2xx JSON body into out when out is
// non-nil. It returns the response status code when one was received.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fault.New(fault.Fatal, op, fmt.Errorf("failed to encode request: %w", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, fault.New(fault.Fatal, op, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fault.New(fault.Timeout, op, err)
		}
		return 0, fault.New(fault.Transient, op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fault.New(fault.Transient, op, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, fault.Transientf(op, "%s %s: %d %s", method, path, resp.StatusCode, snippet(payload))
	case resp.StatusCode >= 300:
		return resp.StatusCode, fault.Fatalf(op, "%s %s: %d %s", method, path, resp.StatusCode, snippet(payload))
	}

	if out != nil && len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fault.New(fault.Fatal, op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp.StatusCode, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
