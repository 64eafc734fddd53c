// Package remoteclient implements the HTTP client every in-process
// component uses to talk to a plugin process: plain POST/GET with
// structured error extraction, and the exponential-backoff polling loop
// that drives a remote task to completion (§4.B).
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"orchestrator/internal/cancel"
	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/logger"
)

// JSON is the parsed-body shape every call returns on success.
type JSON = map[string]interface{}

// Client is a stateless-per-call HTTP client bound to a plugin's base URL.
type Client struct {
	BaseURL     string
	ServiceName string
	HTTPClient  *http.Client
}

// New returns a Client for the given plugin base URL.
func New(baseURL, serviceName string) *Client {
	return &Client{
		BaseURL:     baseURL,
		ServiceName: serviceName,
		HTTPClient:  &http.Client{},
	}
}

// POST issues a JSON POST to endpoint (relative to BaseURL) and returns the
// parsed response body.
func (c *Client) POST(ctx context.Context, endpoint string, body interface{}, timeout time.Duration) (JSON, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apierrors.RequestError(err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.do(ctx, http.MethodPost, endpoint, reader, timeout)
}

// GET issues a GET to endpoint (relative to BaseURL) and returns the parsed
// response body.
func (c *Client) GET(ctx context.Context, endpoint string, timeout time.Duration) (JSON, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, timeout)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, timeout time.Duration) (JSON, error) {
	reqCtx, cancelFn := context.WithTimeout(ctx, timeout)
	defer cancelFn()

	req, err := http.NewRequestWithContext(reqCtx, method, c.BaseURL+endpoint, body)
	if err != nil {
		return nil, apierrors.RequestError(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isConnRefusedOrTimeout(err) {
			return nil, apierrors.Unreachable(c.ServiceName, err)
		}
		return nil, apierrors.RequestError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.RequestError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, extractHTTPError(resp.StatusCode, data)
	}

	if len(data) == 0 {
		return JSON{}, nil
	}
	var parsed JSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apierrors.ParseFailed(err)
	}
	return parsed, nil
}

// isConnRefusedOrTimeout classifies a transport failure as "nobody is
// listening" (Unreachable) versus some other transport error
// (RequestError). A failed dial or connection reset surfaces as a
// *net.OpError wrapped in *url.Error; that, and a timeout, is the
// Unreachable case.
func isConnRefusedOrTimeout(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extractHTTPError implements the four fallback strategies in §4.B for
// turning a non-2xx response body into a typed error.
func extractHTTPError(status int, body []byte) error {
	var generic JSON
	if err := json.Unmarshal(body, &generic); err == nil {
		// (1) {error: {code, message, details}}
		if errObj, ok := generic["error"].(JSON); ok {
			return apierrors.HTTPStatus(status, stringField(errObj, "code", fallbackCode(status)),
				stringField(errObj, "message", fmt.Sprintf("HTTP %d", status)),
				stringField(errObj, "details", ""))
		}
		// (2) {detail: {error: {code, message}}}
		if detail, ok := generic["detail"].(JSON); ok {
			if errObj, ok := detail["error"].(JSON); ok {
				return apierrors.HTTPStatus(status, stringField(errObj, "code", fallbackCode(status)),
					stringField(errObj, "message", fmt.Sprintf("HTTP %d", status)),
					stringField(errObj, "details", ""))
			}
		}
		// (3) {detail: string}
		if detail, ok := generic["detail"].(string); ok {
			return apierrors.HTTPStatus(status, fallbackCode(status), detail, "")
		}
	}
	// (4) fallback
	return apierrors.HTTPStatus(status, fallbackCode(status), fmt.Sprintf("HTTP %d", status), "")
}

func fallbackCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

func stringField(m JSON, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// normalizeStatus maps a wire status to the core's five-value domain
// (§3: queued→pending, done→completed, others unchanged). It never mutates
// its input.
func normalizeStatus(status string) string {
	switch status {
	case "queued":
		return "pending"
	case "done":
		return "completed"
	default:
		return status
	}
}

// NormalizeTask returns a copy of task with its status field normalized.
func NormalizeTask(task JSON) JSON {
	out := make(JSON, len(task))
	for k, v := range task {
		out[k] = v
	}
	if status, ok := out["status"].(string); ok {
		out["status"] = normalizeStatus(status)
	}
	return out
}

// PollBackoff computes the polling interval sequence used by
// PollUntilComplete: i_{n+1} = min(i_n * factor, max), starting at initial
// (T-poll-backoff).
type PollBackoff struct {
	Interval time.Duration
	Max      time.Duration
	Factor   float64
}

// Next advances the backoff state and returns the interval to sleep for.
func (b *PollBackoff) Next() time.Duration {
	current := b.Interval
	next := time.Duration(float64(b.Interval) * b.Factor)
	if next > b.Max {
		next = b.Max
	}
	b.Interval = next
	return current
}

// PollUntilComplete polls GET /tasks/{taskID} with exponential backoff
// until the remote task leaves {queued, running}, the cancel token is set,
// or ctx is done. On cancellation it issues a best-effort /cancel and
// returns a synthesized cancelled state.
func (c *Client) PollUntilComplete(
	ctx context.Context,
	taskID string,
	tok *cancel.Token,
	initial, max time.Duration,
	factor float64,
	perRequestTimeout time.Duration,
) (JSON, error) {
	log := logger.Component("remoteclient")
	backoff := &PollBackoff{Interval: initial, Max: max, Factor: factor}

	for {
		if tok.IsSet() {
			c.Cancel(ctx, taskID)
			return JSON{"status": "cancelled", "cancelled": true}, nil
		}

		task, err := c.GET(ctx, "/tasks/"+taskID, perRequestTimeout)
		if err != nil {
			return nil, err
		}
		task = NormalizeTask(task)

		status, _ := task["status"].(string)
		if status != "pending" && status != "running" {
			return task, nil
		}

		sleep := backoff.Next()
		log.Debug().Str("task_id", taskID).Dur("sleep", sleep).Msg("polling remote task")

		if tok.IsSet() {
			c.Cancel(ctx, taskID)
			return JSON{"status": "cancelled", "cancelled": true}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Cancel issues a best-effort POST /cancel/{taskID}, swallowing all errors.
func (c *Client) Cancel(ctx context.Context, taskID string) {
	_, _ = c.POST(ctx, "/cancel/"+taskID, nil, 5*time.Second)
}
