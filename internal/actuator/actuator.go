// Package actuator hands decision tool requests to the outside world. The
// pipeline treats every dispatch as fire-and-forget: failures are reported
// to the caller for logging and never retried.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dusk-indust/vigil/internal/logging"
)

// Request is one tool invocation.
type Request struct {
	RunID string         `json:"run_id"`
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
}

// Actuator executes tool requests on behalf of the pipeline.
type Actuator interface {
	Dispatch(ctx context.Context, req Request) error
}

// Func adapts a function to Actuator.
type Func func(ctx context.Context, req Request) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, req Request) error { return f(ctx, req) }

// LogActuator records requests in the log and does nothing else.
type LogActuator struct {
	log *logging.Logger
}

var _ Actuator = (*LogActuator)(nil)

// NewLogActuator returns an actuator that only logs.
func NewLogActuator(log *logging.Logger) *LogActuator {
	if log == nil {
		log = logging.NopLogger()
	}
	return &LogActuator{log: log}
}

// Dispatch logs the request at INFO.
func (a *LogActuator) Dispatch(_ context.Context, req Request) error {
	a.log.WithRun(req.RunID).Info("tool request", "tool", req.Tool, "args", req.Args)
	return nil
}

// WebhookActuator POSTs requests as JSON to a fixed URL.
type WebhookActuator struct {
	url    string
	client *http.Client
}

var _ Actuator = (*WebhookActuator)(nil)

// NewWebhookActuator returns an actuator posting to url. A zero timeout
// means 10s.
func NewWebhookActuator(url string, timeout time.Duration) *WebhookActuator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookActuator{url: url, client: &http.Client{Timeout: timeout}}
}

// Dispatch posts {run_id, tool, args}. Any non-2xx status is an error.
func (a *WebhookActuator) Dispatch(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("actuator: encode %s: %w", req.Tool, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("actuator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("actuator: post %s: %w", req.Tool, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("actuator: post %s: status %d: %s", req.Tool, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// New builds the actuator named by kind ("log" or "webhook").
func New(kind, webhookURL string, timeout time.Duration, log *logging.Logger) (Actuator, error) {
	switch kind {
	case "", "log":
		return NewLogActuator(log), nil
	case "webhook":
		if webhookURL == "" {
			return nil, fmt.Errorf("actuator: webhook kind needs a url")
		}
		return NewWebhookActuator(webhookURL, timeout), nil
	default:
		return nil, fmt.Errorf("actuator: unknown kind %q", kind)
	}
}
