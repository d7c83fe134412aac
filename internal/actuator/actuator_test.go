package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookActuator_Posts(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewWebhookActuator(srv.URL, time.Second)
	err := a.Dispatch(context.Background(), Request{
		RunID: "run-1",
		Tool:  "alert_supervisor",
		Args:  map[string]any{"reason": "critical"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "alert_supervisor", got.Tool)
	assert.Equal(t, "critical", got.Args["reason"])
}

func TestWebhookActuator_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "crm offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookActuator(srv.URL, time.Second).Dispatch(context.Background(), Request{Tool: "create_crm_note"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "crm offline")
}

func TestLogActuator(t *testing.T) {
	var buf bytes.Buffer
	a := NewLogActuator(logging.NewWriterLogger(&buf, "INFO"))
	require.NoError(t, a.Dispatch(context.Background(), Request{RunID: "run-9", Tool: "schedule_follow_up"}))
	assert.Contains(t, buf.String(), `"tool":"schedule_follow_up"`)
	assert.Contains(t, buf.String(), `"run_id":"run-9"`)
}

func TestNew(t *testing.T) {
	a, err := New("log", "", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogActuator{}, a)

	a, err = New("webhook", "http://127.0.0.1:1/hook", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebhookActuator{}, a)

	_, err = New("webhook", "", 0, nil)
	assert.Error(t, err)
	_, err = New("smtp", "", 0, nil)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var seen string
	f := Func(func(_ context.Context, req Request) error {
		seen = req.Tool
		return nil
	})
	require.NoError(t, f.Dispatch(context.Background(), Request{Tool: "x"}))
	assert.Equal(t, "x", seen)
}
