package remoteclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/cancel"
	apierrors "orchestrator/internal/errors"
)

func TestGETParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JSON{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-plugin")
	body, err := c.GET(context.Background(), "/health", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestExtractHTTPErrorStrategies(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
		msg  string
	}{
		{"error-object", `{"error":{"code":"UNSUPPORTED_ANALYSIS","message":"bad analysis"}}`, "UNSUPPORTED_ANALYSIS", "bad analysis"},
		{"detail-error", `{"detail":{"error":{"code":"INVALID_GAME","message":"bad game"}}}`, "INVALID_GAME", "bad game"},
		{"detail-string", `{"detail":"nope"}`, "HTTP_400", "nope"},
		{"fallback", `not json`, "HTTP_400", "HTTP 400"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := extractHTTPError(400, []byte(tc.body))
			appErr, ok := err.(*apierrors.AppError)
			require.True(t, ok)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.msg, appErr.Message)
		})
	}
}

func TestPOSTUnreachableWhenConnectionRefused(t *testing.T) {
	c := New("http://127.0.0.1:1", "test-plugin")
	_, err := c.POST(context.Background(), "/analyze", JSON{"a": 1}, 200*time.Millisecond)
	require.Error(t, err)
	appErr, ok := err.(*apierrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeUnreachable, appErr.Code)
}

func TestNormalizeTaskDoesNotMutateInput(t *testing.T) {
	src := JSON{"status": "queued", "task_id": "abc"}
	out := NormalizeTask(src)
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, "queued", src["status"], "normalization must not mutate the source")

	out2 := NormalizeTask(JSON{"status": "done"})
	assert.Equal(t, "completed", out2["status"])

	out3 := NormalizeTask(JSON{"status": "running"})
	assert.Equal(t, "running", out3["status"])
}

func TestPollBackoffSequence(t *testing.T) {
	b := &PollBackoff{Interval: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 1.5}

	first := b.Next()
	assert.Equal(t, 100*time.Millisecond, first)

	second := b.Next()
	assert.Equal(t, 150*time.Millisecond, second)

	third := b.Next()
	assert.Equal(t, 225*time.Millisecond, third)

	// Keep advancing until it should clamp to Max.
	var last time.Duration
	for i := 0; i < 20; i++ {
		last = b.Next()
	}
	assert.Equal(t, 500*time.Millisecond, last)
}

func TestPollUntilCompleteStopsOnTerminalStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 2 {
			status = "done"
		}
		json.NewEncoder(w).Encode(JSON{"task_id": "p-1", "status": status})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-plugin")
	tok := cancel.NewToken()
	result, err := c.PollUntilComplete(context.Background(), "p-1", tok, time.Millisecond, 10*time.Millisecond, 1.5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])
	assert.GreaterOrEqual(t, calls, 2)
}

func TestPollUntilCompleteHonorsCancellation(t *testing.T) {
	cancelCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			cancelCalled = true
			json.NewEncoder(w).Encode(JSON{"task_id": "p-1", "cancelled": true})
			return
		}
		json.NewEncoder(w).Encode(JSON{"task_id": "p-1", "status": "running"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-plugin")
	tok := cancel.NewToken()
	tok.Set()

	result, err := c.PollUntilComplete(context.Background(), "p-1", tok, time.Millisecond, 10*time.Millisecond, 1.5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result["status"])
	assert.True(t, cancelCalled, "expected a best-effort cancel request")
}
