package sendmessage

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(testLogger(), Config{})
	assert.Error(t, err)
}

func TestAdapter_Execute(t *testing.T) {
	var got map[string]string

	var idempotencyKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		idempotencyKey = r.Header.Get(IdempotencyHeader)

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1","status":"queued"}`))
	}))
	defer server.Close()

	adapter, err := New(testLogger(), Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	ctx := protocol.WithIdempotencyKey(t.Context(), protocol.NodeIdempotencyKey("run-1", "welcome"))

	out, err := adapter.Execute(ctx, models.ActionTypeSendMessage, map[string]string{
		"channel": "email",
		"to":      "ada@example.com",
		"body":    "Welcome Ada",
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"message_id": "msg-1", "message_status": "queued"}, out)
	assert.Equal(t, "Welcome Ada", got["body"])
	assert.Equal(t, "run-1:welcome", idempotencyKey)
}

func TestAdapter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-2","status":"sent"}`))
	}))
	defer server.Close()

	adapter, err := New(testLogger(), Config{BaseURL: server.URL, RetryWait: time.Millisecond, MaxWaitTime: 5 * time.Millisecond})
	require.NoError(t, err)

	out, err := adapter.Execute(t.Context(), models.ActionTypeSendMessage, map[string]string{"body": "hi"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "msg-2", out["message_id"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdapter_ClientErrorFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter, err := New(testLogger(), Config{BaseURL: server.URL, RetryWait: time.Millisecond})
	require.NoError(t, err)

	_, err = adapter.Execute(t.Context(), models.ActionTypeSendMessage, map[string]string{"body": "hi"}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter, err := New(testLogger(), Config{BaseURL: server.URL})
	require.NoError(t, err)

	start := time.Now()
	_, err = adapter.Execute(t.Context(), models.ActionTypeSendMessage, map[string]string{"body": "hi"}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAdapter_Metadata(t *testing.T) {
	adapter, err := New(testLogger(), Config{BaseURL: "http://localhost"})
	require.NoError(t, err)

	assert.Equal(t, "send_message", adapter.ID())
	assert.NotEmpty(t, adapter.Name())
	assert.NotEmpty(t, adapter.Description())
	assert.Equal(t, []string{"body"}, adapter.Schema()["required"])
}
