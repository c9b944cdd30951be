package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Execute(t *testing.T) {
	var buf bytes.Buffer

	adapter := New(slog.New(slog.NewTextHandler(&buf, nil)), models.ActionTypeSendMessage)
	assert.Equal(t, "send_message", adapter.ID())

	ctx := protocol.WithIdempotencyKey(t.Context(), "run-1:welcome")
	params := map[string]string{"body": "Welcome Ada"}

	out, err := adapter.Execute(ctx, models.ActionTypeSendMessage, params, 0)
	require.NoError(t, err)
	assert.Equal(t, params, out)

	out["body"] = "changed"
	assert.Equal(t, "Welcome Ada", params["body"])

	assert.Contains(t, buf.String(), "run-1:welcome")
	assert.Contains(t, buf.String(), "Executing action")
}

func TestAdapter_NilParams(t *testing.T) {
	adapter := New(slog.Default(), models.ActionTypeUpdateCRMField)

	out, err := adapter.Execute(t.Context(), models.ActionTypeUpdateCRMField, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestAdapter_CancelledContext(t *testing.T) {
	adapter := New(slog.Default(), models.ActionTypeSendMessage)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := adapter.Execute(ctx, models.ActionTypeSendMessage, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
