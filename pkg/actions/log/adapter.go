// Package log provides a development adapter that logs action calls instead
// of performing them. It stands in for any action type whose gateway is not
// configured.
package log

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
)

// Adapter logs params and echoes them back.
type Adapter struct {
	actionType models.ActionType
	logger     *slog.Logger
}

var _ protocol.Adapter = (*Adapter)(nil)

// New creates a log adapter registered under actionType.
func New(logger *slog.Logger, actionType models.ActionType) *Adapter {
	return &Adapter{
		actionType: actionType,
		logger:     logger.With("module", "log_adapter", "action_type", actionType),
	}
}

func (a *Adapter) ID() string {
	return string(a.actionType)
}

func (*Adapter) Name() string {
	return "Log"
}

func (*Adapter) Description() string {
	return "Logs the action and its interpolated params without calling any external system."
}

// Schema accepts any string params.
func (*Adapter) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": map[string]any{"type": "string"},
	}
}

func (a *Adapter) Execute(ctx context.Context, actionType models.ActionType, params map[string]string, _ time.Duration) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, _ := protocol.IdempotencyKey(ctx)

	a.logger.InfoContext(ctx, "Executing action", "requested_type", actionType, "idempotency_key", key, "params", params)

	out := maps.Clone(params)
	if out == nil {
		out = map[string]string{}
	}

	return out, nil
}
