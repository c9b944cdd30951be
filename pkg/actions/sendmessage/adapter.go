// Package sendmessage delivers send_message actions to the outbound message
// gateway (email, WhatsApp) over HTTP.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nexuspro/flows/pkg/config"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
)

// IdempotencyHeader carries the run/node key so the gateway can drop duplicates.
const IdempotencyHeader = "Idempotency-Key"

// ErrGatewayRejected is returned when the gateway answers with an error status.
var ErrGatewayRejected = errors.New("message gateway rejected the message")

// Config holds the gateway client configuration.
type Config struct {
	BaseURL     string        `yaml:"base_url"      validate:"required,url"`
	Token       string        `yaml:"token"`
	MaxRetries  int           `yaml:"max_retries"   default:"2"     validate:"gte=0,lte=10"`
	RetryWait   time.Duration `yaml:"retry_wait"    default:"200ms"`
	MaxWaitTime time.Duration `yaml:"max_wait_time" default:"2s"`
}

type messageResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Adapter posts messages to {BaseURL}/messages.
type Adapter struct {
	config Config
	client *resty.Client
	logger *slog.Logger
}

var _ protocol.Adapter = (*Adapter)(nil)

// New creates an adapter. cfg receives defaults and is validated.
func New(logger *slog.Logger, cfg Config) (*Adapter, error) {
	if err := config.Prepare(&cfg); err != nil {
		return nil, fmt.Errorf("send_message adapter: %w", err)
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.MaxWaitTime).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Adapter{
		config: cfg,
		client: client,
		logger: logger.With("module", "send_message"),
	}, nil
}

func (*Adapter) ID() string {
	return string(models.ActionTypeSendMessage)
}

func (*Adapter) Name() string {
	return "Send message"
}

func (*Adapter) Description() string {
	return "Sends an email or chat message through the outbound message gateway."
}

func (*Adapter) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel, e.g. email or whatsapp. The gateway default is used when empty.",
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient address or phone number. Supports {{variable}} placeholders.",
				"examples":    []string{"{{email}}", "{{phone}}"},
			},
			"subject": map[string]any{
				"type": "string",
			},
			"body": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message text. Supports {{variable}} placeholders.",
				"examples":    []string{"Welcome {{name}}"},
			},
		},
		"required": []string{"body"},
	}
}

// Execute posts params as the message body. Gateway 5xx responses and
// transport errors are retried; 4xx responses fail immediately.
func (a *Adapter) Execute(ctx context.Context, _ models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result messageResponse

	request := a.client.R().
		SetContext(ctx).
		SetBody(maps.Clone(params)).
		SetResult(&result)

	if key, ok := protocol.IdempotencyKey(ctx); ok {
		request.SetHeader(IdempotencyHeader, key)
	}

	resp, err := request.Post("/messages")
	if err != nil {
		return nil, fmt.Errorf("send_message request failed: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.Status())
	}

	a.logger.DebugContext(ctx, "Message accepted", "message_id", result.ID, "channel", params["channel"])

	return map[string]string{
		"message_id":     result.ID,
		"message_status": result.Status,
	}, nil
}
