// Package crmfield writes update_crm_field actions to the CRM contact API.
package crmfield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/nexuspro/flows/pkg/config"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
)

var (
	// ErrContactNotFound is returned when the CRM does not know the contact.
	ErrContactNotFound = errors.New("crm contact not found")

	// ErrCRMRejected is returned for any other non-retryable CRM response.
	ErrCRMRejected = errors.New("crm rejected the field update")
)

// Config holds the CRM client configuration.
type Config struct {
	BaseURL         string        `yaml:"base_url"         validate:"required,url"`
	Token           string        `yaml:"token"`
	MaxRetries      uint64        `yaml:"max_retries"      default:"3"     validate:"lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" default:"100ms"`
	MaxInterval     time.Duration `yaml:"max_interval"     default:"2s"`
}

// Adapter PATCHes {BaseURL}/contacts/{contact_id}/fields/{field}.
type Adapter struct {
	config Config
	client *resty.Client
	logger *slog.Logger
}

var _ protocol.Adapter = (*Adapter)(nil)

// New creates an adapter. cfg receives defaults and is validated.
func New(logger *slog.Logger, cfg Config) (*Adapter, error) {
	if err := config.Prepare(&cfg); err != nil {
		return nil, fmt.Errorf("update_crm_field adapter: %w", err)
	}

	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Adapter{
		config: cfg,
		client: client,
		logger: logger.With("module", "update_crm_field"),
	}, nil
}

func (*Adapter) ID() string {
	return string(models.ActionTypeUpdateCRMField)
}

func (*Adapter) Name() string {
	return "Update CRM field"
}

func (*Adapter) Description() string {
	return "Sets a field on a CRM contact, e.g. moving a lead to the contacted stage."
}

func (*Adapter) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contact_id": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "CRM contact id. Usually {{lead_id}} from the trigger payload.",
			},
			"field": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"value": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"contact_id", "field", "value"},
	}
}

func (a *Adapter) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = a.config.InitialInterval
	exponential.MaxInterval = a.config.MaxInterval
	exponential.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exponential, a.config.MaxRetries), ctx)
}

// Execute updates the field, retrying transport errors and 5xx responses.
func (a *Adapter) Execute(ctx context.Context, _ models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	contactID, field := params["contact_id"], params["field"]
	if contactID == "" || field == "" {
		return nil, fmt.Errorf("%w: contact_id and field are required", ErrCRMRejected)
	}

	path := "/contacts/" + url.PathEscape(contactID) + "/fields/" + url.PathEscape(field)

	attempts := 0

	operation := func() error {
		attempts++

		request := a.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"value": params["value"]})

		if key, ok := protocol.IdempotencyKey(ctx); ok {
			request.SetHeader("Idempotency-Key", key)
		}

		resp, err := request.Patch(path)
		if err != nil {
			return fmt.Errorf("update_crm_field request failed: %w", err)
		}

		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrContactNotFound, contactID))
		case resp.StatusCode() >= 500:
			return fmt.Errorf("crm unavailable: %s", resp.Status())
		case resp.IsError():
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrCRMRejected, resp.Status()))
		}

		return nil
	}

	err := backoff.Retry(operation, a.backOff(ctx))
	if err != nil {
		a.logger.WarnContext(ctx, "CRM field update failed", "contact_id", contactID, "field", field, "attempts", attempts, "error", err)

		return nil, err
	}

	return map[string]string{
		"crm_field":   field,
		"crm_value":   params["value"],
		"crm_updated": "true",
	}, nil
}
