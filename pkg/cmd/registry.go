// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuspro/flows/pkg/actions/crmfield"
	logaction "github.com/nexuspro/flows/pkg/actions/log"
	"github.com/nexuspro/flows/pkg/actions/sendmessage"
	"github.com/nexuspro/flows/pkg/config"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/registry"
)

// AdapterConfig selects the native adapters. Without a gateway or CRM URL
// the matching action type is served by the log adapter. Values set here win
// over the ones read from ConfigFile.
type AdapterConfig struct {
	Timeout      time.Duration
	GatewayURL   string
	GatewayToken string
	CRMURL       string
	CRMToken     string
	PluginsPath  string
	ConfigFile   string
}

// AdaptersFile is the YAML layout of the adapter configuration file.
type AdaptersFile struct {
	SendMessage *sendmessage.Config                 `yaml:"send_message"`
	CRMField    *crmfield.Config                    `yaml:"update_crm_field"`
	Timeouts    map[models.ActionType]time.Duration `yaml:"timeouts"`
}

// LoadAdaptersFile reads an adapter configuration file. An empty path yields
// an empty configuration.
func LoadAdaptersFile(path string) (*AdaptersFile, error) {
	file := &AdaptersFile{}
	if path == "" {
		return file, nil
	}

	if err := config.Load(path, file); err != nil {
		return nil, err
	}

	return file, nil
}

func NewRegistry(logger *slog.Logger, cfg AdapterConfig) (*registry.Registry, error) {
	file, err := LoadAdaptersFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(logger, cfg.Timeout)

	if err := registerSendMessage(logger, reg, cfg, file); err != nil {
		return nil, err
	}

	if err := registerCRMField(logger, reg, cfg, file); err != nil {
		return nil, err
	}

	if cfg.PluginsPath != "" {
		if err := reg.LoadAdapterPlugins(cfg.PluginsPath); err != nil {
			return nil, fmt.Errorf("failed to load adapter plugins: %w", err)
		}
	}

	return reg, nil
}

func registerSendMessage(logger *slog.Logger, reg *registry.Registry, cfg AdapterConfig, file *AdaptersFile) error {
	var adapterCfg sendmessage.Config
	if file.SendMessage != nil {
		adapterCfg = *file.SendMessage
	}

	adapterCfg.BaseURL = override(adapterCfg.BaseURL, cfg.GatewayURL)
	adapterCfg.Token = override(adapterCfg.Token, cfg.GatewayToken)

	timeout := registry.WithTimeout(file.Timeouts[models.ActionTypeSendMessage])

	if adapterCfg.BaseURL == "" {
		logger.Warn("No message gateway configured, send_message actions are only logged")

		return reg.Register(logaction.New(logger, models.ActionTypeSendMessage), timeout)
	}

	adapter, err := sendmessage.New(logger, adapterCfg)
	if err != nil {
		return err
	}

	return reg.Register(adapter, timeout)
}

func registerCRMField(logger *slog.Logger, reg *registry.Registry, cfg AdapterConfig, file *AdaptersFile) error {
	var adapterCfg crmfield.Config
	if file.CRMField != nil {
		adapterCfg = *file.CRMField
	}

	adapterCfg.BaseURL = override(adapterCfg.BaseURL, cfg.CRMURL)
	adapterCfg.Token = override(adapterCfg.Token, cfg.CRMToken)

	timeout := registry.WithTimeout(file.Timeouts[models.ActionTypeUpdateCRMField])

	if adapterCfg.BaseURL == "" {
		logger.Warn("No CRM configured, update_crm_field actions are only logged")

		return reg.Register(logaction.New(logger, models.ActionTypeUpdateCRMField), timeout)
	}

	adapter, err := crmfield.New(logger, adapterCfg)
	if err != nil {
		return err
	}

	return reg.Register(adapter, timeout)
}

func override(value, flag string) string {
	if flag != "" {
		return flag
	}

	return value
}
