// Package config applies struct-tag defaults, loads YAML files and validates
// component configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Prepare fills zero fields from `default` tags and validates `validate` tags.
// config must be a pointer to a struct.
func Prepare(config any) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return Validate(config)
}

// Validate checks `validate` tags and flattens field errors into one message.
func Validate(config any) error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' failed validation (rule: %s)", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return fmt.Errorf("config validation failed: %s", strings.Join(messages, "; "))
}

// Load reads a YAML file into config and then runs Prepare.
func Load(path string, config any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}

	return Prepare(config)
}
