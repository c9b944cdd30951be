// Package registry keeps the action adapters available to the engine, keyed
// by action type, with their timeouts and parameter schemas.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultTimeout bounds an adapter call when no timeout was registered.
const DefaultTimeout = 30 * time.Second

var (
	// ErrAdapterNotFound is returned for action types without an adapter.
	ErrAdapterNotFound = errors.New("no adapter registered for action type")

	// ErrInvalidParams is returned when params do not satisfy the adapter schema.
	ErrInvalidParams = errors.New("invalid action params")
)

type entry struct {
	adapter protocol.Adapter
	timeout time.Duration
	schema  *gojsonschema.Schema
}

// Registry maps action types to adapters.
type Registry struct {
	logger         *slog.Logger
	defaultTimeout time.Duration

	mu       sync.RWMutex
	adapters map[models.ActionType]entry
}

// NewRegistry creates an empty registry. A zero defaultTimeout uses DefaultTimeout.
func NewRegistry(log *slog.Logger, defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}

	return &Registry{
		logger:         log.With("module", "registry"),
		defaultTimeout: defaultTimeout,
		adapters:       make(map[models.ActionType]entry),
	}
}

// RegisterOption customises one registration.
type RegisterOption func(*entry)

// WithTimeout overrides the registry default timeout for one adapter.
func WithTimeout(timeout time.Duration) RegisterOption {
	return func(e *entry) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// Register adds adapter under adapter.ID(), replacing any previous one. The
// adapter schema is compiled once here.
func (r *Registry) Register(adapter protocol.Adapter, opts ...RegisterOption) error {
	e := entry{adapter: adapter, timeout: r.defaultTimeout}

	for _, opt := range opts {
		opt(&e)
	}

	if schema := adapter.Schema(); schema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for adapter %s: %w", adapter.ID(), err)
		}

		e.schema = compiled
	}

	r.mu.Lock()
	r.adapters[models.ActionType(adapter.ID())] = e
	r.mu.Unlock()

	r.logger.Info("Registered action adapter", "action_type", adapter.ID(), "timeout", e.timeout)

	return nil
}

// Adapter returns the adapter for actionType.
func (r *Registry) Adapter(actionType models.ActionType) (protocol.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.adapters[actionType]

	return e.adapter, ok
}

// Timeout returns the per-adapter timeout for actionType.
func (r *Registry) Timeout(actionType models.ActionType) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.adapters[actionType]; ok {
		return e.timeout
	}

	return r.defaultTimeout
}

// Types lists the registered action types in sorted order.
func (r *Registry) Types() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ActionType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// ValidateParams checks params against the adapter schema. Wait actions are
// handled by the engine and accept any params.
func (r *Registry) ValidateParams(actionType models.ActionType, params map[string]string) error {
	if actionType == models.ActionTypeWait {
		return nil
	}

	r.mu.RLock()
	e, ok := r.adapters[actionType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, actionType)
	}

	if e.schema == nil {
		return nil
	}

	document := map[string]any{}
	for k, v := range params {
		document[k] = v
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate params for %s: %w", actionType, err)
	}

	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}

	return fmt.Errorf("%w for %s: %s", ErrInvalidParams, actionType, strings.Join(reasons, "; "))
}

// Execute delegates to the registered adapter.
func (r *Registry) Execute(ctx context.Context, actionType models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error) {
	adapter, ok := r.Adapter(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, actionType)
	}

	if timeout <= 0 {
		timeout = r.Timeout(actionType)
	}

	return adapter.Execute(ctx, actionType, params, timeout)
}

// LoadAdapterPlugins opens every <path>/adapters/**/*.so and registers the
// protocol.Adapter exported as symbol "Adapter".
func (r *Registry) LoadAdapterPlugins(pluginsPath string) error {
	adapters, err := loadPlugin[protocol.Adapter](r.logger, pluginsPath, "Adapter")
	if err != nil {
		return err
	}

	for _, adapter := range adapters {
		if err := r.Register(adapter); err != nil {
			return err
		}
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
