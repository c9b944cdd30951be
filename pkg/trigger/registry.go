// Package trigger matches published trigger events to active workflow graphs
// and starts one run per match.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
)

var (
	ErrUnknownTriggerType = errors.New("unknown trigger type")
	ErrInvalidTick        = errors.New("invalid schedule tick")
)

// GraphLister returns the latest version of every active graph.
type GraphLister interface {
	ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error)
}

// RunStarter starts a run pinned to the graph version the trigger matched.
type RunStarter interface {
	StartRunVersion(ctx context.Context, graphID string, version int, payload map[string]string) (*models.RunRecord, error)
}

// Handler observes every event published for a trigger type.
type Handler func(ctx context.Context, triggerType models.TriggerType, payload map[string]string) error

// Registry is the in-process trigger source interface. Delivery is
// at-least-once: publishing the same event twice starts two runs.
type Registry struct {
	graphs  GraphLister
	starter RunStarter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[models.TriggerType][]Handler
}

var _ protocol.TriggerPublisher = (*Registry)(nil)

type Option func(*Registry)

// WithClock sets the clock used when a schedule event carries no tick.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(logger *slog.Logger, graphs GraphLister, starter RunStarter, opts ...Option) *Registry {
	r := &Registry{
		graphs:   graphs,
		starter:  starter,
		logger:   logger.With("module", "trigger_registry"),
		now:      time.Now,
		handlers: map[models.TriggerType][]Handler{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Subscribe registers handler for triggerType. Handlers run synchronously
// before matching; their errors are logged and do not stop the publish.
func (r *Registry) Subscribe(triggerType models.TriggerType, handler Handler) error {
	if !slices.Contains(models.TriggerTypes, triggerType) {
		return fmt.Errorf("%w: %s", ErrUnknownTriggerType, triggerType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[triggerType] = append(r.handlers[triggerType], handler)

	return nil
}

// Publish starts a run for every active graph whose entry trigger matches.
// Runs that started are returned even when others failed to start; the
// failures are joined into the error.
func (r *Registry) Publish(ctx context.Context, triggerType models.TriggerType, payload map[string]string) ([]*models.RunRecord, error) {
	if !slices.Contains(models.TriggerTypes, triggerType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTriggerType, triggerType)
	}

	var tick time.Time

	if triggerType == models.TriggerTypeSchedule {
		var err error

		tick, err = r.tick(payload)
		if err != nil {
			return nil, err
		}
	}

	r.notify(ctx, triggerType, payload)

	graphs, err := r.graphs.ActiveGraphs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active graphs: %w", err)
	}

	var (
		runs []*models.RunRecord
		errs []error
	)

	for _, g := range graphs {
		if !r.matches(g, triggerType, tick) {
			continue
		}

		run, err := r.starter.StartRunVersion(ctx, g.ID, g.Version, payload)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to start run", "graph_id", g.ID, "trigger_type", triggerType, "error", err)
			errs = append(errs, fmt.Errorf("graph %s: %w", g.ID, err))

			continue
		}

		runs = append(runs, run)
	}

	r.logger.InfoContext(ctx, "Trigger published", "trigger_type", triggerType, "runs_started", len(runs))

	return runs, errors.Join(errs...)
}

func (r *Registry) notify(ctx context.Context, triggerType models.TriggerType, payload map[string]string) {
	r.mu.RLock()
	handlers := slices.Clone(r.handlers[triggerType])
	r.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, triggerType, payload); err != nil {
			r.logger.WarnContext(ctx, "Trigger handler failed", "trigger_type", triggerType, "error", err)
		}
	}
}

// tick reads the minute a schedule event fired for. A missing tick means now.
func (r *Registry) tick(payload map[string]string) (time.Time, error) {
	raw, ok := payload[models.TickPayloadKey]
	if !ok || raw == "" {
		return r.now().UTC().Truncate(time.Minute), nil
	}

	tick, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTick, raw)
	}

	return tick.Truncate(time.Minute), nil
}

func (r *Registry) matches(g *models.WorkflowGraph, triggerType models.TriggerType, tick time.Time) bool {
	if g.TriggerType() != triggerType {
		return false
	}

	if triggerType != models.TriggerTypeSchedule {
		return true
	}

	node, _ := g.EntryNode()

	schedule, err := graph.ParseSchedule(node.Trigger.Schedule)
	if err != nil {
		r.logger.Warn("Skipping graph with invalid schedule", "graph_id", g.ID, "schedule", node.Trigger.Schedule, "error", err)

		return false
	}

	return ScheduleMatches(schedule, tick)
}

// ScheduleMatches reports whether schedule fires at the minute of tick.
func ScheduleMatches(schedule interface{ Next(time.Time) time.Time }, tick time.Time) bool {
	minute := tick.Truncate(time.Minute)

	return schedule.Next(minute.Add(-time.Second)).Equal(minute)
}
