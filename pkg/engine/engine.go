// Package engine walks workflow graphs for runs: it starts runs from trigger
// payloads, executes nodes one at a time, checkpoints after every transition
// and suspends at delays until the supervisor resumes them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/eventbus"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/nexuspro/flows/pkg/expression"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/otelhelper"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/template"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ActionExecutor calls the adapter registered for an action type.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error)
	Timeout(actionType models.ActionType) time.Duration
}

// Scheduler takes over runs the engine hands off: running runs to execute
// and suspended runs to wake at resumeAt.
type Scheduler interface {
	Dispatch(run *models.RunRecord)
	ScheduleResume(runID, graphID string, resumeAt time.Time)
}

type Engine struct {
	graphs    persistence.GraphRepository
	runs      persistence.RunRepository
	actions   ActionExecutor
	evaluator *expression.Evaluator
	renderer  *template.Renderer
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	scheduler Scheduler
	executing map[string]struct{}
	cancelled map[string]struct{}

	pinnedTTL time.Duration
	pinned    *cache.Cache
}

// DefaultGraphCacheTTL is how long a loaded graph version stays cached
// after it was last loaded from the store.
const DefaultGraphCacheTTL = time.Hour

type Option func(*Engine)

// WithGraphCacheTTL bounds how long pinned graph versions stay in memory.
// Expired versions are reloaded from the store on next use; zero never
// expires them.
func WithGraphCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.pinnedTTL = ttl
	}
}

// WithEventPublisher publishes run lifecycle events on publisher.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithEvaluator(evaluator *expression.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = evaluator
	}
}

func New(logger *slog.Logger, store persistence.Persistence, actions ActionExecutor, opts ...Option) *Engine {
	e := &Engine{
		graphs:    store.GraphRepository(),
		runs:      store.RunRepository(),
		actions:   actions,
		evaluator: expression.NewEvaluator(),
		tracer:    otelhelper.NoopTracer("flows/engine"),
		logger:    logger.With("module", "engine"),
		now:       time.Now,
		executing: map[string]struct{}{},
		cancelled: map[string]struct{}{},
		pinnedTTL: DefaultGraphCacheTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.pinned = cache.New(e.pinnedTTL, max(e.pinnedTTL, time.Minute))

	e.renderer = template.NewRenderer(e.evaluator)

	return e
}

// SetScheduler wires the supervisor. Without one, StartRun and ResumeRun
// execute synchronously and suspended runs are only persisted.
func (e *Engine) SetScheduler(scheduler Scheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheduler = scheduler
}

func (e *Engine) currentScheduler() Scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.scheduler
}

// Evaluator returns the expression evaluator shared with graph validation.
func (e *Engine) Evaluator() *expression.Evaluator {
	return e.evaluator
}

// StartRun creates a run of the latest version of an active graph. Graph
// defaults seed the variables and the trigger payload overrides them.
func (e *Engine) StartRun(ctx context.Context, graphID string, payload map[string]string) (*models.RunRecord, error) {
	return e.StartRunVersion(ctx, graphID, persistence.LatestVersion, payload)
}

// StartRunVersion creates a run pinned to version, which is usually the
// version whose trigger matched. The graph must still be active.
func (e *Engine) StartRunVersion(ctx context.Context, graphID string, version int, payload map[string]string) (*models.RunRecord, error) {
	state, err := e.graphs.GraphState(ctx, graphID)
	if err != nil {
		return nil, err
	}

	if !state.Active {
		return nil, fmt.Errorf("%w: %s", ErrGraphInactive, graphID)
	}

	if version == persistence.LatestVersion {
		version = state.LatestVersion
	}

	g, err := e.pinnedGraph(ctx, graphID, version)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	variables := maps.Clone(g.Variables)
	if variables == nil {
		variables = map[string]string{}
	}

	maps.Copy(variables, payload)

	run := &models.RunRecord{
		ID:             id.String(),
		GraphID:        g.ID,
		GraphVersion:   g.Version,
		TriggerType:    g.TriggerType(),
		TriggerContext: maps.Clone(payload),
		Status:         models.RunStatusRunning,
		CurrentNodeID:  g.EntryNodeID,
		Variables:      variables,
		History:        []models.HistoryEntry{},
		CreatedAt:      e.now().UTC(),
	}

	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.logger.InfoContext(ctx, "Run started",
		"run_id", run.ID, "graph_id", run.GraphID, "graph_version", run.GraphVersion, "trigger_type", run.TriggerType)
	e.emit(ctx, run, false)

	if scheduler := e.currentScheduler(); scheduler != nil {
		scheduler.Dispatch(run.Clone())

		return run, nil
	}

	executed, err := e.Execute(ctx, run.Clone())
	if err != nil {
		return run, err
	}

	return executed, nil
}

// Graph returns the pinned version a run executes against.
func (e *Engine) Graph(ctx context.Context, run *models.RunRecord) (*models.WorkflowGraph, error) {
	return e.pinnedGraph(ctx, run.GraphID, run.GraphVersion)
}

// pinnedGraph loads one immutable graph version, caching it for pinnedTTL.
func (e *Engine) pinnedGraph(ctx context.Context, graphID string, version int) (*models.WorkflowGraph, error) {
	key := graphID + "@" + strconv.Itoa(version)

	if cached, ok := e.pinned.Get(key); ok {
		return cached.(*models.WorkflowGraph), nil
	}

	g, err := e.graphs.LoadGraph(ctx, graphID, version)
	if err != nil {
		return nil, err
	}

	e.pinned.SetDefault(key, g)

	return g, nil
}

// RequestCancel flags runID so an in-flight Execute stops before its next
// step. Runs that are not executing in this process are left alone; their
// next checkpoint conflicts with the cancelled record instead.
func (e *Engine) RequestCancel(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.executing[runID]; ok {
		e.cancelled[runID] = struct{}{}
	}
}

func (e *Engine) track(runID string) func() {
	e.mu.Lock()
	e.executing[runID] = struct{}{}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.executing, runID)
		delete(e.cancelled, runID)
		e.mu.Unlock()
	}
}

func (e *Engine) cancelRequested(runID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.cancelled[runID]

	return ok
}

// emit publishes the lifecycle event for the current status of run.
func (e *Engine) emit(ctx context.Context, run *models.RunRecord, resumed bool) {
	if e.publisher == nil {
		return
	}

	event, ok := events.ForRun(run, resumed).(eventbus.Event)
	if !ok {
		return
	}

	if err := e.publisher.Publish(ctx, run.ID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish run event", "run_id", run.ID, "event_type", event.GetType(), "error", err)
	}
}

func runAttributes(run *models.RunRecord) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.GraphIDKey, run.GraphID),
		attribute.Int(otelhelper.GraphVersionKey, run.GraphVersion),
	}
}
