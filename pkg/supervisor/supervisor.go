// Package supervisor owns runs between engine steps: it executes dispatched
// runs under a per-graph concurrency cap, keeps suspended runs in a timer
// heap and resumes them when due, and cancels runs on request.
package supervisor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/config"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// idleWait bounds how long the timer loop sleeps with an empty heap.
const idleWait = time.Hour

// Engine is the part of engine.Engine the supervisor drives.
type Engine interface {
	Execute(ctx context.Context, run *models.RunRecord) (*models.RunRecord, error)
	ResumeRun(ctx context.Context, runID string) (*models.RunRecord, error)
	CancelRun(ctx context.Context, runID string) (*models.RunRecord, error)
}

type Config struct {
	MaxRunningPerGraph int `default:"10" validate:"gte=1"`
}

// Stats is a point-in-time view of supervised work.
type Stats struct {
	Running        int            `json:"running"`
	Backlog        int            `json:"backlog"`
	Suspended      int            `json:"suspended"`
	RunningByGraph map[string]int `json:"running_by_graph,omitempty"`
}

type work struct {
	runID   string
	graphID string
	resume  bool
}

type Supervisor struct {
	engine Engine
	runs   persistence.RunRepository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	timers   timerHeap
	index    map[string]*timerEntry
	running  map[string]int
	backlog  map[string][]work
	inflight map[string]struct{}
	pending  map[string]work
	wake     chan struct{}

	runCtx     context.Context
	cancelRuns context.CancelFunc
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	wg         sync.WaitGroup
}

type Option func(*Supervisor)

// WithClock sets the clock used to decide which suspended runs are due.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

func New(logger *slog.Logger, engine Engine, runs persistence.RunRepository, cfg Config, opts ...Option) (*Supervisor, error) {
	if err := config.Prepare(&cfg); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		engine:     engine,
		runs:       runs,
		cfg:        cfg,
		logger:     logger.With("module", "supervisor"),
		now:        time.Now,
		index:      map[string]*timerEntry{},
		running:    map[string]int{},
		backlog:    map[string][]work{},
		inflight:   map[string]struct{}{},
		pending:    map[string]work{},
		wake:       make(chan struct{}, 1),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Recover seeds the timer heap from the suspended runs in the store and
// re-dispatches runs left running by a previous process.
func (s *Supervisor) Recover(ctx context.Context) error {
	suspended, err := s.runs.ListSuspendedRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list suspended runs: %w", err)
	}

	for _, run := range suspended {
		resumeAt := s.now()
		if run.ResumeAt != nil {
			resumeAt = *run.ResumeAt
		}

		s.ScheduleResume(run.ID, run.GraphID, resumeAt)
	}

	running, err := s.runs.ListRunsByStatus(ctx, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list running runs: %w", err)
	}

	for _, run := range running {
		s.Dispatch(run)
	}

	s.logger.InfoContext(ctx, "Recovered runs", "suspended", len(suspended), "running", len(running))

	return nil
}

// Start recovers persisted runs and starts the timer loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopLoop != nil {
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	if err := s.Recover(ctx); err != nil {
		return err
	}

	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.stopLoop = stop
	s.loopDone = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	s.logger.InfoContext(ctx, "Supervisor started", "max_running_per_graph", s.cfg.MaxRunningPerGraph)

	return nil
}

// Stop ends the timer loop and waits for in-flight runs. When ctx ends first
// the runs are interrupted at their next step; they stay running in the
// store and are recovered on the next Start.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stopLoop, s.loopDone
	s.stopLoop, s.loopDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	if err := s.Drain(ctx); err != nil {
		s.cancelRuns()

		return err
	}

	return nil
}

// Drain waits until no run is executing or queued in the backlog.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch executes a running run, or queues it when its graph is at the cap.
func (s *Supervisor) Dispatch(run *models.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitLocked(work{runID: run.ID, graphID: run.GraphID})
}

// ScheduleResume adds or moves the timer of a suspended run.
func (s *Supervisor) ScheduleResume(runID, graphID string, resumeAt time.Time) {
	s.mu.Lock()

	if entry, ok := s.index[runID]; ok {
		entry.resumeAt = resumeAt
		heap.Fix(&s.timers, entry.index)
	} else {
		entry := &timerEntry{runID: runID, graphID: graphID, resumeAt: resumeAt}
		heap.Push(&s.timers, entry)
		s.index[runID] = entry
	}

	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ProcessDue dispatches every suspended run whose resumeAt has passed and
// returns how many were dispatched.
func (s *Supervisor) ProcessDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for {
		entry := s.timers.peek()
		if entry == nil || entry.resumeAt.After(now) {
			break
		}

		heap.Pop(&s.timers)
		delete(s.index, entry.runID)

		s.logger.DebugContext(ctx, "Run due", "run_id", entry.runID, "resume_at", entry.resumeAt)
		s.submitLocked(work{runID: entry.runID, graphID: entry.graphID, resume: true})

		count++
	}

	return count
}

// CancelRun cancels runID in the store and drops any pending timer or
// backlog entry for it, so its steps never run again in this process.
func (s *Supervisor) CancelRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	s.forget(runID)

	run, err := s.engine.CancelRun(ctx, runID)
	if err != nil {
		return run, err
	}

	s.forget(runID)

	return run, nil
}

// CancelGraphRuns cancels every running or suspended run of graphID.
func (s *Supervisor) CancelGraphRuns(ctx context.Context, graphID string) (int, error) {
	runs, err := s.runs.ListRunsByGraph(ctx, graphID)
	if err != nil {
		return 0, err
	}

	var (
		cancelled int
		errs      []error
	)

	for _, run := range runs {
		if run.Status.IsTerminal() {
			continue
		}

		if _, err := s.CancelRun(ctx, run.ID); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", run.ID, err))

			continue
		}

		cancelled++
	}

	s.logger.InfoContext(ctx, "Cancelled graph runs", "graph_id", graphID, "cancelled", cancelled)

	return cancelled, errors.Join(errs...)
}

func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Suspended:      s.timers.Len(),
		RunningByGraph: map[string]int{},
	}

	for graphID, n := range s.running {
		stats.Running += n
		stats.RunningByGraph[graphID] = n
	}

	for _, queue := range s.backlog {
		stats.Backlog += len(queue)
	}

	return stats
}

func (s *Supervisor) forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.index[runID]; ok {
		heap.Remove(&s.timers, entry.index)
		delete(s.index, runID)
	}

	delete(s.pending, runID)

	for graphID, queue := range s.backlog {
		kept := queue[:0]

		for _, w := range queue {
			if w.runID == runID {
				delete(s.inflight, runID)
				s.wg.Done()

				continue
			}

			kept = append(kept, w)
		}

		if len(kept) == 0 {
			delete(s.backlog, graphID)
		} else {
			s.backlog[graphID] = kept
		}
	}
}

// submitLocked starts w or appends it to its graph backlog. Backlog entries
// count in wg so Drain waits for them too. A resume for a run still in flight
// is held until that work finishes; any other duplicate is dropped.
func (s *Supervisor) submitLocked(w work) {
	if _, ok := s.inflight[w.runID]; ok {
		if w.resume {
			s.pending[w.runID] = w
		}

		return
	}

	s.inflight[w.runID] = struct{}{}
	s.wg.Add(1)

	if s.running[w.graphID] >= s.cfg.MaxRunningPerGraph {
		s.backlog[w.graphID] = append(s.backlog[w.graphID], w)
		s.logger.Debug("Run queued in backlog", "run_id", w.runID, "graph_id", w.graphID, "backlog", len(s.backlog[w.graphID]))

		return
	}

	s.running[w.graphID]++

	go s.execute(w)
}

func (s *Supervisor) execute(w work) {
	defer s.finish(w)

	logger := s.logger.With("run_id", w.runID, "graph_id", w.graphID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while supervising run", "panic", r)
		}
	}()

	var (
		run *models.RunRecord
		err error
	)

	if w.resume {
		run, err = s.engine.ResumeRun(s.runCtx, w.runID)
	} else {
		run, err = s.load(w.runID)
		if err == nil && run != nil {
			run, err = s.engine.Execute(s.runCtx, run)
		}
	}

	if err != nil {
		logger.Error("Run step failed", "resume", w.resume, "error", err)

		return
	}

	if run != nil {
		logger.Debug("Run left supervisor", "status", run.Status)
	}
}

// load reads the latest record of a dispatched run. Runs that are no longer
// running are skipped by returning nil.
func (s *Supervisor) load(runID string) (*models.RunRecord, error) {
	run, err := s.runs.LoadRun(s.runCtx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusRunning {
		return nil, nil
	}

	return run, nil
}

// finish releases the slot of w, then fills free slots of its graph: a held
// resume of the same run first, backlog entries after it.
func (s *Supervisor) finish(w work) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, w.runID)
	s.running[w.graphID]--

	if held, ok := s.pending[w.runID]; ok {
		delete(s.pending, w.runID)
		s.submitLocked(held)
	}

	for s.running[w.graphID] < s.cfg.MaxRunningPerGraph {
		queue := s.backlog[w.graphID]
		if len(queue) == 0 {
			break
		}

		next := queue[0]
		if len(queue) == 1 {
			delete(s.backlog, w.graphID)
		} else {
			s.backlog[w.graphID] = queue[1:]
		}

		s.running[w.graphID]++

		go s.execute(next)
	}

	if s.running[w.graphID] == 0 {
		delete(s.running, w.graphID)
	}

	s.wg.Done()
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.ProcessDue(ctx)

		timer := time.NewTimer(s.nextWait())

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.timers.peek()
	if entry == nil {
		return idleWait
	}

	wait := entry.resumeAt.Sub(s.now())
	if wait < 0 {
		return 0
	}

	return min(wait, idleWait)
}
