// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises a backend against the repository contracts.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("graph versions are immutable", func(t *testing.T) { testGraphVersions(t, newStore(t)) })
	t.Run("graph not found", func(t *testing.T) { testGraphNotFound(t, newStore(t)) })
	t.Run("activation", func(t *testing.T) { testActivation(t, newStore(t)) })
	t.Run("run revisions", func(t *testing.T) { testRunRevisions(t, newStore(t)) })
	t.Run("run listings", func(t *testing.T) { testRunListings(t, newStore(t)) })
}

func testGraphVersions(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.GraphRepository()

	first := testutil.WelcomeGraph()
	id, version, err := repo.SaveGraph(ctx, first)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, version)
	assert.Equal(t, id, first.ID)

	second := testutil.WelcomeGraph()
	second.ID = id
	second.Nodes["welcome"].Action.Params["body"] = "Hello {{name}}"

	_, version, err = repo.SaveGraph(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	loaded, err := repo.LoadGraph(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, "Welcome {{name}}", loaded.Nodes["welcome"].Action.Params["body"])
	assert.Equal(t, models.Duration(24*time.Hour), loaded.Nodes["wait-a-day"].Delay.Duration)

	latest, err := repo.LoadGraph(ctx, id, persistence.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "Hello {{name}}", latest.Nodes["welcome"].Action.Params["body"])
	assert.Len(t, latest.Edges, 3)
	assert.Equal(t, "trigger", latest.EntryNodeID)

	state, err := repo.GraphState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, state.LatestVersion)
	assert.False(t, state.Active)
	assert.Equal(t, first.Name, state.Name)
}

func testGraphNotFound(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.GraphRepository()

	_, err := repo.LoadGraph(ctx, "missing-graph", persistence.LatestVersion)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrGraphNotFound)

	id, _, err := repo.SaveGraph(ctx, testutil.BranchGraph())
	require.NoError(t, err)

	_, err = repo.LoadGraph(ctx, id, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrGraphVersionNotFound)
	assert.True(t, persistence.IsGraphNotFound(err))

	err = repo.SetActive(ctx, "missing-graph", true)
	assert.ErrorIs(t, err, persistence.ErrGraphNotFound)
}

func testActivation(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.GraphRepository()

	activeID, _, err := repo.SaveGraph(ctx, testutil.WelcomeGraph())
	require.NoError(t, err)

	inactiveID, _, err := repo.SaveGraph(ctx, testutil.BranchGraph())
	require.NoError(t, err)

	require.NoError(t, repo.SetActive(ctx, activeID, true))

	updated := testutil.WelcomeGraph()
	updated.ID = activeID
	_, _, err = repo.SaveGraph(ctx, updated)
	require.NoError(t, err)

	active, err := repo.ActiveGraphs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, activeID, active[0].ID)
	assert.Equal(t, 2, active[0].Version)

	states, err := repo.ListGraphs(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.ID)
	}

	assert.ElementsMatch(t, []string{activeID, inactiveID}, ids)

	require.NoError(t, repo.SetActive(ctx, activeID, false))

	active, err = repo.ActiveGraphs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func newRun(graphID string, status models.RunStatus) *models.RunRecord {
	return &models.RunRecord{
		ID:            uuid.NewString(),
		GraphID:       graphID,
		GraphVersion:  1,
		TriggerType:   models.TriggerTypeNewLead,
		Status:        status,
		CurrentNodeID: "trigger",
		Variables:     map[string]string{"name": "Ada"},
		History:       []models.HistoryEntry{},
	}
}

func testRunRevisions(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.RunRepository()

	run := newRun("graph-1", models.RunStatusRunning)
	require.NoError(t, repo.SaveRun(ctx, run))
	assert.Equal(t, int64(1), run.Revision)
	assert.False(t, run.CreatedAt.IsZero())

	duplicate := newRun("graph-1", models.RunStatusRunning)
	duplicate.ID = run.ID
	err := repo.SaveRun(ctx, duplicate)
	require.Error(t, err)
	assert.True(t, persistence.IsConcurrencyConflict(err))

	stale, err := repo.LoadRun(ctx, run.ID)
	require.NoError(t, err)

	run.CurrentNodeID = "welcome"
	run.History = append(run.History, models.HistoryEntry{NodeID: "trigger", Outcome: models.OutcomeSucceeded, Timestamp: time.Now().UTC()})
	require.NoError(t, repo.SaveRun(ctx, run))
	assert.Equal(t, int64(2), run.Revision)

	stale.Status = models.RunStatusCancelled
	err = repo.SaveRun(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrConcurrencyConflict)

	loaded, err := repo.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.Equal(t, "welcome", loaded.CurrentNodeID)
	assert.Equal(t, int64(2), loaded.Revision)
	assert.Equal(t, "Ada", loaded.Variables["name"])
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "trigger", loaded.History[0].NodeID)

	phantom := newRun("graph-1", models.RunStatusRunning)
	phantom.Revision = 3
	err = repo.SaveRun(ctx, phantom)
	assert.ErrorIs(t, err, persistence.ErrConcurrencyConflict)

	_, err = repo.LoadRun(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, persistence.IsRunNotFound(err))
}

func testRunListings(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.RunRepository()
	now := time.Now().UTC().Truncate(time.Second)

	late := newRun("graph-a", models.RunStatusSuspended)
	lateAt := now.Add(2 * time.Hour)
	late.ResumeAt = &lateAt

	early := newRun("graph-b", models.RunStatusSuspended)
	earlyAt := now.Add(time.Hour)
	early.ResumeAt = &earlyAt

	running := newRun("graph-a", models.RunStatusRunning)

	done := newRun("graph-a", models.RunStatusCompleted)
	done.CompletedAt = &now

	for _, run := range []*models.RunRecord{late, early, running, done} {
		require.NoError(t, repo.SaveRun(ctx, run))
	}

	suspended, err := repo.ListSuspendedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, suspended, 2)
	assert.Equal(t, early.ID, suspended[0].ID)
	assert.Equal(t, late.ID, suspended[1].ID)
	assert.WithinDuration(t, earlyAt, *suspended[0].ResumeAt, time.Millisecond)

	byStatus, err := repo.ListRunsByStatus(ctx, models.RunStatusRunning)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, running.ID, byStatus[0].ID)

	byGraph, err := repo.ListRunsByGraph(ctx, "graph-a")
	require.NoError(t, err)

	ids := make([]string, 0, len(byGraph))
	for _, run := range byGraph {
		ids = append(ids, run.ID)
	}

	assert.ElementsMatch(t, []string{late.ID, running.ID, done.ID}, ids)

	early.Status = models.RunStatusRunning
	early.ResumeAt = nil
	require.NoError(t, repo.SaveRun(ctx, early))

	suspended, err = repo.ListSuspendedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	assert.Equal(t, late.ID, suspended[0].ID)
}
