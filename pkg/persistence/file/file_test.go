package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/persistence/persistencetest"
	"github.com/nexuspro/flows/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestFilePersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence("file://" + dir)
	require.NoError(t, p.HealthCheck(t.Context()))

	missing := NewPersistence(filepath.Join(dir, "missing"))
	assert.Error(t, missing.HealthCheck(t.Context()))
}

func TestFilePersistence_RejectsPathTraversal(t *testing.T) {
	p := NewPersistence(t.TempDir())

	tests := []string{"../escape", "a/b", ".hidden", "..", ""}

	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			_, err := p.GraphRepository().LoadGraph(t.Context(), id, persistence.LatestVersion)
			assert.ErrorIs(t, err, persistence.ErrInvalidID)

			_, err = p.RunRepository().LoadRun(t.Context(), id)
			assert.ErrorIs(t, err, persistence.ErrInvalidID)
		})
	}
}

func TestGraphRepository_SkipsExistingVersionFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewGraphRepository(dir)

	g := testutil.WelcomeGraph()
	id, version, err := repo.SaveGraph(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// A version file written by a crashed save must never be overwritten.
	orphan := filepath.Join(dir, "graphs", id, "v2.json")
	require.NoError(t, os.WriteFile(orphan, []byte(`{"id":"orphan"}`), 0600))

	next := testutil.WelcomeGraph()
	next.ID = id
	_, version, err = repo.SaveGraph(t.Context(), next)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	body, err := os.ReadFile(orphan)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"orphan"}`, string(body))
}

func TestRunRepository_WritesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewRunRepository(dir)

	run := testRun()
	require.NoError(t, repo.SaveRun(t.Context(), run))
	require.NoError(t, repo.SaveRun(t.Context(), run))

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, run.ID+".json", entries[0].Name())
}

func testRun() *models.RunRecord {
	return &models.RunRecord{
		ID:            "run-1",
		GraphID:       "graph-1",
		GraphVersion:  1,
		Status:        models.RunStatusRunning,
		CurrentNodeID: "trigger",
		Variables:     map[string]string{},
	}
}
