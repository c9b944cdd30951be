package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/nexuspro/flows/pkg/engine"
	"github.com/nexuspro/flows/pkg/mocks"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence/file"
	"github.com/nexuspro/flows/pkg/registry"
	"github.com/nexuspro/flows/pkg/services"
	"github.com/nexuspro/flows/pkg/supervisor"
	"github.com/nexuspro/flows/pkg/testutil"
	"github.com/nexuspro/flows/pkg/trigger"
	"github.com/nexuspro/flows/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const notifyYAML = `
name: Notify on inbound
entry_node_id: trigger
nodes:
  trigger:
    id: trigger
    kind: trigger
    trigger:
      type: inbound_message
  notify:
    id: notify
    kind: action
    action:
      type: send_message
      params:
        body: "Got {{text}}"
edges:
  - id: e1
    source_node_id: trigger
    target_node_id: notify
`

type problem struct {
	Type       string `json:"type"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Violations []struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	} `json:"violations"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestApp(t *testing.T) (*fiber.App, *mocks.MockAdapter) {
	t.Helper()

	logger := testLogger()
	store := file.NewPersistence(t.TempDir())

	send := mocks.NewMockAdapter(models.ActionTypeSendMessage)
	send.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(map[string]string{}, nil)

	crm := mocks.NewMockAdapter(models.ActionTypeUpdateCRMField)
	crm.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(map[string]string{}, nil)

	reg := registry.NewRegistry(logger, time.Second)
	require.NoError(t, reg.Register(send))
	require.NoError(t, reg.Register(crm))

	eng := engine.New(logger, store, reg)

	sup, err := supervisor.New(logger, eng, store.RunRepository(), supervisor.Config{})
	require.NoError(t, err)

	graphs := services.NewGraphs(logger, store,
		services.WithParamChecker(reg),
		services.WithEvaluator(eng.Evaluator()),
		services.WithCanceller(sup),
	)
	runs := services.NewRuns(logger, store, sup)
	triggers := trigger.NewRegistry(logger, store.GraphRepository(), eng)

	handlers := web.NewAPIHandlers(graphs, runs, triggers, sup, validator.New(validator.WithRequiredStructEnabled()))

	return web.NewApp(handlers), send
}

func do(t *testing.T, app *fiber.App, method, path, contentType string, body []byte) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (int, []byte) {
	t.Helper()

	if payload == nil {
		return do(t, app, method, path, "", nil)
	}

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	return do(t, app, method, path, "application/json", body)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))

	return out
}

func createGraph(t *testing.T, app *fiber.App, g *models.WorkflowGraph) string {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/graphs", g)
	require.Equal(t, http.StatusCreated, status, string(body))

	return decode[web.GraphResponse](t, body).Graph.ID
}

func activate(t *testing.T, app *fiber.App, id string) {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/graphs/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))
}

func publish(t *testing.T, app *fiber.App, triggerType string, payload map[string]string) web.PublishTriggerResponse {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/triggers/"+triggerType, web.PublishTriggerRequest{Payload: payload})
	require.Equal(t, http.StatusAccepted, status, string(body))

	return decode[web.PublishTriggerResponse](t, body)
}

func TestAPI_RootAndHealth(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "NexusPro Flows API", string(body))

	status, body = do(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	health := decode[web.HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.Runs)
	assert.Zero(t, health.Runs.Running)
}

func TestAPI_GraphLifecycle(t *testing.T) {
	app, send := setupTestApp(t)

	id := createGraph(t, app, testutil.WelcomeGraph())

	status, body := doJSON(t, app, http.MethodGet, "/graphs/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decode[models.WorkflowGraph](t, body).Version)

	edited := testutil.WelcomeGraph()
	edited.Name = "Welcome v2"

	status, body = doJSON(t, app, http.MethodPut, "/graphs/"+id, edited)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 2, decode[web.GraphResponse](t, body).Graph.Version)

	status, body = doJSON(t, app, http.MethodGet, "/graphs/"+id+"?version=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Welcome new leads", decode[models.WorkflowGraph](t, body).Name)

	status, body = doJSON(t, app, http.MethodGet, "/graphs", nil)
	require.Equal(t, http.StatusOK, status)

	listed := decode[struct {
		Graphs []*models.GraphState `json:"graphs"`
	}](t, body)
	require.Len(t, listed.Graphs, 1)
	assert.False(t, listed.Graphs[0].Active)

	activate(t, app, id)

	published := publish(t, app, string(models.TriggerTypeNewLead), map[string]string{
		"lead_id": "L1", "email": "ada@example.com", "name": "Ada",
	})
	require.Len(t, published.RunIDs, 1)
	assert.Empty(t, published.Errors)
	send.AssertNumberOfCalls(t, "Execute", 1)

	runID := published.RunIDs[0]

	status, body = doJSON(t, app, http.MethodGet, "/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, status)

	run := decode[models.RunRecord](t, body)
	assert.Equal(t, models.RunStatusSuspended, run.Status)
	assert.Equal(t, 2, run.GraphVersion)

	status, body = doJSON(t, app, http.MethodGet, "/graphs/"+id+"/runs", nil)
	require.Equal(t, http.StatusOK, status)

	runs := decode[struct {
		Runs []*models.RunRecord `json:"runs"`
	}](t, body)
	assert.Len(t, runs.Runs, 1)

	status, body = doJSON(t, app, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.RunStatusCancelled, decode[models.RunRecord](t, body).Status)

	status, _ = doJSON(t, app, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodPost, "/graphs/"+id+"/deactivate", nil)
	require.Equal(t, http.StatusOK, status)

	deactivated := decode[web.DeactivateGraphResponse](t, body)
	assert.False(t, deactivated.Graph.Active)
	assert.Zero(t, deactivated.CancelledRuns)

	assert.Empty(t, publish(t, app, string(models.TriggerTypeNewLead), map[string]string{"lead_id": "L2"}).RunIDs)
}

func TestAPI_CreateGraphRejectsInvalidGraph(t *testing.T) {
	app, _ := setupTestApp(t)

	invalid := testutil.NewGraph("Loop", models.TriggerTypeNewLead).
		Action("a", models.ActionTypeSendMessage, map[string]string{"body": "a"}).
		Action("b", models.ActionTypeSendMessage, map[string]string{"body": "b"}).
		Edge("trigger", "a").
		Edge("a", "b").
		Edge("b", "a").
		Build()

	status, body := doJSON(t, app, http.MethodPost, "/graphs", invalid)
	require.Equal(t, http.StatusBadRequest, status)

	p := decode[problem](t, body)
	assert.Equal(t, "invalid_graph", p.Type)
	assert.NotEmpty(t, p.Violations)

	status, body = doJSON(t, app, http.MethodGet, "/graphs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"graphs":[]}`, string(body))
}

func TestAPI_CreateGraphRejectsMalformedBody(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/graphs", "application/json", []byte(`{"name":`))
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", decode[problem](t, body).Type)
}

func TestAPI_ImportGraph(t *testing.T) {
	app, send := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/graphs/import", "application/yaml", []byte(notifyYAML))
	require.Equal(t, http.StatusCreated, status, string(body))

	imported := decode[web.GraphResponse](t, body)
	assert.Equal(t, "Notify on inbound", imported.Graph.Name)

	activate(t, app, imported.Graph.ID)

	published := publish(t, app, string(models.TriggerTypeInboundMessage), map[string]string{"text": "hello"})
	require.Len(t, published.RunIDs, 1)

	status, body = doJSON(t, app, http.MethodGet, "/runs/"+published.RunIDs[0], nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RunStatusCompleted, decode[models.RunRecord](t, body).Status)

	send.AssertCalled(t, "Execute", mock.Anything, models.ActionTypeSendMessage, map[string]string{"body": "Got hello"}, time.Second)
}

func TestAPI_ImportGraphRejectsCandidate(t *testing.T) {
	app, _ := setupTestApp(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		wantType    string
	}{
		{
			name:        "schema mismatch",
			contentType: "application/json",
			body:        `{"name": "x", "nodes": {}, "edges": []}`,
			wantType:    "invalid_graph",
		},
		{
			name:        "unknown adapter",
			contentType: "application/yaml",
			body: `
name: Unknown action
entry_node_id: trigger
nodes:
  trigger: {id: trigger, kind: trigger, trigger: {type: new_lead}}
  fax: {id: fax, kind: action, action: {type: send_fax}}
edges:
  - {id: e1, source_node_id: trigger, target_node_id: fax}
`,
			wantType: "invalid_graph",
		},
		{
			name:        "broken yaml",
			contentType: "application/yaml",
			body:        "name: [unclosed",
			wantType:    "validation_error",
		},
		{
			name:        "empty body",
			contentType: "application/json",
			wantType:    "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, "/graphs/import", tt.contentType, []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, status, string(body))
			assert.Equal(t, tt.wantType, decode[problem](t, body).Type)
		})
	}

	status, body := doJSON(t, app, http.MethodGet, "/graphs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"graphs":[]}`, string(body))
}

func TestAPI_ValidateGraph(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/graphs/validate", testutil.BranchGraph())
	require.Equal(t, http.StatusOK, status, string(body))
	assert.True(t, decode[web.ValidateGraphResponse](t, body).Valid)

	orphan := testutil.BranchGraph()
	orphan.Nodes["orphan"] = &models.Node{
		ID:     "orphan",
		Kind:   models.NodeKindAction,
		Action: &models.ActionConfig{Type: models.ActionTypeSendMessage},
	}

	status, body = doJSON(t, app, http.MethodPost, "/graphs/validate", orphan)
	require.Equal(t, http.StatusOK, status, string(body))

	result := decode[web.ValidateGraphResponse](t, body)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Violations)
}

func TestAPI_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	tests := []struct {
		method   string
		path     string
		wantType string
	}{
		{method: http.MethodGet, path: "/graphs/missing", wantType: "graph_not_found"},
		{method: http.MethodPost, path: "/graphs/missing/activate", wantType: "graph_not_found"},
		{method: http.MethodGet, path: "/graphs/missing/runs", wantType: "graph_not_found"},
		{method: http.MethodGet, path: "/runs/missing", wantType: "run_not_found"},
		{method: http.MethodPost, path: "/runs/missing/cancel", wantType: "run_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := doJSON(t, app, tt.method, tt.path, nil)
			require.Equal(t, http.StatusNotFound, status, string(body))
			assert.Equal(t, tt.wantType, decode[problem](t, body).Type)
		})
	}
}

func TestAPI_GetGraphInvalidVersion(t *testing.T) {
	app, _ := setupTestApp(t)

	id := createGraph(t, app, testutil.WelcomeGraph())

	status, _ := doJSON(t, app, http.MethodGet, "/graphs/"+id+"?version=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, app, http.MethodGet, "/graphs/"+id+"?version=7", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "graph_version_not_found", decode[problem](t, body).Type)
}

func TestAPI_PublishUnknownTriggerType(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/triggers/carrier_pigeon", web.PublishTriggerRequest{})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", decode[problem](t, body).Type)
}

func TestAPI_CancelCompletedRunConflicts(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/graphs/import", "application/yaml", []byte(notifyYAML))
	require.Equal(t, http.StatusCreated, status, string(body))

	id := decode[web.GraphResponse](t, body).Graph.ID
	activate(t, app, id)

	published := publish(t, app, string(models.TriggerTypeInboundMessage), map[string]string{"text": "hi"})
	require.Len(t, published.RunIDs, 1)

	status, body = doJSON(t, app, http.MethodPost, "/runs/"+published.RunIDs[0]+"/cancel", nil)
	require.Equal(t, http.StatusConflict, status, string(body))
	assert.Equal(t, "conflict", decode[problem](t, body).Type)
}

func TestAPI_DeactivateCancelsRuns(t *testing.T) {
	app, _ := setupTestApp(t)

	id := createGraph(t, app, testutil.WelcomeGraph())
	activate(t, app, id)

	for _, lead := range []string{"L1", "L2"} {
		require.Len(t, publish(t, app, string(models.TriggerTypeNewLead), map[string]string{"lead_id": lead}).RunIDs, 1)
	}

	status, _ := doJSON(t, app, http.MethodPost, "/graphs/"+id+"/deactivate?cancel_runs=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, app, http.MethodPost, "/graphs/"+id+"/deactivate?cancel_runs=true", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 2, decode[web.DeactivateGraphResponse](t, body).CancelledRuns)

	status, body = doJSON(t, app, http.MethodGet, "/graphs/"+id+"/runs", nil)
	require.Equal(t, http.StatusOK, status)

	runs := decode[struct {
		Runs []*models.RunRecord `json:"runs"`
	}](t, body)
	require.Len(t, runs.Runs, 2)

	for _, run := range runs.Runs {
		assert.Equal(t, models.RunStatusCancelled, run.Status)
	}
}
