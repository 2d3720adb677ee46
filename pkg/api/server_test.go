package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlans struct {
	mu          sync.Mutex
	interrupted bool
}

func (p *fakePlans) Status() plan.PlanStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return plan.PlanStatus{Name: "deploy", Strategy: "serial", Interrupted: p.interrupted}
}

func (p *fakePlans) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupted = true
}

func (p *fakePlans) Proceed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupted = false
}

type fakeTasks struct {
	records map[string]*types.TaskRecord
}

func (t *fakeTasks) List() []*types.TaskRecord {
	out := make([]*types.TaskRecord, 0, len(t.records))
	for _, name := range []string{"node-0", "node-1"} {
		if rec, ok := t.records[name]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (t *fakeTasks) Get(node string) (*types.TaskRecord, error) {
	rec, ok := t.records[node]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (t *fakeTasks) MarkReplace(node string) error {
	rec, ok := t.records[node]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Replace = true
	return nil
}

type fakeFramework bool

func (f fakeFramework) IsRegistered() bool { return bool(f) }

type fakeIdentity string

func (i fakeIdentity) Get() (string, error) { return string(i), nil }

func newTestServer() (*Server, *fakePlans, *fakeTasks) {
	plans := &fakePlans{}
	tasks := &fakeTasks{records: map[string]*types.TaskRecord{
		"node-0": {Name: "node-0", TaskID: "node-0__1", State: types.TaskStateRunning, Mode: types.ModeNormal},
		"node-1": {Name: "node-1", TaskID: "node-1__1", State: types.TaskStateStaging, Mode: types.ModeStarting},
	}}
	return NewServer("test", plans, tasks, fakeFramework(true), fakeIdentity("fw-1")), plans, tasks
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPlanEndpoints(t *testing.T) {
	s, plans, _ := newTestServer()

	w := do(t, s, http.MethodGet, "/v1/plan")
	require.Equal(t, http.StatusOK, w.Code)
	var st plan.PlanStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "deploy", st.Name)
	assert.False(t, st.Interrupted)

	w = do(t, s, http.MethodPost, "/v1/plan/interrupt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, plans.interrupted)

	w = do(t, s, http.MethodPost, "/v1/plan/continue")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, plans.interrupted)

	w = do(t, s, http.MethodGet, "/v1/plan/interrupt")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTaskEndpoints(t *testing.T) {
	s, _, tasks := newTestServer()

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"list", http.MethodGet, "/v1/tasks", http.StatusOK},
		{"get", http.MethodGet, "/v1/tasks/node-0", http.StatusOK},
		{"get unknown", http.MethodGet, "/v1/tasks/node-9", http.StatusNotFound},
		{"replace", http.MethodPost, "/v1/tasks/node-1/replace", http.StatusOK},
		{"replace unknown", http.MethodPost, "/v1/tasks/node-9/replace", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}

	assert.True(t, tasks.records["node-1"].Replace)

	w := do(t, s, http.MethodGet, "/v1/tasks")
	var recs []types.TaskRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "node-0", recs[0].Name)
}

func TestFrameworkEndpoint(t *testing.T) {
	s, _, _ := newTestServer()

	w := do(t, s, http.MethodGet, "/v1/framework")
	require.Equal(t, http.StatusOK, w.Code)

	var info FrameworkInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, FrameworkInfo{ID: "fw-1", Cluster: "test", Registered: true}, info)
}

func TestHealthRoutes(t *testing.T) {
	s, _, _ := newTestServer()

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/livez").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics").Code)

	// readiness depends on global component state; only the body shape is checked
	w := do(t, s, http.MethodGet, "/ready")
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body, "status")
}
