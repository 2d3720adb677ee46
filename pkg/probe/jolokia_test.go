package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent answers Jolokia requests from canned responses keyed by
// attribute or operation name.
type fakeAgent struct {
	mu        sync.Mutex
	responses map[string]jolokiaResponse
	requests  []jolokiaRequest
}

func newFakeAgent(t *testing.T) (*fakeAgent, *httptest.Server) {
	a := &fakeAgent{responses: make(map[string]jolokiaResponse)}
	srv := httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *fakeAgent) value(key string, v interface{}) {
	data, _ := json.Marshal(v)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[key] = jolokiaResponse{Value: data, Status: 200}
}

func (a *fakeAgent) fail(key string, status int, errorType string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[key] = jolokiaResponse{Status: status, ErrorType: errorType, Error: errorType + " : boom"}
}

func (a *fakeAgent) last() jolokiaRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

func (a *fakeAgent) serve(w http.ResponseWriter, r *http.Request) {
	var req jolokiaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := req.Attribute
	if req.Type == "exec" {
		key = req.Operation
	}

	a.mu.Lock()
	a.requests = append(a.requests, req)
	resp, ok := a.responses[key]
	a.mu.Unlock()

	if !ok {
		resp = jolokiaResponse{Value: json.RawMessage("null"), Status: 200}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestOperationMode(t *testing.T) {
	agent, srv := newFakeAgent(t)
	p := NewJolokiaProbe(srv.URL, time.Second)

	agent.value("OperationMode", "NORMAL")
	mode, err := p.OperationMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeNormal, mode)

	req := agent.last()
	assert.Equal(t, "read", req.Type)
	assert.Equal(t, storageServiceMBean, req.MBean)

	agent.value("OperationMode", "WARPING")
	_, err = p.OperationMode(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.False(t, IsTransient(err))
}

func TestRemoteFailureClassification(t *testing.T) {
	tests := []struct {
		errorType string
		status    int
		kind      error
	}{
		{"java.lang.IllegalArgumentException", 400, ErrInvalidArgument},
		{"javax.management.InstanceNotFoundException", 404, ErrInvalidArgument},
		{"java.lang.InterruptedException", 500, ErrInterrupted},
		{"java.io.IOException", 500, ErrTransport},
		{"java.rmi.ConnectException", 500, ErrTransport},
		{"javax.management.RuntimeMBeanException", 503, ErrTransport},
		{"java.lang.reflect.UndeclaredThrowableException", 500, ErrRemote},
		{"java.lang.UnsupportedOperationException", 500, ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			agent, srv := newFakeAgent(t)
			p := NewJolokiaProbe(srv.URL, time.Second)
			agent.fail(opCleanup, tt.status, tt.errorType)

			err := p.ForceKeyspaceCleanup(context.Background(), "ks1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, opCleanup, perr.Op)
		})
	}
}

func TestUnreachableAgentIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewJolokiaProbe(url, time.Second)
	_, err := p.OperationMode(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "transport", KindLabel(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewJolokiaProbe(srv.URL, time.Second).Keyspaces(context.Background())
	assert.True(t, IsTransient(err))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "<html>nope</html>", code)
			}))
			defer srv.Close()

			_, err := NewJolokiaProbe(srv.URL, time.Second).OperationMode(context.Background())
			require.Error(t, err)
			assert.False(t, IsTransient(err))
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, "invalid_argument", KindLabel(err))
		})
	}
}

func TestCancelledCallIsInterrupted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := NewJolokiaProbe(srv.URL, 0).Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.False(t, IsTransient(err))
}

func TestExecArguments(t *testing.T) {
	agent, srv := newFakeAgent(t)
	p := NewJolokiaProbe(srv.URL, time.Second)
	ctx := context.Background()

	require.NoError(t, p.ForceKeyspaceCompaction(ctx, "ks1", "t1", "t2"))
	req := agent.last()
	assert.Equal(t, opCompaction, req.Operation)
	assert.Equal(t, []interface{}{false, "ks1", []interface{}{"t1", "t2"}}, req.Arguments)

	require.NoError(t, p.ForceKeyspaceCleanup(ctx, "ks1"))
	assert.Equal(t, []interface{}{"ks1", []interface{}{}}, agent.last().Arguments)

	require.NoError(t, p.UpgradeSSTables(ctx, "ks1", true, 0))
	assert.Equal(t, []interface{}{"ks1", true, float64(0), []interface{}{}}, agent.last().Arguments)

	require.NoError(t, p.AssassinateEndpoint(ctx, "10.0.0.9"))
	assert.Equal(t, gossiperMBean, agent.last().MBean)
}

func TestRepairCalls(t *testing.T) {
	agent, srv := newFakeAgent(t)
	p := NewJolokiaProbe(srv.URL, time.Second)
	ctx := context.Background()

	agent.value(opRepair, 7)
	cmd, err := p.RepairAsync(ctx, "ks1", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cmd)

	agent.value(opRepairState, []string{"COMPLETED", "done"})
	state, err := p.RepairStatus(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, RepairCompleted, state)

	agent.value(opRepairState, nil)
	_, err = p.RepairStatus(ctx, 8)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSnapshot(t *testing.T) {
	agent, srv := newFakeAgent(t)
	p := NewJolokiaProbe(srv.URL, time.Second)

	agent.value("OperationMode", "NORMAL")
	agent.value("LocalHostId", "host-a")
	agent.value("HostIdToEndpoint", map[string]string{"host-a": "10.0.0.1", "host-b": "10.0.0.2"})
	agent.value("Tokens", []string{"1", "2", "3"})
	agent.value("Datacenter", "dc1")
	agent.value("Rack", "rack1")
	agent.value("ReleaseVersion", "4.1.3")
	agent.value("Joined", true)
	agent.value("Initialized", true)
	agent.value("GossipRunning", true)
	agent.value("NativeTransportRunning", false)

	info, err := Snapshot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, types.NodeInfo{
		Mode:                   types.ModeNormal,
		Joined:                 true,
		Initialized:            true,
		GossipRunning:          true,
		NativeTransportRunning: false,
		HostID:                 "host-a",
		Endpoint:               "10.0.0.1",
		TokenCount:             3,
		Datacenter:             "dc1",
		Rack:                   "rack1",
		ReleaseVersion:         "4.1.3",
	}, info)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "ok", KindLabel(nil))
	assert.Equal(t, "invalid_argument", KindLabel(&Error{Op: "x", Kind: ErrInvalidArgument}))
	assert.Equal(t, "unknown", KindLabel(errors.New("plain")))
}
