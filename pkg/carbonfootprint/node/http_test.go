package node

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/store"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPTask(t *testing.T) {
	n := newTestNode(t, &fakeRunner{outcome: types.Success(types.RawSample{CarbonMassGrams: 50})})
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/v1/task", `{
		"model": {"model": "gpt-x"},
		"user_input": {"problem_description": "p", "extra_data": {"model_restrains": []}},
		"hardware": {"hw_description": "PIM_AI_1chip", "latency": 3600000, "power_consumption": 100}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got struct {
		NodeStatus      NodeStatusSnapshot `json:"node_status"`
		CarbonFootprint struct {
			CarbonFootprint   float64         `json:"carbon_footprint"`
			EnergyConsumption float64         `json:"energy_consumption"`
			CarbonIntensity   float64         `json:"carbon_intensity"`
			ExtraData         json.RawMessage `json:"extra_data"`
		} `json:"carbon_footprint"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, StateIdle, got.NodeStatus.State)
	assert.InDelta(t, 0.05, got.CarbonFootprint.CarbonFootprint, 1e-12)
	assert.InDelta(t, 100.0, got.CarbonFootprint.EnergyConsumption, 1e-12)
	assert.InDelta(t, 500.0, got.CarbonFootprint.CarbonIntensity, 1e-9)
	assert.JSONEq(t, `{"model_restrains": ["gpt-x"]}`, string(got.CarbonFootprint.ExtraData))
}

func TestHTTPTaskBadBody(t *testing.T) {
	n := newTestNode(t, &fakeRunner{})
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/v1/task", `{"model":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPConfiguration(t *testing.T) {
	n := newTestNode(t, &fakeRunner{})
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/v1/configuration", `{"node_id": "n1", "transaction_id": "t1", "configuration": "{}"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ConfigurationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "n1", got.NodeID)
	assert.Equal(t, "t1", got.TransactionID)
	assert.False(t, got.Success)
	assert.Equal(t, 1, got.ErrCode)
	assert.JSONEq(t, `{"message": "Carbon footprint configuration not supported."}`, got.Configuration)
}

func TestHTTPHistory(t *testing.T) {
	h, err := store.NewSQLiteHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	n := newTestNode(t, &fakeRunner{outcome: types.Timeout()}, WithHistory(h))
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		post(t, srv.URL+"/v1/task", `{"model": {"model": "m"}, "hardware": {"latency": 10, "power_consumption": 1}}`)
	}

	resp, err := http.Get(srv.URL + "/v1/history?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []types.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.Len(t, entries, 2)
	assert.Equal(t, "timeout", entries[0].Outcome)

	bad, err := http.Get(srv.URL + "/v1/history?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTPHistoryDisabled(t *testing.T) {
	n := newTestNode(t, &fakeRunner{})
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	n := newTestNode(t, &fakeRunner{})
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/task")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSpinStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	runner := &fakeRunner{}
	cfg := testConfig(t)
	cfg.Node.ListenAddr = addr
	n, err := New(cfg, WithRunner(runner), WithResolver(fixedResolver{}))
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Spin(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Spin did not return after cancellation")
	}
}
