package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/publish"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

const (
	maxRequestBytes     = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// TaskRequest is the body of POST /v1/task
type TaskRequest struct {
	Model     ModelInfo     `json:"model"`
	UserInput UserInputInfo `json:"user_input"`
	Hardware  HardwareInfo  `json:"hardware"`
}

// TaskResponse is the reply to POST /v1/task
type TaskResponse struct {
	NodeStatus      NodeStatusSnapshot             `json:"node_status"`
	CarbonFootprint *publish.CarbonFootprintOutput `json:"carbon_footprint"`
}

// Handler returns the HTTP API of the node
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/task", n.serveTask)
	mux.HandleFunc("POST /v1/configuration", n.serveConfiguration)
	mux.HandleFunc("GET /v1/history", n.serveHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (n *Node) serveTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to unmarshal request: %v", err), http.StatusBadRequest)
		return
	}

	out := &publish.CarbonFootprintOutput{}
	status := n.Task(r.Context(), req.Model, req.UserInput, req.Hardware, n.status, out)

	writeJSON(w, TaskResponse{
		NodeStatus:      status,
		CarbonFootprint: out,
	})
}

func (n *Node) serveConfiguration(w http.ResponseWriter, r *http.Request) {
	var req ConfigurationRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to unmarshal request: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, n.Configure(req))
}

func (n *Node) serveHistory(w http.ResponseWriter, r *http.Request) {
	if n.history == nil {
		http.Error(w, "Measurement history is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, fmt.Sprintf("Invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	entries, err := n.history.Recent(limit)
	if err != nil {
		klog.ErrorS(err, "Failed to read measurement history")
		http.Error(w, "Failed to read measurement history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	writeJSON(w, entries)
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Spin serves the HTTP API on the configured address until ctx is cancelled
func (n *Node) Spin(ctx context.Context) error {
	server := &http.Server{
		Addr:              n.cfg.Node.ListenAddr,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.InfoS("Starting carbon footprint node", "node", n.cfg.Node.Name, "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("carbon footprint node server failed: %w", err)
	case <-ctx.Done():
	}

	klog.InfoS("Shutting down carbon footprint node", "node", n.cfg.Node.Name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Measurement.Deadline+n.cfg.Measurement.TeardownDelay)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down node server: %w", err)
	}
	return nil
}
