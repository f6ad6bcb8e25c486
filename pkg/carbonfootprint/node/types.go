package node

import (
	"encoding/json"
	"sync"
	"time"
)

// ModelDescriptor identifies the ML model whose footprint is estimated
type ModelDescriptor interface {
	Model() string
}

// UserInput carries the problem description and the optional task metadata
type UserInput interface {
	ProblemDescription() string
	ExtraData() []byte
}

// HardwareDescriptor describes the hardware the task runs on
type HardwareDescriptor interface {
	HardwareDescription() string
	LatencyMillis() float64
	PowerConsumptionWatts() float64
}

// ModelInfo is the wire form of a ModelDescriptor
type ModelInfo struct {
	Name string `json:"model"`
}

func (m ModelInfo) Model() string {
	return m.Name
}

// UserInputInfo is the wire form of a UserInput
type UserInputInfo struct {
	Problem string          `json:"problem_description"`
	Extra   json.RawMessage `json:"extra_data,omitempty"`
}

func (u UserInputInfo) ProblemDescription() string {
	return u.Problem
}

func (u UserInputInfo) ExtraData() []byte {
	return u.Extra
}

// HardwareInfo is the wire form of a HardwareDescriptor
type HardwareInfo struct {
	Description string  `json:"hw_description"`
	Latency     float64 `json:"latency"`           // ms
	Power       float64 `json:"power_consumption"` // W
}

func (h HardwareInfo) HardwareDescription() string {
	return h.Description
}

func (h HardwareInfo) LatencyMillis() float64 {
	return h.Latency
}

func (h HardwareInfo) PowerConsumptionWatts() float64 {
	return h.Power
}

// Node task states
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
)

// NodeStatus is updated by the task callback while it runs
type NodeStatus struct {
	mu         sync.Mutex
	node       string
	state      string
	lastTask   time.Time
	lastResult string
}

// NodeStatusSnapshot is a point-in-time copy of a NodeStatus
type NodeStatusSnapshot struct {
	Node       string    `json:"node"`
	State      string    `json:"state"`
	LastTask   time.Time `json:"last_task,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
}

// NewNodeStatus creates an idle status for the named node
func NewNodeStatus(node string) *NodeStatus {
	return &NodeStatus{node: node, state: StateIdle}
}

func (s *NodeStatus) begin(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
	s.lastTask = now
}

func (s *NodeStatus) finish(outcome string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	if failed {
		s.state = StateError
	}
	s.lastResult = outcome
}

// Snapshot returns the current status
func (s *NodeStatus) Snapshot() NodeStatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NodeStatusSnapshot{
		Node:       s.node,
		State:      s.state,
		LastTask:   s.lastTask,
		LastResult: s.lastResult,
	}
}

func (s *NodeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// ConfigurationRequest asks the node to apply an opaque configuration
type ConfigurationRequest struct {
	NodeID        string `json:"node_id"`
	TransactionID string `json:"transaction_id"`
	Configuration string `json:"configuration"`
}

// ConfigurationResponse answers a ConfigurationRequest
type ConfigurationResponse struct {
	NodeID        string `json:"node_id"`
	TransactionID string `json:"transaction_id"`
	Configuration string `json:"configuration"`
	Success       bool   `json:"success"`
	ErrCode       int    `json:"err_code"`
}
