package domain

import "time"

// RunStatus defines the current phase of a run.
type RunStatus string

const (
	StatusSelecting  RunStatus = "selecting"
	StatusExecuting  RunStatus = "executing"
	StatusTerminated RunStatus = "terminated" // A terminal tool completed.
	StatusFailed     RunStatus = "failed"     // No forward progress was possible.
	StatusCancelled  RunStatus = "cancelled"
)

// DecisionEntry is one record of the decision history.
type DecisionEntry struct {
	Sequence  int            `json:"sequence"`
	NodeID    string         `json:"node_id"`
	ToolName  string         `json:"tool_name"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Forced    bool           `json:"forced,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunState is the mutable per-run bundle.
// It is owned by exactly one engine invocation and never shared between concurrent runs.
type RunState struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Request is the user request that started the run.
	Request string `json:"request"`

	CurrentNodeID string          `json:"current_node_id"`
	Environment   *Environment    `json:"environment"`
	History       []DecisionEntry `json:"history"`

	// Step counts successfully executed selections.
	Step int `json:"step"`
	// Iterations counts selection cycles, including failed ones. The step guard uses it.
	Iterations int `json:"iterations"`

	Status    RunStatus `json:"status"`
	Halted    bool      `json:"halted"`
	LastError string    `json:"last_error,omitempty"`

	// Err is the fatal error that halted the run, if any.
	Err error `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewRunState creates a clean state positioned at the given node.
func NewRunState(id, startNodeID, request string) *RunState {
	return &RunState{
		ID:            id,
		Request:       request,
		CurrentNodeID: startNodeID,
		Environment:   NewEnvironment(),
		History:       []DecisionEntry{},
		Status:        StatusSelecting,
		StartedAt:     time.Now(),
	}
}

// RecordDecision appends an entry to the history, assigning its sequence number.
func (s *RunState) RecordDecision(entry DecisionEntry) DecisionEntry {
	entry.Sequence = len(s.History) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.History = append(s.History, entry)
	return entry
}

// Entries returns a copy of the decision history.
func (s *RunState) Entries() []DecisionEntry {
	out := make([]DecisionEntry, len(s.History))
	copy(out, s.History)
	return out
}

// HasExecuted reports whether the tool appears in the decision history.
func (s *RunState) HasExecuted(tool string) bool {
	for _, e := range s.History {
		if e.ToolName == tool {
			return true
		}
	}
	return false
}

// ToolSequence returns the executed tool names in order.
func (s *RunState) ToolSequence() []string {
	out := make([]string, len(s.History))
	for i, e := range s.History {
		out[i] = e.ToolName
	}
	return out
}

// Done reports whether the run reached a final status.
func (s *RunState) Done() bool {
	switch s.Status {
	case StatusTerminated, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot returns a copy whose environment and history can be read independently.
func (s *RunState) Snapshot() *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.Environment = s.Environment.Clone()
	out.History = s.Entries()
	return &out
}
