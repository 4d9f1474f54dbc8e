package models

import "time"

// ExecutionResult is the outcome of running a serialized workflow.
// Logs are ordered by block completion time, which is also the append
// order under the sequential scheduler.
type ExecutionResult struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Logs        []BlockLog     `json:"logs"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     time.Time      `json:"endedAt"`
	DurationMs  int64          `json:"durationMs"`
}

// BlockLog records one block execution. A block that runs N times inside
// a loop produces N entries.
type BlockLog struct {
	BlockID    string         `json:"blockId"`
	BlockName  string         `json:"blockName"`
	BlockType  string         `json:"blockType"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	EndedAt    time.Time      `json:"endedAt"`
	DurationMs int64          `json:"durationMs"`
	Output     map[string]any `json:"output,omitempty"`
}
