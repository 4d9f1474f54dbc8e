package logs

import "time"

// Entry levels. Every execution persists one block entry per executed block
// plus one workflow summary entry.
const (
	LevelBlock    = "block"
	LevelWorkflow = "workflow"
)

// Entry is one persisted execution log row.
type Entry struct {
	WorkflowID  string    `bson:"workflowId" json:"workflowId"`
	ExecutionID string    `bson:"executionId" json:"executionId"`
	Level       string    `bson:"level" json:"level"`
	Sequence    int       `bson:"sequence" json:"sequence"`
	TriggerType string    `bson:"triggerType,omitempty" json:"triggerType,omitempty"`
	BlockID     string    `bson:"blockId,omitempty" json:"blockId,omitempty"`
	BlockName   string    `bson:"blockName,omitempty" json:"blockName,omitempty"`
	BlockType   string    `bson:"blockType,omitempty" json:"blockType,omitempty"`
	Success     bool      `bson:"success" json:"success"`
	Error       string    `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt   time.Time `bson:"startedAt" json:"startedAt"`
	EndedAt     time.Time `bson:"endedAt" json:"endedAt"`
	DurationMs  int64     `bson:"durationMs" json:"durationMs"`

	// Agent-block fields.
	Model     string     `bson:"model,omitempty" json:"model,omitempty"`
	ToolCalls []ToolCall `bson:"toolCalls,omitempty" json:"toolCalls,omitempty"`
	Tokens    *Tokens    `bson:"tokens,omitempty" json:"tokens,omitempty"`
	Cost      *Cost      `bson:"cost,omitempty" json:"cost,omitempty"`

	// Workflow-level summary fields.
	Totals       *Totals        `bson:"totals,omitempty" json:"totals,omitempty"`
	PrimaryModel string         `bson:"primaryModel,omitempty" json:"primaryModel,omitempty"`
	Pricing      map[string]any `bson:"pricing,omitempty" json:"pricing,omitempty"`
}

// ExecutionRecord is the one-row-per-execution summary document, the unit
// history queries page over.
type ExecutionRecord struct {
	ExecutionID  string    `bson:"executionId" json:"executionId"`
	WorkflowID   string    `bson:"workflowId" json:"workflowId"`
	Success      bool      `bson:"success" json:"success"`
	Error        string    `bson:"error,omitempty" json:"error,omitempty"`
	TriggerType  string    `bson:"triggerType,omitempty" json:"triggerType,omitempty"`
	UserID       string    `bson:"userId,omitempty" json:"userId,omitempty"`
	BlockCount   int       `bson:"blockCount" json:"blockCount"`
	PrimaryModel string    `bson:"primaryModel,omitempty" json:"primaryModel,omitempty"`
	Totals       Totals    `bson:"totals" json:"totals"`
	StartedAt    time.Time `bson:"startedAt" json:"startedAt"`
	EndedAt      time.Time `bson:"endedAt" json:"endedAt"`
	DurationMs   int64     `bson:"durationMs" json:"durationMs"`
}

// ToolCall is a normalized tool invocation record, reconciled from the
// heterogeneous shapes providers leave in block outputs.
type ToolCall struct {
	Name       string         `bson:"name" json:"name"`
	Status     string         `bson:"status" json:"status"` // success or error
	Input      map[string]any `bson:"input,omitempty" json:"input,omitempty"`
	Output     map[string]any `bson:"output,omitempty" json:"output,omitempty"`
	Error      string         `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt  time.Time      `bson:"startedAt" json:"startedAt"`
	EndedAt    time.Time      `bson:"endedAt" json:"endedAt"`
	DurationMs int64          `bson:"durationMs" json:"durationMs"`
}

// Tokens is per-entry token usage.
type Tokens struct {
	Prompt     int `bson:"prompt" json:"prompt"`
	Completion int `bson:"completion" json:"completion"`
	Total      int `bson:"total" json:"total"`
}

// Cost is per-entry dollar cost.
type Cost struct {
	Input  float64 `bson:"input" json:"input"`
	Output float64 `bson:"output" json:"output"`
	Total  float64 `bson:"total" json:"total"`
}

// Totals is the workflow-level accumulation across agent blocks.
type Totals struct {
	Cost             Cost  `bson:"cost" json:"cost"`
	PromptTokens     int   `bson:"promptTokens" json:"promptTokens"`
	CompletionTokens int   `bson:"completionTokens" json:"completionTokens"`
	TotalTokens      int   `bson:"totalTokens" json:"totalTokens"`
	ModelCalls       int   `bson:"modelCalls" json:"modelCalls"`
	DurationMs       int64 `bson:"durationMs" json:"durationMs"`
}

// UserStats is the per-user running total flushed once per execution.
type UserStats struct {
	Executions  int64     `bson:"executions" json:"executions"`
	Successful  int64     `bson:"successful" json:"successful"`
	Failed      int64     `bson:"failed" json:"failed"`
	TotalTokens int64     `bson:"totalTokens" json:"totalTokens"`
	TotalCost   float64   `bson:"totalCost" json:"totalCost"`
	LastActive  time.Time `bson:"lastActive" json:"lastActive"`
}

// Trigger describes what started the execution being persisted.
type Trigger struct {
	Type   string // api, chat, webhook, manual
	UserID string
}
