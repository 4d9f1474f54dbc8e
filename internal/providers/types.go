package providers

import (
	"context"
	"time"
)

// UsageControl decides how a tool participates in the model loop.
type UsageControl string

const (
	// UsageAuto lets the model decide whether to call the tool.
	UsageAuto UsageControl = "auto"
	// UsageForce requires the model to call the tool before finishing.
	UsageForce UsageControl = "force"
	// UsageNone hides the tool from the model entirely.
	UsageNone UsageControl = "none"
)

// maxToolIterations caps the tool-calling loop. A model that keeps
// requesting tools is cut off after this many round trips.
const maxToolIterations = 10

// ToolDefinition is an executable tool surfaced to the model.
type ToolDefinition struct {
	ID           string
	Name         string
	Description  string
	Parameters   map[string]any // JSON schema object
	UsageControl UsageControl
	Execute      func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Message is one turn of provider-agnostic conversation history.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []MessageToolCall
	ToolCallID string
	Name       string
	IsError    bool
}

// MessageToolCall is an assistant-requested tool invocation inside a Message.
type MessageToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Request is a provider-agnostic model invocation.
type Request struct {
	Model          string
	SystemPrompt   string
	Context        string // the user turn
	Messages       []Message
	Tools          []ToolDefinition
	Temperature    *float32
	MaxTokens      int
	ResponseFormat string // "" or "json"
	APIKey         string
}

// TokenUsage is the aggregate token consumption across all model calls
// made while serving one Request.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Cost is the dollar cost derived from TokenUsage and the pricing table.
type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// ToolCall records one executed tool invocation within a Request.
type ToolCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	StartedAt  time.Time      `json:"startTime"`
	EndedAt    time.Time      `json:"endTime"`
	DurationMs int64          `json:"duration"`
}

// TimeSegment is one span of a Request's wall time, attributed to either
// a model call or a batch of tool executions.
type TimeSegment struct {
	Type       string    `json:"type"` // "model" or "tool"
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"startTime"`
	EndedAt    time.Time `json:"endTime"`
	DurationMs int64     `json:"duration"`
}

// Timing breaks down where a Request's wall time went.
type Timing struct {
	StartedAt           time.Time     `json:"startTime"`
	EndedAt             time.Time     `json:"endTime"`
	DurationMs          int64         `json:"duration"`
	ModelTimeMs         int64         `json:"modelTime"`
	ToolsTimeMs         int64         `json:"toolsTime"`
	FirstResponseTimeMs int64         `json:"firstResponseTime"`
	Iterations          int           `json:"iterations"`
	TimeSegments        []TimeSegment `json:"timeSegments,omitempty"`
}

// ModelPricing is the per-million-token rate for one model. CachedInput is
// zero when the model has no cached rate.
type ModelPricing struct {
	Input       float64 `json:"input"`
	Output      float64 `json:"output"`
	CachedInput float64 `json:"cachedInput,omitempty"`
}

// PricingFunc looks up a model's pricing. The second return is false when
// the model is not in the table.
type PricingFunc func(model string) (ModelPricing, bool)

// Response is the final outcome of a Request after the tool loop settles.
type Response struct {
	Content   string     `json:"content"`
	Model     string     `json:"model"`
	Tokens    TokenUsage `json:"tokens"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Timing    Timing     `json:"timing"`
	Cost      Cost       `json:"cost"`
}

// Provider executes model requests, running the tool loop to completion.
// Implementations do not retry failed model calls.
type Provider interface {
	ID() string
	Execute(ctx context.Context, req Request) (*Response, error)
}
