package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// toolChoice is the directive passed to the backend for one model call.
type toolChoice struct {
	mode string // "auto" or "tool"
	name string // set when mode is "tool"
}

// backendResult is one raw model turn before tool execution.
type backendResult struct {
	content          string
	toolCalls        []MessageToolCall
	promptTokens     int
	completionTokens int
}

// chatBackend makes a single model call. Adapters implement this over their
// SDK; the tool loop above it is shared.
type chatBackend interface {
	call(ctx context.Context, req Request, msgs []Message, tools []ToolDefinition, choice toolChoice) (*backendResult, error)
}

// runToolLoop drives the iterative tool-calling conversation: call the model,
// execute any requested tools, feed results back, repeat until the model
// answers without tool calls or the iteration ceiling is hit. Model and
// network failures are returned as-is, never retried.
func runToolLoop(ctx context.Context, backend chatBackend, providerID string, req Request, pricing PricingFunc) (*Response, error) {
	logger := slog.With("provider", providerID, "model", req.Model)
	loopStart := time.Now()

	// Tools marked "none" never reach the model.
	tools := make([]ToolDefinition, 0, len(req.Tools))
	var forced []string
	for _, t := range req.Tools {
		if t.UsageControl == UsageNone {
			continue
		}
		tools = append(tools, t)
		if t.UsageControl == UsageForce {
			forced = append(forced, t.Name)
		}
	}
	byName := make(map[string]*ToolDefinition, len(tools))
	for i := range tools {
		byName[tools[i].Name] = &tools[i]
	}

	msgs := buildMessages(req)

	var (
		resp       Response
		records    []ToolCall
		segments   []TimeSegment
		usage      TokenUsage
		executed   = make(map[string]bool)
		forcedIdx  = 0
		content    string
		iterations = 0
		settled    = false
	)

	for iterations < maxToolIterations {
		iterations++

		choice := toolChoice{mode: "auto"}
		for forcedIdx < len(forced) && executed[forced[forcedIdx]] {
			forcedIdx++
		}
		if forcedIdx < len(forced) {
			choice = toolChoice{mode: "tool", name: forced[forcedIdx]}
		}

		modelStart := time.Now()
		result, err := backend.call(ctx, req, msgs, tools, choice)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		segments = append(segments, newSegment("model", req.Model, modelStart))

		usage.Prompt += result.promptTokens
		usage.Completion += result.completionTokens
		content = result.content

		if len(result.toolCalls) == 0 {
			settled = true
			break
		}

		msgs = append(msgs, Message{
			Role:      "assistant",
			Content:   result.content,
			ToolCalls: result.toolCalls,
		})

		batchStart := time.Now()
		for _, call := range result.toolCalls {
			record := executeToolCall(ctx, logger, byName[call.Name], call)
			records = append(records, record)
			executed[call.Name] = true

			resultContent := marshalToolResult(record)
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    resultContent,
				ToolCallID: call.ID,
				Name:       call.Name,
				IsError:    !record.Success,
			})
		}
		segments = append(segments, newSegment("tool", batchName(result.toolCalls), batchStart))
	}

	if !settled {
		logger.Warn("tool loop hit iteration ceiling", "iterations", iterations)
	}

	usage.Total = usage.Prompt + usage.Completion

	if req.ResponseFormat == "json" {
		content = StripCodeFences(content)
	}

	resp = Response{
		Content:   content,
		Model:     req.Model,
		Tokens:    usage,
		ToolCalls: records,
		Timing:    buildTiming(loopStart, iterations, segments),
	}
	if pricing != nil {
		if rates, ok := pricing(req.Model); ok {
			resp.Cost = computeCost(usage, rates)
		}
	}
	return &resp, nil
}

func buildTiming(start time.Time, iterations int, segments []TimeSegment) Timing {
	end := time.Now()
	timing := Timing{
		StartedAt:    start,
		EndedAt:      end,
		DurationMs:   end.Sub(start).Milliseconds(),
		Iterations:   iterations,
		TimeSegments: segments,
	}
	for _, seg := range segments {
		switch seg.Type {
		case "model":
			timing.ModelTimeMs += seg.DurationMs
			if timing.FirstResponseTimeMs == 0 {
				timing.FirstResponseTimeMs = seg.DurationMs
			}
		case "tool":
			timing.ToolsTimeMs += seg.DurationMs
		}
	}
	return timing
}

// buildMessages assembles the initial conversation from the request:
// system prompt, then context as a user message, then explicit history.
func buildMessages(req Request) []Message {
	var msgs []Message
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	if req.Context != "" {
		msgs = append(msgs, Message{Role: "user", Content: req.Context})
	}
	return append(msgs, req.Messages...)
}

// executeToolCall runs one tool invocation and records its outcome. Tool
// failures are captured in the record, not propagated; the model sees the
// error text and decides how to proceed.
func executeToolCall(ctx context.Context, logger *slog.Logger, def *ToolDefinition, call MessageToolCall) ToolCall {
	record := ToolCall{Name: call.Name, StartedAt: time.Now()}

	args := make(map[string]any)
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			logger.Warn("tool call arguments are not valid JSON", "tool", call.Name, "error", err)
		}
	}
	record.Arguments = args

	switch {
	case def == nil:
		record.Error = fmt.Sprintf("unknown tool: %s", call.Name)
	case def.Execute == nil:
		record.Error = fmt.Sprintf("tool %s is not executable", call.Name)
	default:
		result, err := def.Execute(ctx, args)
		if err != nil {
			record.Error = err.Error()
		} else {
			record.Result = result
			record.Success = true
		}
	}

	record.EndedAt = time.Now()
	record.DurationMs = record.EndedAt.Sub(record.StartedAt).Milliseconds()
	if !record.Success {
		logger.Warn("tool execution failed", "tool", call.Name, "error", record.Error)
	}
	return record
}

func marshalToolResult(record ToolCall) string {
	if !record.Success {
		return fmt.Sprintf(`{"error": %q}`, record.Error)
	}
	data, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to encode tool result: %v"}`, err)
	}
	return string(data)
}

func newSegment(kind, name string, start time.Time) TimeSegment {
	end := time.Now()
	return TimeSegment{
		Type:       kind,
		Name:       name,
		StartedAt:  start,
		EndedAt:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
}

func batchName(calls []MessageToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

// computeCost prices the usage with per-million-token rates, rounded to
// 6 decimal places.
func computeCost(usage TokenUsage, rates ModelPricing) Cost {
	input := round6(float64(usage.Prompt) / 1e6 * rates.Input)
	output := round6(float64(usage.Completion) / 1e6 * rates.Output)
	return Cost{Input: input, Output: output, Total: round6(input + output)}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// StripCodeFences removes a markdown code fence wrapping, if present.
// Models asked for JSON sometimes wrap it in ```json fences anyway.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// drop the language tag line (e.g. "json")
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || isLanguageTag(firstLine) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
