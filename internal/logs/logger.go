package logs

import (
	"context"
	"log/slog"

	"agentflow/internal/logging"
	"agentflow/internal/models"
)

// Logger persists execution results: one entry per executed block plus a
// workflow-level summary, then a per-user stats upsert. Persistence is
// best-effort and never alters the execution result the caller already has.
type Logger struct {
	store Store
}

func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// PersistExecutionLogs writes all log entries for one finished execution.
// A stats-upsert failure is logged and swallowed; entry write failures are
// reported after all entries have been attempted.
func (l *Logger) PersistExecutionLogs(ctx context.Context, workflowID, executionID string, result *models.ExecutionResult, trigger Trigger) error {
	logger := logging.WithExecution(executionID, workflowID, trigger.UserID)
	acc := newCostAccumulator()

	var firstErr error
	persist := func(entry *Entry) {
		if err := l.store.PersistLog(ctx, entry); err != nil {
			logger.Warn("failed to persist log entry", "level", entry.Level, "block_id", entry.BlockID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for i, blockLog := range result.Logs {
		entry := &Entry{
			WorkflowID:  workflowID,
			ExecutionID: executionID,
			Level:       LevelBlock,
			Sequence:    i,
			BlockID:     blockLog.BlockID,
			BlockName:   blockLog.BlockName,
			BlockType:   blockLog.BlockType,
			Success:     blockLog.Success,
			Error:       blockLog.Error,
			StartedAt:   blockLog.StartedAt,
			EndedAt:     blockLog.EndedAt,
			DurationMs:  blockLog.DurationMs,
		}

		if raw := extractToolCalls(blockLog.Output); raw != nil {
			calls := normalizeToolCalls(raw, blockLog.StartedAt)
			for j := range calls {
				calls[j].Input = redactInput(calls[j].Input)
			}
			entry.ToolCalls = calls
		}

		entry.Model, _ = blockLog.Output["model"].(string)
		entry.Tokens = tokensFromOutput(blockLog.Output)
		entry.Cost = costFromOutput(blockLog.Output)
		acc.add(entry.Model, entry.Cost, entry.Tokens, pricingFromOutput(blockLog.Output))

		persist(entry)
	}

	persist(&Entry{
		WorkflowID:   workflowID,
		ExecutionID:  executionID,
		Level:        LevelWorkflow,
		Sequence:     len(result.Logs),
		TriggerType:  trigger.Type,
		Success:      result.Success,
		Error:        result.Error,
		StartedAt:    result.StartedAt,
		EndedAt:      result.EndedAt,
		DurationMs:   result.DurationMs,
		Totals:       &acc.totals,
		PrimaryModel: acc.primaryModel(),
		Pricing:      acc.pricing,
	})

	record := &ExecutionRecord{
		ExecutionID:  executionID,
		WorkflowID:   workflowID,
		Success:      result.Success,
		Error:        result.Error,
		TriggerType:  trigger.Type,
		UserID:       trigger.UserID,
		BlockCount:   len(result.Logs),
		PrimaryModel: acc.primaryModel(),
		Totals:       acc.totals,
		StartedAt:    result.StartedAt,
		EndedAt:      result.EndedAt,
		DurationMs:   result.DurationMs,
	}
	if err := l.store.PersistExecution(ctx, record); err != nil {
		logger.Warn("failed to persist execution record", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if trigger.UserID != "" {
		l.upsertStats(ctx, logger, trigger.UserID, result, acc)
	}

	return firstErr
}

// upsertStats flushes the execution's accumulated usage into the per-user
// running totals. Failures never propagate.
func (l *Logger) upsertStats(ctx context.Context, logger *slog.Logger, userID string, result *models.ExecutionResult, acc *costAccumulator) {
	delta := UserStats{
		Executions:  1,
		TotalTokens: int64(acc.totals.TotalTokens),
		TotalCost:   acc.totals.Cost.Total,
		LastActive:  result.EndedAt,
	}
	if result.Success {
		delta.Successful = 1
	} else {
		delta.Failed = 1
	}

	if err := l.store.UpsertUserStats(ctx, userID, delta); err != nil {
		logger.Warn("failed to upsert user stats", "error", err)
	}
}

func tokensFromOutput(output map[string]any) *Tokens {
	m, ok := output["tokens"].(map[string]any)
	if !ok {
		return nil
	}
	return &Tokens{
		Prompt:     intField(m, "prompt"),
		Completion: intField(m, "completion"),
		Total:      intField(m, "total"),
	}
}

func costFromOutput(output map[string]any) *Cost {
	m, ok := output["cost"].(map[string]any)
	if !ok {
		return nil
	}
	return &Cost{
		Input:  floatField(m, "input"),
		Output: floatField(m, "output"),
		Total:  floatField(m, "total"),
	}
}

func pricingFromOutput(output map[string]any) map[string]any {
	if m, ok := output["cost"].(map[string]any); ok {
		if pricing, ok := m["pricing"].(map[string]any); ok {
			return pricing
		}
	}
	pricing, _ := output["pricing"].(map[string]any)
	return pricing
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
