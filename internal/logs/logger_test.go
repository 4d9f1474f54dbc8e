package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"agentflow/internal/models"
)

type memoryStore struct {
	entries   []*Entry
	records   []*ExecutionRecord
	stats     map[string]UserStats
	failLogs  bool
	failStats bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{stats: make(map[string]UserStats)}
}

func (s *memoryStore) PersistLog(ctx context.Context, entry *Entry) error {
	if s.failLogs {
		return fmt.Errorf("sink unavailable")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryStore) PersistExecution(ctx context.Context, record *ExecutionRecord) error {
	if s.failLogs {
		return fmt.Errorf("sink unavailable")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memoryStore) UpsertUserStats(ctx context.Context, userID string, delta UserStats) error {
	if s.failStats {
		return fmt.Errorf("stats unavailable")
	}
	existing := s.stats[userID]
	existing.Executions += delta.Executions
	existing.Successful += delta.Successful
	existing.Failed += delta.Failed
	existing.TotalTokens += delta.TotalTokens
	existing.TotalCost += delta.TotalCost
	existing.LastActive = delta.LastActive
	s.stats[userID] = existing
	return nil
}

func callList(names ...string) []any {
	list := make([]any, 0, len(names))
	for _, name := range names {
		list = append(list, map[string]any{"name": name, "success": true})
	}
	return list
}

func TestExtractToolCallsShapes(t *testing.T) {
	tests := []struct {
		name   string
		output map[string]any
		want   []string
	}{
		{
			name:   "direct array",
			output: map[string]any{"toolCalls": callList("a", "b")},
			want:   []string{"a", "b"},
		},
		{
			name:   "list property",
			output: map[string]any{"toolCalls": map[string]any{"list": callList("c")}},
			want:   []string{"c"},
		},
		{
			name:   "nested response array",
			output: map[string]any{"response": map[string]any{"toolCalls": callList("d")}},
			want:   []string{"d"},
		},
		{
			name:   "nested response list property",
			output: map[string]any{"response": map[string]any{"toolCalls": map[string]any{"list": callList("e")}}},
			want:   []string{"e"},
		},
		{
			name:   "embedded in string response",
			output: map[string]any{"response": `prefix {"toolCalls": [{"name": "f", "success": true}]} suffix`},
			want:   []string{"f"},
		},
		{
			name:   "no tool calls",
			output: map[string]any{"content": "plain text"},
			want:   nil,
		},
		{
			name:   "unparseable embedded json",
			output: map[string]any{"response": `"toolCalls": [not json]`},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractToolCalls(tt.output)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d calls, want %d", len(got), len(tt.want))
			}
			for i, want := range tt.want {
				if got[i]["name"] != want {
					t.Errorf("call %d name = %v, want %s", i, got[i]["name"], want)
				}
			}
		})
	}
}

func TestNormalizeToolCallTiming(t *testing.T) {
	blockStart := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("explicit duration variants", func(t *testing.T) {
		raw := []map[string]any{
			{"name": "a", "duration": float64(100)},
			{"name": "b", "durationMs": float64(200)},
			{"name": "c", "duration_ms": float64(300)},
			{"name": "d", "timing": map[string]any{"duration": float64(400)}},
		}
		calls := normalizeToolCalls(raw, blockStart)
		for i, want := range []int64{100, 200, 300, 400} {
			if calls[i].DurationMs != want {
				t.Errorf("call %d duration = %d, want %d", i, calls[i].DurationMs, want)
			}
		}
	})

	t.Run("start and end timestamps win", func(t *testing.T) {
		start := blockStart.Add(time.Second)
		end := start.Add(250 * time.Millisecond)
		raw := []map[string]any{{
			"name":      "timed",
			"startTime": start.Format(time.RFC3339Nano),
			"endTime":   end.Format(time.RFC3339Nano),
			"duration":  float64(9999),
		}}
		calls := normalizeToolCalls(raw, blockStart)
		if calls[0].DurationMs != 250 {
			t.Errorf("duration = %d, want 250 from the timestamps", calls[0].DurationMs)
		}
	})

	t.Run("cursor walk estimation", func(t *testing.T) {
		raw := []map[string]any{
			{"name": "a", "duration": float64(100)},
			{"name": "b", "duration": float64(50)},
			{"name": "c"},
		}
		calls := normalizeToolCalls(raw, blockStart)
		if !calls[0].StartedAt.Equal(blockStart) {
			t.Errorf("first call starts at %v, want block start", calls[0].StartedAt)
		}
		if !calls[1].StartedAt.Equal(blockStart.Add(100 * time.Millisecond)) {
			t.Errorf("second call starts at %v, want cursor after first", calls[1].StartedAt)
		}
		if !calls[2].StartedAt.Equal(blockStart.Add(150 * time.Millisecond)) {
			t.Errorf("third call starts at %v, want cursor after second", calls[2].StartedAt)
		}
	})

	t.Run("error status", func(t *testing.T) {
		raw := []map[string]any{
			{"name": "bad", "success": false, "error": "boom"},
			{"name": "ok", "success": true},
		}
		calls := normalizeToolCalls(raw, blockStart)
		if calls[0].Status != "error" || calls[0].Error != "boom" {
			t.Errorf("failed call = %+v, want error status", calls[0])
		}
		if calls[1].Status != "success" {
			t.Errorf("ok call status = %s, want success", calls[1].Status)
		}
	})
}

func TestRedaction(t *testing.T) {
	token := strings.Repeat("k", 40)
	input := map[string]any{
		"apiKey": token,
		"url":    "https://example.com",
		"nested": map[string]any{
			"access_token": "short",
			"note":         "plain text stays",
		},
		"raw": token,
	}

	redacted := redactInput(input)

	data, err := json.Marshal(redacted)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), token) {
		t.Fatal("raw token survived redaction")
	}
	if redacted["apiKey"] != redactedMarker {
		t.Errorf("apiKey = %v, want marker", redacted["apiKey"])
	}
	nested := redacted["nested"].(map[string]any)
	if nested["access_token"] != redactedMarker {
		t.Errorf("access_token = %v, want marker even for short values", nested["access_token"])
	}
	if nested["note"] != "plain text stays" {
		t.Errorf("note = %v, should not be redacted", nested["note"])
	}
	// Token-shaped values are redacted regardless of key name.
	if redacted["raw"] != redactedMarker {
		t.Errorf("raw = %v, want marker for opaque token", redacted["raw"])
	}
	// The original input must not be mutated.
	if input["apiKey"] != token {
		t.Error("redaction mutated the original input")
	}
}

func agentLog(blockID, model string, total float64, tokens int) models.BlockLog {
	return models.BlockLog{
		BlockID:   blockID,
		BlockType: "agent",
		Success:   true,
		Output: map[string]any{
			"model":  model,
			"tokens": map[string]any{"prompt": float64(tokens), "completion": float64(0), "total": float64(tokens)},
			"cost":   map[string]any{"input": total / 2, "output": total / 2, "total": total},
		},
	}
}

func TestPersistExecutionLogs(t *testing.T) {
	store := newMemoryStore()
	logger := NewLogger(store)

	result := &models.ExecutionResult{
		ExecutionID: "exec-1",
		Success:     true,
		Logs: []models.BlockLog{
			{BlockID: "start", BlockType: "starter", Success: true},
			agentLog("agent1", "gpt-4o", 0.000003, 100),
			agentLog("agent2", "gpt-4o", 0.000004, 200),
			agentLog("agent3", "claude-sonnet-4", 0.000005, 300),
		},
		StartedAt:  time.Now().Add(-time.Second),
		EndedAt:    time.Now(),
		DurationMs: 1000,
	}

	err := logger.PersistExecutionLogs(context.Background(), "wf-1", "exec-1", result, Trigger{Type: "api", UserID: "user-1"})
	if err != nil {
		t.Fatalf("PersistExecutionLogs: %v", err)
	}

	// One entry per block plus the workflow summary.
	if len(store.entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(store.entries))
	}
	for i, entry := range store.entries[:4] {
		if entry.Level != LevelBlock || entry.Sequence != i {
			t.Errorf("entry %d = level %s sequence %d", i, entry.Level, entry.Sequence)
		}
	}

	summary := store.entries[4]
	if summary.Level != LevelWorkflow {
		t.Fatalf("last entry level = %s, want workflow", summary.Level)
	}
	if summary.PrimaryModel != "gpt-4o" {
		t.Errorf("primaryModel = %s, want the most-invoked model", summary.PrimaryModel)
	}
	if summary.Totals.Cost.Total != 0.000012 {
		t.Errorf("total cost = %v, want the 6-decimal sum", summary.Totals.Cost.Total)
	}
	if summary.Totals.TotalTokens != 600 {
		t.Errorf("total tokens = %d, want 600", summary.Totals.TotalTokens)
	}
	if summary.TriggerType != "api" {
		t.Errorf("triggerType = %s", summary.TriggerType)
	}

	stats := store.stats["user-1"]
	if stats.Executions != 1 || stats.Successful != 1 {
		t.Errorf("stats = %+v, want one successful execution", stats)
	}
	if stats.TotalTokens != 600 {
		t.Errorf("stats tokens = %d, want 600", stats.TotalTokens)
	}

	if len(store.records) != 1 {
		t.Fatalf("got %d execution records, want 1", len(store.records))
	}
	record := store.records[0]
	if record.ExecutionID != "exec-1" || record.WorkflowID != "wf-1" || !record.Success {
		t.Errorf("record = %+v", record)
	}
	if record.BlockCount != 4 || record.PrimaryModel != "gpt-4o" {
		t.Errorf("record summary = blocks %d model %s", record.BlockCount, record.PrimaryModel)
	}
	if record.Totals.TotalTokens != 600 {
		t.Errorf("record tokens = %d, want 600", record.Totals.TotalTokens)
	}
}

func TestPersistToolCallRedaction(t *testing.T) {
	store := newMemoryStore()
	logger := NewLogger(store)
	token := strings.Repeat("x", 40)

	result := &models.ExecutionResult{
		ExecutionID: "exec-2",
		Success:     true,
		Logs: []models.BlockLog{
			{
				BlockID:   "agent",
				BlockType: "agent",
				Success:   true,
				Output: map[string]any{
					"toolCalls": map[string]any{
						"list": []any{
							map[string]any{
								"name":      "http_request",
								"success":   true,
								"arguments": map[string]any{"apiKey": token, "url": "https://example.com"},
							},
						},
					},
				},
			},
		},
	}

	if err := logger.PersistExecutionLogs(context.Background(), "wf-2", "exec-2", result, Trigger{Type: "api"}); err != nil {
		t.Fatalf("PersistExecutionLogs: %v", err)
	}

	entry := store.entries[0]
	if len(entry.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(entry.ToolCalls))
	}
	if entry.ToolCalls[0].Input["apiKey"] != redactedMarker {
		t.Errorf("apiKey = %v, want redacted", entry.ToolCalls[0].Input["apiKey"])
	}
	data, _ := json.Marshal(entry)
	if strings.Contains(string(data), token) {
		t.Error("raw token present in persisted entry")
	}
}

func TestStatsUpsertFailureDoesNotPropagate(t *testing.T) {
	store := newMemoryStore()
	store.failStats = true
	logger := NewLogger(store)

	result := &models.ExecutionResult{ExecutionID: "exec-3", Success: false, Error: "boom"}
	err := logger.PersistExecutionLogs(context.Background(), "wf-3", "exec-3", result, Trigger{Type: "api", UserID: "user-1"})
	if err != nil {
		t.Fatalf("stats failure must not propagate, got %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("got %d entries, want the workflow summary", len(store.entries))
	}
}

func TestLogSinkFailureReported(t *testing.T) {
	store := newMemoryStore()
	store.failLogs = true
	logger := NewLogger(store)

	result := &models.ExecutionResult{ExecutionID: "exec-4", Success: true}
	err := logger.PersistExecutionLogs(context.Background(), "wf-4", "exec-4", result, Trigger{Type: "api"})
	if err == nil {
		t.Fatal("expected the sink failure to be reported")
	}
}
