package execution

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"agentflow/internal/models"
	"agentflow/internal/providers"
	"agentflow/internal/tools"
)

func testPlan(blocks []*models.SerializedBlock, edges []models.Edge) *models.SerializedWorkflow {
	plan := &models.SerializedWorkflow{
		Version: "1.0",
		Blocks:  make(map[string]*models.SerializedBlock, len(blocks)),
		Edges:   edges,
	}
	for _, b := range blocks {
		plan.Blocks[b.ID] = b
		plan.Order = append(plan.Order, b.ID)
	}
	return plan
}

func blk(id, blockType string, params map[string]any) *models.SerializedBlock {
	if params == nil {
		params = map[string]any{}
	}
	return &models.SerializedBlock{ID: id, Type: blockType, Name: id, Enabled: true, Params: params}
}

func edge(src, dst string) models.Edge {
	return models.Edge{SourceBlockID: src, TargetBlockID: dst}
}

func branchEdge(src, dst, handle string) models.Edge {
	return models.Edge{SourceBlockID: src, TargetBlockID: dst, SourceHandle: handle}
}

// testToolRegistry registers the test doubles used across executor tests.
func testToolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()

	if err := reg.Register(&tools.Tool{
		ID:          "echo",
		Name:        "Echo",
		Description: "returns its arguments",
		Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Register(&tools.Tool{
		ID:          "flaky",
		Name:        "Flaky",
		Description: "fails when value is 2",
		Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if toFloat(args["value"]) == 2 {
				return nil, fmt.Errorf("value 2 is not allowed")
			}
			return map[string]any{"value": args["value"]}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	return reg
}

type stubProvider struct {
	execute func(ctx context.Context, req providers.Request) (*providers.Response, error)
}

func (p *stubProvider) ID() string { return "stub" }

func (p *stubProvider) Execute(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return p.execute(ctx, req)
}

type stubProviderSource struct {
	provider providers.Provider
}

func (s *stubProviderSource) FromModel(model string) providers.Provider { return s.provider }

func (s *stubProviderSource) ResolveAPIKey(ctx context.Context, providerID, model, userKey string) (string, error) {
	return "test-key", nil
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	if cfg.Tools == nil {
		cfg.Tools = testToolRegistry(t)
	}
	exec, err := NewExecutor(cfg)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return exec
}

func logNames(result *models.ExecutionResult) []string {
	names := make([]string, 0, len(result.Logs))
	for _, l := range result.Logs {
		names = append(names, l.BlockID)
	}
	return names
}

func TestConditionRoutesSingleBranch(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("start", "starter", nil),
			blk("check", "condition", map[string]any{"condition": "<start.input.flag> == yes"}),
			blk("yes", "response", map[string]any{"content": "took true"}),
			blk("no", "response", map[string]any{"content": "took false"}),
			blk("after_no", "response", map[string]any{"content": "never"}),
		},
		[]models.Edge{
			edge("start", "check"),
			branchEdge("check", "yes", "true"),
			branchEdge("check", "no", "false"),
			edge("no", "after_no"),
		},
	)

	exec := newTestExecutor(t, Config{
		Plan:         plan,
		TriggerInput: map[string]any{"flag": "yes"},
	})
	result, err := exec.Execute(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	// The untaken branch and everything downstream of it never executes and
	// produces no log entries.
	want := []string{"start", "check", "yes"}
	got := logNames(result)
	if len(got) != len(want) {
		t.Fatalf("log entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log entries = %v, want %v", got, want)
		}
	}
	if result.Output["content"] != "took true" {
		t.Errorf("output = %v, want the true-branch response", result.Output)
	}
}

func TestLoopAbortsOnChildFailure(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("iterate", "loop", nil),
			blk("work", "tool", map[string]any{
				"tool":   "flaky",
				"params": map[string]any{"value": "<loop.currentItem>"},
			}),
		},
		nil,
	)
	plan.Loops = map[string]models.Loop{
		"iterate": {Nodes: []string{"work"}, ForEach: []any{1, 2, 3}},
	}

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-loop")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Success {
		t.Fatal("expected failure when iteration 2 errors")
	}
	// Iteration 1 succeeded, iteration 2 failed, iteration 3 never ran.
	// The container itself gets no extra failure entry.
	if len(result.Logs) != 2 {
		t.Fatalf("got %d log entries (%v), want 2", len(result.Logs), logNames(result))
	}
	if !result.Logs[0].Success {
		t.Error("first iteration log should be a success")
	}
	if result.Logs[1].Success {
		t.Error("second iteration log should be a failure")
	}
	if !strings.Contains(result.Error, "value 2 is not allowed") {
		t.Errorf("error = %q, want the tool failure message", result.Error)
	}
}

func TestLoopContinueOnError(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("iterate", "loop", nil),
			blk("work", "tool", map[string]any{
				"tool":   "flaky",
				"params": map[string]any{"value": "<loop.currentItem>"},
			}),
		},
		nil,
	)
	plan.Loops = map[string]models.Loop{
		"iterate": {Nodes: []string{"work"}, ForEach: []any{1, 2, 3}, ContinueOnError: true},
	}

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-loop")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success with continueOnError, got %q", result.Error)
	}
	// 3 child entries plus the container entry.
	if len(result.Logs) != 4 {
		t.Fatalf("got %d log entries (%v), want 4", len(result.Logs), logNames(result))
	}

	results, ok := result.Output["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("container results = %v, want 3 entries", result.Output["results"])
	}
	second, ok := results[1].(map[string]any)
	if !ok || second["error"] == nil {
		t.Errorf("results[1] = %v, want an error entry", results[1])
	}
}

func TestLoopForEachScope(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("iterate", "loop", nil),
			blk("work", "tool", map[string]any{
				"tool": "echo",
				"params": map[string]any{
					"item":  "<loop.currentItem>",
					"index": "<loop.index>",
				},
			}),
		},
		nil,
	)
	plan.Loops = map[string]models.Loop{
		"iterate": {Nodes: []string{"work"}, ForEach: []any{"a", "b"}},
	}

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-scope")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}

	results := result.Output["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	first := results[0].(map[string]any)["echo"].(map[string]any)
	if first["item"] != "a" || first["index"] != 0 {
		t.Errorf("iteration 0 args = %v, want item=a index=0", first)
	}
	second := results[1].(map[string]any)["echo"].(map[string]any)
	if second["item"] != "b" || second["index"] != 1 {
		t.Errorf("iteration 1 args = %v, want item=b index=1", second)
	}
}

func TestLoopMaxIterationsCap(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("iterate", "loop", nil),
			blk("work", "tool", map[string]any{
				"tool":   "echo",
				"params": map[string]any{"item": "<loop.currentItem>"},
			}),
		},
		nil,
	)
	plan.Loops = map[string]models.Loop{
		"iterate": {Nodes: []string{"work"}, ForEach: []any{1, 2, 3, 4, 5}, MaxIterations: 2},
	}

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-cap")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := result.Output["count"]; got != 2 {
		t.Errorf("count = %v, want 2", got)
	}
}

func TestParallelDistribution(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("fan", "parallel", nil),
			blk("work", "tool", map[string]any{
				"tool":   "echo",
				"params": map[string]any{"item": "<parallel.currentItem>"},
			}),
		},
		nil,
	)
	plan.Parallels = map[string]models.Parallel{
		"fan": {Nodes: []string{"work"}, Distribution: []any{"x", "y", "z"}},
	}

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-par")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}

	results := result.Output["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"x", "y", "z"} {
		args := results[i].(map[string]any)["echo"].(map[string]any)
		if args["item"] != want {
			t.Errorf("branch %d item = %v, want %s", i, args["item"], want)
		}
	}
}

func TestAgentEndToEnd(t *testing.T) {
	var toolResult map[string]any
	provider := &stubProvider{
		execute: func(ctx context.Context, req providers.Request) (*providers.Response, error) {
			if req.Context != "hello" {
				return nil, fmt.Errorf("context = %q, want resolved trigger input", req.Context)
			}
			if req.APIKey != "test-key" {
				return nil, fmt.Errorf("apiKey = %q, want the resolved key", req.APIKey)
			}
			if len(req.Tools) != 1 || req.Tools[0].ID != "echo" {
				return nil, fmt.Errorf("tools = %v, want the echo tool", req.Tools)
			}

			var err error
			toolResult, err = req.Tools[0].Execute(ctx, map[string]any{"value": "from-model"})
			if err != nil {
				return nil, err
			}

			return &providers.Response{
				Content: "final answer",
				Model:   req.Model,
				Tokens:  providers.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
				ToolCalls: []providers.ToolCall{
					{Name: "echo", Arguments: map[string]any{"value": "from-model"}, Result: toolResult, Success: true},
				},
				Timing: providers.Timing{
					Iterations: 2,
					TimeSegments: []providers.TimeSegment{
						{Type: "model", Name: "Initial response"},
						{Type: "tool", Name: "echo"},
						{Type: "model", Name: "Iteration 1"},
					},
				},
			}, nil
		},
	}

	plan := testPlan(
		[]*models.SerializedBlock{
			blk("start", "starter", nil),
			blk("agent", "agent", map[string]any{
				"model":   "stub-model",
				"context": "<start.input.message>",
				"tools": []any{
					map[string]any{"toolId": "echo", "params": map[string]any{"prefix": "static"}},
				},
			}),
		},
		[]models.Edge{edge("start", "agent")},
	)

	exec := newTestExecutor(t, Config{
		Plan:         plan,
		TriggerInput: map[string]any{"message": "hello"},
		Providers:    &stubProviderSource{provider: provider},
	})
	result, err := exec.Execute(context.Background(), "wf-agent")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}

	if len(result.Logs) != 2 {
		t.Fatalf("got %d log entries (%v), want 2", len(result.Logs), logNames(result))
	}
	for _, l := range result.Logs {
		if !l.Success {
			t.Errorf("log for %s should be a success", l.BlockID)
		}
	}

	if result.Output["content"] != "final answer" {
		t.Errorf("content = %v, want the model's final text", result.Output["content"])
	}

	// Static tool params override model-supplied arguments.
	args := toolResult["echo"].(map[string]any)
	if args["prefix"] != "static" || args["value"] != "from-model" {
		t.Errorf("tool args = %v, want merged static and model params", args)
	}

	calls := result.Output["toolCalls"].(map[string]any)
	if calls["count"] != 1 {
		t.Errorf("toolCalls.count = %v, want 1", calls["count"])
	}
	timing := result.Output["timing"].(map[string]any)
	segments := timing["timeSegments"].([]any)
	if len(segments) != 3 {
		t.Fatalf("got %d time segments, want model/tool/model", len(segments))
	}
	for i, want := range []string{"model", "tool", "model"} {
		seg := segments[i].(map[string]any)
		if seg["type"] != want {
			t.Errorf("segment %d type = %v, want %s", i, seg["type"], want)
		}
	}
}

func TestAgentProviderErrorFailsBlock(t *testing.T) {
	provider := &stubProvider{
		execute: func(ctx context.Context, req providers.Request) (*providers.Response, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("agent", "agent", map[string]any{"model": "stub-model", "context": "hi"}),
		},
		nil,
	)

	exec := newTestExecutor(t, Config{
		Plan:      plan,
		Providers: &stubProviderSource{provider: provider},
	})
	result, err := exec.Execute(context.Background(), "wf-err")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Success {
		t.Fatal("expected failure on provider error")
	}
	if !strings.Contains(result.Error, "model unavailable") {
		t.Errorf("error = %q, want the provider failure", result.Error)
	}
	if len(result.Logs) != 1 || result.Logs[0].Success {
		t.Errorf("logs = %v, want a single failure entry", result.Logs)
	}
}

func TestEnvAndVariableResolution(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("out", "response", map[string]any{"content": "Hello {{NAME}} from <variable.city>"}),
		},
		nil,
	)

	exec := newTestExecutor(t, Config{
		Plan:      plan,
		EnvVars:   map[string]string{"NAME": "World"},
		Variables: map[string]any{"city": "Oslo"},
	})
	result, err := exec.Execute(context.Background(), "wf-res")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output["content"] != "Hello World from Oslo" {
		t.Errorf("content = %v", result.Output["content"])
	}
}

func TestUnresolvedReferenceFailsBlock(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("out", "response", map[string]any{"content": "<nosuch.field>"}),
		},
		nil,
	)

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-badref")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure on unresolved reference")
	}
	if !strings.Contains(result.Error, "unknown block") {
		t.Errorf("error = %q, want an unresolved reference message", result.Error)
	}
}

func TestDisabledBlockPassesThrough(t *testing.T) {
	disabled := blk("skipme", "tool", map[string]any{"tool": "flaky", "params": map[string]any{"value": 2}})
	disabled.Enabled = false

	plan := testPlan(
		[]*models.SerializedBlock{
			blk("start", "starter", nil),
			disabled,
			blk("out", "response", map[string]any{"content": "<start.input.message>"}),
		},
		[]models.Edge{edge("start", "skipme"), edge("skipme", "out")},
	)

	exec := newTestExecutor(t, Config{
		Plan:         plan,
		TriggerInput: map[string]any{"message": "still here"},
	})
	result, err := exec.Execute(context.Background(), "wf-disabled")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}
	// The disabled block produces no log but still unblocks its dependents.
	if len(result.Logs) != 2 {
		t.Fatalf("got %d log entries (%v), want 2", len(result.Logs), logNames(result))
	}
	if result.Output["content"] != "still here" {
		t.Errorf("content = %v", result.Output["content"])
	}
}

func TestUndeclaredCycleFailsExecution(t *testing.T) {
	plan := testPlan([]*models.SerializedBlock{
		blk("a", "response", map[string]any{"content": "a"}),
		blk("b", "response", map[string]any{"content": "b"}),
	}, []models.Edge{edge("a", "b"), edge("b", "a")})

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-cycle")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success {
		t.Error("A cyclic plan must not report success")
	}
	if !strings.Contains(result.Error, "cycle") {
		t.Errorf("Error should name the cycle, got %q", result.Error)
	}
	if len(result.Logs) != 0 {
		t.Errorf("No block can run in a pure cycle, got %d logs", len(result.Logs))
	}
}

func TestCancelledContext(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{blk("start", "starter", nil)},
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(ctx, "wf-cancel")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure on cancelled context")
	}
	if !strings.Contains(result.Error, "cancelled") && !strings.Contains(result.Error, "context canceled") {
		t.Errorf("error = %q, want a cancellation message", result.Error)
	}
}

func TestToolBlockOperationResolution(t *testing.T) {
	reg := testToolRegistry(t)
	if err := reg.Register(&tools.Tool{
		ID:          "store_get",
		Name:        "Store Get",
		Description: "multi-operation lookup",
		Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"found": args["key"]}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	plan := testPlan(
		[]*models.SerializedBlock{
			blk("lookup", "tool", map[string]any{
				"tool":      "store",
				"operation": "get",
				"params":    map[string]any{"key": "k1"},
			}),
		},
		nil,
	)

	exec := newTestExecutor(t, Config{Plan: plan, Tools: reg})
	result, err := exec.Execute(context.Background(), "wf-op")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}
	if result.Output["found"] != "k1" {
		t.Errorf("output = %v, want the store_get result", result.Output)
	}
}

func TestLogsOrderedByCompletion(t *testing.T) {
	plan := testPlan(
		[]*models.SerializedBlock{
			blk("start", "starter", nil),
			blk("a", "response", map[string]any{"content": "a"}),
			blk("b", "response", map[string]any{"content": "b"}),
			blk("join", "response", map[string]any{"content": "<a.content><b.content>"}),
		},
		[]models.Edge{
			edge("start", "a"),
			edge("start", "b"),
			edge("a", "join"),
			edge("b", "join"),
		},
	)

	exec := newTestExecutor(t, Config{Plan: plan})
	result, err := exec.Execute(context.Background(), "wf-order")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}

	got := logNames(result)
	want := []string{"start", "a", "b", "join"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}
	if result.Output["content"] != "ab" {
		t.Errorf("join content = %v, want ab", result.Output["content"])
	}
}
