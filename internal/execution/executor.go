package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentflow/internal/logging"
	"agentflow/internal/models"
	"agentflow/internal/providers"
	"agentflow/internal/tools"
)

// ProviderSource resolves models to providers and API keys. Satisfied by
// *providers.Registry; tests supply stubs.
type ProviderSource interface {
	FromModel(model string) providers.Provider
	ResolveAPIKey(ctx context.Context, providerID, model, userKey string) (string, error)
}

// Config assembles an Executor. Plan is required; the rest default sanely.
type Config struct {
	Plan         *models.SerializedWorkflow
	EnvVars      map[string]string
	TriggerInput map[string]any
	Variables    map[string]any
	Providers    ProviderSource
	Tools        *tools.Registry
	Logger       *slog.Logger
}

// Executor runs one serialized workflow to completion. It is single-use:
// construct a fresh Executor per execution.
type Executor struct {
	plan      *models.SerializedWorkflow
	envVars   map[string]string
	trigger   map[string]any
	variables map[string]any
	providers ProviderSource
	tools     *tools.Registry
	log       *slog.Logger
}

func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Plan == nil {
		return nil, newValidationError(fmt.Errorf("execution plan is nil"))
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.GetRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		plan:      cfg.Plan,
		envVars:   cfg.EnvVars,
		trigger:   cfg.TriggerInput,
		variables: cfg.Variables,
		providers: cfg.Providers,
		tools:     cfg.Tools,
		log:       cfg.Logger,
	}, nil
}

// runState is the mutable state of one execution. Outputs are keyed by
// block id; blockRefs maps reference tokens (normalized names and raw ids)
// back to ids for the resolver.
type runState struct {
	outputs   map[string]map[string]any
	blockRefs map[string]string
	envVars   map[string]string
	variables map[string]any
	logs      []models.BlockLog
}

// Execute runs the plan and returns the result. Block failures are reported
// in the result (Success=false), not as a returned error.
func (e *Executor) Execute(ctx context.Context, workflowID string) (*models.ExecutionResult, error) {
	executionID := uuid.NewString()
	logger := logging.WithExecution(executionID, workflowID, "")
	started := time.Now()

	st := &runState{
		outputs:   make(map[string]map[string]any),
		blockRefs: make(map[string]string),
		envVars:   e.envVars,
		variables: e.variables,
	}
	for id, block := range e.plan.Blocks {
		st.blockRefs[id] = id
		st.blockRefs[normalizeRefName(block.Name)] = id
	}

	logger.Info("execution started", "blocks", len(e.plan.Blocks))

	topLevel := e.topLevelNodes()
	output, err := e.runGraph(ctx, st, topLevel, nil, logger)

	ended := time.Now()
	result := &models.ExecutionResult{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Success:     err == nil,
		Output:      output,
		Logs:        st.logs,
		StartedAt:   started,
		EndedAt:     ended,
		DurationMs:  ended.Sub(started).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
		logger.Error("execution failed", "error", err, "duration_ms", result.DurationMs)
	} else {
		logger.Info("execution finished", "duration_ms", result.DurationMs, "log_entries", len(st.logs))
	}
	return result, nil
}

// topLevelNodes returns the plan's blocks that are not owned by a loop or
// parallel container, in authoring order.
func (e *Executor) topLevelNodes() []string {
	children := make(map[string]bool)
	for _, loop := range e.plan.Loops {
		for _, id := range loop.Nodes {
			children[id] = true
		}
	}
	for _, par := range e.plan.Parallels {
		for _, id := range par.Nodes {
			children[id] = true
		}
	}

	var nodes []string
	for _, id := range e.plan.Order {
		if !children[id] {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// runGraph executes one subgraph sequentially. Blocks become ready when all
// inbound edges have settled; a block whose live inbound edges were all
// blocked by an untaken branch is skipped, and the skip cascades. Returns
// the output of the subgraph's terminal block (or a name-keyed map when
// several terminals exist).
func (e *Executor) runGraph(ctx context.Context, st *runState, nodes []string, sc *scope, logger *slog.Logger) (map[string]any, error) {
	inGraph := make(map[string]bool, len(nodes))
	for _, id := range nodes {
		inGraph[id] = true
	}

	remaining := make(map[string]int)
	outgoing := make(map[string][]models.Edge)
	for _, edge := range e.plan.Edges {
		if !inGraph[edge.SourceBlockID] || !inGraph[edge.TargetBlockID] {
			continue
		}
		remaining[edge.TargetBlockID]++
		outgoing[edge.SourceBlockID] = append(outgoing[edge.SourceBlockID], edge)
	}

	live := make(map[string]bool)    // at least one inbound edge fired
	skipped := make(map[string]bool) // dead branch, never executes
	executed := make(map[string]bool)

	var queue []string
	for _, id := range nodes {
		if remaining[id] == 0 {
			queue = append(queue, id)
			live[id] = true
		}
	}

	// settle marks one inbound edge of target as decided. fired=false means
	// the edge will never deliver (source skipped or branch not taken).
	var settle func(target string, fired bool)
	finish := func(id string, output map[string]any, ran bool) {
		for _, edge := range outgoing[id] {
			settle(edge.TargetBlockID, ran && edgeFires(edge, output))
		}
	}
	settle = func(target string, fired bool) {
		if fired {
			live[target] = true
		}
		remaining[target]--
		if remaining[target] > 0 {
			return
		}
		if live[target] {
			queue = append(queue, target)
			return
		}
		skipped[target] = true
		finish(target, nil, false)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if executed[id] || skipped[id] {
			continue
		}
		executed[id] = true

		block := e.plan.Block(id)
		if block == nil {
			return nil, newValidationError(fmt.Errorf("plan references unknown block %s", id))
		}
		if !block.Enabled {
			// Disabled blocks pass through so downstream blocks still run.
			st.outputs[id] = map[string]any{}
			finish(id, st.outputs[id], true)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Category: ErrCategoryCancelled, BlockID: id, Err: err}
		}

		blockLogger := logging.WithBlock(logger, block.ID, block.Name, block.Type)
		blockLogger.Debug("block started")
		blockStart := time.Now()

		output, err := e.executeBlock(ctx, st, block, sc, blockLogger)
		blockEnd := time.Now()

		if err != nil {
			classified := categorize(err, ErrCategoryValidation, block.ID)
			// Containers propagate the failing child's log; only the block
			// that actually failed gets a failure entry.
			if classified.BlockID == block.ID {
				st.logs = append(st.logs, models.BlockLog{
					BlockID:    block.ID,
					BlockName:  block.Name,
					BlockType:  block.Type,
					Success:    false,
					Error:      classified.Err.Error(),
					StartedAt:  blockStart,
					EndedAt:    blockEnd,
					DurationMs: blockEnd.Sub(blockStart).Milliseconds(),
				})
			}
			blockLogger.Error("block failed", "error", classified.Err, "category", classified.Category)
			return nil, classified
		}

		st.outputs[id] = output
		st.logs = append(st.logs, models.BlockLog{
			BlockID:    block.ID,
			BlockName:  block.Name,
			BlockType:  block.Type,
			Success:    true,
			StartedAt:  blockStart,
			EndedAt:    blockEnd,
			DurationMs: blockEnd.Sub(blockStart).Milliseconds(),
			Output:     output,
		})
		blockLogger.Debug("block finished", "duration_ms", blockEnd.Sub(blockStart).Milliseconds())
		finish(id, output, true)
	}

	// Every node must end up executed or skipped; anything left has an
	// inbound edge that can never settle, i.e. an undeclared cycle.
	var stranded []string
	for _, id := range nodes {
		if !executed[id] && !skipped[id] {
			stranded = append(stranded, id)
		}
	}
	if len(stranded) > 0 {
		return nil, newValidationError(fmt.Errorf(
			"blocks never became ready (cycle outside a loop or parallel container): %s",
			strings.Join(stranded, ", ")))
	}

	return e.terminalOutput(st, nodes, outgoing, executed, skipped), nil
}

// edgeFires reports whether an edge delivers given its source block's output.
// Branch-typed handles ("true"/"false") must match the output's branch key.
func edgeFires(edge models.Edge, output map[string]any) bool {
	handle := strings.TrimPrefix(edge.SourceHandle, "condition-")
	switch handle {
	case "", "loop-end", "parallel-end", "source":
		return true
	}
	branch, _ := output["branch"].(string)
	return branch == "*" || branch == handle
}

// terminalOutput collects the subgraph's final output: the output of the
// executed block with no live outgoing edges. With several terminals the
// outputs are keyed by block name.
func (e *Executor) terminalOutput(st *runState, nodes []string, outgoing map[string][]models.Edge, executed, skipped map[string]bool) map[string]any {
	var terminals []string
	for _, id := range nodes {
		if !executed[id] || skipped[id] {
			continue
		}
		isTerminal := true
		for _, edge := range outgoing[id] {
			if executed[edge.TargetBlockID] && !skipped[edge.TargetBlockID] {
				isTerminal = false
				break
			}
		}
		if isTerminal {
			terminals = append(terminals, id)
		}
	}

	switch len(terminals) {
	case 0:
		return map[string]any{}
	case 1:
		return st.outputs[terminals[0]]
	default:
		combined := make(map[string]any, len(terminals))
		for _, id := range terminals {
			combined[e.plan.Block(id).Name] = st.outputs[id]
		}
		return combined
	}
}

func (e *Executor) executeBlock(ctx context.Context, st *runState, block *models.SerializedBlock, sc *scope, logger *slog.Logger) (map[string]any, error) {
	switch block.Type {
	case "starter":
		input := e.trigger
		if input == nil {
			input = map[string]any{}
		}
		return map[string]any{"input": input}, nil
	case "agent":
		return e.executeAgent(ctx, st, block, sc, logger)
	case "tool":
		return e.executeTool(ctx, st, block, sc)
	case "condition":
		return e.executeCondition(st, block, sc)
	case "loop":
		return e.executeLoop(ctx, st, block, sc, logger)
	case "parallel":
		return e.executeParallel(ctx, st, block, sc, logger)
	case "response":
		return e.executeResponse(st, block, sc)
	default:
		return nil, newValidationError(fmt.Errorf("unknown block type %q", block.Type))
	}
}

func (e *Executor) executeCondition(st *runState, block *models.SerializedBlock, sc *scope) (map[string]any, error) {
	r := &resolver{run: st}
	params, err := r.resolveParams(block.Params, sc)
	if err != nil {
		return nil, err
	}
	result, err := evaluateConditionParams(params)
	if err != nil {
		return nil, err
	}
	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]any{
		"result": result,
		"branch": branch,
	}, nil
}

func (e *Executor) executeResponse(st *runState, block *models.SerializedBlock, sc *scope) (map[string]any, error) {
	r := &resolver{run: st}
	params, err := r.resolveParams(block.Params, sc)
	if err != nil {
		return nil, err
	}
	if data, ok := params["data"].(map[string]any); ok {
		return data, nil
	}
	if content, ok := params["content"]; ok {
		return map[string]any{"content": content}, nil
	}
	return params, nil
}

func (e *Executor) executeTool(ctx context.Context, st *runState, block *models.SerializedBlock, sc *scope) (map[string]any, error) {
	r := &resolver{run: st}
	params, err := r.resolveParams(block.Params, sc)
	if err != nil {
		return nil, err
	}

	baseID, _ := params["tool"].(string)
	if baseID == "" {
		return nil, newValidationError(fmt.Errorf("tool block %s has no tool param", block.ID))
	}
	toolID, err := e.tools.ResolveOperation(baseID, params)
	if err != nil {
		return nil, categorize(err, ErrCategoryTool, block.ID)
	}

	args, ok := params["params"].(map[string]any)
	if !ok {
		args = make(map[string]any, len(params))
		for k, v := range params {
			if k == "tool" || k == "operation" {
				continue
			}
			args[k] = v
		}
	}

	result, err := e.tools.Execute(ctx, toolID, args)
	if err != nil {
		return nil, categorize(err, ErrCategoryTool, block.ID)
	}
	return result, nil
}

func (e *Executor) executeAgent(ctx context.Context, st *runState, block *models.SerializedBlock, sc *scope, logger *slog.Logger) (map[string]any, error) {
	r := &resolver{run: st}
	params, err := r.resolveParams(block.Params, sc)
	if err != nil {
		return nil, err
	}

	model, _ := params["model"].(string)
	if model == "" {
		return nil, newValidationError(fmt.Errorf("agent block %s has no model param", block.ID))
	}
	if e.providers == nil {
		return nil, newValidationError(fmt.Errorf("agent block %s: no provider registry configured", block.ID))
	}

	provider := e.providers.FromModel(model)
	userKey, _ := params["apiKey"].(string)
	apiKey, err := e.providers.ResolveAPIKey(ctx, provider.ID(), model, userKey)
	if err != nil {
		return nil, categorize(err, ErrCategoryProvider, block.ID)
	}

	req := providers.Request{
		Model:          model,
		SystemPrompt:   stringify(params["systemPrompt"]),
		Context:        stringify(params["context"]),
		MaxTokens:      paramInt(params, "maxTokens"),
		ResponseFormat: stringify(params["responseFormat"]),
		APIKey:         apiKey,
	}
	if v, ok := params["temperature"]; ok && v != nil {
		t := float32(toFloat(v))
		req.Temperature = &t
	}

	defs, err := e.agentToolDefs(block.ID, params["tools"])
	if err != nil {
		return nil, err
	}
	req.Tools = defs

	logging.WithProvider(logger, provider.ID(), model).Debug("model request",
		"tools", len(req.Tools), "response_format", req.ResponseFormat)

	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return nil, categorize(err, ErrCategoryProvider, block.ID)
	}

	return map[string]any{
		"content": resp.Content,
		"model":   resp.Model,
		"tokens":  toJSONMap(resp.Tokens),
		"toolCalls": map[string]any{
			"list":  toJSONList(resp.ToolCalls),
			"count": len(resp.ToolCalls),
		},
		"timing": toJSONMap(resp.Timing),
		"cost":   toJSONMap(resp.Cost),
	}, nil
}

// agentToolDefs turns the agent block's tool config entries into executable
// definitions. Static params win over model-supplied arguments.
func (e *Executor) agentToolDefs(blockID string, raw any) ([]providers.ToolDefinition, error) {
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return nil, nil
	}

	defs := make([]providers.ToolDefinition, 0, len(entries))
	for i, entry := range entries {
		cfg, ok := entry.(map[string]any)
		if !ok {
			return nil, newValidationError(fmt.Errorf("agent block %s: tool entry %d is not an object", blockID, i))
		}
		baseID, _ := cfg["toolId"].(string)
		if baseID == "" {
			baseID, _ = cfg["id"].(string)
		}
		if baseID == "" {
			return nil, newValidationError(fmt.Errorf("agent block %s: tool entry %d has no id", blockID, i))
		}

		static, _ := cfg["params"].(map[string]any)
		lookup := static
		if op, hasOp := cfg["operation"].(string); hasOp && op != "" {
			lookup = make(map[string]any, len(static)+1)
			for k, v := range static {
				lookup[k] = v
			}
			lookup["operation"] = op
		}

		toolID, err := e.tools.ResolveOperation(baseID, lookup)
		if err != nil {
			return nil, categorize(err, ErrCategoryTool, blockID)
		}
		tool, _ := e.tools.Get(toolID)

		usage := providers.UsageAuto
		if u, ok := cfg["usageControl"].(string); ok && u != "" {
			usage = providers.UsageControl(u)
		}

		staticCopy := static
		defs = append(defs, providers.ToolDefinition{
			ID:           toolID,
			Name:         toolID,
			Description:  tool.Description,
			Parameters:   tool.LLMSchema(static),
			UsageControl: usage,
			Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				merged := make(map[string]any, len(args)+len(staticCopy))
				for k, v := range args {
					merged[k] = v
				}
				for k, v := range staticCopy {
					merged[k] = v
				}
				return e.tools.Execute(ctx, toolID, merged)
			},
		})
	}
	return defs, nil
}

func (e *Executor) executeLoop(ctx context.Context, st *runState, block *models.SerializedBlock, sc *scope, logger *slog.Logger) (map[string]any, error) {
	cfg, ok := e.plan.Loops[block.ID]
	if !ok {
		return nil, newValidationError(fmt.Errorf("loop block %s has no loop config", block.ID))
	}

	items, count, err := e.loopItems(st, cfg, sc)
	if err != nil {
		return nil, err
	}
	if cfg.MaxIterations > 0 && count > cfg.MaxIterations {
		count = cfg.MaxIterations
	}

	results := make([]any, 0, count)
	for i := 0; i < count; i++ {
		var item any
		if items != nil {
			item = items[i]
		}
		// Each iteration starts from a clean subgraph.
		for _, id := range cfg.Nodes {
			delete(st.outputs, id)
		}
		iterScope := &scope{kind: "loop", index: i, currentItem: item, items: items, parent: sc}

		out, err := e.runGraph(ctx, st, e.orderedNodes(cfg.Nodes), iterScope, logger)
		if err != nil {
			if cfg.ContinueOnError {
				logger.Warn("loop iteration failed, continuing", "block_id", block.ID, "iteration", i, "error", err)
				results = append(results, map[string]any{"error": err.Error()})
				continue
			}
			return nil, err
		}
		results = append(results, out)
	}

	return map[string]any{
		"results": results,
		"count":   len(results),
	}, nil
}

func (e *Executor) executeParallel(ctx context.Context, st *runState, block *models.SerializedBlock, sc *scope, logger *slog.Logger) (map[string]any, error) {
	cfg, ok := e.plan.Parallels[block.ID]
	if !ok {
		return nil, newValidationError(fmt.Errorf("parallel block %s has no parallel config", block.ID))
	}

	var items []any
	count := cfg.Count
	if cfg.Distribution != nil {
		r := &resolver{run: st}
		resolved, err := r.resolveValue(cfg.Distribution, sc)
		if err != nil {
			return nil, err
		}
		items, err = collectionItems(resolved)
		if err != nil {
			return nil, categorize(err, ErrCategoryValidation, block.ID)
		}
		count = len(items)
	}
	if count <= 0 {
		return map[string]any{"results": []any{}, "count": 0}, nil
	}

	// Branches run one at a time in partition order, which keeps results
	// and logs deterministic.
	results := make([]any, 0, count)
	for i := 0; i < count; i++ {
		var item any
		if items != nil {
			item = items[i]
		}
		for _, id := range cfg.Nodes {
			delete(st.outputs, id)
		}
		branchScope := &scope{kind: "parallel", index: i, currentItem: item, items: items, parent: sc}

		out, err := e.runGraph(ctx, st, e.orderedNodes(cfg.Nodes), branchScope, logger)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}

	return map[string]any{
		"results": results,
		"count":   len(results),
	}, nil
}

// loopItems resolves the loop's iteration source. A forEach collection wins
// over a fixed iteration count; count-based loops return nil items.
func (e *Executor) loopItems(st *runState, cfg models.Loop, sc *scope) ([]any, int, error) {
	if cfg.ForEach == nil {
		if cfg.Iterations <= 0 {
			return nil, 0, newValidationError(fmt.Errorf("loop has neither forEach nor iterations"))
		}
		return nil, cfg.Iterations, nil
	}

	r := &resolver{run: st}
	resolved, err := r.resolveValue(cfg.ForEach, sc)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectionItems(resolved)
	if err != nil {
		return nil, 0, newValidationError(err)
	}
	return items, len(items), nil
}

// collectionItems normalizes a forEach/distribution value into a slice.
// Maps iterate in sorted key order as {key, value} entries.
func collectionItems(v any) ([]any, error) {
	switch typed := v.(type) {
	case []any:
		return typed, nil
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, map[string]any{"key": k, "value": typed[k]})
		}
		return items, nil
	case string:
		// A JSON-encoded collection is accepted from raw block config.
		var parsed any
		if err := json.Unmarshal([]byte(typed), &parsed); err == nil {
			if _, isString := parsed.(string); !isString {
				return collectionItems(parsed)
			}
		}
		return nil, fmt.Errorf("forEach value %q is not a collection", typed)
	default:
		return nil, fmt.Errorf("forEach value of type %T is not a collection", v)
	}
}

// orderedNodes filters ids through plan.Order so subgraphs schedule
// deterministically.
func (e *Executor) orderedNodes(ids []string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var ordered []string
	for _, id := range e.plan.Order {
		if want[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// toJSONMap converts a struct to its JSON object form so block outputs are
// plain maps that reference resolution and log persistence can walk.
func toJSONMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func toJSONList(v any) []any {
	data, err := json.Marshal(v)
	if err != nil {
		return []any{}
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return []any{}
	}
	if out == nil {
		out = []any{}
	}
	return out
}
