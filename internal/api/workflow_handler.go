package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"agentflow/internal/execution"
	"agentflow/internal/logs"
	"agentflow/internal/models"
	"agentflow/internal/serializer"
	"agentflow/internal/tools"
)

// ExecutionReader fetches persisted log entries from the sink.
type ExecutionReader interface {
	ListByExecution(ctx context.Context, executionID string) ([]logs.Entry, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]logs.ExecutionRecord, error)
}

// WorkflowHandler serves workflow serialization, execution, and log reads.
type WorkflowHandler struct {
	providers execution.ProviderSource
	tools     *tools.Registry
	logger    *logs.Logger
	reader    ExecutionReader
	tracker   *execution.Tracker
	envVars   map[string]string
}

func NewWorkflowHandler(providers execution.ProviderSource, toolReg *tools.Registry, logger *logs.Logger, reader ExecutionReader, tracker *execution.Tracker, envVars map[string]string) *WorkflowHandler {
	return &WorkflowHandler{
		providers: providers,
		tools:     toolReg,
		logger:    logger,
		reader:    reader,
		tracker:   tracker,
		envVars:   envVars,
	}
}

type executeRequest struct {
	Workflow    models.Workflow   `json:"workflow"`
	Input       map[string]any    `json:"input"`
	Variables   map[string]any    `json:"variables"`
	Env         map[string]string `json:"env"`
	TriggerType string            `json:"triggerType"`
	UserID      string            `json:"userId"`
}

// Execute runs a workflow synchronously and returns its ExecutionResult.
// POST /api/workflows/execute
func (h *WorkflowHandler) Execute(c *fiber.Ctx) error {
	if h.tracker != nil && !h.tracker.Acquire() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Server is shutting down",
		})
	}
	if h.tracker != nil {
		defer h.tracker.Release()
	}

	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	plan, err := serializer.Serialize(&req.Workflow)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	exec, err := execution.NewExecutor(execution.Config{
		Plan:         plan,
		EnvVars:      h.mergedEnv(req.Env),
		TriggerInput: req.Input,
		Variables:    h.mergedVariables(req.Workflow.Variables, req.Variables),
		Providers:    h.providers,
		Tools:        h.tools,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result, err := exec.Execute(c.Context(), req.Workflow.ID)
	if err != nil {
		slog.Error("execution setup failed", "workflow_id", req.Workflow.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to execute workflow",
		})
	}

	if h.logger != nil {
		trigger := logs.Trigger{Type: req.TriggerType, UserID: req.UserID}
		if trigger.Type == "" {
			trigger.Type = "api"
		}
		// Persistence is best-effort and must not delay the response.
		go func(result *models.ExecutionResult) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.logger.PersistExecutionLogs(ctx, req.Workflow.ID, result.ExecutionID, result, trigger); err != nil {
				slog.Warn("log persistence incomplete", "execution_id", result.ExecutionID, "error", err)
			}
		}(result)
	}

	return c.JSON(result)
}

// Validate serializes a workflow without executing it.
// POST /api/workflows/validate
func (h *WorkflowHandler) Validate(c *fiber.Ctx) error {
	var wf models.Workflow
	if err := c.BodyParser(&wf); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	plan, err := serializer.Serialize(&wf)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"valid": false,
			"error": err.Error(),
		})
	}

	warnings := execution.ValidateReferences(plan)
	return c.JSON(fiber.Map{
		"valid":    true,
		"blocks":   len(plan.Blocks),
		"edges":    len(plan.Edges),
		"warnings": warnings,
	})
}

// GetExecution returns the persisted log entries for one execution.
// GET /api/executions/:id
func (h *WorkflowHandler) GetExecution(c *fiber.Ctx) error {
	if h.reader == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Execution history is not configured",
		})
	}

	executionID := c.Params("id")
	entries, err := h.reader.ListByExecution(c.Context(), executionID)
	if err != nil {
		slog.Error("failed to load execution logs", "execution_id", executionID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load execution",
		})
	}
	if len(entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Execution not found",
		})
	}

	return c.JSON(fiber.Map{
		"executionId": executionID,
		"entries":     entries,
	})
}

// ListExecutions returns a workflow's execution history summaries.
// GET /api/workflows/:id/executions
func (h *WorkflowHandler) ListExecutions(c *fiber.Ctx) error {
	if h.reader == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Execution history is not configured",
		})
	}

	workflowID := c.Params("id")
	records, err := h.reader.ListByWorkflow(c.Context(), workflowID, c.QueryInt("limit", 50))
	if err != nil {
		slog.Error("failed to load workflow executions", "workflow_id", workflowID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load executions",
		})
	}

	return c.JSON(fiber.Map{
		"workflowId": workflowID,
		"executions": records,
		"count":      len(records),
	})
}

// ListTools returns the tool registry contents for the block palette.
// GET /api/tools
func (h *WorkflowHandler) ListTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools": h.tools.ListDetailed(),
		"count": h.tools.Count(),
	})
}

func (h *WorkflowHandler) mergedEnv(requestEnv map[string]string) map[string]string {
	if len(requestEnv) == 0 {
		return h.envVars
	}
	merged := make(map[string]string, len(h.envVars)+len(requestEnv))
	for k, v := range h.envVars {
		merged[k] = v
	}
	for k, v := range requestEnv {
		merged[k] = v
	}
	return merged
}

// mergedVariables overlays request-supplied values on the workflow's own
// variable declarations.
func (h *WorkflowHandler) mergedVariables(declared []models.WorkflowVariable, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(declared)+len(overrides))
	for _, v := range declared {
		merged[v.Name] = v.Value
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
