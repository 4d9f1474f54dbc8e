package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the process-wide slog handler. Production emits JSON lines
// for log shipping; everything else gets the text handler at debug level.
func Init(environment string) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var handler slog.Handler
	if strings.EqualFold(environment, "production") {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithExecution scopes a logger to one workflow run. The user id may be
// empty for unattributed runs.
func WithExecution(executionID, workflowID, userID string) *slog.Logger {
	logger := slog.With("execution_id", executionID, "workflow_id", workflowID)
	if userID != "" {
		logger = logger.With("user_id", userID)
	}
	return logger
}

// WithBlock narrows an execution logger to one block.
func WithBlock(logger *slog.Logger, blockID, blockName, blockType string) *slog.Logger {
	return logger.With("block_id", blockID, "block_name", blockName, "block_type", blockType)
}

// WithProvider narrows a logger to one model call.
func WithProvider(logger *slog.Logger, provider, model string) *slog.Logger {
	return logger.With("provider", provider, "model", model)
}
