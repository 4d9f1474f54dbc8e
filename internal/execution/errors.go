package execution

import "fmt"

// ErrorCategory classifies execution failures so callers and the log
// pipeline can tell user mistakes apart from upstream provider failures.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "validation"
	ErrCategoryResolution  ErrorCategory = "resolution"
	ErrCategoryProvider    ErrorCategory = "provider"
	ErrCategoryTool        ErrorCategory = "tool"
	ErrCategoryCancelled   ErrorCategory = "cancelled"
	ErrCategoryPersistence ErrorCategory = "persistence"
)

// ExecutionError wraps a block failure with its category and origin block.
type ExecutionError struct {
	Category ErrorCategory
	BlockID  string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.BlockID != "" {
		return fmt.Sprintf("%s error in block %s: %v", e.Category, e.BlockID, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Category, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func newResolutionError(err error) error {
	return &ExecutionError{Category: ErrCategoryResolution, Err: err}
}

func newValidationError(err error) error {
	return &ExecutionError{Category: ErrCategoryValidation, Err: err}
}

// categorize maps an arbitrary block error to its category, preserving an
// existing classification.
func categorize(err error, fallback ErrorCategory, blockID string) *ExecutionError {
	if typed, ok := err.(*ExecutionError); ok {
		if typed.BlockID == "" {
			typed.BlockID = blockID
		}
		return typed
	}
	return &ExecutionError{Category: fallback, BlockID: blockID, Err: err}
}
