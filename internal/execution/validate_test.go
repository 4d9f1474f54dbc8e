package execution

import (
	"strings"
	"testing"

	"agentflow/internal/models"
)

func TestValidateReferencesFlagsUnknownBlock(t *testing.T) {
	plan := testPlan([]*models.SerializedBlock{
		blk("start", "starter", nil),
		blk("reply", "response", map[string]any{"content": "<fetcher.output> and <start.input>"}),
	}, []models.Edge{edge("start", "reply")})

	warnings := ValidateReferences(plan)
	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], "fetcher") {
		t.Errorf("Warning should name the unknown block: %s", warnings[0])
	}
}

func TestValidateReferencesScopeOutsideContainer(t *testing.T) {
	plan := testPlan([]*models.SerializedBlock{
		blk("start", "starter", nil),
		blk("looper", "loop", nil),
		blk("inner", "response", map[string]any{"content": "<loop.currentItem>"}),
		blk("outer", "response", map[string]any{"content": "<loop.index>"}),
	}, []models.Edge{edge("start", "looper"), edge("looper", "outer")})
	plan.Loops = map[string]models.Loop{
		"looper": {Nodes: []string{"inner"}, Iterations: 2},
	}

	warnings := ValidateReferences(plan)
	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], `"outer"`) || !strings.Contains(warnings[0], "loop") {
		t.Errorf("Warning should point at the out-of-scope block: %s", warnings[0])
	}
}

func TestValidateReferencesCleanPlan(t *testing.T) {
	plan := testPlan([]*models.SerializedBlock{
		blk("start", "starter", nil),
		blk("Data Fetcher", "tool", map[string]any{"tool": "echo", "value": "<start.input>"}),
		blk("reply", "response", map[string]any{
			"content": "<datafetcher.output> <variable.city> {{API_HOST}}",
		}),
	}, []models.Edge{edge("start", "Data Fetcher"), edge("Data Fetcher", "reply")})

	if warnings := ValidateReferences(plan); len(warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", warnings)
	}
}

func TestValidateReferencesSkipsDisabledBlocks(t *testing.T) {
	disabled := blk("broken", "response", map[string]any{"content": "<ghost.output>"})
	disabled.Enabled = false
	plan := testPlan([]*models.SerializedBlock{
		blk("start", "starter", nil),
		disabled,
	}, []models.Edge{edge("start", "broken")})

	if warnings := ValidateReferences(plan); len(warnings) != 0 {
		t.Errorf("Disabled blocks must not be validated, got %v", warnings)
	}
}
