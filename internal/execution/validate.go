package execution

import (
	"fmt"
	"sort"
	"strings"

	"agentflow/internal/models"
)

// ValidateReferences scans enabled blocks' params for reference expressions
// that can never resolve against the plan: references to unknown blocks and
// loop/parallel scope references from blocks outside such a container.
// Value-level problems (missing output fields, execution order) only surface
// at runtime, so this returns warnings, not errors.
func ValidateReferences(plan *models.SerializedWorkflow) []string {
	known := make(map[string]bool, len(plan.Blocks)*2)
	for id, block := range plan.Blocks {
		known[strings.ToLower(id)] = true
		known[normalizeRefName(block.Name)] = true
	}

	inLoop := containedNodes(plan.Loops)
	inParallel := make(map[string]bool)
	for _, parallel := range plan.Parallels {
		for _, node := range parallel.Nodes {
			inParallel[node] = true
		}
	}

	var warnings []string
	for _, id := range sortedBlockIDs(plan) {
		block := plan.Blocks[id]
		if block == nil || !block.Enabled {
			continue
		}
		collectStrings(block.Params, func(s string) {
			for _, match := range refPattern.FindAllStringSubmatch(s, -1) {
				expr := match[1]
				head := strings.SplitN(expr, ".", 2)[0]
				switch head {
				case "variable":
					// variables are supplied per request, not in the plan
				case "loop":
					if !inLoop[id] {
						warnings = append(warnings, fmt.Sprintf(
							"block %q: reference <%s> used outside a loop container", block.Name, expr))
					}
				case "parallel":
					if !inParallel[id] {
						warnings = append(warnings, fmt.Sprintf(
							"block %q: reference <%s> used outside a parallel container", block.Name, expr))
					}
				default:
					if !known[strings.ToLower(head)] {
						warnings = append(warnings, fmt.Sprintf(
							"block %q: reference <%s> names unknown block %q", block.Name, expr, head))
					}
				}
			}
		})
	}
	return warnings
}

func containedNodes(loops map[string]models.Loop) map[string]bool {
	nodes := make(map[string]bool)
	for _, loop := range loops {
		for _, node := range loop.Nodes {
			nodes[node] = true
		}
	}
	return nodes
}

func sortedBlockIDs(plan *models.SerializedWorkflow) []string {
	if len(plan.Order) == len(plan.Blocks) {
		return plan.Order
	}
	ids := make([]string, 0, len(plan.Blocks))
	for id := range plan.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func collectStrings(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			collectStrings(item, fn)
		}
	case []any:
		for _, item := range val {
			collectStrings(item, fn)
		}
	}
}
