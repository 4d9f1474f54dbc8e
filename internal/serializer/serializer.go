package serializer

import (
	"fmt"
	"strings"

	"agentflow/internal/models"
)

// Version identifies the serialized plan format.
const Version = "1.0"

// Serialize compiles a UI-authored workflow graph into an executable plan.
// Sub-block values are flattened into params (canonical param ids win over
// display ids) and the graph is validated for referential integrity.
// Reference expressions inside param values stay unresolved; they are
// substituted at execution time.
func Serialize(wf *models.Workflow) (*models.SerializedWorkflow, error) {
	plan := &models.SerializedWorkflow{
		Version:   Version,
		Blocks:    make(map[string]*models.SerializedBlock, len(wf.Blocks)),
		Order:     make([]string, 0, len(wf.Blocks)),
		Edges:     wf.Edges,
		Loops:     wf.Loops,
		Parallels: wf.Parallels,
	}

	for _, block := range wf.Blocks {
		if block.ID == "" {
			return nil, fmt.Errorf("block %q has no id", block.Name)
		}
		if _, dup := plan.Blocks[block.ID]; dup {
			return nil, fmt.Errorf("duplicate block id %s", block.ID)
		}

		params := flattenSubBlocks(block.SubBlocks)
		if block.Enabled {
			if err := validateRequired(block, params); err != nil {
				return nil, err
			}
		}

		plan.Blocks[block.ID] = &models.SerializedBlock{
			ID:      block.ID,
			Type:    block.Type,
			Name:    block.Name,
			Enabled: block.Enabled,
			Params:  params,
		}
		plan.Order = append(plan.Order, block.ID)
	}

	if err := validateIntegrity(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Deserialize reconstructs an editable workflow from a plan. Params become
// plain sub-block values; canonical aliases are not recoverable.
func Deserialize(plan *models.SerializedWorkflow) *models.Workflow {
	wf := &models.Workflow{
		Edges:     plan.Edges,
		Loops:     plan.Loops,
		Parallels: plan.Parallels,
	}
	for _, id := range plan.Order {
		sb := plan.Blocks[id]
		if sb == nil {
			continue
		}
		subBlocks := make(map[string]models.SubBlock, len(sb.Params))
		for name, value := range sb.Params {
			subBlocks[name] = models.SubBlock{Value: value}
		}
		wf.Blocks = append(wf.Blocks, models.Block{
			ID:        sb.ID,
			Type:      sb.Type,
			Name:      sb.Name,
			Enabled:   sb.Enabled,
			SubBlocks: subBlocks,
		})
	}
	return wf
}

func flattenSubBlocks(subBlocks map[string]models.SubBlock) map[string]any {
	params := make(map[string]any, len(subBlocks))
	for name, sb := range subBlocks {
		key := name
		if sb.CanonicalParamID != "" {
			key = sb.CanonicalParamID
		}
		params[key] = sb.Value
	}
	return params
}

func validateRequired(block models.Block, params map[string]any) error {
	for _, field := range requiredParams(block.Type) {
		value, ok := params[field]
		if !ok || value == nil || value == "" {
			return fmt.Errorf("block %s (%s): missing required field %q", block.Name, block.ID, field)
		}
	}
	return nil
}

// validateIntegrity rejects plans whose edges or containers reference
// blocks that do not exist.
func validateIntegrity(plan *models.SerializedWorkflow) error {
	for _, edge := range plan.Edges {
		if plan.Blocks[edge.SourceBlockID] == nil {
			return fmt.Errorf("edge references unknown source block %s", edge.SourceBlockID)
		}
		if plan.Blocks[edge.TargetBlockID] == nil {
			return fmt.Errorf("edge references unknown target block %s", edge.TargetBlockID)
		}
	}
	for id, loop := range plan.Loops {
		if plan.Blocks[id] == nil {
			return fmt.Errorf("loop %s has no container block", id)
		}
		for _, node := range loop.Nodes {
			if plan.Blocks[node] == nil {
				return fmt.Errorf("loop %s references unknown block %s", id, node)
			}
		}
	}
	for id, parallel := range plan.Parallels {
		if plan.Blocks[id] == nil {
			return fmt.Errorf("parallel %s has no container block", id)
		}
		for _, node := range parallel.Nodes {
			if plan.Blocks[node] == nil {
				return fmt.Errorf("parallel %s references unknown block %s", id, node)
			}
		}
	}
	return validateAcyclic(plan)
}

// validateAcyclic proves the edge graph has no cycles via Kahn's algorithm.
// Repetition is expressed through loop/parallel containers, which re-invoke
// an acyclic subgraph; container back-edges are excluded from the check.
func validateAcyclic(plan *models.SerializedWorkflow) error {
	indegree := make(map[string]int, len(plan.Blocks))
	outgoing := make(map[string][]string, len(plan.Blocks))
	for _, edge := range plan.Edges {
		if edge.SourceHandle == "loop-end" || edge.SourceHandle == "parallel-end" {
			continue
		}
		indegree[edge.TargetBlockID]++
		outgoing[edge.SourceBlockID] = append(outgoing[edge.SourceBlockID], edge.TargetBlockID)
	}

	queue := make([]string, 0, len(plan.Blocks))
	for _, id := range plan.Order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, target := range outgoing[id] {
			indegree[target]--
			if indegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}
	if seen == len(plan.Blocks) {
		return nil
	}

	var cyclic []string
	for _, id := range plan.Order {
		if indegree[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return fmt.Errorf("workflow contains a cycle outside a loop or parallel container: %s", strings.Join(cyclic, ", "))
}
