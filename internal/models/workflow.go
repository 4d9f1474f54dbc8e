package models

import "time"

// Workflow is the UI-authored graph for an agent: blocks on a canvas,
// edges between them, and loop/parallel containers that own subgraphs.
// It is the input to the serializer, never executed directly.
type Workflow struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Blocks    []Block             `json:"blocks"`
	Edges     []Edge              `json:"edges"`
	Loops     map[string]Loop     `json:"loops,omitempty"`
	Parallels map[string]Parallel `json:"parallels,omitempty"`
	Variables []WorkflowVariable  `json:"variables,omitempty"`
	Version   int                 `json:"version,omitempty"`
	CreatedAt time.Time           `json:"created_at,omitempty"`
	UpdatedAt time.Time           `json:"updated_at,omitempty"`
}

// Block is a single node in the workflow graph as authored in the UI.
// SubBlocks hold raw values that may contain <block.path> references;
// those stay unresolved until execution time.
type Block struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"` // starter, agent, tool, condition, loop, parallel, response
	Name      string              `json:"name"`
	Enabled   bool                `json:"enabled"`
	SubBlocks map[string]SubBlock `json:"subBlocks"`
}

// SubBlock is one configured field of a block. CanonicalParamID, when set,
// renames the field in the serialized params (the UI sometimes uses display
// ids that differ from the parameter the engine expects).
type SubBlock struct {
	Value            any    `json:"value"`
	CanonicalParamID string `json:"canonicalParamId,omitempty"`
}

// Edge is a directed connection between two blocks. Handles distinguish
// condition branches ("true"/"false") and loop/parallel ports
// ("loop-start", "loop-end", "parallel-start", "parallel-end").
type Edge struct {
	SourceBlockID string `json:"sourceBlockId"`
	TargetBlockID string `json:"targetBlockId"`
	SourceHandle  string `json:"sourceHandle,omitempty"`
	TargetHandle  string `json:"targetHandle,omitempty"`
}

// Loop configures a loop container block. Either Iterations (fixed count)
// or ForEach (a collection, or a reference string resolved at run time)
// drives the iteration.
type Loop struct {
	Nodes           []string `json:"nodes"`
	Iterations      int      `json:"iterations,omitempty"`
	ForEach         any      `json:"forEach,omitempty"`
	MaxIterations   int      `json:"maxIterations,omitempty"`
	ContinueOnError bool     `json:"continueOnError,omitempty"`
}

// Parallel configures a parallel container block. Distribution is the
// partition source: a collection, a reference string, or a fixed count.
type Parallel struct {
	Nodes        []string `json:"nodes"`
	Distribution any      `json:"distribution,omitempty"`
	Count        int      `json:"count,omitempty"`
}

// WorkflowVariable is a workflow-level variable available to reference
// expressions as <variable.name>.
type WorkflowVariable struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"` // string, number, boolean, array, object
	Value any    `json:"value,omitempty"`
}

// SerializedWorkflow is the compiled execution plan. It is immutable once
// produced for a given execution; any graph edit requires re-serialization.
type SerializedWorkflow struct {
	Version   string                      `json:"version"`
	Blocks    map[string]*SerializedBlock `json:"blocks"`
	Order     []string                    `json:"order"` // authoring order, used for deterministic scheduling
	Edges     []Edge                      `json:"edges"`
	Loops     map[string]Loop             `json:"loops,omitempty"`
	Parallels map[string]Parallel         `json:"parallels,omitempty"`
}

// SerializedBlock is one executable block descriptor with its flattened,
// canonicalized params. Reference expressions inside Params are still raw.
type SerializedBlock struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Params  map[string]any `json:"params"`
}

// Block returns the descriptor for id, or nil.
func (w *SerializedWorkflow) Block(id string) *SerializedBlock {
	return w.Blocks[id]
}
