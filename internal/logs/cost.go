package logs

import "math"

// costAccumulator gathers per-execution cost and token totals across agent
// blocks. The model invoked most often becomes the execution's primary model.
type costAccumulator struct {
	totals      Totals
	modelCounts map[string]int
	pricing     map[string]any // first pricing snapshot seen
}

func newCostAccumulator() *costAccumulator {
	return &costAccumulator{modelCounts: make(map[string]int)}
}

func (a *costAccumulator) add(model string, cost *Cost, tokens *Tokens, pricing map[string]any) {
	if model != "" {
		a.modelCounts[model]++
		a.totals.ModelCalls++
	}
	if cost != nil {
		a.totals.Cost.Input = round6(a.totals.Cost.Input + cost.Input)
		a.totals.Cost.Output = round6(a.totals.Cost.Output + cost.Output)
		a.totals.Cost.Total = round6(a.totals.Cost.Total + cost.Total)
	}
	if tokens != nil {
		a.totals.PromptTokens += tokens.Prompt
		a.totals.CompletionTokens += tokens.Completion
		a.totals.TotalTokens += tokens.Total
	}
	if a.pricing == nil && pricing != nil {
		a.pricing = pricing
	}
}

// primaryModel returns the most-invoked model, breaking ties by name so the
// result is deterministic.
func (a *costAccumulator) primaryModel() string {
	best := ""
	bestCount := 0
	for model, count := range a.modelCounts {
		if count > bestCount || (count == bestCount && model < best) {
			best = model
			bestCount = count
		}
	}
	return best
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
