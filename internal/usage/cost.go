// Package usage prices the token usage of a reply.
package usage

import (
	"fmt"
	"strings"

	"modelgate/internal/core"
)

// CostResult is the USD cost of one reply, split by token kind.
type CostResult struct {
	InputCost      float64 `json:"input_cost"`
	OutputCost     float64 `json:"output_cost"`
	CacheWriteCost float64 `json:"cache_write_cost"`
	CacheReadCost  float64 `json:"cache_read_cost"`
	TotalCost      float64 `json:"total_cost"`
	// Caveat names token kinds that were reported but could not be priced.
	Caveat string `json:"caveat,omitempty"`
}

// CalculateCost prices u with the per-million-token rates of model. Cache
// tokens are priced only when the model carries a cache rate; otherwise they
// are left out of the total and reported in Caveat.
func CalculateCost(model core.ModelDescriptor, u core.Usage) CostResult {
	var r CostResult
	var caveats []string

	r.InputCost = perMtok(u.InputTokens, model.InputPrice)
	r.OutputCost = perMtok(u.OutputTokens, model.OutputPrice)

	if u.CacheCreationInputTokens > 0 {
		if model.CacheWritesPrice != nil {
			r.CacheWriteCost = perMtok(u.CacheCreationInputTokens, *model.CacheWritesPrice)
		} else {
			caveats = append(caveats, fmt.Sprintf("%d cache write tokens without a price", u.CacheCreationInputTokens))
		}
	}
	if u.CacheReadInputTokens > 0 {
		if model.CacheReadsPrice != nil {
			r.CacheReadCost = perMtok(u.CacheReadInputTokens, *model.CacheReadsPrice)
		} else {
			caveats = append(caveats, fmt.Sprintf("%d cache read tokens without a price", u.CacheReadInputTokens))
		}
	}

	r.TotalCost = r.InputCost + r.OutputCost + r.CacheWriteCost + r.CacheReadCost
	r.Caveat = strings.Join(caveats, "; ")
	return r
}

func perMtok(tokens int, price float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) * price / 1_000_000
}
