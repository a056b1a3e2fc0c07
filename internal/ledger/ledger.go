// Package ledger implements the per-run resource accountant: token counts
// per backend, accumulated USD cost, and tool usage counters.
package ledger

import (
	"errors"
	"fmt"

	"github.com/troupehq/troupe/internal/pricing"
)

// ErrNegativeTokens is returned when a caller tries to record a negative
// token count. That is a contract violation on the caller's side; the
// ledger rejects it and stays untouched rather than clamping silently.
var ErrNegativeTokens = errors.New("negative token count")

// Ledger tracks cumulative token usage and cost for one run. The zero
// value is usable; maps are initialized lazily. Inside a workflow a ledger
// is single-threaded: fan-out branch usage accumulates in a local ledger
// and is folded in with Merge at the reduce barrier.
type Ledger struct {
	InputTokens     map[string]int   `json:"input_tokens"`
	OutputTokens    map[string]int   `json:"output_tokens"`
	TotalCost       float64          `json:"total_cost"`
	ToolCallCount   int              `json:"tool_call_count"`
	ToolSearchCount int              `json:"tool_search_count"`
	Prices          pricing.Snapshot `json:"prices"`
}

// New returns a ledger pricing tokens with the given snapshot.
func New(prices pricing.Snapshot) Ledger {
	return Ledger{
		InputTokens:  make(map[string]int),
		OutputTokens: make(map[string]int),
		Prices:       prices,
	}
}

// Record adds one generation call's token counts for a backend and brings
// TotalCost back in line with the token maps. The cached cost field is
// always recomputed from the full maps, never incremented, so it cannot
// drift from the canonical formula.
func (l *Ledger) Record(backend string, inputTokens, outputTokens int) error {
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("%w: backend %s input=%d output=%d",
			ErrNegativeTokens, backend, inputTokens, outputTokens)
	}
	if l.InputTokens == nil {
		l.InputTokens = make(map[string]int)
	}
	if l.OutputTokens == nil {
		l.OutputTokens = make(map[string]int)
	}
	l.InputTokens[backend] += inputTokens
	l.OutputTokens[backend] += outputTokens
	l.TotalCost = l.ComputedCost()
	return nil
}

// RecordToolCall notes one tool-gateway invocation that issued nSearches
// search queries.
func (l *Ledger) RecordToolCall(nSearches int) {
	l.ToolCallCount++
	if nSearches > 0 {
		l.ToolSearchCount += nSearches
	}
}

// RecordToolCalls folds aggregate tool counters reported by an agent
// execution into the ledger.
func (l *Ledger) RecordToolCalls(calls, searches int) {
	if calls > 0 {
		l.ToolCallCount += calls
	}
	if searches > 0 {
		l.ToolSearchCount += searches
	}
}

// ComputedCost derives the total cost from the token maps and the price
// snapshot. TotalCost must equal this at every observation point.
func (l *Ledger) ComputedCost() float64 {
	var total float64
	for backend, tokens := range l.InputTokens {
		total += float64(tokens) / 1e6 * l.Prices.PriceFor(backend).Input
	}
	for backend, tokens := range l.OutputTokens {
		total += float64(tokens) / 1e6 * l.Prices.PriceFor(backend).Output
	}
	return total
}

// Merge folds another ledger (a fan-out branch's local ledger) into this
// one and recomputes cost from the merged maps.
func (l *Ledger) Merge(other Ledger) {
	if l.InputTokens == nil {
		l.InputTokens = make(map[string]int)
	}
	if l.OutputTokens == nil {
		l.OutputTokens = make(map[string]int)
	}
	for backend, tokens := range other.InputTokens {
		l.InputTokens[backend] += tokens
	}
	for backend, tokens := range other.OutputTokens {
		l.OutputTokens[backend] += tokens
	}
	l.ToolCallCount += other.ToolCallCount
	l.ToolSearchCount += other.ToolSearchCount
	if len(l.Prices.Prices) == 0 {
		l.Prices = other.Prices
	}
	l.TotalCost = l.ComputedCost()
}

// TotalTokens returns the summed input+output tokens across all backends.
func (l *Ledger) TotalTokens() int {
	var total int
	for _, t := range l.InputTokens {
		total += t
	}
	for _, t := range l.OutputTokens {
		total += t
	}
	return total
}
