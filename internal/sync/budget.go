package sync

// Limiter gates enrichment calls against an external rate budget.
type Limiter interface {
	// TryAcquire reserves one call, reporting false when the budget is spent.
	TryAcquire() bool
	// Used returns the number of calls reserved so far.
	Used() int
}

// CallBudget is a fixed per-refresh call allowance. It is owned exclusively
// by the orchestrator for the duration of one refresh, so no locking is
// needed in the single-worker model.
type CallBudget struct {
	limit int
	used  int
}

// NewCallBudget creates a budget allowing at most limit calls.
func NewCallBudget(limit int) *CallBudget {
	return &CallBudget{limit: limit}
}

// TryAcquire reserves one call if the budget allows it.
func (b *CallBudget) TryAcquire() bool {
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used reports how many calls were reserved.
func (b *CallBudget) Used() int {
	return b.used
}
