package gateway

import (
	"context"
	"sync"

	"ai-trading-bot/internal/types"
)

type positionsOutcome struct {
	positions types.Positions
	err       error
}

// positionAggregator accumulates one streamed position snapshot. The wire
// protocol exposes a single undifferentiated position feed with no per-request
// id, so at most one session may be in flight; a second concurrent caller
// blocks on the gate until the first session has fully resolved.
type positionAggregator struct {
	gate chan struct{} // capacity 1, held while a session is active

	mu     sync.Mutex
	active bool
	acc    types.Positions
	result chan positionsOutcome
}

func newPositionAggregator() *positionAggregator {
	return &positionAggregator{gate: make(chan struct{}, 1)}
}

// Begin opens a session, blocking until any prior session has completed.
// The returned channel delivers exactly one outcome when End or Fail runs.
func (a *positionAggregator) Begin(ctx context.Context) (<-chan positionsOutcome, error) {
	select {
	case a.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	a.active = true
	a.acc = make(types.Positions)
	a.result = make(chan positionsOutcome, 1)
	result := a.result
	a.mu.Unlock()

	return result, nil
}

// Accumulate merges one position record into the session, summing repeated
// symbols. Records arriving outside a session are dropped.
func (a *positionAggregator) Accumulate(symbol string, qty float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	a.acc[symbol] += qty
}

// End finalizes the session: snapshots the accumulated map, resolves the
// waiting caller and releases the gate.
func (a *positionAggregator) End() {
	a.finish(positionsOutcome{})
}

// Fail resolves the session with an error instead of a snapshot.
func (a *positionAggregator) Fail(err error) {
	a.finish(positionsOutcome{err: err})
}

func (a *positionAggregator) finish(out positionsOutcome) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	if out.err == nil {
		snapshot := make(types.Positions, len(a.acc))
		for symbol, qty := range a.acc {
			snapshot[symbol] = qty
		}
		out.positions = snapshot
	}
	result := a.result
	a.active = false
	a.acc = nil
	a.result = nil
	a.mu.Unlock()

	result <- out
	<-a.gate
}
