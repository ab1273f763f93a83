package gateway

import (
	"context"
	"sync"
	"time"
)

// pendingTable correlates outstanding request ids with their waiting caller.
// One reader goroutine resolves entries while arbitrarily many callers
// register and await; the quote, account-value and order tables are separate
// instantiations sharing a single id space.
type pendingTable[T any] struct {
	mu      sync.Mutex
	entries map[int64]*Pending[T]
}

func newPendingTable[T any]() *pendingTable[T] {
	return &pendingTable[T]{entries: make(map[int64]*Pending[T])}
}

type outcome[T any] struct {
	val T
	err error
}

// Pending is a single-assignment result slot for one outstanding request.
type Pending[T any] struct {
	id    int64
	op    string
	table *pendingTable[T]
	ch    chan outcome[T]
}

// Register creates a pending entry for id. It must be called before the
// corresponding outbound message is sent, closing the race between send and
// a fast reply.
func (t *pendingTable[T]) Register(id int64, op string) (*Pending[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, ErrDuplicateRequestID
	}

	p := &Pending[T]{
		id:    id,
		op:    op,
		table: t,
		ch:    make(chan outcome[T], 1),
	}
	t.entries[id] = p
	return p, nil
}

// Complete resolves the entry for id with a value. Unknown ids are dropped:
// a reply referencing an already-resolved or never-registered request is not
// an error.
func (t *pendingTable[T]) Complete(id int64, val T) bool {
	return t.resolve(id, outcome[T]{val: val})
}

// Fail resolves the entry for id with an error. No-op for unknown ids.
func (t *pendingTable[T]) Fail(id int64, err error) bool {
	return t.resolve(id, outcome[T]{err: err})
}

func (t *pendingTable[T]) resolve(id int64, out outcome[T]) bool {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	p.ch <- out // buffered; whoever removed the entry delivers exactly once
	return true
}

// CancelAll resolves every outstanding entry with err and empties the table.
func (t *pendingTable[T]) CancelAll(err error) {
	t.mu.Lock()
	pending := make([]*Pending[T], 0, len(t.entries))
	for _, p := range t.entries {
		pending = append(pending, p)
	}
	t.entries = make(map[int64]*Pending[T])
	t.mu.Unlock()

	for _, p := range pending {
		p.ch <- outcome[T]{err: err}
	}
}

func (t *pendingTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Await blocks until the entry resolves, the timeout expires, or ctx is
// cancelled. On expiry it fails its own entry; if a resolution won that race
// the resolution is returned instead, so Complete/Fail stay idempotent.
func (p *Pending[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.val, out.err

	case <-ctx.Done():
		if p.table.Fail(p.id, ctx.Err()) {
			var zero T
			return zero, ctx.Err()
		}
		out := <-p.ch
		return out.val, out.err

	case <-timer.C:
		terr := &TimeoutError{Op: p.op, Wait: timeout}
		if p.table.Fail(p.id, terr) {
			var zero T
			return zero, terr
		}
		out := <-p.ch
		return out.val, out.err
	}
}
