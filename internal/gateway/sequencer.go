package gateway

import (
	"context"
	"sync"
	"time"
)

// orderIDSequencer issues strictly increasing order ids, seeded from the
// gateway's handshake value. The gateway restarts its counter on reconnect,
// so re-seeding resets subsequent issuance.
type orderIDSequencer struct {
	wait time.Duration

	mu     sync.Mutex
	next   int64
	seeded bool
	ready  chan struct{}
}

func newOrderIDSequencer(wait time.Duration) *orderIDSequencer {
	return &orderIDSequencer{
		wait:  wait,
		ready: make(chan struct{}),
	}
}

// Seed sets the next id to issue. The first call unblocks waiting callers.
func (s *orderIDSequencer) Seed(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = v
	if !s.seeded {
		s.seeded = true
		close(s.ready)
	}
}

// Next returns the next order id, blocking until the sequencer has been
// seeded. An unseeded sequencer times out after the configured wait instead
// of handing out a garbage id.
func (s *orderIDSequencer) Next(ctx context.Context) (int64, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, &TimeoutError{Op: "order id handshake", Wait: s.wait}
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.mu.Unlock()
	return id, nil
}
