package gateway

import (
	"context"
	"sync"
	"time"

	"ai-trading-bot/internal/logger"
)

// supervisor retries connecting after a connection loss. It sits idle until
// armed, then attempts reconnects with exponential backoff up to a cap,
// resetting to the base delay after every successful reconnection. An
// explicit disconnect stops it entirely.
type supervisor struct {
	base    time.Duration
	max     time.Duration
	connect func(ctx context.Context) error
	sleep   func(ctx context.Context, d time.Duration) error // injectable for tests

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSupervisor(base, max time.Duration, connect func(ctx context.Context) error) *supervisor {
	return &supervisor{
		base:    base,
		max:     max,
		connect: connect,
		sleep:   sleepCtx,
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the supervisor loop. Idempotent.
func (s *supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(ctx, s.done)
}

// Stop cancels any pending delay or in-flight attempt and waits for the loop
// to exit. Idempotent.
func (s *supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Arm schedules a reconnection round. Coalesces repeated losses while a
// round is already pending.
func (s *supervisor) Arm() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		}
		if !s.attempt(ctx) {
			return
		}
	}
}

// attempt runs one reconnection round: base, 2x, 4x, ... capped at max,
// until connected or cancelled. Returns false when ctx was cancelled.
func (s *supervisor) attempt(ctx context.Context) bool {
	delay := s.base
	for {
		if err := s.sleep(ctx, delay); err != nil {
			return false
		}

		logger.Info(ctx, "attempting gateway reconnection", "delay", delay.String())
		if err := s.connect(ctx); err == nil {
			logger.Info(ctx, "gateway reconnected")
			return true
		} else {
			logger.Warn(ctx, "gateway reconnection failed",
				"delay", delay.String(),
				"error", err,
			)
		}

		delay *= 2
		if delay > s.max {
			delay = s.max
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
