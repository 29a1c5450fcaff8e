// Package scheduler drives the notification dispatch engine with a periodic
// tick. It is an explicitly constructed component, not process-global state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInterval = 60 * time.Second

// Dispatcher is the dispatch engine surface the scheduler drives.
type Dispatcher interface {
	ProcessPending(ctx context.Context) (int, error)
}

type Scheduler struct {
	dispatch Dispatcher
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// ticking guards against overlapping runs: a slow batch delays the next
	// tick instead of racing it, so a notification is never sent twice by
	// two concurrent batches.
	ticking atomic.Bool
}

func New(dispatch Dispatcher, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		dispatch: dispatch,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the tick loop, running one batch immediately. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)
}

// Stop cancels the tick loop and waits for any in-flight batch to finish.
// Stopping an already stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.logger.Warn("previous notification batch still running, skipping tick")
		return
	}
	defer s.ticking.Store(false)

	processed, err := s.dispatch.ProcessPending(ctx)
	if err != nil {
		s.logger.Error("notification batch failed", "err", err)
		return
	}
	if processed > 0 {
		s.logger.Info("notification batch processed", "count", processed)
	}
}
