package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSyncInterval = 120 * time.Second

var errMissingEngine = errors.New("scheduler: engine is required")

// SchedulerConfig configures the background sync scheduler.
type SchedulerConfig struct {
	Engine   *Engine
	Interval time.Duration
	Logger   *zap.Logger
}

// Scheduler drives periodic reconciliation without user action. Lifecycle is
// explicit: Start fires one immediate tick and arms the periodic timer, Stop
// clears it. Each tick drains the pending queue and then create-only pushes
// local records absent remotely; tick failures are logged, never raised.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{engine: cfg.Engine, interval: interval, logger: logger}, nil
}

// Start transitions the scheduler to Running. Starting a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx, s.done)
	s.logger.Info("background sync started", zap.Duration("interval", s.interval))
}

// Stop transitions the scheduler to Stopped and waits for the in-flight tick
// to finish. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("background sync stopped")
}

// Running reports whether the scheduler is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
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
	if err := s.engine.DrainQueue(ctx); err != nil {
		s.logger.Warn("queue drain incomplete", zap.Error(err))
	}
	if err := s.engine.PushMissing(ctx); err != nil {
		s.logger.Warn("one-way push incomplete", zap.Error(err))
	}
}
