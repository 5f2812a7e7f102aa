package evaluation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"go.uber.org/zap"
)

// ErrSchedulerRunning is returned by Start when the loop is already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

// Scheduler drives the Evaluator on a ticker. One slot guards every pass,
// scheduled or manual, so two evaluations never overlap.
type Scheduler struct {
	logger     *zap.Logger
	evaluator  *Evaluator
	metrics    *observability.Metrics
	runOnStart bool

	slot chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	onPass func(*types.PassSummary)
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *zap.Logger, evaluator *Evaluator, metrics *observability.Metrics, runOnStart bool) *Scheduler {
	return &Scheduler{
		logger:     logger,
		evaluator:  evaluator,
		metrics:    metrics,
		runOnStart: runOnStart,
		slot:       make(chan struct{}, 1),
	}
}

// OnPass sets a callback fired after every completed pass.
func (s *Scheduler) OnPass(fn func(*types.PassSummary)) {
	s.onPass = fn
}

// Start launches the ticker loop. It stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("starting set evaluation scheduler",
		zap.Duration("interval", interval),
		zap.Bool("run_on_start", s.runOnStart),
	)

	go s.loop(loopCtx, interval, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.Tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("set evaluation scheduler stopped")
}

// Tick runs one scheduled pass unless another pass holds the slot. It
// reports whether a pass ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	select {
	case s.slot <- struct{}{}:
	default:
		s.metrics.RecordSkippedTick()
		s.logger.Info("evaluation pass still running, skipping tick")
		return false
	}
	defer func() { <-s.slot }()

	summary, err := s.evaluator.EvaluateActive(ctx)
	if err != nil {
		s.logger.Error("scheduled evaluation pass failed", zap.Error(err))
	}
	s.publish(summary)
	return true
}

// RunAll runs a full pass, waiting for the slot if a pass is in flight.
func (s *Scheduler) RunAll(ctx context.Context) (*types.PassSummary, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.slot }()

	summary, err := s.evaluator.EvaluateActive(ctx)
	if err != nil {
		return summary, err
	}
	s.publish(summary)
	return summary, nil
}

// RunOnce evaluates a single Set, waiting for the slot if a pass is in flight.
func (s *Scheduler) RunOnce(ctx context.Context, setID string) (*types.SetEvaluation, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.slot }()

	return s.evaluator.EvaluateByID(ctx, setID)
}

// Busy reports whether a pass currently holds the slot.
func (s *Scheduler) Busy() bool {
	return len(s.slot) > 0
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) publish(summary *types.PassSummary) {
	if summary != nil && s.onPass != nil {
		s.onPass(summary)
	}
}
