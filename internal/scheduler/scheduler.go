// Package scheduler provides admission control for outbound model calls.
// A single Scheduler instance is shared by every pipeline in the process:
// it bounds how many calls are in flight, paces call starts, and retries
// transient failures with provider-aware backoff.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lessonforge/internal/metrics"
)

// Config controls scheduler behavior. The zero value is not usable;
// build one with FromSettings or fill every field.
type Config struct {
	// MaxParallel bounds concurrent in-flight calls
	MaxParallel int
	// MinStartInterval is the minimum spacing between call starts
	MinStartInterval time.Duration
	// MaxAttempts is the total invocation ceiling per scheduled call
	MaxAttempts int
	// BaseBackoff is the base delay for exponential backoff
	BaseBackoff time.Duration
	// MaxBackoff caps the computed backoff delay
	MaxBackoff time.Duration
}

// Scheduler is a process-wide admission-control queue in front of the
// model client. Admission is FIFO: calls acquire slots in the order
// they arrived, though nothing orders their completion.
type Scheduler struct {
	cfg       Config
	pacer     *rate.Limiter
	logger    *slog.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	active  int
	waiters []chan struct{}
}

// New creates a scheduler. collector may be nil.
func New(cfg Config, logger *slog.Logger, collector *metrics.Collector) *Scheduler {
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinStartInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.MinStartInterval), 1)
	}
	return &Scheduler{
		cfg:       cfg,
		pacer:     pacer,
		logger:    logger.With("component", "scheduler"),
		collector: collector,
	}
}

// acquire claims an in-flight slot, queuing FIFO behind earlier callers
// when the parallelism bound is reached.
func (s *Scheduler) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.cfg.MaxParallel && len(s.waiters) == 0 {
		s.active++
		s.observeDepth()
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.observeDepth()
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		// The slot may have been granted between ctx firing and the
		// lock; if the waiter is gone, hand the grant back.
		removed := false
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			s.releaseLocked()
		}
		s.observeDepth()
		s.mu.Unlock()
		return ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it. Called on
// call completion so the queue drains event-driven, not polled.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.releaseLocked()
	s.observeDepth()
	s.mu.Unlock()
}

func (s *Scheduler) releaseLocked() {
	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ready) // slot transfers to the waiter; active unchanged
		return
	}
	s.active--
}

func (s *Scheduler) observeDepth() {
	if s.collector != nil {
		s.collector.SetSchedulerState(s.active, len(s.waiters))
	}
}

// space delays until the pacing interval since the last call start has
// elapsed, plus a small random jitter to smooth bursts.
func (s *Scheduler) space(ctx context.Context) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}
	if s.cfg.MinStartInterval > 0 {
		jitter := time.Duration(rand.Int63n(int64(s.cfg.MinStartInterval) / 5))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	return nil
}

// backoffDelay computes the delay before retry attempt n (1-based count
// of completed attempts): a provider hint when present, otherwise
// exponential backoff with jitter.
func (s *Scheduler) backoffDelay(err error, attempt int) time.Duration {
	if hint := retryHint(err); hint > 0 {
		return hint
	}

	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * s.cfg.BaseBackoff
	if backoff > s.cfg.MaxBackoff {
		backoff = s.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/5 + 1))
	return backoff + jitter
}

// Schedule submits a unit of work performing exactly one logical model
// request. It blocks until the work resolves, exhausts its attempt
// budget, or fails fatally. Methods cannot be generic, hence the
// package-level function.
func Schedule[T any](
	ctx context.Context,
	s *Scheduler,
	call func(context.Context) (T, error),
) (T, error) {
	var zero T

	if err := s.acquire(ctx); err != nil {
		return zero, err
	}
	defer s.release()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.space(ctx); err != nil {
			return zero, err
		}

		start := time.Now()
		result, err := call(ctx)
		if s.collector != nil {
			s.collector.RecordCall(time.Since(start), err == nil)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !classifyFailure(err) {
			s.logger.Debug("Call failed fatally", "attempt", attempt, "error", err)
			return zero, err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := s.backoffDelay(err, attempt)
		s.logger.Warn("Retrying model call",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
			"backoff", delay,
			"error", err)
		if s.collector != nil {
			s.collector.RecordRetryDelay(delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, &ExhaustedError{Attempts: s.cfg.MaxAttempts, Err: lastErr}
}
