package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/7777tbone7777/aiagents/internal/reliability"
)

// DialFunc produces a fresh backend link.
type DialFunc func(ctx context.Context) (Link, error)

// Supervisor wraps a dial function with bounded-retry exponential backoff. The
// first attempt is immediate; each retry waits base, 2*base, 4*base ... capped
// at maxDelay. A non-retryable connect error (bad credential) aborts early.
type Supervisor struct {
	dial      DialFunc
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	// OnAttempt observes each attempt outcome; err is nil on success.
	OnAttempt func(attempt int, err error)
}

func NewSupervisor(dial DialFunc, attempts int, baseDelay, maxDelay time.Duration) *Supervisor {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Supervisor{dial: dial, attempts: attempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Connect returns a connected link and the number of attempts it took, or a
// terminal error once the retry budget is exhausted or ctx is cancelled.
func (s *Supervisor) Connect(ctx context.Context) (Link, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			delay := reliability.ExponentialBackoff(attempt-2, s.baseDelay, s.maxDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		link, err := s.dial(ctx)
		if s.OnAttempt != nil {
			s.OnAttempt(attempt, err)
		}
		if err == nil {
			return link, attempt, nil
		}
		lastErr = err

		var connErr *ConnectError
		if errors.As(err, &connErr) && !connErr.Retryable() {
			return nil, attempt, fmt.Errorf("backend unreachable after %d attempts: %w", attempt, err)
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
	}
	return nil, s.attempts, fmt.Errorf("backend unreachable after %d attempts: %w", s.attempts, lastErr)
}
