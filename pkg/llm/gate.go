package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so pacing and backoff can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Gate spaces outbound model calls at least minInterval apart across the
// whole process. One Gate is shared by every Client built from the same
// composition root. Waiting happens in the caller's goroutine; only the
// limiter state is shared.
type Gate struct {
	limiter *rate.Limiter
	clock   Clock
}

// NewGate returns a gate that admits one call per minInterval. A zero
// interval disables pacing.
func NewGate(minInterval time.Duration, clock Clock) *Gate {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
	}
}

// Acquire blocks until the caller may issue its call.
func (g *Gate) Acquire(ctx context.Context) error {
	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate gate cannot admit call")
	}

	if err := g.clock.Sleep(ctx, r.DelayFrom(now)); err != nil {
		r.CancelAt(g.clock.Now())
		return err
	}
	return nil
}
