package server

import (
	"context"
	"sync/atomic"
)

// Limiter bounds concurrent inference calls. Transformer encoding is CPU
// and memory heavy; letting every connection encode at once trades
// latency for OOM risk.
type Limiter struct {
	slots    chan struct{}
	rejected atomic.Int64
}

// NewLimiter creates a limiter admitting up to capacity concurrent calls.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 8
	}
	return &Limiter{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot frees up or the context expires. On context
// expiry the request counts as rejected.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return ctx.Err()
	}
}

// Release returns a slot. Must follow a successful Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	return len(l.slots)
}

// Rejected returns how many acquisitions timed out at capacity.
func (l *Limiter) Rejected() int64 {
	return l.rejected.Load()
}
