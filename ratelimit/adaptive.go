package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const latencyWindowSize = 100

// AdaptiveLimiter wraps a Limiter and re-sizes it from observed response
// latency: capacity shrinks by the adjust fraction when the rolling average
// exceeds the target, grows by the same fraction otherwise, clamped to
// [minRate, maxRate].
type AdaptiveLimiter struct {
	base *Limiter

	mu             sync.Mutex
	latencies      []time.Duration
	targetLatency  time.Duration
	adjustFraction float64
	adjustInterval time.Duration
	lastAdjust     time.Time
	minRate        int
	maxRate        int
	logger         *zap.Logger
}

// NewAdaptiveLimiter creates an adaptive limiter starting at initialRate
// acquisitions per window.
func NewAdaptiveLimiter(initialRate int, window time.Duration, targetLatency time.Duration,
	adjustFraction float64, adjustInterval time.Duration, minRate, maxRate int, logger *zap.Logger) *AdaptiveLimiter {
	if adjustFraction <= 0 {
		adjustFraction = 0.1
	}
	if minRate < 1 {
		minRate = 1
	}
	if maxRate < minRate {
		maxRate = minRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdaptiveLimiter{
		base:           NewLimiter(initialRate, window),
		latencies:      make([]time.Duration, 0, latencyWindowSize),
		targetLatency:  targetLatency,
		adjustFraction: adjustFraction,
		adjustInterval: adjustInterval,
		lastAdjust:     time.Now(),
		minRate:        minRate,
		maxRate:        maxRate,
		logger:         logger,
	}
}

// Acquire suspends until a slot is free, as the base limiter does.
func (a *AdaptiveLimiter) Acquire(ctx context.Context) error {
	return a.base.Acquire(ctx)
}

// Record feeds one observed response latency into the rolling window and
// re-sizes the bucket when the adjustment interval has elapsed.
func (a *AdaptiveLimiter) Record(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.latencies = append(a.latencies, latency)
	if len(a.latencies) > latencyWindowSize {
		a.latencies = a.latencies[len(a.latencies)-latencyWindowSize:]
	}

	if time.Since(a.lastAdjust) < a.adjustInterval {
		return
	}
	a.adjustLocked()
	a.lastAdjust = time.Now()
}

func (a *AdaptiveLimiter) adjustLocked() {
	if len(a.latencies) == 0 {
		return
	}

	var total time.Duration
	for _, l := range a.latencies {
		total += l
	}
	avg := total / time.Duration(len(a.latencies))

	current := a.base.Capacity()
	step := int(float64(current) * a.adjustFraction)
	if step < 1 {
		step = 1
	}

	next := current
	if avg > a.targetLatency {
		next = current - step
	} else {
		next = current + step
	}
	if next < a.minRate {
		next = a.minRate
	}
	if next > a.maxRate {
		next = a.maxRate
	}

	if next != current {
		a.base.SetCapacity(next)
		a.logger.Debug("adaptive throttle adjusted",
			zap.Int("from", current),
			zap.Int("to", next),
			zap.Duration("avg_latency", avg),
			zap.Duration("target_latency", a.targetLatency))
	}
}

// Capacity returns the current bucket size.
func (a *AdaptiveLimiter) Capacity() int {
	return a.base.Capacity()
}
