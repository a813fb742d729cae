// Package resource bounds the background work of a system: concurrent
// queue drains, concurrent state writes, write throughput and the pacing of
// retried drain passes.
package resource

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxConcurrentDrains is the maximum number of queue handler passes
	// running at once. If 0, defaults to 4.
	MaxConcurrentDrains int64

	// MaxConcurrentWrites is the maximum number of in-flight state writes.
	// If 0, unlimited.
	MaxConcurrentWrites int64

	// WriteBytesPerSec is the maximum persistence throughput.
	// If 0, unlimited.
	WriteBytesPerSec int64

	// RetryInterval is the minimum spacing between retried drain passes
	// across the whole system. If 0, defaults to 50ms.
	RetryInterval time.Duration
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDrains: 4,
		RetryInterval:       50 * time.Millisecond,
	}
}

// Controller manages shared background resources.
type Controller struct {
	cfg Config

	// Concurrency
	drainSem *semaphore.Weighted
	writeSem *semaphore.Weighted // nil if unlimited

	// IO
	ioLimiter *rate.Limiter // nil if unlimited

	// Retries
	retryLimiter *rate.Limiter

	inFlightWrites atomic.Int64
	retries        atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentDrains <= 0 {
		cfg.MaxConcurrentDrains = 4
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}

	c := &Controller{
		cfg:          cfg,
		drainSem:     semaphore.NewWeighted(cfg.MaxConcurrentDrains),
		retryLimiter: rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
	}

	if cfg.MaxConcurrentWrites > 0 {
		c.writeSem = semaphore.NewWeighted(cfg.MaxConcurrentWrites)
	}

	if cfg.WriteBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSec), int(cfg.WriteBytesPerSec))
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// AcquireDrain reserves a drain slot, blocking while all slots are busy.
func (c *Controller) AcquireDrain(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.drainSem.Acquire(ctx, 1)
}

// TryAcquireDrain attempts to reserve a drain slot without blocking.
func (c *Controller) TryAcquireDrain() bool {
	if c == nil {
		return true
	}
	return c.drainSem.TryAcquire(1)
}

// ReleaseDrain releases a drain slot.
func (c *Controller) ReleaseDrain() {
	if c == nil {
		return
	}
	c.drainSem.Release(1)
}

// AcquireWrite reserves a write slot and waits until the throughput limit
// admits bytes more bytes.
func (c *Controller) AcquireWrite(ctx context.Context, bytes int) error {
	if c == nil {
		return nil
	}
	if c.writeSem != nil {
		if err := c.writeSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if c.ioLimiter != nil && bytes > 0 {
		// Writes larger than one second of budget are admitted at burst size.
		n := min(bytes, c.ioLimiter.Burst())
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			if c.writeSem != nil {
				c.writeSem.Release(1)
			}
			return err
		}
	}
	c.inFlightWrites.Add(1)
	return nil
}

// ReleaseWrite releases a write slot.
func (c *Controller) ReleaseWrite() {
	if c == nil {
		return
	}
	if c.writeSem != nil {
		c.writeSem.Release(1)
	}
	c.inFlightWrites.Add(-1)
}

// InFlightWrites returns the number of writes holding a slot.
func (c *Controller) InFlightWrites() int64 {
	if c == nil {
		return 0
	}
	return c.inFlightWrites.Load()
}

// WaitRetry blocks until another failed pass may be retried.
func (c *Controller) WaitRetry(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.retries.Add(1)
	return c.retryLimiter.Wait(ctx)
}

// Retries returns how many retries have been paced.
func (c *Controller) Retries() int64 {
	if c == nil {
		return 0
	}
	return c.retries.Load()
}
