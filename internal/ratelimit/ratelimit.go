// Package ratelimit paces page operations so a crawl run looks like a
// person browsing, not a scraper hammering the platform.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter blocks until the next page operation is allowed to proceed.
type Limiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Pacer enforces a jittered minimum gap between consecutive operations.
type Pacer struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	return &Pacer{minDelay: minDelay, maxDelay: maxDelay}
}

// Wait sleeps out the remainder of the current gap, honoring ctx.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	gap := p.nextGap()
	if elapsed := time.Since(p.last); elapsed < gap {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gap - elapsed):
		}
	}
	p.last = time.Now()
	return nil
}

func (p *Pacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minDelay = min
	p.maxDelay = max
}

func (p *Pacer) nextGap() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
}

// Noop is used in tests and for manual runs where pacing is unwanted.
type Noop struct{}

func (Noop) Wait(ctx context.Context) error { return ctx.Err() }
func (Noop) SetDelay(_, _ time.Duration)    {}
