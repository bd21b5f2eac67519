package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

const latencyWindowSize = 20

// healthyLatencyP95 is the ceiling under which the pacer considers the
// endpoint healthy enough to grow concurrency.
const healthyLatencyP95 = 5 * time.Second

// PacerConfig tunes the rate/pace controller.
type PacerConfig struct {
	RPM     int // requests per minute; min inter-call interval = 60s / RPM
	TPM     int // tokens per minute; observed for bookkeeping, not enforced
	MinSize int // advisory concurrency floor
	MaxSize int // advisory concurrency cap
}

// Pacer enforces the external call budget. Acquire spaces calls at 60/RPM
// seconds apart; success/failure samples drive an advisory concurrency value
// between MinSize and MaxSize. The advisory value is exposed for the worker to
// cap outstanding calls — it is not a hard semaphore.
type Pacer struct {
	// acquireMu serializes callers across the inter-call sleep so spacing
	// holds even under concurrent acquires.
	acquireMu   sync.Mutex
	minInterval time.Duration
	lastCallAt  time.Time

	// mu guards the sample window and counters.
	mu          sync.Mutex
	minSize     int
	maxSize     int
	current     int
	successes   int
	failures    int
	latencies   []time.Duration
	tokensTotal int64
}

// NewPacer creates a pacer from config.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	var interval time.Duration
	if cfg.RPM > 0 {
		interval = time.Duration(float64(time.Minute) / float64(cfg.RPM))
	}
	current := 2
	if current > cfg.MaxSize {
		current = cfg.MaxSize
	}
	if current < cfg.MinSize {
		current = cfg.MinSize
	}
	return &Pacer{
		minInterval: interval,
		minSize:     cfg.MinSize,
		maxSize:     cfg.MaxSize,
		current:     current,
	}
}

// Acquire blocks until the minimum inter-call interval has elapsed since the
// previous release, then stamps the call time. Returns early with the context
// error on cancellation.
func (p *Pacer) Acquire(ctx context.Context) error {
	p.acquireMu.Lock()
	defer p.acquireMu.Unlock()

	if p.minInterval > 0 && !p.lastCallAt.IsZero() {
		if wait := p.minInterval - time.Since(p.lastCallAt); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	p.lastCallAt = time.Now()
	return nil
}

// RecordSuccess records a completed call. When the p95 of the rolling latency
// window stays under the healthy ceiling, the advisory concurrency grows by
// one, capped at MaxSize.
func (p *Pacer) RecordSuccess(latency time.Duration, tokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successes++
	p.tokensTotal += int64(tokens)
	p.latencies = append(p.latencies, latency)
	if len(p.latencies) > latencyWindowSize {
		p.latencies = p.latencies[1:]
	}
	if p95, ok := p.p95(); ok && p95 < healthyLatencyP95 && p.current < p.maxSize {
		p.current++
	}
}

// RecordFailure records a failed call and shrinks the advisory concurrency by
// one, floored at MinSize.
func (p *Pacer) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	if p.current > p.minSize {
		p.current--
	}
}

// CurrentConcurrency returns the advisory concurrency value.
func (p *Pacer) CurrentConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// TokensObserved returns the total token count recorded so far.
func (p *Pacer) TokensObserved() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokensTotal
}

// p95 computes the 95th percentile of the rolling window. Caller holds mu.
func (p *Pacer) p95() (time.Duration, bool) {
	if len(p.latencies) == 0 {
		return 0, false
	}
	s := make([]time.Duration, len(p.latencies))
	copy(s, p.latencies)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	idx := int(float64(len(s)) * 0.95)
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx], true
}
