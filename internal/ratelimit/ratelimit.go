// Package ratelimit provides per-domain admission control for outbound
// requests: a sliding one-minute request budget, minimum inter-request
// spacing, and exponential backoff after throttling or server errors.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	window        = time.Minute
	maxMultiplier = 6 // backoff cap: base * 2^6
)

// Limiter guards a single destination domain. All methods are safe for
// concurrent use; two tasks sharing a domain can never both be admitted
// past the budget.
type Limiter struct {
	domain      string
	maxPerMin   int
	backoffBase time.Duration

	mu           sync.Mutex
	requestTimes []time.Time
	backoffUntil time.Time
	multiplier   int

	log *slog.Logger
	now func() time.Time
}

// NewLimiter creates a limiter for one domain with the given per-minute
// budget and backoff base.
func NewLimiter(domain string, maxPerMinute int, backoffBase time.Duration, log *slog.Logger) *Limiter {
	return &Limiter{
		domain:      domain,
		maxPerMin:   maxPerMinute,
		backoffBase: backoffBase,
		log:         log,
		now:         time.Now,
	}
}

// Acquire blocks until it is safe to issue one request to the domain:
// outside any backoff window, under the trailing-minute budget, and at
// least minDelay after the previous request. It records the request
// before returning so concurrent callers cannot double-spend the budget.
func (l *Limiter) Acquire(ctx context.Context, minDelay time.Duration) error {
	for {
		l.mu.Lock()
		now := l.now()

		wait := l.nextWait(now, minDelay)
		if wait <= 0 {
			l.requestTimes = append(l.requestTimes, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// nextWait returns how long the caller must wait before a request is
// admissible, or <= 0 when it may proceed now. Callers hold l.mu.
func (l *Limiter) nextWait(now time.Time, minDelay time.Duration) time.Duration {
	if until := l.backoffUntil; now.Before(until) {
		l.log.Warn("rate limiter in backoff", "domain", l.domain, "until", until)
		return until.Sub(now)
	}

	l.prune(now)

	if len(l.requestTimes) >= l.maxPerMin {
		oldest := l.requestTimes[0]
		return oldest.Add(window).Sub(now)
	}

	if n := len(l.requestTimes); n > 0 && minDelay > 0 {
		last := l.requestTimes[n-1]
		if since := now.Sub(last); since < minDelay {
			return minDelay - since
		}
	}
	return 0
}

// RecordError extends the backoff window for throttling and server-error
// statuses. Other statuses are a no-op.
func (l *Limiter) RecordError(status int) {
	switch status {
	case 429, 500, 502, 503, 504:
	default:
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	backoff := l.backoffBase << uint(l.multiplier)
	l.backoffUntil = l.now().Add(backoff)
	if l.multiplier < maxMultiplier {
		l.multiplier++
	}
	l.log.Warn("rate limiter backoff",
		"domain", l.domain, "status", status, "backoff", backoff, "multiplier", l.multiplier)
}

// RecordSuccess decays the backoff multiplier by one step. The decay is
// gradual rather than a reset so an intermittently failing upstream does
// not oscillate between full speed and full backoff.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.multiplier > 0 {
		l.multiplier--
	}
	if !l.backoffUntil.IsZero() && !l.now().Before(l.backoffUntil) {
		l.backoffUntil = time.Time{}
	}
}

// Stats is a read-only snapshot of the limiter state.
type Stats struct {
	Domain            string
	RequestsLastMin   int
	MaxPerMinute      int
	InBackoff         bool
	BackoffMultiplier int
}

// Stats returns the current limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return Stats{
		Domain:            l.domain,
		RequestsLastMin:   len(l.requestTimes),
		MaxPerMinute:      l.maxPerMin,
		InBackoff:         now.Before(l.backoffUntil),
		BackoffMultiplier: l.multiplier,
	}
}

// prune drops request timestamps older than the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requestTimes) && l.requestTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.requestTimes = append(l.requestTimes[:0], l.requestTimes[i:]...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Manager hands out one Limiter per destination domain. Independent
// domains never block each other.
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	log      *slog.Logger
}

// NewManager creates an empty limiter registry.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		log:      log,
	}
}

// Limiter returns the limiter for domain, creating it on first use.
func (m *Manager) Limiter(domain string, maxPerMinute int, backoffBase time.Duration) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[domain]
	if !ok {
		l = NewLimiter(domain, maxPerMinute, backoffBase, m.log)
		m.limiters[domain] = l
	}
	return l
}

// AllStats returns a snapshot of every registered limiter.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stats, 0, len(m.limiters))
	for _, l := range m.limiters {
		out = append(out, l.Stats())
	}
	return out
}
