package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestLimiter(maxPerMin int) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter("example.test", maxPerMin, 2*time.Second, discardLogger())
	l.now = clk.Now
	return l, clk
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestAcquireRecordsRequests(t *testing.T) {
	l, _ := newTestLimiter(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, 0); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	stats := l.Stats()
	if diff := cmp.Diff(3, stats.RequestsLastMin); diff != "" {
		t.Errorf("requests in window mismatch (-want +got):\n%s", diff)
	}
}

func TestNextWaitEnforcesBudget(t *testing.T) {
	l, clk := newTestLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clk.Advance(time.Second)
	if err := l.Acquire(ctx, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Budget spent: the third request must wait until the oldest
	// timestamp leaves the trailing window.
	l.mu.Lock()
	wait := l.nextWait(clk.Now(), 0)
	l.mu.Unlock()

	if wait <= 0 {
		t.Fatalf("expected positive wait, got %v", wait)
	}
	want := 59 * time.Second // window minus the 1s that already elapsed
	if diff := cmp.Diff(want, wait); diff != "" {
		t.Errorf("wait mismatch (-want +got):\n%s", diff)
	}
}

func TestNextWaitEnforcesMinDelay(t *testing.T) {
	l, clk := newTestLimiter(100)
	ctx := context.Background()

	if err := l.Acquire(ctx, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clk.Advance(200 * time.Millisecond)

	l.mu.Lock()
	wait := l.nextWait(clk.Now(), time.Second)
	l.mu.Unlock()

	if diff := cmp.Diff(800*time.Millisecond, wait); diff != "" {
		t.Errorf("min delay wait mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordErrorEscalates(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool // backoff applied
	}{
		{name: "throttled", status: 429, want: true},
		{name: "server error", status: 500, want: true},
		{name: "bad gateway", status: 502, want: true},
		{name: "not found", status: 404, want: false},
		{name: "unauthorized", status: 401, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLimiter(10)
			l.RecordError(tt.status)
			stats := l.Stats()
			if diff := cmp.Diff(tt.want, stats.InBackoff); diff != "" {
				t.Errorf("backoff state mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackoffMonotonicity(t *testing.T) {
	// N consecutive throttling responses never schedule a backoff that
	// expires earlier than N-1 responses did.
	l, clk := newTestLimiter(10)

	var prev time.Time
	for i := 0; i < 10; i++ {
		l.RecordError(429)
		l.mu.Lock()
		until := l.backoffUntil
		l.mu.Unlock()
		if until.Before(prev) {
			t.Fatalf("backoff shrank after error %d: %v < %v", i+1, until, prev)
		}
		prev = until
		clk.Advance(time.Millisecond)
	}
}

func TestBackoffCapped(t *testing.T) {
	l, _ := newTestLimiter(10)
	for i := 0; i < 20; i++ {
		l.RecordError(429)
	}
	stats := l.Stats()
	if diff := cmp.Diff(maxMultiplier, stats.BackoffMultiplier); diff != "" {
		t.Errorf("multiplier cap mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSuccessDecaysGradually(t *testing.T) {
	l, clk := newTestLimiter(10)
	l.RecordError(429)
	l.RecordError(429)
	l.RecordError(429)

	l.RecordSuccess()

	stats := l.Stats()
	if diff := cmp.Diff(2, stats.BackoffMultiplier); diff != "" {
		t.Errorf("multiplier after one success mismatch (-want +got):\n%s", diff)
	}

	// Expired backoff is cleared once a success lands after it.
	clk.Advance(time.Hour)
	l.RecordSuccess()
	stats = l.Stats()
	if diff := cmp.Diff(false, stats.InBackoff); diff != "" {
		t.Errorf("backoff should be cleared (-want +got):\n%s", diff)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l, _ := newTestLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(cancelled, 0); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestConcurrentAcquireNeverOverspends(t *testing.T) {
	l := NewLimiter("example.test", 5, 2*time.Second, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 32)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, 0); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count > 5 {
		t.Fatalf("budget overspent: %d requests admitted within one window", count)
	}
}

func TestManagerOnePerDomain(t *testing.T) {
	m := NewManager(discardLogger())

	a := m.Limiter("a.test", 10, time.Second)
	b := m.Limiter("b.test", 10, time.Second)
	again := m.Limiter("a.test", 10, time.Second)

	if a != again {
		t.Error("expected the same limiter instance for one domain")
	}
	if a == b {
		t.Error("expected distinct limiters for distinct domains")
	}
	if diff := cmp.Diff(2, len(m.AllStats())); diff != "" {
		t.Errorf("limiter count mismatch (-want +got):\n%s", diff)
	}
}
