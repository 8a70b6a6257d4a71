package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// slack absorbs timer and float rounding in the limiter's arithmetic.
const slack = 2 * time.Millisecond

// gapSlack also absorbs one waiter waking late, which shortens the observed
// gap to the next permit without moving its scheduled time.
const gapSlack = 5 * time.Millisecond

func TestLimiter_SpacesConcurrentCallers(t *testing.T) {
	const interval = 20 * time.Millisecond
	l := New(interval)
	start := time.Now()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	// A late wakeup can only delay a permit, so the k-th permit must not
	// come before k intervals have passed.
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for k, at := range times {
		if earliest := time.Duration(k) * interval; at.Sub(start) < earliest-slack {
			t.Fatalf("permit %d granted after %v, want >= %v", k, at.Sub(start), earliest)
		}
	}
	for k := 1; k < len(times); k++ {
		if gap := times[k].Sub(times[k-1]); gap < interval-gapSlack {
			t.Fatalf("permits %d and %d granted %v apart, want >= %v", k-1, k, gap, interval)
		}
	}
}

func TestLimiter_SequentialCallerGaps(t *testing.T) {
	const interval = 15 * time.Millisecond
	l := New(interval)
	var prev time.Time
	for k := 0; k < 5; k++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		now := time.Now()
		if k > 0 {
			if gap := now.Sub(prev); gap < interval-gapSlack {
				t.Fatalf("permits %d and %d granted %v apart, want >= %v", k-1, k, gap, interval)
			}
		}
		prev = now
	}
}

func TestLimiter_ArrivalOrder(t *testing.T) {
	l := New(15 * time.Millisecond)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// Stagger arrivals so the order is well defined.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("served in order %v, want arrival order", order)
		}
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error when the next permit is beyond the deadline")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("unlimited limiter blocked")
	}
}

func TestPerMinute(t *testing.T) {
	if got := PerMinute(60).Interval(); got != time.Second {
		t.Fatalf("PerMinute(60) interval = %v", got)
	}
	if got := PerMinute(0).Interval(); got != 0 {
		t.Fatalf("PerMinute(0) interval = %v", got)
	}
}
