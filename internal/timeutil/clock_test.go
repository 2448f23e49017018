package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(5 * time.Millisecond)
	clock.Sleep(time.Second)

	if got, want := clock.Since(start), time.Second+5*time.Millisecond; got != want {
		t.Errorf("Since(start) = %v, want %v", got, want)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 5*time.Millisecond || sleeps[1] != time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if n := clock.SleptFor(time.Second); n != 1 {
		t.Errorf("SleptFor(1s) = %d, want 1", n)
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	clock := NewMockClock(time.Time{})
	newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(newTime)
	clock.Advance(time.Minute)

	if !clock.Now().Equal(newTime.Add(time.Minute)) {
		t.Errorf("Now() = %v", clock.Now())
	}
	if len(clock.Sleeps()) != 0 {
		t.Error("Advance should not record a sleep")
	}
}

func TestMockClock_OnSleep(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var seen []time.Duration
	clock.OnSleep = func(d time.Duration, _ time.Time) { seen = append(seen, d) }

	<-clock.After(3 * time.Second)
	clock.Sleep(time.Second)

	if len(seen) != 2 || seen[0] != 3*time.Second {
		t.Errorf("OnSleep saw %v", seen)
	}
}

func TestSleepContext(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))

	if err := SleepContext(context.Background(), clock, 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clock.SleptFor(5*time.Second) != 1 {
		t.Errorf("expected one 5s sleep, got %v", clock.Sleeps())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, clock, time.Second); err != context.Canceled {
		t.Errorf("SleepContext on cancelled ctx = %v, want context.Canceled", err)
	}
	if err := SleepContext(context.Background(), clock, 0); err != nil {
		t.Errorf("zero sleep returned %v", err)
	}
}
