package reactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonotonic(t *testing.T) {
	r := New()
	defer r.End()

	t1 := r.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := r.Monotonic()

	if t2 <= t1 {
		t.Errorf("Monotonic time not increasing: %f <= %f", t2, t1)
	}
	if elapsed := t2 - t1; elapsed < 0.009 {
		t.Errorf("Unexpected elapsed time: %f (expected ~0.01)", elapsed)
	}
}

func TestTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(50 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 1 {
		t.Errorf("Timer callback called %d times, expected 1", called.Load())
	}
}

func TestTimerRepeat(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		if called.Add(1) < 3 {
			return eventtime + 0.01
		}
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(150 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 3 {
		t.Errorf("Timer callback called %d times, expected 3", called.Load())
	}
}

func TestUnregisterTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	timer := r.RegisterTimer(func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, r.Monotonic()+0.05)
	r.UnregisterTimer(timer)

	r.Run()
	time.Sleep(100 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 0 {
		t.Errorf("Timer callback called %d times after unregister, expected 0", called.Load())
	}
}

func TestCompletion(t *testing.T) {
	comp := NewCompletion()

	if comp.Test() {
		t.Error("Completion should not be done yet")
	}
	if comp.Result() != nil {
		t.Error("Pending completion should have no result")
	}

	if !comp.Complete("result") {
		t.Error("First Complete should report success")
	}
	if comp.Complete("second") {
		t.Error("Second Complete should be ignored")
	}

	result, err := comp.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result != "result" {
		t.Errorf("Expected 'result', got %v", result)
	}
	select {
	case <-comp.Done():
	default:
		t.Error("Done channel should be closed")
	}
}

func TestCompletionWaitContext(t *testing.T) {
	comp := NewCompletion()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := comp.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Wait returned too early: %v", elapsed)
	}
}

func TestPause(t *testing.T) {
	r := New()
	defer r.End()

	waketime := r.Monotonic() + 0.05

	result, err := r.Pause(context.Background(), waketime)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if result < waketime-0.01 {
		t.Errorf("Pause returned too early: %f < %f", result, waketime)
	}
}

func TestPauseImmediate(t *testing.T) {
	r := New()
	defer r.End()

	now := r.Monotonic()
	result, err := r.Pause(context.Background(), now-1)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if result < now {
		t.Errorf("Pause should return current time, got %f < %f", result, now)
	}
}

func TestPauseCancelled(t *testing.T) {
	r := New()
	defer r.End()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Pause(ctx, NEVER)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Pause did not observe cancellation")
	}
}

func TestPauseReactorEnded(t *testing.T) {
	r := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.End()
	}()

	if _, err := r.Pause(context.Background(), r.Monotonic()+5); !errors.Is(err, ErrReactorClosed) {
		t.Errorf("Expected ErrReactorClosed, got %v", err)
	}
}

func TestConstants(t *testing.T) {
	if NOW != 0.0 {
		t.Errorf("NOW should be 0.0, got %f", NOW)
	}
	if NEVER < 1e15 {
		t.Errorf("NEVER should be very large, got %f", NEVER)
	}
}
