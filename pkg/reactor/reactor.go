// Package reactor provides the timing primitives shared by the crane host:
// a monotonic clock, context-aware pauses, one-shot completions and a timer
// dispatch loop for periodic callbacks.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Constants
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// maxIdle caps how long the dispatch loop sleeps without re-checking timers.
const maxIdle = time.Second

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to stop firing.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer.
type Timer struct {
	id        uint64
	callback  TimerCallback
	waketime float64
	mu       sync.Mutex
}

// Completion is a one-shot result that any number of goroutines may wait on.
type Completion struct {
	result interface{}
	done   chan struct{}
	once   sync.Once
}

// NewCompletion returns a pending completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Test returns true if the completion has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete sets the result and wakes all waiters. Only the first call has
// any effect.
func (c *Completion) Complete(result interface{}) bool {
	completed := false
	c.once.Do(func() {
		c.result = result
		close(c.done)
		completed = true
	})
	return completed
}

// Done is closed once the completion has a result.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the result, or nil while still pending.
func (c *Completion) Result() interface{} {
	if !c.Test() {
		return nil
	}
	return c.result
}

// Wait blocks until the completion is done or ctx ends.
func (c *Completion) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reactor owns the monotonic clock and dispatches registered timers.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID uint64

	// wake interrupts the dispatch loop when a timer moves earlier
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a new Reactor.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Monotonic returns the seconds elapsed since the reactor was created.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// Done is closed once End has been called.
func (r *Reactor) Done() <-chan struct{} {
	return r.ctx.Done()
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	r.mu.Lock()
	r.nextTimerID++
	timer := &Timer{
		id:       r.nextTimerID,
		callback: callback,
		waketime: waketime,
	}
	r.timers = append(r.timers, timer)
	r.mu.Unlock()

	r.kick()
	return timer
}

// UnregisterTimer removes a timer. A callback already in flight still
// completes but is not rescheduled.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

func (r *Reactor) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pause sleeps until the given wake time and returns the time it woke.
// It returns early with an error when ctx ends or the reactor is ended.
func (r *Reactor) Pause(ctx context.Context, waketime float64) (float64, error) {
	now := r.Monotonic()
	if err := ctx.Err(); err != nil {
		return now, err
	}
	if waketime <= now {
		return now, nil
	}

	var timeout <-chan time.Time
	if waketime < NEVER {
		t := time.NewTimer(time.Duration((waketime - now) * float64(time.Second)))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-timeout:
		return r.Monotonic(), nil
	case <-ctx.Done():
		return r.Monotonic(), ctx.Err()
	case <-r.ctx.Done():
		return r.Monotonic(), ErrReactorClosed
	}
}

// Run starts the reactor's timer dispatch loop.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}

	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait waits for the dispatch loop to stop.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		delay := r.checkTimers(r.Monotonic())
		if delay <= 0 {
			continue
		}

		d := time.Duration(delay * float64(time.Second))
		if d > maxIdle {
			d = maxIdle
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-r.wake:
			t.Stop()
		case <-r.ctx.Done():
			t.Stop()
			return
		}
	}
}

// checkTimers fires due timers and returns the delay in seconds until the
// next one is due.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.mu.Unlock()

	next := NEVER
	for _, timer := range timers {
		timer.mu.Lock()
		if eventtime >= timer.waketime {
			timer.waketime = NEVER
			timer.mu.Unlock()

			newWaketime := timer.callback(eventtime)
			keep := r.registered(timer)

			timer.mu.Lock()
			if keep {
				timer.waketime = newWaketime
			}
		}
		if timer.waketime < next {
			next = timer.waketime
		}
		timer.mu.Unlock()
	}

	delay := next - r.Monotonic()
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (r *Reactor) registered(timer *Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		if t == timer {
			return true
		}
	}
	return false
}
