package motion

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
)

const testTick = 5 * time.Millisecond

// fastSpec moves every axis quickly enough for tests to converge in a few
// dozen milliseconds.
func fastSpec() *crane.Spec {
	spec := crane.DefaultSpec()
	spec.MaxSpeeds = crane.Speeds{Swing: 1000, Lift: 10, Elbow: 1000, Wrist: 1000, Gripper: 5}
	return spec
}

type recorder struct {
	mu     sync.Mutex
	states []crane.JointState
}

func (r *recorder) sink(s crane.JointState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() []crane.JointState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crane.JointState(nil), r.states...)
}

type countingObserver struct {
	started, rejected atomic.Int32
	mu                sync.Mutex
	outcomes          []string
}

func (o *countingObserver) MotionStarted()  { o.started.Add(1) }
func (o *countingObserver) MotionRejected() { o.rejected.Add(1) }
func (o *countingObserver) MotionFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func waitResult(t *testing.T, m *Motion) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := m.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(nil, crane.JointState{})
	assert.True(t, errors.Is(err, errors.ErrRuntimeInit))

	bad := crane.DefaultSpec()
	bad.MaxSpeeds.Lift = 0
	_, err = NewController(bad, crane.JointState{})
	assert.True(t, errors.Is(err, errors.ErrConfigValidation))

	_, err = NewController(crane.DefaultSpec(), crane.JointState{Swing: math.NaN()})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestMotionConverges(t *testing.T) {
	rec := &recorder{}
	c, err := NewController(fastSpec(), crane.DefaultInitialState(),
		WithTickInterval(testTick), WithSink(rec.sink))
	require.NoError(t, err)
	defer c.Close()

	target := crane.JointState{Swing: 20, Lift: 1.1, Elbow: -15, Wrist: 5, Gripper: 0.05}
	m, err := c.RequestMotion(target, 0)
	require.NoError(t, err)

	res := waitResult(t, m)
	assert.Equal(t, Reached, res.Outcome)
	assert.Equal(t, target, res.State)
	assert.Equal(t, target, c.State())
	assert.False(t, c.IsMoving())

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, target, states[len(states)-1])
}

func TestMotionRespectsSpeedLimit(t *testing.T) {
	rec := &recorder{}
	spec := fastSpec()
	c, err := NewController(spec, crane.JointState{},
		WithTickInterval(testTick), WithSink(rec.sink))
	require.NoError(t, err)
	defer c.Close()

	m, err := c.RequestMotion(crane.JointState{Swing: 30}, 0)
	require.NoError(t, err)
	res := waitResult(t, m)
	require.Equal(t, Reached, res.Outcome)

	states := rec.snapshot()
	require.Greater(t, len(states), 1, "30 degrees at 1000 deg/s needs several ticks")
	prev := 0.0
	for _, s := range states {
		assert.GreaterOrEqual(t, s.Swing, prev, "swing must approach the target monotonically")
		assert.LessOrEqual(t, s.Swing, 30.0, "swing must never overshoot")
		prev = s.Swing
	}
}

func TestMotionTimesOut(t *testing.T) {
	spec := crane.DefaultSpec()
	c, err := NewController(spec, crane.DefaultInitialState(), WithTickInterval(testTick))
	require.NoError(t, err)
	defer c.Close()

	target := crane.JointState{Lift: 100}
	m, err := c.RequestMotion(target, 40*time.Millisecond)
	require.NoError(t, err)

	res := waitResult(t, m)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.NotEqual(t, target, res.State)
	assert.Greater(t, res.State.Lift, 1.0, "partial progress is kept")
	assert.Less(t, res.State.Lift, 2.0)
}

func TestRejectedTargetStartsNothing(t *testing.T) {
	rec := &recorder{}
	obs := &countingObserver{}
	reject := crane.ValidatorFunc(func(crane.JointState) bool { return false })
	initial := crane.DefaultInitialState()

	c, err := NewController(fastSpec(), initial,
		WithTickInterval(testTick), WithSink(rec.sink), WithValidator(reject), WithObserver(obs))
	require.NoError(t, err)
	defer c.Close()

	m, err := c.RequestMotion(crane.JointState{Swing: 10}, 0)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	time.Sleep(3 * testTick)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, initial, c.State())
	assert.Nil(t, c.Current())
	assert.Equal(t, int32(1), obs.rejected.Load())
	assert.Equal(t, int32(0), obs.started.Load())
}

func TestNonFiniteTargetRejected(t *testing.T) {
	c, err := NewController(fastSpec(), crane.JointState{}, WithTickInterval(testTick))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RequestMotion(crane.JointState{Elbow: math.Inf(1)}, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestRejectionKeepsCurrentMotion(t *testing.T) {
	allow := atomic.Bool{}
	allow.Store(true)
	v := crane.ValidatorFunc(func(crane.JointState) bool { return allow.Load() })

	c, err := NewController(crane.DefaultSpec(), crane.JointState{}, WithTickInterval(testTick), WithValidator(v))
	require.NoError(t, err)
	defer c.Close()

	first, err := c.RequestMotion(crane.JointState{Lift: 50}, 0)
	require.NoError(t, err)

	allow.Store(false)
	_, err = c.RequestMotion(crane.JointState{Lift: -50}, 0)
	require.Error(t, err)

	_, done := first.Result()
	assert.False(t, done, "rejected request must not cancel the motion in flight")
	assert.Same(t, first, c.Current())
}

func TestPreemption(t *testing.T) {
	rec := &recorder{}
	c, err := NewController(crane.DefaultSpec(), crane.JointState{},
		WithTickInterval(testTick), WithSink(rec.sink))
	require.NoError(t, err)
	defer c.Close()

	first, err := c.RequestMotion(crane.JointState{Swing: 90}, 0)
	require.NoError(t, err)
	time.Sleep(8 * testTick)

	second, err := c.RequestMotion(crane.JointState{Swing: -10}, 0)
	require.NoError(t, err)

	// The first motion has fully stopped before the second was returned.
	select {
	case <-first.Done():
	default:
		t.Fatal("first motion still running after preemption")
	}
	firstRes, ok := first.Result()
	require.True(t, ok)
	assert.Equal(t, Cancelled, firstRes.Outcome)
	assert.Greater(t, firstRes.State.Swing, 0.0)
	assert.Less(t, firstRes.State.Swing, 90.0)

	res := waitResult(t, second)
	assert.Equal(t, Reached, res.Outcome)

	// The first motion only raises swing and the second only lowers it, so
	// the cancelled state is the peak and every later write comes after it.
	states := rec.snapshot()
	peak := -1
	for i, s := range states {
		if s == firstRes.State {
			peak = i
		}
	}
	require.GreaterOrEqual(t, peak, 0, "cancelled state must have been published")
	for _, s := range states[:peak] {
		assert.Less(t, s.Swing, firstRes.State.Swing)
	}
	for _, s := range states[peak+1:] {
		assert.Less(t, s.Swing, firstRes.State.Swing, "only the second motion writes after preemption")
	}
	assert.Equal(t, -10.0, c.State().Swing)
}

func TestCancelIsIdempotent(t *testing.T) {
	c, err := NewController(crane.DefaultSpec(), crane.JointState{}, WithTickInterval(testTick))
	require.NoError(t, err)
	defer c.Close()

	// Idle controller.
	c.Cancel()

	m, err := c.RequestMotion(crane.JointState{Swing: 90}, 0)
	require.NoError(t, err)
	time.Sleep(4 * testTick)

	c.Cancel()
	stopped := c.State()
	c.Cancel()
	m.Cancel()

	res := waitResult(t, m)
	assert.Equal(t, Cancelled, res.Outcome)
	assert.Equal(t, stopped, res.State)

	time.Sleep(4 * testTick)
	assert.Equal(t, stopped, c.State(), "cancelled state is preserved, never rolled back")
}

func TestCloseRefusesRequests(t *testing.T) {
	c, err := NewController(fastSpec(), crane.JointState{}, WithTickInterval(testTick))
	require.NoError(t, err)

	m, err := c.RequestMotion(crane.JointState{Lift: 100}, 0)
	require.NoError(t, err)
	c.Close()
	c.Close()

	res := waitResult(t, m)
	assert.Equal(t, Cancelled, res.Outcome)

	_, err = c.RequestMotion(crane.JointState{}, 0)
	assert.True(t, errors.Is(err, errors.ErrMotionClosed))
}

func TestSinkPanicFailsMotion(t *testing.T) {
	c, err := NewController(fastSpec(), crane.JointState{},
		WithTickInterval(testTick),
		WithSink(func(crane.JointState) { panic("sink exploded") }))
	require.NoError(t, err)
	defer c.Close()

	m, err := c.RequestMotion(crane.JointState{Swing: 1}, 0)
	require.NoError(t, err)

	res := waitResult(t, m)
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, errors.ErrRuntime))

	// The lock was released, so the controller keeps working.
	assert.Equal(t, 1.0, c.State().Swing)
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &countingObserver{}
	c, err := NewController(fastSpec(), crane.JointState{}, WithTickInterval(testTick), WithObserver(obs))
	require.NoError(t, err)
	defer c.Close()

	m, err := c.RequestMotion(crane.JointState{Wrist: 3}, 0)
	require.NoError(t, err)
	waitResult(t, m)

	assert.Equal(t, int32(1), obs.started.Load())
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"reached"}, obs.outcomes)
}

func TestWaitHonoursContext(t *testing.T) {
	c, err := NewController(crane.DefaultSpec(), crane.JointState{}, WithTickInterval(testTick))
	require.NoError(t, err)
	defer c.Close()

	m, err := c.RequestMotion(crane.JointState{Lift: 100}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.IsMoving())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "reached", Reached.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
