// Package motion drives a crane's joint state toward a target at bounded
// per-axis speeds.
//
// A Controller owns one JointState. At most one Motion runs against it at a
// time: requesting a new motion cancels the current one and waits for its
// task to stop before the replacement takes its first tick.
package motion

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
	"crane-go/pkg/log"
	"crane-go/pkg/reactor"
)

// DefaultTickInterval is the wall-time step between motion ticks.
const DefaultTickInterval = 100 * time.Millisecond

// Outcome is how a motion ended.
type Outcome int

const (
	// Reached means every axis converged exactly on the target.
	Reached Outcome = iota
	// TimedOut means the maximum duration elapsed first; the state keeps
	// its partial progress.
	TimedOut
	// Cancelled means the motion was superseded or explicitly cancelled.
	Cancelled
	// Failed means the motion task hit an unexpected fault.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Reached:
		return "reached"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is delivered once a motion ends.
type Result struct {
	Outcome Outcome
	State   crane.JointState
	Elapsed time.Duration
	Err     error
}

// Sink receives the joint state after every tick. It runs with the
// controller's state lock held, so calls are strictly ordered; it must not
// call back into the controller.
type Sink func(state crane.JointState)

// Observer is notified of motion lifecycle events.
type Observer interface {
	MotionStarted()
	MotionRejected()
	MotionFinished(outcome string, elapsed time.Duration)
}

// Option configures a Controller.
type Option func(*Controller)

// WithValidator replaces the spec's validity predicate.
func WithValidator(v crane.Validator) Option {
	return func(c *Controller) { c.validator = v }
}

// WithSink sets the per-tick state sink.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithTickInterval sets the tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithReactor shares a reactor clock instead of creating a private one.
func WithReactor(r *reactor.Reactor) Option {
	return func(c *Controller) {
		if r != nil {
			c.reactor = r
			c.ownsReactor = false
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller serializes motion against a single JointState.
type Controller struct {
	spec        *crane.Spec
	validator   crane.Validator
	sink        Sink
	observer    Observer
	tick        time.Duration
	reactor     *reactor.Reactor
	ownsReactor bool
	logger      *log.Logger

	// mu guards state
	mu    sync.Mutex
	state crane.JointState

	// runMu serializes starting and stopping motions
	runMu   sync.Mutex
	current *Motion
	nextID  uint64
	closed  bool
}

// NewController creates an idle controller at the initial state.
func NewController(spec *crane.Spec, initial crane.JointState, opts ...Option) (*Controller, error) {
	if spec == nil {
		return nil, errors.RuntimeErrorInit("motion controller", "nil crane spec")
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "invalid crane spec")
	}
	if !initial.IsFinite() {
		return nil, errors.InvalidStateError(fmt.Sprintf("initial state %+v is not finite", initial))
	}

	c := &Controller{
		spec:        spec,
		validator:   spec,
		tick:        DefaultTickInterval,
		ownsReactor: true,
		state:       initial,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ownsReactor {
		c.reactor = reactor.New()
	}
	if c.logger == nil {
		c.logger = log.GetLogger("motion")
	}
	return c, nil
}

// Spec returns the crane spec the controller drives.
func (c *Controller) Spec() *crane.Spec {
	return c.spec
}

// State returns a copy of the current joint state.
func (c *Controller) State() crane.JointState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the most recently started motion, or nil.
func (c *Controller) Current() *Motion {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.current
}

// IsMoving reports whether a motion is in flight.
func (c *Controller) IsMoving() bool {
	m := c.Current()
	return m != nil && !m.completion.Test()
}

// RequestMotion starts a motion toward target, replacing any motion in
// flight. A maxDuration of zero or less means no time limit.
//
// A target that fails the validity predicate is rejected with an
// INVALID_STATE error and the current motion is left running.
func (c *Controller) RequestMotion(target crane.JointState, maxDuration time.Duration) (*Motion, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.closed {
		return nil, errors.MotionClosedError()
	}
	// Checked under runMu: a concurrent Cancel must not land between the
	// check and the start.
	if !target.IsFinite() || !c.validator.IsValidState(target) {
		if c.observer != nil {
			c.observer.MotionRejected()
		}
		c.logger.WithField("target", target).Warn("rejected invalid target state")
		return nil, errors.InvalidStateError(fmt.Sprintf("target state %+v is not valid for this crane", target))
	}
	if prev := c.current; prev != nil {
		prev.Cancel()
		<-prev.Done()
	}

	c.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	m := &Motion{
		id:          c.nextID,
		target:      target,
		maxDuration: maxDuration,
		ctx:         ctx,
		cancel:      cancel,
		completion:  reactor.NewCompletion(),
		started:     time.Now(),
	}
	c.current = m

	if c.observer != nil {
		c.observer.MotionStarted()
	}
	c.logger.WithFields(log.Fields{"motion": m.id, "target": target}).Debug("motion started")

	go c.run(m)
	return m, nil
}

// Cancel stops the motion in flight, if any, and waits for its task to
// finish. Cancelling an idle controller is a no-op.
func (c *Controller) Cancel() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.cancelLocked()
}

func (c *Controller) cancelLocked() {
	if c.current == nil {
		return
	}
	c.current.Cancel()
	<-c.current.Done()
}

// Close cancels any motion and refuses further requests.
func (c *Controller) Close() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelLocked()
	if c.ownsReactor {
		c.reactor.End()
	}
}

func (c *Controller) run(m *Motion) {
	result := Result{Outcome: Cancelled}
	defer func() {
		if perr := errors.FromPanic(recover()); perr != nil {
			result.Outcome = Failed
			result.Err = perr
			c.logger.WithError(perr).WithField("motion", m.id).Error("motion task failed")
		}
		m.cancel()
		result.State = c.State()
		result.Elapsed = time.Since(m.started)
		if c.observer != nil {
			c.observer.MotionFinished(result.Outcome.String(), result.Elapsed)
		}
		c.logger.WithFields(log.Fields{
			"motion":  m.id,
			"outcome": result.Outcome.String(),
			"elapsed": result.Elapsed.String(),
		}).Debug("motion finished")
		m.completion.Complete(result)
	}()

	speeds := c.spec.MaxSpeeds.Axes()
	target := m.target.Axes()
	interval := c.tick.Seconds()

	start := c.reactor.Monotonic()
	deadline := reactor.NEVER
	if m.maxDuration > 0 {
		deadline = start + m.maxDuration.Seconds()
	}

	last := start
	for {
		now, err := c.reactor.Pause(m.ctx, last+interval)
		if err != nil {
			return
		}
		reached, ok := c.step(m.ctx, target, speeds, now-last)
		if !ok {
			return
		}
		last = now
		if reached {
			result.Outcome = Reached
			return
		}
		if now >= deadline {
			result.Outcome = TimedOut
			return
		}
	}
}

// step advances every axis by at most speed*elapsed and publishes the new
// state. It reports whether all axes equal the target; ok is false when
// the motion was cancelled before the tick could run.
func (c *Controller) step(ctx context.Context, target, speeds [crane.NumAxes]float64, elapsed float64) (reached, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return false, false
	}

	cur := c.state.Axes()
	reached = true
	for i := range cur {
		delta := target[i] - cur[i]
		limit := speeds[i] * elapsed
		if math.Abs(delta) > limit {
			cur[i] += math.Copysign(limit, delta)
			reached = false
		} else {
			cur[i] = target[i]
		}
	}
	c.state = crane.JointStateFromAxes(cur)

	if c.sink != nil {
		c.sink(c.state)
	}
	return reached, true
}

// Motion is one in-flight or finished move toward a target.
type Motion struct {
	id          uint64
	target      crane.JointState
	maxDuration time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	completion  *reactor.Completion
	started     time.Time
}

// ID returns the controller-unique motion number.
func (m *Motion) ID() uint64 { return m.id }

// Target returns the joint state the motion drives toward.
func (m *Motion) Target() crane.JointState { return m.target }

// Cancel asks the motion to stop at its next tick boundary. It does not
// wait; use Wait or Done for that. Safe to call more than once.
func (m *Motion) Cancel() { m.cancel() }

// Done is closed once the motion task has stopped mutating state.
func (m *Motion) Done() <-chan struct{} { return m.completion.Done() }

// Result returns the outcome once the motion is done.
func (m *Motion) Result() (Result, bool) {
	if !m.completion.Test() {
		return Result{}, false
	}
	return m.completion.Result().(Result), true
}

// Wait blocks until the motion ends or ctx is done.
func (m *Motion) Wait(ctx context.Context) (Result, error) {
	v, err := m.completion.Wait(ctx)
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}
