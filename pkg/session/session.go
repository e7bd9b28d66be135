// Package session binds one client connection to its own motion controller.
//
// A Session turns decoded requests into motions, solving Cartesian targets
// through inverse kinematics, and produces the snapshots reported back to
// the client.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
	"crane-go/pkg/kinematics"
	"crane-go/pkg/log"
	"crane-go/pkg/motion"
	"crane-go/pkg/reactor"
)

// Listener receives every per-tick snapshot. Listeners run inside the
// controller's tick and must not block.
type Listener func(sessionID string, snap Snapshot)

// Recorder counts request failures.
type Recorder interface {
	Unreachable()
}

// Config holds everything needed to build a Session.
type Config struct {
	Spec               *crane.Spec
	Initial            crane.JointState
	TickInterval       time.Duration
	DefaultMaxDuration time.Duration
	Reactor            *reactor.Reactor
	Validator          crane.Validator
	Observer           motion.Observer
	Recorder           Recorder
	Logger             *log.Logger

	// Gate, when set, is checked before every request; a non-nil error
	// fails the request without touching the session.
	Gate func() error
}

// Session is the per-connection core state.
type Session struct {
	id          string
	spec        *crane.Spec
	controller  *motion.Controller
	maxDuration time.Duration
	recorder    Recorder
	gate        func() error
	logger      *log.Logger

	mu          sync.Mutex
	orientation crane.Orientation
	target      *crane.JointState
	targetXYZ   *crane.CartesianPosition
	lastError   string
	lastTick    crane.JointState
	lastPolled  crane.JointState
	listeners   []Listener
}

// New creates a session with a fresh controller at cfg.Initial.
func New(cfg Config) (*Session, error) {
	id := uuid.New().String()
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("session")
	}
	logger = logger.With(log.Fields{"session": id})

	s := &Session{
		id:          id,
		spec:        cfg.Spec,
		maxDuration: cfg.DefaultMaxDuration,
		recorder:    cfg.Recorder,
		gate:        cfg.Gate,
		logger:      logger,
		lastTick:    cfg.Initial,
		lastPolled:  cfg.Initial,
	}

	opts := []motion.Option{
		motion.WithSink(s.onTick),
		motion.WithTickInterval(cfg.TickInterval),
		motion.WithReactor(cfg.Reactor),
		motion.WithLogger(logger.WithPrefix("motion")),
	}
	if cfg.Validator != nil {
		opts = append(opts, motion.WithValidator(cfg.Validator))
	}
	if cfg.Observer != nil {
		opts = append(opts, motion.WithObserver(cfg.Observer))
	}

	controller, err := motion.NewController(cfg.Spec, cfg.Initial, opts...)
	if err != nil {
		return nil, err
	}
	s.controller = controller
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Controller returns the session's motion controller.
func (s *Session) Controller() *motion.Controller { return s.controller }

// Subscribe adds a per-tick snapshot listener.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Orientation returns the orientation of the last request.
func (s *Session) Orientation() crane.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

// LastError returns the reason the last request failed, or "".
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// HandleMessage decodes and applies one raw client message and returns the
// response snapshot. Failures come back as an ERROR snapshot; joint state
// is never touched by a failed request.
func (s *Session) HandleMessage(data []byte) Snapshot {
	req, err := DecodeRequest(data)
	if err != nil {
		s.logger.WithError(err).Warn("rejected message")
		return s.fail(err)
	}
	return s.Handle(req)
}

// Handle applies a decoded request.
func (s *Session) Handle(req *Request) Snapshot {
	if s.gate != nil {
		if err := s.gate(); err != nil {
			return s.fail(err)
		}
	}

	orientation := req.Orientation
	if !kinematics.ForwardJoint(s.controller.State(), s.spec, &orientation).IsFinite() {
		return s.fail(errors.RequestInvalidError("orientation puts the crane position out of range"))
	}

	s.mu.Lock()
	s.orientation = orientation
	s.mu.Unlock()

	maxDuration := s.maxDuration
	if req.HasMaxDuration {
		maxDuration = req.MaxDuration
	}

	var (
		target    crane.JointState
		targetXYZ crane.CartesianPosition
	)
	switch {
	case req.Joint != nil:
		target = *req.Joint
		targetXYZ = kinematics.ForwardJoint(target, s.spec, &orientation)
	case req.Cartesian != nil:
		js, err := kinematics.ToJointState(*req.Cartesian, s.controller.State(), s.spec, &orientation)
		if err != nil {
			if errors.Is(err, errors.ErrUnreachable) && s.recorder != nil {
				s.recorder.Unreachable()
			}
			s.logger.WithField("target", *req.Cartesian).Warn("target unreachable: %v", err)
			return s.fail(err)
		}
		target = js
		targetXYZ = *req.Cartesian
	default:
		return s.fail(errors.RequestInvalidError("request has no target"))
	}
	if !targetXYZ.IsFinite() {
		return s.fail(errors.RequestInvalidError("target position is out of range"))
	}

	if _, err := s.controller.RequestMotion(target, maxDuration); err != nil {
		return s.fail(err)
	}
	s.logger.WithFields(log.Fields{"target": target, "max_duration": maxDuration.String()}).Info("moving to target")

	state := s.controller.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = &target
	s.targetXYZ = &targetXYZ
	s.lastError = ""
	snap := s.buildLocked(state, StatusMoving)
	snap.Success = true
	return snap
}

// Snapshot reports the current state for periodic polling. Status is MOVING
// when the state changed since the previous poll.
func (s *Session) Snapshot() Snapshot {
	state := s.controller.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.classifyLocked(state, s.lastPolled)
	s.lastPolled = state
	return s.buildLocked(state, status)
}

// Peek is Snapshot without advancing the polling baseline.
func (s *Session) Peek() Snapshot {
	state := s.controller.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked(state, s.classifyLocked(state, s.lastPolled))
}

// Close cancels any motion and releases the controller.
func (s *Session) Close() {
	s.controller.Close()
	s.logger.Debug("session closed")
}

func (s *Session) onTick(state crane.JointState) {
	s.mu.Lock()
	status := s.classifyLocked(state, s.lastTick)
	s.lastTick = state
	snap := s.buildLocked(state, status)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(s.id, snap)
	}
}

func (s *Session) fail(err error) Snapshot {
	state := s.controller.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = errors.UserMessage(err)
	return s.buildLocked(state, StatusError)
}

func (s *Session) classifyLocked(state, previous crane.JointState) Status {
	switch {
	case state != previous:
		return StatusMoving
	case s.lastError != "":
		return StatusError
	default:
		return StatusStopped
	}
}

func (s *Session) buildLocked(state crane.JointState, status Status) Snapshot {
	snap := Snapshot{
		Status:            status,
		CraneState:        state,
		XYZPosition:       kinematics.ForwardJoint(state, s.spec, &s.orientation),
		TargetState:       s.target,
		TargetXYZPosition: s.targetXYZ,
		Success:           s.lastError == "",
		ErrorMessage:      s.lastError,
	}
	return snap
}
