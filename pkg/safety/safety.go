// Package safety provides the crane emergency stop: a latched stop that
// cancels every motion in flight and refuses new targets until reset.
package safety

import (
	"fmt"
	"sync"
	"time"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
)

// StopState is the latched stop state.
type StopState int

const (
	// StateRunning indicates normal operation.
	StateRunning StopState = iota

	// StateStopping indicates motions are being cancelled.
	StateStopping

	// StateStopped indicates the crane is halted until Reset.
	StateStopped
)

func (s StopState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason describes why the crane was stopped.
type StopReason string

const (
	ReasonNone          StopReason = ""
	ReasonEmergencyStop StopReason = "emergency_stop"
	ReasonShutdown      StopReason = "shutdown"
)

// MotionStopper can cancel an in-flight motion. *motion.Controller
// satisfies it.
type MotionStopper interface {
	Cancel()
}

// Manager holds the stop state and the controllers it halts.
type Manager struct {
	mu sync.RWMutex

	state      StopState
	stopReason StopReason
	stopMsg    string
	stopTime   time.Time

	stoppers map[string]MotionStopper

	onStateChange []func(oldState, newState StopState)
}

// New creates a running Manager.
func New() *Manager {
	return &Manager{
		state:    StateRunning,
		stoppers: make(map[string]MotionStopper),
	}
}

// Register adds a controller to halt on stop. A controller registered while
// stopped is halted immediately.
func (m *Manager) Register(id string, s MotionStopper) {
	m.mu.Lock()
	m.stoppers[id] = s
	stopped := m.state != StateRunning
	m.mu.Unlock()

	if stopped {
		s.Cancel()
	}
}

// Unregister removes a controller.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stoppers, id)
}

// OnStateChange registers a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState StopState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current stop state.
func (m *Manager) GetState() StopState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOperational returns true if the crane accepts targets.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns an INVALID_STATE error while stopped.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		msg := fmt.Sprintf("crane is stopped (%s): %s", m.stopReason, m.stopMsg)
		return errors.InvalidStateError(msg).SetContext("reason", string(m.stopReason))
	}
	return nil
}

// EmergencyStop halts every registered controller and latches the stop.
func (m *Manager) EmergencyStop(msg string) {
	m.stop(ReasonEmergencyStop, msg)
}

// Shutdown halts every registered controller ahead of process exit.
func (m *Manager) Shutdown(msg string) {
	m.stop(ReasonShutdown, msg)
}

func (m *Manager) stop(reason StopReason, msg string) {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}

	m.state = StateStopping
	m.stopReason = reason
	m.stopMsg = msg
	m.stopTime = time.Now()

	stoppers := make([]MotionStopper, 0, len(m.stoppers))
	for _, s := range m.stoppers {
		stoppers = append(stoppers, s)
	}
	m.mu.Unlock()

	// Cancel waits for each motion to stop writing state.
	for _, s := range stoppers {
		s.Cancel()
	}

	m.setState(StateStopped)
}

// Reset clears a latched stop.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state != StateStopped {
		state := m.state
		m.mu.Unlock()
		return errors.InvalidStateError("cannot reset while " + state.String())
	}
	m.stopReason = ReasonNone
	m.stopMsg = ""
	m.stopTime = time.Time{}
	m.mu.Unlock()

	m.setState(StateRunning)
	return nil
}

func (m *Manager) setState(state StopState) {
	m.mu.Lock()
	old := m.state
	m.state = state
	callbacks := make([]func(StopState, StopState), len(m.onStateChange))
	copy(callbacks, m.onStateChange)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, state)
	}
}

// Guard wraps a validity predicate so that every target is refused while
// the crane is stopped.
func (m *Manager) Guard(next crane.Validator) crane.Validator {
	return crane.ValidatorFunc(func(state crane.JointState) bool {
		return m.IsOperational() && next.IsValidState(state)
	})
}

// Status is the stop state for reporting.
type Status struct {
	State         string    `json:"state"`
	StopReason    string    `json:"stopReason,omitempty"`
	StopMsg       string    `json:"stopMessage,omitempty"`
	StopTime      time.Time `json:"stopTime,omitempty"`
	IsOperational bool      `json:"isOperational"`
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:         m.state.String(),
		StopReason:    string(m.stopReason),
		StopMsg:       m.stopMsg,
		StopTime:      m.stopTime,
		IsOperational: m.state == StateRunning,
	}
}
