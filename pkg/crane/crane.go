// Package crane holds the data model of the articulated crane: joint state,
// link geometry, speed limits and the base-frame orientation.
package crane

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Axis identifies one of the five crane axes.
type Axis int

const (
	AxisSwing Axis = iota
	AxisLift
	AxisElbow
	AxisWrist
	AxisGripper

	// NumAxes is the number of independently driven axes.
	NumAxes = 5
)

// String returns the wire name of the axis.
func (a Axis) String() string {
	switch a {
	case AxisSwing:
		return "swing"
	case AxisLift:
		return "lift"
	case AxisElbow:
		return "elbow"
	case AxisWrist:
		return "wrist"
	case AxisGripper:
		return "gripper"
	default:
		return "unknown"
	}
}

// JointState is the position of every crane axis.
// Swing, elbow and wrist are in degrees; lift and gripper in linear units.
type JointState struct {
	Swing   float64 `json:"swing" yaml:"swing"`
	Lift    float64 `json:"lift" yaml:"lift"`
	Elbow   float64 `json:"elbow" yaml:"elbow"`
	Wrist   float64 `json:"wrist" yaml:"wrist"`
	Gripper float64 `json:"gripper" yaml:"gripper"`
}

// Axes returns the state as a fixed-size array indexed by Axis.
func (s JointState) Axes() [NumAxes]float64 {
	return [NumAxes]float64{s.Swing, s.Lift, s.Elbow, s.Wrist, s.Gripper}
}

// JointStateFromAxes is the inverse of Axes.
func JointStateFromAxes(a [NumAxes]float64) JointState {
	return JointState{
		Swing:   a[AxisSwing],
		Lift:    a[AxisLift],
		Elbow:   a[AxisElbow],
		Wrist:   a[AxisWrist],
		Gripper: a[AxisGripper],
	}
}

// SwingLiftElbow returns the subset of the state solved by inverse kinematics.
func (s JointState) SwingLiftElbow() SwingLiftElbow {
	return SwingLiftElbow{Swing: s.Swing, Lift: s.Lift, Elbow: s.Elbow}
}

// IsFinite reports whether every axis holds a finite number.
func (s JointState) IsFinite() bool {
	for _, v := range s.Axes() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SwingLiftElbow is the 3-DOF part of the joint state that inverse
// kinematics solves for.
type SwingLiftElbow struct {
	Swing float64 `json:"swing"`
	Lift  float64 `json:"lift"`
	Elbow float64 `json:"elbow"`
}

// WithWristGripper completes the solution with pass-through wrist and gripper values.
func (s SwingLiftElbow) WithWristGripper(wrist, gripper float64) JointState {
	return JointState{
		Swing:   s.Swing,
		Lift:    s.Lift,
		Elbow:   s.Elbow,
		Wrist:   wrist,
		Gripper: gripper,
	}
}

// CartesianPosition is an end-effector position.
type CartesianPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector converts the position to an r3 vector.
func (p CartesianPosition) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// PositionFromVector converts an r3 vector to a CartesianPosition.
func PositionFromVector(v r3.Vector) CartesianPosition {
	return CartesianPosition{X: v.X, Y: v.Y, Z: v.Z}
}

// IsFinite reports whether every coordinate is finite.
func (p CartesianPosition) IsFinite() bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Orientation is the pose of the crane base in the outer frame.
// RotationZ is in degrees.
type Orientation struct {
	X         float64 `json:"x" yaml:"x"`
	Y         float64 `json:"y" yaml:"y"`
	Z         float64 `json:"z" yaml:"z"`
	RotationZ float64 `json:"rotationZ" yaml:"rotation_z"`
}

// Translation returns the translation part of the orientation.
func (o Orientation) Translation() r3.Vector {
	return r3.Vector{X: o.X, Y: o.Y, Z: o.Z}
}

// IsIdentity reports whether the orientation leaves positions unchanged.
func (o Orientation) IsIdentity() bool {
	return o == Orientation{}
}

// Cylinder is a cylindrical link. Segments only matters for rendering.
type Cylinder struct {
	Radius   float64 `json:"radius" yaml:"radius"`
	Height   float64 `json:"height" yaml:"height"`
	Segments int     `json:"segments" yaml:"segments"`
}

// Box is a rectangular link.
type Box struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
	Depth  float64 `json:"depth" yaml:"depth"`
}

// Speeds are the per-axis maximum speeds in units per second.
type Speeds struct {
	Swing   float64 `json:"swing" yaml:"swing"`
	Lift    float64 `json:"lift" yaml:"lift"`
	Elbow   float64 `json:"elbow" yaml:"elbow"`
	Wrist   float64 `json:"wrist" yaml:"wrist"`
	Gripper float64 `json:"gripper" yaml:"gripper"`
}

// Axes returns the speeds indexed by Axis.
func (s Speeds) Axes() [NumAxes]float64 {
	return [NumAxes]float64{s.Swing, s.Lift, s.Elbow, s.Wrist, s.Gripper}
}

// Spec describes one crane. A Spec is never mutated after construction and
// may be shared between any number of controllers.
type Spec struct {
	MaxSpeeds   Speeds   `json:"maxSpeeds"`
	UpperArm    Box      `json:"upperArm"`
	LowerArm    Box      `json:"lowerArm"`
	UpperSpacer Box      `json:"upperSpacer"`
	LowerSpacer Cylinder `json:"lowerSpacer"`
}

// UpperArmLength is the length of the first planar link.
func (s *Spec) UpperArmLength() float64 { return s.UpperArm.Width }

// LowerArmLength is the length of the second planar link.
func (s *Spec) LowerArmLength() float64 { return s.LowerArm.Width }

// SpacerHeight is the combined height of both spacers.
func (s *Spec) SpacerHeight() float64 {
	return s.UpperSpacer.Height + s.LowerSpacer.Height
}

// Reach is the radius of full arm extension.
func (s *Spec) Reach() float64 {
	return s.UpperArmLength() + s.LowerArmLength()
}

// Validate checks the invariants every Spec must hold.
func (s *Spec) Validate() error {
	speeds := s.MaxSpeeds.Axes()
	for i, v := range speeds {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("max speed for %s must be positive and finite, got %v", Axis(i), v)
		}
	}
	if !(s.UpperArm.Width > 0) || math.IsInf(s.UpperArm.Width, 0) {
		return fmt.Errorf("upper arm width must be positive, got %v", s.UpperArm.Width)
	}
	if !(s.LowerArm.Width > 0) || math.IsInf(s.LowerArm.Width, 0) {
		return fmt.Errorf("lower arm width must be positive, got %v", s.LowerArm.Width)
	}
	h := s.SpacerHeight()
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return fmt.Errorf("spacer heights must be finite")
	}
	return nil
}

// IsValidState reports whether the crane can be driven to state.
// Joint travel limits are not modelled; only finiteness is enforced.
func (s *Spec) IsValidState(state JointState) bool {
	return state.IsFinite()
}

// Validator decides whether a target state may be driven to.
type Validator interface {
	IsValidState(state JointState) bool
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(state JointState) bool

// IsValidState calls f(state).
func (f ValidatorFunc) IsValidState(state JointState) bool { return f(state) }

// DefaultSpec returns a new copy of the reference crane.
func DefaultSpec() *Spec {
	return &Spec{
		MaxSpeeds: Speeds{
			Swing:   10,
			Lift:    0.1,
			Elbow:   10,
			Wrist:   10,
			Gripper: 0.05,
		},
		UpperArm:    Box{Width: 1, Height: 0.5, Depth: 0.2},
		LowerArm:    Box{Width: 1, Height: 0.15, Depth: 0.15},
		UpperSpacer: Box{Width: 0.3, Height: 0.1, Depth: 0.3},
		LowerSpacer: Cylinder{Radius: 0.5, Height: 0.4, Segments: 32},
	}
}

// DefaultInitialState is the state a freshly powered crane reports.
func DefaultInitialState() JointState {
	return JointState{Lift: 1}
}
