// Package kinematics converts between crane joint states and end-effector
// positions.
//
// The arm is modelled as a lift followed by two links rotating about the
// vertical axis. An optional Orientation places the crane base in an outer
// frame; positions passed in and returned are always in that outer frame.
package kinematics

import (
	"fmt"
	"math"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
	"crane-go/pkg/log"
)

// cosineSlack is the distance beyond [-1, 1] an acos argument may drift
// through rounding before it is treated as a defect.
const cosineSlack = 1e-9

// reachSlack is the relative rounding tolerance of the full-extension check.
const reachSlack = 1e-12

func logger() *log.Logger { return log.GetLogger("kinematics") }

// Transform returns the full homogeneous transform of the end effector for
// state. A nil orientation is the identity.
func Transform(state crane.SwingLiftElbow, spec *crane.Spec, orientation *crane.Orientation) [16]float64 {
	m := transform(state, spec, orientation)
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m.At(r, c)
		}
	}
	return out
}

func transform(state crane.SwingLiftElbow, spec *crane.Spec, orientation *crane.Orientation) *mat.Dense {
	lift := liftMatrix(state.Lift, spec.SpacerHeight())
	swing := linkMatrix(state.Swing, spec.UpperArmLength())
	elbow := linkMatrix(state.Elbow, spec.LowerArmLength())
	if orientation != nil {
		return chain(OrientationMatrix(*orientation), lift, swing, elbow)
	}
	return chain(lift, swing, elbow)
}

// Forward computes the end-effector position of state.
//
// Wrist and gripper do not move the end effector, so only the
// swing/lift/elbow triple is needed. A nil orientation is the identity.
func Forward(state crane.SwingLiftElbow, spec *crane.Spec, orientation *crane.Orientation) crane.CartesianPosition {
	m := transform(state, spec, orientation)
	return crane.PositionFromVector(translation(m))
}

// ForwardJoint is Forward for a full joint state.
func ForwardJoint(state crane.JointState, spec *crane.Spec, orientation *crane.Orientation) crane.CartesianPosition {
	return Forward(state.SwingLiftElbow(), spec, orientation)
}

// Inverse solves the swing/lift/elbow triple that places the end effector
// at target. It returns the elbow-positive solution.
//
// Targets beyond full extension fail with an ErrUnreachable error. Targets
// inside the inner dead zone have no real solution; they are logged as a
// kinematics defect and also reported as ErrUnreachable.
func Inverse(target crane.CartesianPosition, spec *crane.Spec, orientation *crane.Orientation) (crane.SwingLiftElbow, error) {
	p := target.Vector()
	if orientation != nil {
		p = apply(OrientationInverseMatrix(*orientation), p)
	}

	upper, lower := spec.UpperArmLength(), spec.LowerArmLength()
	reach := upper + lower
	r2 := p.X*p.X + p.Z*p.Z
	if r2 > reach*reach*(1+reachSlack) {
		return crane.SwingLiftElbow{}, errors.UnreachableError(
			fmt.Sprintf("target radius %.4f exceeds reach %.4f", math.Sqrt(r2), reach)).
			SetContext("target", target)
	}

	r := math.Sqrt(r2)
	heading := degrees(math.Atan2(-p.Z, p.X))

	shoulder, err := triangleAngle(upper, r, lower)
	if err != nil {
		return crane.SwingLiftElbow{}, defect(err, target, orientation)
	}
	inner, err := triangleAngle(upper, lower, r)
	if err != nil {
		return crane.SwingLiftElbow{}, defect(err, target, orientation)
	}

	return crane.SwingLiftElbow{
		Swing: heading - shoulder,
		Lift:  p.Y + spec.SpacerHeight(),
		Elbow: 180 - inner,
	}, nil
}

// ToJointState solves target and carries wrist and gripper over from current.
func ToJointState(target crane.CartesianPosition, current crane.JointState, spec *crane.Spec, orientation *crane.Orientation) (crane.JointState, error) {
	sle, err := Inverse(target, spec, orientation)
	if err != nil {
		return crane.JointState{}, err
	}
	return sle.WithWristGripper(current.Wrist, current.Gripper), nil
}

// triangleAngle returns, in degrees, the angle between sides a and b of a
// triangle whose third side is c.
func triangleAngle(a, b, c float64) (float64, error) {
	den := 2 * a * b
	if den == 0 {
		return 0, pkgerrors.Errorf("degenerate triangle (%g, %g, %g)", a, b, c)
	}
	cos := (a*a + b*b - c*c) / den
	if math.IsNaN(cos) || cos > 1+cosineSlack || cos < -1-cosineSlack {
		return 0, pkgerrors.Errorf("acos argument %g outside [-1, 1] for triangle (%g, %g, %g)", cos, a, b, c)
	}
	cos = math.Max(-1, math.Min(1, cos))
	return degrees(math.Acos(cos)), nil
}

func defect(cause error, target crane.CartesianPosition, orientation *crane.Orientation) error {
	entry := logger().WithField("target", target)
	if orientation != nil {
		entry = entry.WithField("orientation", *orientation)
	}
	entry.Error("inverse kinematics has no real solution: %+v", cause)
	return errors.Wrap(errors.KinematicsCalcError(cause), errors.ErrUnreachable, "target is unreachable").
		SetContext("target", target)
}
