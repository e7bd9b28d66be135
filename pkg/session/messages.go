package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
)

// Message types accepted from clients.
const (
	TypeCraneState  = "crane_state"
	TypeXYZPosition = "xyz_position"
)

// Status classifies a snapshot.
type Status string

const (
	StatusMoving  Status = "MOVING"
	StatusStopped Status = "STOPPED"
	StatusError   Status = "ERROR"
)

// maxDurationMs is the longest duration a time.Duration can hold.
const maxDurationMs = math.MaxInt64 / int64(time.Millisecond)

// envelope is the raw inbound message before the target is typed.
type envelope struct {
	Type          string             `json:"type"`
	Orientation   *crane.Orientation `json:"orientation"`
	Target        json.RawMessage    `json:"target"`
	MaxDurationMs *int64             `json:"maxDurationMs,omitempty"`
}

// Request is a decoded client request. Exactly one of Joint and Cartesian
// is set.
type Request struct {
	Joint       *crane.JointState
	Cartesian   *crane.CartesianPosition
	Orientation crane.Orientation

	// MaxDuration is only meaningful when HasMaxDuration is set.
	MaxDuration    time.Duration
	HasMaxDuration bool
}

// DecodeRequest parses one inbound message. A missing orientation decodes
// as the identity.
func DecodeRequest(data []byte) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.RequestParseError(err)
	}
	if len(bytes.TrimSpace(env.Target)) == 0 || bytes.Equal(bytes.TrimSpace(env.Target), []byte("null")) {
		return nil, errors.RequestInvalidError("missing target")
	}

	req := &Request{}
	if env.Orientation != nil {
		req.Orientation = *env.Orientation
	}
	if env.MaxDurationMs != nil {
		if *env.MaxDurationMs < 0 {
			return nil, errors.RequestInvalidError("maxDurationMs must not be negative")
		}
		if *env.MaxDurationMs > maxDurationMs {
			return nil, errors.RequestInvalidError(fmt.Sprintf("maxDurationMs must be at most %d", maxDurationMs))
		}
		req.MaxDuration = time.Duration(*env.MaxDurationMs) * time.Millisecond
		req.HasMaxDuration = true
	}

	switch env.Type {
	case TypeCraneState:
		var target crane.JointState
		if err := decodeStrict(env.Target, &target); err != nil {
			return nil, err
		}
		if !target.IsFinite() {
			return nil, errors.RequestInvalidError("target joint state must be finite")
		}
		req.Joint = &target
	case TypeXYZPosition:
		var target crane.CartesianPosition
		if err := decodeStrict(env.Target, &target); err != nil {
			return nil, err
		}
		if !target.IsFinite() {
			return nil, errors.RequestInvalidError("target position must be finite")
		}
		req.Cartesian = &target
	default:
		return nil, errors.RequestTypeError(env.Type)
	}
	return req, nil
}

func decodeStrict(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.RequestParseError(fmt.Errorf("target: %w", err))
	}
	return nil
}

// Snapshot is the state report sent to clients.
type Snapshot struct {
	Status            Status                   `json:"status"`
	CraneState        crane.JointState         `json:"craneState"`
	XYZPosition       crane.CartesianPosition  `json:"xyzPosition"`
	TargetState       *crane.JointState        `json:"targetState,omitempty"`
	TargetXYZPosition *crane.CartesianPosition `json:"targetXyzPosition,omitempty"`
	Success           bool                     `json:"success"`
	ErrorMessage      string                   `json:"errorMessage,omitempty"`
}
