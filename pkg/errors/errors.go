// Unified error handling for the crane host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigFile       ErrorCode = "CONFIG_FILE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Request decoding errors
	ErrRequestParse   ErrorCode = "REQUEST_PARSE"
	ErrRequestType    ErrorCode = "REQUEST_TYPE"
	ErrRequestInvalid ErrorCode = "REQUEST_INVALID"

	// Kinematics errors
	ErrUnreachable    ErrorCode = "UNREACHABLE"
	ErrKinematicsCalc ErrorCode = "KINEMATICS_CALC"

	// Motion errors
	ErrInvalidState ErrorCode = "INVALID_STATE"
	ErrMotionClosed ErrorCode = "MOTION_CLOSED"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// CraneError is the unified error type for the crane host
type CraneError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *CraneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CraneError) Unwrap() error {
	return e.Err
}

// SetContext adds additional context
func (e *CraneError) SetContext(key string, value interface{}) *CraneError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *CraneError {
	return &CraneError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new CraneError
func New(code ErrorCode, message string) *CraneError {
	return &CraneError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigFileError creates an error for an unreadable or unparsable config file
func ConfigFileError(path string, err error) *CraneError {
	return Wrap(err, ErrConfigFile, fmt.Sprintf("config file '%s'", path)).
		SetContext("config_path", path)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(option string, reason string) *CraneError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s': %s", option, reason)).
		SetContext("option", option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(option, value string, targetType string, err error) *CraneError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s': failed to parse '%s' as %s", option, value, targetType)).
		SetContext("option", option)
}

// Request errors

// RequestParseError creates an error for a malformed inbound message
func RequestParseError(err error) *CraneError {
	return Wrap(err, ErrRequestParse, "malformed request")
}

// RequestTypeError creates an error for an unknown message type
func RequestTypeError(msgType string) *CraneError {
	return New(ErrRequestType, fmt.Sprintf("unknown message type: %q", msgType))
}

// RequestInvalidError creates an error for a well-formed but unusable request
func RequestInvalidError(reason string) *CraneError {
	return New(ErrRequestInvalid, reason)
}

// Kinematics errors

// UnreachableError creates an error for a target outside the crane's reach
func UnreachableError(message string) *CraneError {
	return New(ErrUnreachable, message)
}

// KinematicsCalcError creates an error for a numeric defect in a transform
func KinematicsCalcError(err error) *CraneError {
	return Wrap(err, ErrKinematicsCalc, "kinematics calculation failed")
}

// Motion errors

// InvalidStateError creates an error for a target the crane refuses
func InvalidStateError(message string) *CraneError {
	return New(ErrInvalidState, message)
}

// MotionClosedError creates an error for requests on a closed controller
func MotionClosedError() *CraneError {
	return New(ErrMotionClosed, "motion controller closed")
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *CraneError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *CraneError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// FromPanic converts a value returned by recover into an error
func FromPanic(r interface{}) *CraneError {
	switch x := r.(type) {
	case nil:
		return nil
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return Wrap(x, ErrRuntime, "panic")
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if any error in the chain carries the given code
func Is(err error, code ErrorCode) bool {
	var craneErr *CraneError
	for err != nil {
		if stderrors.As(err, &craneErr) {
			if craneErr.Code == code {
				return true
			}
			err = craneErr.Err
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the code of the outermost CraneError in the chain, or "".
func CodeOf(err error) ErrorCode {
	var craneErr *CraneError
	if stderrors.As(err, &craneErr) {
		return craneErr.Code
	}
	return ""
}

// UserMessage returns the message of the outermost CraneError in the chain,
// falling back to err.Error() for foreign errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var craneErr *CraneError
	if stderrors.As(err, &craneErr) {
		return craneErr.Message
	}
	return err.Error()
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigFile) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}
