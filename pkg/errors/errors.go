// Unified error handling for the AMS host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import "fmt"

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Synchronous request rejections
	ErrInvalidTarget  ErrorCode = "INVALID_TARGET"
	ErrBusy           ErrorCode = "BUSY"
	ErrNothingMounted ErrorCode = "NOTHING_MOUNTED"

	// Asynchronous operation outcomes
	ErrHardwareFailure ErrorCode = "HARDWARE_FAILURE"
	ErrStaleCompletion ErrorCode = "STALE_COMPLETION"

	// Backend/transport faults
	ErrNotConnected ErrorCode = "NOT_CONNECTED"
	ErrTransport    ErrorCode = "TRANSPORT"

	// Configuration errors
	ErrConfigSection ErrorCode = "CONFIG_SECTION"
	ErrConfigOption  ErrorCode = "CONFIG_OPTION"
)

// AmsError is the unified error type for the AMS host system
type AmsError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Lane is the lane name involved, if any
	Lane string

	// Tool is the tool number involved, or -1
	Tool int

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *AmsError) Error() string {
	if e.Lane != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Lane, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AmsError) Unwrap() error {
	return e.Err
}

// SetLane sets the lane context
func (e *AmsError) SetLane(lane string) *AmsError {
	e.Lane = lane
	return e
}

// SetTool sets the tool context
func (e *AmsError) SetTool(tool int) *AmsError {
	e.Tool = tool
	return e
}

// New creates a new AmsError
func New(code ErrorCode, message string) *AmsError {
	return &AmsError{Code: code, Message: message, Tool: -1}
}

// Wrap wraps an existing error with a category and message
func Wrap(err error, code ErrorCode, message string) *AmsError {
	return &AmsError{Code: code, Message: message, Tool: -1, Err: err}
}

// Request rejections

// InvalidTargetError creates an error for a tool absent from the topology
func InvalidTargetError(tool int) *AmsError {
	return New(ErrInvalidTarget, fmt.Sprintf("no lane maps to tool T%d", tool)).SetTool(tool)
}

// InvalidLaneError creates an error for an unknown lane name
func InvalidLaneError(lane string) *AmsError {
	return New(ErrInvalidTarget, fmt.Sprintf("unknown lane '%s'", lane)).SetLane(lane)
}

// BusyError creates an error for a request issued while an operation is in flight
func BusyError(current string) *AmsError {
	return New(ErrBusy, fmt.Sprintf("operation in progress: %s", current))
}

// NothingMountedError creates an error for unload with no mounted lane
func NothingMountedError() *AmsError {
	return New(ErrNothingMounted, "no filament mounted")
}

// Operation outcomes

// HardwareFailureError creates an error for a failed backend operation
func HardwareFailureError(op, reason string) *AmsError {
	return New(ErrHardwareFailure, fmt.Sprintf("%s failed: %s", op, reason))
}

// StaleCompletionError creates an error for a completion with a superseded sequence number
func StaleCompletionError(got, want uint64) *AmsError {
	return New(ErrStaleCompletion, fmt.Sprintf("completion seq %d does not match outstanding %d", got, want))
}

// Backend faults

// NotConnectedError creates an error for an unstarted or disconnected backend
func NotConnectedError(reason string) *AmsError {
	return New(ErrNotConnected, reason)
}

// TransportError creates an error for a command transport fault
func TransportError(err error, op string) *AmsError {
	return Wrap(err, ErrTransport, fmt.Sprintf("transport fault during %s", op))
}

// Configuration errors

// ConfigSectionError creates an error for a missing config section
func ConfigSectionError(section string) *AmsError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section))
}

// ConfigOptionError creates an error for a missing or invalid config option
func ConfigOptionError(section, option, reason string) *AmsError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason))
}

// Is checks if an error matches the given error code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if ae, ok := err.(*AmsError); ok && ae.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRejection checks if an error is a synchronous request rejection
func IsRejection(err error) bool {
	return Is(err, ErrInvalidTarget) ||
		Is(err, ErrBusy) ||
		Is(err, ErrNothingMounted)
}
