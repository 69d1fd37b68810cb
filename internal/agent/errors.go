package agent

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// Error is an operation failure with a protocol error code. The gateway maps
// codes to HTTP statuses; subscription dispatch echoes them as error frames.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errValidation(format string, args ...interface{}) *Error {
	return &Error{Code: protocol.ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func errExists(format string, args ...interface{}) *Error {
	return &Error{Code: protocol.ErrAgentExists, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...interface{}) *Error {
	return &Error{Code: protocol.ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func errInternal(err error) *Error {
	return &Error{Code: protocol.ErrInternal, Message: err.Error()}
}

// CodeOf extracts the protocol error code, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return protocol.ErrInternal
}

// ErrNotReady is returned for writes submitted after draining begins.
var ErrNotReady = errors.New("agent not ready")

// ErrTerminated is returned when the agent has shut down.
var ErrTerminated = errors.New("agent terminated")
