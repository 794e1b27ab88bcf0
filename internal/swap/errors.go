package swap

import (
	"errors"
	"fmt"
)

// Error codes for swap operations
const (
	// Waiting errors
	ErrCodeTimeout = "TIMEOUT"

	// Validation errors
	ErrCodeBadPayload       = "BAD_PAYLOAD"
	ErrCodeHashMismatch     = "HASH_MISMATCH"
	ErrCodeLocationRange    = "LOCATION_OUT_OF_RANGE"
	ErrCodeBadCommitment    = "BAD_COMMITMENT"
	ErrCodeWrongSource      = "WRONG_SOURCE"
	ErrCodeDuplicateID      = "DUPLICATE_ID"
	ErrCodeUnknownMessage   = "UNKNOWN_MESSAGE"
	ErrCodeMessageMalformed = "MESSAGE_MALFORMED"

	// Resource errors
	ErrCodeNoPeers     = "NO_PEERS"
	ErrCodeLocked      = "LOCKED"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"

	// Attempt errors
	ErrCodeRejected      = "REJECTED"
	ErrCodeAttemptFailed = "ATTEMPT_FAILED"
)

// ErrTimeout is returned by Transport.SendAndWait when nothing matched in time.
var ErrTimeout = errors.New("swap: timed out waiting for message")

// SwapError carries a code for programmatic handling plus log context.
type SwapError struct {
	Code    string
	Message string
	Context map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SwapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SwapError) Unwrap() error {
	return e.Cause
}

// Is matches another *SwapError by code.
func (e *SwapError) Is(target error) bool {
	t, ok := target.(*SwapError)
	return ok && t.Code == e.Code
}

// WithContext adds context to the error
func (e *SwapError) WithContext(key string, value interface{}) *SwapError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewSwapError creates a new swap error
func NewSwapError(code, message string) *SwapError {
	return &SwapError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with swap error context
func WrapError(code, message string, cause error) *SwapError {
	return &SwapError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// ErrorCode extracts the code of a *SwapError anywhere in err's chain.
func ErrorCode(err error) string {
	var se *SwapError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsProtocolViolation reports whether err means the peer broke the protocol
// rather than merely being slow or busy.
func IsProtocolViolation(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeBadPayload, ErrCodeHashMismatch, ErrCodeLocationRange,
		ErrCodeBadCommitment, ErrCodeWrongSource, ErrCodeMessageMalformed:
		return true
	}
	return false
}

func errBadPayload(length int) *SwapError {
	return NewSwapError(ErrCodeBadPayload, "bad payload length").
		WithContext("length", length)
}

func errHashMismatch() *SwapError {
	return NewSwapError(ErrCodeHashMismatch, "revealed payload does not match commitment")
}

func errLocationRange(what string, v float64) *SwapError {
	return NewSwapError(ErrCodeLocationRange, "location out of range").
		WithContext("field", what).
		WithContext("value", v)
}

func errBadCommitment(length int) *SwapError {
	return NewSwapError(ErrCodeBadCommitment, "commitment has wrong length").
		WithContext("length", length)
}

func errDuplicateID(id uint64) *SwapError {
	return NewSwapError(ErrCodeDuplicateID, "identifier already in use").
		WithContext("uid", id)
}
