// Package cpgerr defines the error taxonomy shared by the graph store, the
// layered graph APIs and the sync protocol.
//
// Every error that a caller is expected to branch on carries a Code. Storage
// failures that callers cannot act on are plain wrapped errors.
package cpgerr

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeInvalidState     ErrorCode = "INVALID_STATE"
	CodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// Context keys.
const (
	CtxID        = "id"
	CtxTable     = "table"
	CtxOperation = "operation"
	CtxURL       = "url"
)

// DomainError is a coded error with optional cause and context.
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]string
}

// WithContext attaches a key/value pair and returns the receiver.
func (e *DomainError) WithContext(key, value string) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code ErrorCode, msg string) *DomainError {
	return &DomainError{Code: code, Message: msg}
}

// Wrap creates a coded error around err.
func Wrap(err error, code ErrorCode, msg string) *DomainError {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// NotFound reports a missing entity, naming its id.
func NotFound(entity, id string) *DomainError {
	return New(CodeNotFound, fmt.Sprintf("%s not found '%s'", entity, id)).WithContext(CtxID, id)
}

// AlreadyExists reports a duplicate creation under the immutable property path.
func AlreadyExists(entity, id string) *DomainError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists '%s'", entity, id)).WithContext(CtxID, id)
}

// InvalidState reports an operation attempted without its preconditions.
func InvalidState(msg string) *DomainError {
	return New(CodeInvalidState, msg)
}

// TransportFailure wraps a network, HTTP or payload decoding failure.
func TransportFailure(err error, msg string) *DomainError {
	return Wrap(err, CodeTransportFailure, msg)
}

// Validation reports malformed input.
func Validation(msg string) *DomainError {
	return New(CodeValidation, msg)
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func IsNotFound(err error) bool         { return IsCode(err, CodeNotFound) }
func IsAlreadyExists(err error) bool    { return IsCode(err, CodeAlreadyExists) }
func IsInvalidState(err error) bool     { return IsCode(err, CodeInvalidState) }
func IsTransportFailure(err error) bool { return IsCode(err, CodeTransportFailure) }
func IsValidation(err error) bool       { return IsCode(err, CodeValidation) }
