package datalog

import (
	"errors"
	"fmt"
)

// Request errors: the caller sent something invalid. Nothing was changed.
var (
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrUnboundVariable  = errors.New("unbound variable")
	ErrInvalidQuery     = errors.New("invalid query")
)

// System errors: the database could not do its job.
var (
	ErrStorage            = errors.New("storage error")
	ErrInvariantViolation = errors.New("invariant violation")
)

// ErrorCode is the wire form of the error taxonomy.
type ErrorCode uint8

const (
	CodeOK ErrorCode = iota
	CodeUnknownAttribute
	CodeTypeMismatch
	CodeUnboundVariable
	CodeInvalidQuery
	CodeStorage
	CodeInvariantViolation
	CodeInternal
)

var codeErrors = map[ErrorCode]error{
	CodeUnknownAttribute:   ErrUnknownAttribute,
	CodeTypeMismatch:       ErrTypeMismatch,
	CodeUnboundVariable:    ErrUnboundVariable,
	CodeInvalidQuery:       ErrInvalidQuery,
	CodeStorage:            ErrStorage,
	CodeInvariantViolation: ErrInvariantViolation,
}

// CodeOf classifies err. Errors outside the taxonomy are CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	for code := CodeUnknownAttribute; code < CodeInternal; code++ {
		if errors.Is(err, codeErrors[code]) {
			return code
		}
	}
	return CodeInternal
}

// Error rebuilds an error of this code carrying msg, so that errors.Is keeps
// working after the error crossed a process boundary.
func (c ErrorCode) Error(msg string) error {
	if c == CodeOK {
		return nil
	}
	sentinel, ok := codeErrors[c]
	if !ok {
		return errors.New(msg)
	}
	if msg == "" || msg == sentinel.Error() {
		return sentinel
	}
	return &remoteError{sentinel: sentinel, msg: msg}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// IsRequestError reports whether err was caused by an invalid request.
func IsRequestError(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownAttribute, CodeTypeMismatch, CodeUnboundVariable, CodeInvalidQuery:
		return true
	default:
		return false
	}
}

// IsSystemError reports whether err was caused by the database itself.
func IsSystemError(err error) bool {
	switch CodeOf(err) {
	case CodeStorage, CodeInvariantViolation, CodeInternal:
		return true
	default:
		return false
	}
}

// StorageError wraps a backend failure so that errors.Is(err, ErrStorage) holds.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// InvariantViolation reports corrupt or inconsistent persistent state.
func InvariantViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
