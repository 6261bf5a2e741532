package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationRequired indicates no valid session is present.
	ErrAuthenticationRequired = errors.New("engine: authentication required")
	// ErrNetworkUnavailable indicates the remote store cannot be reached.
	ErrNetworkUnavailable = errors.New("engine: network unavailable")
	// ErrDuplicateKey indicates a business-key collision on this device.
	ErrDuplicateKey = errors.New("engine: duplicate business key")
	// ErrRemoteRejected indicates the remote store refused the payload.
	ErrRemoteRejected = errors.New("engine: remote rejected payload")
	// ErrStorageFailure indicates the local persistence layer failed.
	ErrStorageFailure = errors.New("engine: local storage failure")
)

// EngineError carries a dotted operation code alongside the underlying cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *EngineError) Code() string {
	return e.code
}

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
