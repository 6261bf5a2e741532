package remote

import (
	"errors"
	"fmt"
)

// ErrorKind tags a remote store failure so callers branch on the tag rather
// than on message text.
type ErrorKind int

const (
	// KindNetwork covers transport failures and remote 5xx responses.
	KindNetwork ErrorKind = iota
	// KindUnauthorized covers missing or rejected sessions.
	KindUnauthorized
	// KindNotFound covers operations against absent documents.
	KindNotFound
	// KindAlreadyExists covers creates against existing documents.
	KindAlreadyExists
	// KindRejected covers malformed payloads and schema rejections.
	KindRejected
)

// String names the kind for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error describes a failed remote store operation.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind; non-remote errors read as KindNetwork since
// they originate below the protocol.
func KindOf(err error) ErrorKind {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	return KindNetwork
}

// IsTransient reports whether the failure should be absorbed into the pending
// queue rather than surfaced to the caller.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindUnauthorized, KindRejected:
		return true
	default:
		return false
	}
}
