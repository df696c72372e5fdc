package artifact

import (
	"errors"
	"fmt"
)

// Kind discriminates the class of failure a backend reports, so callers can
// react (retry, surface to the user, alert) without depending on a specific
// backend's error types.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAuthDenied
	KindTransient
	KindCorrupt
	KindQuota
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAuthDenied:
		return "auth_denied"
	case KindTransient:
		return "transient"
	case KindCorrupt:
		return "corrupt"
	case KindQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// StorageError wraps a backend failure with the operation and key that
// triggered it, classified by Kind.
type StorageError struct {
	Op   string
	Key  string
	Kind Kind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact: %s %s: %s (%s)", e.Op, e.Key, e.Err, e.Kind)
	}
	return fmt.Sprintf("artifact: %s %s: %s", e.Op, e.Key, e.Kind)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op, key string, kind Kind, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Kind: kind, Err: err}
}

// IsNotFound reports whether err (or anything it wraps) denotes a missing key.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

func hasKind(err error, k Kind) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}
