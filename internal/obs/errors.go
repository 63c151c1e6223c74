package obs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable wraps transport-level failures talking to OBS.
	ErrUnreachable = errors.New("obs: device unreachable")

	// ErrDisconnected is returned to pending requests and waiters when the session ends.
	ErrDisconnected = errors.New("obs: connection closed")

	// ErrNotConnected is returned by Request when no session is open.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrUnreachable)
)

// RequestError is a request OBS answered with a failing status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obs: %s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("obs: %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

// IsUnknownTarget reports whether OBS rejected the request because the named
// scene, input or transition does not exist.
func (e *RequestError) IsUnknownTarget() bool {
	return e.Code == StatusResourceNotFound
}

// IsUnknownTarget reports whether err is (or wraps) an unknown-target RequestError.
func IsUnknownTarget(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.IsUnknownTarget()
}
