package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when an operation is attempted while the
	// connector is not in the Connected state. The operation has no side
	// effects on the wire.
	ErrNotConnected = errors.New("gateway not connected")

	// ErrConnectionLost resolves every outstanding request when the socket
	// drops or the caller disconnects explicitly.
	ErrConnectionLost = errors.New("gateway connection lost")

	// ErrDuplicateRequestID is returned by Register when an id is still
	// outstanding.
	ErrDuplicateRequestID = errors.New("request id already registered")
)

// TimeoutError reports that no resolving event arrived within the
// per-request deadline. The connection itself remains intact.
type TimeoutError struct {
	Op   string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway: %s timed out after %s", e.Op, e.Wait)
}

func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is a per-request timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// RejectedError carries a gateway error code tied to a specific request.
// It fails that request only.
type RejectedError struct {
	ReqID int64
	Code  int
	Msg   string
}

func (e *RejectedError) Error() string {
	if e.ReqID > 0 {
		return fmt.Sprintf("gateway: request %d rejected (code %d): %s", e.ReqID, e.Code, e.Msg)
	}
	return fmt.Sprintf("gateway: error code %d: %s", e.Code, e.Msg)
}
