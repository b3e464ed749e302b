package voice

import (
	"errors"
	"fmt"
)

// ErrConnectTimeout indicates the upstream did not acknowledge the session
// setup within the connect timeout.
var ErrConnectTimeout = errors.New("voice: connect timed out waiting for setup acknowledgement")

// ErrSessionClosed indicates an operation on a session that already tore down.
var ErrSessionClosed = errors.New("voice: session is closed")

// TransportError wraps a websocket-level failure with the operation and
// endpoint it occurred on.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("voice transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
