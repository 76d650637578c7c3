package companion

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Session methods called after the underlying
// connection has failed or been closed.
var ErrClosed = errors.New("companion: session closed")

// ProtocolError wraps an accessory-reported `_em` error string on an
// OPACK response.
type ProtocolError struct {
	Identifier string
	Message    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("companion: %s failed: %s", e.Identifier, e.Message)
}

// TimeoutError is returned when a request or handshake step receives no
// matching response within its timeout.
type TimeoutError struct {
	Identifier string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("companion: %s timed out waiting for a response", e.Identifier)
}
