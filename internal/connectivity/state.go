// Package connectivity owns the wireless link and tells the rest of the
// station whether it is usable.
package connectivity

import (
	"errors"
	"fmt"
	"net"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrTransport matches every error marked with Transport.
var ErrTransport = errors.New("transport error")

type transportError struct {
	err error
}

func (e *transportError) Error() string        { return e.err.Error() }
func (e *transportError) Unwrap() error        { return e.err }
func (e *transportError) Is(target error) bool { return target == ErrTransport }

// Transport marks err as a network failure that a reconnect may cure.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &transportError{err: err}
}

// IsTransport reports whether err was marked with Transport or comes from
// the net package.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
