// Package tlsx multiplexes crypto/tls sessions over non-blocking
// descriptors owned by a single-threaded reactor. Sessions are indexed by
// descriptor in one table per role; every call returns instead of blocking.
package tlsx

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	ErrWouldBlock      = errors.New("tlsx: operation would block")
	ErrPeerClosed      = errors.New("tlsx: peer closed the connection")
	ErrInvalidState    = errors.New("tlsx: handshake already completed")
	ErrDescriptorRange = errors.New("tlsx: descriptor out of range")
	ErrNoSession       = errors.New("tlsx: no session for descriptor")
	ErrNoConfig        = errors.New("tlsx: missing tls config")
)

// RecordError is a failure reported by the TLS layer itself (bad record,
// alert, certificate verification) as opposed to the socket.
type RecordError struct {
	Op  string
	Err error
}

func (e *RecordError) Error() string {
	return "tlsx: " + e.Op + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

type State uint8

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// classify maps what crypto/tls or the descriptor returned onto the
// package sentinels. Socket errors come back as syscall.Errno.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	switch {
	case errors.Is(err, unix.EAGAIN):
		return ErrWouldBlock
	case errors.Is(err, io.EOF):
		return ErrPeerClosed
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	case errors.As(err, &errno):
		return errno
	}
	return &RecordError{Op: op, Err: err}
}
