//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"crypto/tls"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/tlsx"
)

// transport is the byte pump under a Connection: plain syscalls or a TLS
// session from the reactor's tlsx tables.
type transport interface {
	ready() bool
	// buffered reports whether the transport can hold decoded bytes the
	// descriptor no longer signals.
	buffered() bool
	handshake() error
	read(p []byte) (int, error)
	write(p []byte) (int, error)
	pending() int
	flush() error
	close() error
}

type plainTransport struct {
	fd int
}

func (t *plainTransport) ready() bool      { return true }
func (t *plainTransport) buffered() bool   { return false }
func (t *plainTransport) handshake() error { return nil }
func (t *plainTransport) pending() int     { return 0 }
func (t *plainTransport) flush() error     { return nil }
func (t *plainTransport) close() error     { return nil }

func (t *plainTransport) read(p []byte) (int, error) {
	for {
		n, err := unix.Read(t.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, newError(KindConnection, "read", err)
		case n == 0 && len(p) > 0:
			return 0, opError("read", ErrPeerClosed)
		}
		return n, nil
	}
}

func (t *plainTransport) write(p []byte) (int, error) {
	for {
		n, err := unix.Write(t.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, newError(KindConnection, "write", err)
		}
		return n, nil
	}
}

type tlsTransport struct {
	fd    int
	cfg   *tls.Config
	table *tlsx.Table
}

func (t *tlsTransport) ready() bool {
	return t.table.State(t.fd) == tlsx.Connected
}

func (t *tlsTransport) buffered() bool {
	return true
}

func (t *tlsTransport) handshake() error {
	return tlsError("handshake", t.table.Step(t.fd, t.cfg))
}

func (t *tlsTransport) read(p []byte) (int, error) {
	n, err := t.table.Read(t.fd, p)
	return n, tlsError("tls read", err)
}

func (t *tlsTransport) write(p []byte) (int, error) {
	n, err := t.table.Write(t.fd, p)
	return n, tlsError("tls write", err)
}

func (t *tlsTransport) pending() int {
	return t.table.Pending(t.fd)
}

func (t *tlsTransport) flush() error {
	return tlsError("tls flush", t.table.Flush(t.fd))
}

func (t *tlsTransport) close() error {
	return tlsError("tls close", t.table.Close(t.fd))
}

func tlsError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tlsx.ErrWouldBlock):
		return ErrWouldBlock
	case errors.Is(err, tlsx.ErrPeerClosed):
		return &Error{Kind: KindConnection, Op: op, Err: ErrPeerClosed, Msg: err.Error()}
	case errors.Is(err, tlsx.ErrInvalidState):
		return opError(op, ErrHandshakeState)
	case errors.Is(err, tlsx.ErrDescriptorRange):
		return opError(op, ErrDescriptorRange)
	case errors.Is(err, tlsx.ErrNoSession), errors.Is(err, tlsx.ErrNoConfig):
		return &Error{Kind: KindMisuse, Op: op, Msg: err.Error(), Err: ErrInvalidParam}
	}
	return newError(KindConnection, op, err)
}
