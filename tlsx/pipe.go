package tlsx

import (
	"bytes"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/util"
)

// pipe is the net.Conn handed to crypto/tls. Inbound bytes come straight
// from the descriptor; outbound records collect in out until the table
// flushes them, so a tls write never fails on a full socket.
//
// While handshaking, a read that would block parks the handshake
// goroutine: it signals yield and waits for resume. Once the handshake is
// over, reads return EAGAIN, which crypto/tls treats as temporary.
type pipe struct {
	fd          int
	out         bytes.Buffer
	handshaking bool
	closed      bool

	yield  chan struct{}
	resume chan struct{}

	local, remote net.Addr
}

func newPipe(fd int) *pipe {
	p := &pipe{
		fd:          fd,
		handshaking: true,
		yield:       make(chan struct{}),
		resume:      make(chan struct{}),
		local:       &net.TCPAddr{},
		remote:      &net.TCPAddr{},
	}
	if sa, err := unix.Getsockname(fd); err == nil {
		if addr := util.SockaddrToTCPAddr(sa); addr != nil {
			p.local = addr
		}
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		if addr := util.SockaddrToTCPAddr(sa); addr != nil {
			p.remote = addr
		}
	}
	return p
}

func (p *pipe) Read(b []byte) (int, error) {
	for {
		if p.closed {
			return 0, net.ErrClosed
		}
		n, err := unix.Read(p.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN && p.handshaking:
			p.yield <- struct{}{}
			<-p.resume
			continue
		case err != nil:
			return 0, err
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (p *pipe) Write(b []byte) (int, error) {
	if p.closed {
		return 0, net.ErrClosed
	}
	return p.out.Write(b)
}

// flush writes pending ciphertext until it is gone or the socket is full.
func (p *pipe) flush() error {
	for p.out.Len() > 0 {
		n, err := unix.Write(p.fd, p.out.Bytes())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return ErrWouldBlock
		}
		if err != nil {
			return err
		}
		p.out.Next(n)
	}
	return nil
}

func (p *pipe) Close() error {
	p.closed = true
	return nil
}

func (p *pipe) LocalAddr() net.Addr                { return p.local }
func (p *pipe) RemoteAddr() net.Addr               { return p.remote }
func (p *pipe) SetDeadline(t time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(t time.Time) error { return nil }
