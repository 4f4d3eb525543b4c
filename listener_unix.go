//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/util"
)

const listenBacklog = 256

// Listener is a non-blocking listening socket.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

func family(mode Mode) int {
	if mode == ModeTCP6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// NewListener binds bindIP:port, an empty bindIP meaning any address of
// the mode's family, and starts listening.
func NewListener(mode Mode, bindIP string, port int) (*Listener, error) {
	switch mode {
	case ModeTCP4, ModeTCP6:
	case ModeUDP4:
		return nil, &Error{Kind: KindMisuse, Op: "listen", Msg: "udp", Err: ErrNotImplemented}
	default:
		return nil, opError("listen", ErrInvalidParam)
	}
	if port < 0 || port > 0xffff {
		return nil, &Error{Kind: KindMisuse, Op: "listen", Msg: "port " + strconv.Itoa(port), Err: ErrInvalidParam}
	}
	laddr := &net.TCPAddr{Port: port}
	if bindIP != "" {
		if laddr.IP = net.ParseIP(bindIP); laddr.IP == nil {
			return nil, &Error{Kind: KindMisuse, Op: "listen", Msg: "bad bind address " + bindIP, Err: ErrInvalidParam}
		}
	}
	sa, err := util.TCPAddrToSockaddr(laddr, family(mode))
	if err != nil {
		return nil, &Error{Kind: KindMisuse, Op: "listen", Err: err}
	}

	fd, err := unix.Socket(family(mode), unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, newError(KindSystem, "socket", err)
	}
	unix.CloseOnExec(fd)
	ln := &Listener{fd: fd}
	if err := ln.setup(sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return ln, nil
}

func (ln *Listener) setup(sa unix.Sockaddr) error {
	if err := util.SetReuseAddr(ln.fd, true); err != nil {
		return newError(KindSystem, "setsockopt", err)
	}
	if err := util.SetNonblock(ln.fd); err != nil {
		return newError(KindSystem, "set nonblock", err)
	}
	if err := unix.Bind(ln.fd, sa); err != nil {
		return newError(KindSystem, "bind", err)
	}
	if err := unix.Listen(ln.fd, listenBacklog); err != nil {
		return newError(KindSystem, "listen", err)
	}
	bound, err := unix.Getsockname(ln.fd)
	if err != nil {
		return newError(KindSystem, "getsockname", err)
	}
	ln.addr = util.SockaddrToTCPAddr(bound)
	return nil
}

func (ln *Listener) Fd() int {
	return ln.fd
}

func (ln *Listener) Addr() net.Addr {
	return ln.addr
}

// accept returns one pending connection, already non-blocking.
func (ln *Listener) accept() (int, error) {
	nfd, _, err := unix.Accept(ln.fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(nfd)
	if err := util.SetNonblock(nfd); err != nil {
		_ = unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}

func (ln *Listener) Close() error {
	if ln.fd < 0 {
		return nil
	}
	err := unix.Close(ln.fd)
	ln.fd = -1
	return err
}
