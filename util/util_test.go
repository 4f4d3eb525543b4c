//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package util

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSockaddrRoundTrip(t *testing.T) {
	in := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5050}
	sa, err := TCPAddrToSockaddr(in, 0)
	require.NoError(t, err)
	require.IsType(t, &unix.SockaddrInet4{}, sa)

	out := SockaddrToTCPAddr(sa)
	require.Equal(t, "127.0.0.1:5050", out.String())

	in6 := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 443}
	sa, err = TCPAddrToSockaddr(in6, unix.AF_INET6)
	require.NoError(t, err)
	require.Equal(t, "[::1]:443", SockaddrToTCPAddr(sa).String())

	_, err = TCPAddrToSockaddr(in6, unix.AF_INET)
	require.Error(t, err)
}

func TestTemporaryErr(t *testing.T) {
	require.True(t, WouldBlock(unix.EAGAIN))
	require.False(t, WouldBlock(unix.EINTR))
	require.True(t, TemporaryErr(unix.EINTR))
	require.True(t, TemporaryErr(unix.EAGAIN))
	require.False(t, TemporaryErr(unix.ECONNRESET))
	require.False(t, TemporaryErr(net.ErrClosed))
}

func TestSocketErrorClean(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, SocketError(fds[0]))
	require.NoError(t, SetNonblock(fds[0]))
}
