//go:build linux

package poller

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollReadiness(t *testing.T) {
	ep, err := EpollCreate(8)
	require.NoError(t, err)
	defer ep.Close()

	a, b := socketpair(t)
	ready := make([]Ready, 8)

	require.NoError(t, ep.Add(a, EventRead))
	n, err := ep.Wait(ready, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)
	n, err = ep.Wait(ready, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, Ready{Fd: a, Events: EventRead}, ready[0])

	// edge triggered: unread data does not report again
	n, err = ep.Wait(ready, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// Mod re-arms and adds write interest
	require.NoError(t, ep.Mod(a, EventRead|EventWrite))
	n, err = ep.Wait(ready, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, EventRead|EventWrite, ready[0].Events)

	require.NoError(t, ep.Del(a))
	_, err = unix.Write(b, []byte("y"))
	require.NoError(t, err)
	n, err = ep.Wait(ready, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEpollHangup(t *testing.T) {
	ep, err := EpollCreate(4)
	require.NoError(t, err)
	defer ep.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	require.NoError(t, ep.Add(fds[0], EventRead))
	require.NoError(t, unix.Close(fds[1]))

	ready := make([]Ready, 4)
	n, err := ep.Wait(ready, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotZero(t, ready[0].Events&EventRead)
	require.NotZero(t, ready[0].Events&EventErr)
}

func TestEpollWake(t *testing.T) {
	ep, err := EpollCreate(4)
	require.NoError(t, err)

	require.NoError(t, ep.Wake())
	require.NoError(t, ep.Wake())

	ready := make([]Ready, 4)
	n, err := ep.Wait(ready, 1000)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, ep.Close())
	require.ErrorIs(t, ep.Close(), ErrClosed)
	_, err = ep.Wait(ready, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestEventString(t *testing.T) {
	require.Equal(t, "-", Event(0).String())
	require.Equal(t, "rw", (EventRead | EventWrite).String())
	require.Equal(t, "re", (EventRead | EventErr).String())
}
