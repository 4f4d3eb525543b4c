//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/internal/testcert"
	"github.com/dreamans/evslice/poller"
)

type fakeTransport struct {
	budget int
	got    []byte
	queued int
}

func (t *fakeTransport) ready() bool                { return true }
func (t *fakeTransport) buffered() bool             { return false }
func (t *fakeTransport) handshake() error           { return nil }
func (t *fakeTransport) read(p []byte) (int, error) { return 0, ErrWouldBlock }
func (t *fakeTransport) pending() int               { return t.queued }
func (t *fakeTransport) flush() error               { return nil }
func (t *fakeTransport) close() error               { return nil }

func (t *fakeTransport) write(p []byte) (int, error) {
	if t.budget == 0 {
		return 0, ErrWouldBlock
	}
	n := len(p)
	if n > t.budget {
		n = t.budget
	}
	t.budget -= n
	t.got = append(t.got, p[:n]...)
	return n, nil
}

// registerConn registers fd with r and wraps it in a connection of the
// given role. Destroying the connection closes fd.
func registerConn(t *testing.T, r *Reactor, fd int, role Role) *Connection {
	var c *Connection
	h := NewEventHandle("conn")
	h.SetFd(fd)
	err := r.Register(h, func(h *EventHandle) error {
		var err error
		if c, err = NewConnection(h, h.Fd(), ModeTCP4, role); err != nil {
			return err
		}
		return h.Reactor().SubscribeRead(h.Fd())
	}, func(h *EventHandle) error {
		return c.Destroy()
	})
	require.NoError(t, err)
	return c
}

// connPair registers one end of a socketpair as a session connection and
// returns it with the other end.
func connPair(t *testing.T, r *Reactor) (*Connection, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return registerConn(t, r, fds[0], RoleSession), fds[1]
}

// tlsPair registers both ends of a socketpair as TLS connections and runs
// the handshake to completion.
func tlsPair(t *testing.T, r *Reactor) (cli, srv *Connection) {
	pair, err := testcert.New()
	require.NoError(t, err)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	cli = registerConn(t, r, fds[0], RoleClient)
	srv = registerConn(t, r, fds[1], RoleSession)
	require.NoError(t, cli.AttachTLS(pair.ClientConfig()))
	require.NoError(t, srv.AttachTLS(pair.ServerConfig()))

	for i := 0; i < 32 && !(cli.Ready() && srv.Ready()); i++ {
		for _, c := range []*Connection{cli, srv} {
			if _, err := c.SocketRead(); err != nil {
				require.ErrorIs(t, err, ErrWouldBlock)
			}
		}
	}
	require.True(t, cli.Ready(), "client handshake did not finish")
	require.True(t, srv.Ready(), "server handshake did not finish")
	return cli, srv
}

type countingTransport struct {
	transport
	reads int
}

func (t *countingTransport) read(p []byte) (int, error) {
	t.reads++
	return t.transport.read(p)
}

func newTestReactor(t *testing.T) *Reactor {
	r, err := New(NewOptions().SetBlockSize(1024).SetReadSlack(64))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Destroy()) })
	return r
}

func TestConnectionWriteAndRead(t *testing.T) {
	r := newTestReactor(t)
	c, peer := connPair(t, r)

	require.NoError(t, c.Write([]byte("hello")))
	require.Equal(t, 1, c.Pending())
	require.NotZero(t, r.slots[c.Fd()].mask&poller.EventWrite)

	require.NoError(t, c.SocketWrite())
	require.Equal(t, 0, c.Pending())
	require.Equal(t, 1, r.Pool().Len())

	buf := make([]byte, 16)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	_, err = c.SocketRead()
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = unix.Write(peer, []byte("world"))
	require.NoError(t, err)
	n, err = c.SocketRead()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(c.PeekReadBuffer()))
	require.Equal(t, byte(0), c.readBuf.data[c.readBuf.length])

	out := make([]byte, 3)
	require.Equal(t, 3, c.FetchInto(out))
	require.Equal(t, "wor", string(out))
	require.Equal(t, "ld", string(c.PeekReadBuffer()))

	c.ClearReadBuffer()
	require.Nil(t, c.PeekReadBuffer())
	require.Equal(t, 0, c.FetchInto(out))
}

func TestConnectionPeerCloseFiresOnce(t *testing.T) {
	r := newTestReactor(t)
	c, peer := connPair(t, r)

	fired := 0
	c.SetCloseFunc(func(c *Connection, err error) {
		fired++
		require.ErrorIs(t, err, ErrPeerClosed)
		require.Equal(t, KindConnection, KindOf(err))
	})
	require.NoError(t, unix.Close(peer))

	_, err := c.SocketRead()
	require.ErrorIs(t, err, ErrPeerClosed)
	_, err = c.SocketRead()
	require.Error(t, err)
	require.Equal(t, 1, fired)
}

func TestPartialWriteResumes(t *testing.T) {
	r := newTestReactor(t)
	c, _ := connPair(t, r)
	ft := &fakeTransport{budget: 4}
	c.tr = ft

	require.NoError(t, c.Write([]byte("0123456789")))
	require.NoError(t, c.Write([]byte("ab")))
	require.NoError(t, r.UnsubscribeWrite(c.Fd()))

	require.ErrorIs(t, c.SocketWrite(), ErrWouldBlock)
	require.Equal(t, "0123", string(ft.got))
	require.Equal(t, 2, c.Pending())
	require.NotZero(t, r.slots[c.Fd()].mask&poller.EventWrite)

	ft.budget = 100
	require.NoError(t, c.SocketWrite())
	require.Equal(t, "0123456789ab", string(ft.got))
	require.Equal(t, 0, c.Pending())
}

func TestEnqueueLinkedBuffer(t *testing.T) {
	r := newTestReactor(t)
	c, _ := connPair(t, r)

	b := r.Pool().Acquire(8)
	b.Write([]byte("x"))
	require.NoError(t, c.EnqueueWrite(b))
	require.ErrorIs(t, c.EnqueueWrite(b), ErrBufferLinked)
	require.ErrorIs(t, r.Pool().Release(b), ErrBufferLinked)
	require.ErrorIs(t, c.EnqueueWrite(nil), ErrInvalidParam)
}

func TestDestroyTwice(t *testing.T) {
	r := newTestReactor(t)
	c, _ := connPair(t, r)
	require.NoError(t, c.Write([]byte("queued")))

	fired := false
	c.SetCloseFunc(func(c *Connection, err error) { fired = true })

	require.NoError(t, r.Unregister(c.Handle()))
	require.ErrorIs(t, c.Destroy(), ErrDestroyed)
	require.False(t, fired)
	require.Equal(t, 1, r.Pool().Len())

	_, err := c.SocketRead()
	require.ErrorIs(t, err, ErrDestroyed)
	require.ErrorIs(t, c.Write([]byte("late")), ErrDestroyed)
}

func TestNewConnectionRejectsUDP(t *testing.T) {
	r := newTestReactor(t)
	h := NewEventHandle("udp")
	h.SetFd(0)
	err := r.Register(h, func(h *EventHandle) error {
		_, err := NewConnection(h, h.Fd(), ModeUDP4, RoleClient)
		return err
	}, nop)
	require.ErrorIs(t, err, ErrNotImplemented)

	_, err = NewConnection(NewEventHandle("loose"), 0, ModeTCP4, RoleClient)
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestFetchIntoCompacts(t *testing.T) {
	r := newTestReactor(t)
	c, peer := connPair(t, r)

	chunk := bytes.Repeat([]byte("x"), 100)
	out := make([]byte, 99)
	for i := 0; i < 200; i++ {
		_, err := unix.Write(peer, chunk)
		require.NoError(t, err)
		n, err := c.SocketRead()
		require.NoError(t, err)
		require.Equal(t, 100, n)
		require.Equal(t, 99, c.FetchInto(out))
	}

	require.Len(t, c.PeekReadBuffer(), 200)
	require.Equal(t, 0, c.readBuf.Cursor())
	require.Equal(t, 1024, c.readBuf.Cap())
	require.Equal(t, byte(0), c.readBuf.data[c.readBuf.length])
}

func TestReadSubscribesWriteForPendingOutput(t *testing.T) {
	r := newTestReactor(t)
	c, _ := connPair(t, r)
	c.tr = &fakeTransport{queued: 10}

	require.Zero(t, r.slots[c.Fd()].mask&poller.EventWrite)
	_, err := c.SocketRead()
	require.ErrorIs(t, err, ErrWouldBlock)
	require.NotZero(t, r.slots[c.Fd()].mask&poller.EventWrite)
}

func TestTLSReadRetryBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, retries := range []int{0, 3} {
		t.Run(strconv.Itoa(retries), func(t *testing.T) {
			r, err := New(NewOptions().SetBlockSize(1024).SetReadSlack(64).SetTLSReadRetries(retries))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, r.Destroy()) })

			cli, srv := tlsPair(t, r)
			require.Empty(t, r.deferred)

			// one record per write
			for i := 0; i < 8; i++ {
				require.NoError(t, cli.Write([]byte{'a' + byte(i)}))
			}
			require.NoError(t, cli.SocketWrite())

			ct := &countingTransport{transport: srv.tr}
			srv.tr = ct
			n, err := srv.SocketRead()
			require.NoError(t, err)
			require.Equal(t, retries+1, ct.reads)
			require.Equal(t, retries+1, n)
			require.Equal(t, "abcd"[:retries+1], string(srv.PeekReadBuffer()))

			// records left in the session are picked up next iteration
			require.Equal(t, []int{srv.Fd()}, r.deferred)
			require.Equal(t, poller.EventRead, r.slots[srv.Fd()].deferred)
		})
	}
}

func TestTLSReadBudgetEndsAtWouldBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestReactor(t)
	cli, srv := tlsPair(t, r)

	require.NoError(t, cli.Write([]byte("one")))
	require.NoError(t, cli.Write([]byte("two")))
	require.NoError(t, cli.SocketWrite())

	ct := &countingTransport{transport: srv.tr}
	srv.tr = ct
	n, err := srv.SocketRead()
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, 3, ct.reads)
	require.Equal(t, "onetwo", string(srv.PeekReadBuffer()))
	require.Empty(t, r.deferred)
}

func TestTLSDataBeforeCloseIsDelivered(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestReactor(t)
	cli, srv := tlsPair(t, r)

	fired := 0
	var closeErr error
	srv.SetCloseFunc(func(c *Connection, err error) {
		fired++
		closeErr = err
	})

	// data and close-notify land in the socket together
	require.NoError(t, cli.Write([]byte("ping")))
	require.NoError(t, cli.SocketWrite())
	require.NoError(t, r.Unregister(cli.Handle()))

	n, err := srv.SocketRead()
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", string(srv.PeekReadBuffer()))
	require.Equal(t, 0, fired)
	require.Equal(t, []int{srv.Fd()}, r.deferred)

	_, err = srv.SocketRead()
	require.ErrorIs(t, err, ErrPeerClosed)
	require.Equal(t, 1, fired)
	require.ErrorIs(t, closeErr, ErrPeerClosed)
	require.Equal(t, "ping", string(srv.PeekReadBuffer()))

	_, err = srv.SocketRead()
	require.Error(t, err)
	require.Equal(t, 1, fired)
}
