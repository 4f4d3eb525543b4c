//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"crypto/tls"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/util"
)

// Client is an outgoing connection registered with a reactor.
type Client struct {
	r         *Reactor
	h         *EventHandle
	conn      *Connection
	mode      Mode
	tlsCfg    *tls.Config
	handler   ClientHandler
	addr      *net.TCPAddr
	userData  interface{}
	connected bool
	closed    bool
}

// Dial starts a non-blocking connect to host:port. The outcome is reported
// through handler: OnConnect once the transport is usable (after the TLS
// handshake when tlsCfg is set), OnClose if the connect fails.
func Dial(r *Reactor, host string, port int, mode Mode, tlsCfg *tls.Config, handler ClientHandler) (*Client, error) {
	if r == nil {
		return nil, opError("dial", ErrInvalidParam)
	}
	network := "tcp4"
	switch mode {
	case ModeTCP4:
	case ModeTCP6:
		network = "tcp6"
	case ModeUDP4:
		return nil, &Error{Kind: KindMisuse, Op: "dial", Msg: "udp", Err: ErrNotImplemented}
	default:
		return nil, opError("dial", ErrInvalidParam)
	}
	if handler == nil {
		handler = BaseClientHandler{}
	}
	addr, err := net.ResolveTCPAddr(network, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "resolve", Err: err}
	}
	sa, err := util.TCPAddrToSockaddr(addr, family(mode))
	if err != nil {
		return nil, &Error{Kind: KindMisuse, Op: "dial", Err: err}
	}

	fd, err := unix.Socket(family(mode), unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, newError(KindSystem, "socket", err)
	}
	unix.CloseOnExec(fd)
	if err := util.SetNonblock(fd); err != nil {
		_ = unix.Close(fd)
		return nil, newError(KindSystem, "set nonblock", err)
	}
	_ = util.SetNoDelay(fd, true)
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		_ = unix.Close(fd)
		return nil, newError(KindConnection, "connect", err)
	}

	c := &Client{
		r:       r,
		mode:    mode,
		tlsCfg:  tlsCfg,
		handler: handler,
		addr:    addr,
	}
	c.h = NewEventHandle("client")
	c.h.SetFd(fd)
	c.h.SetUserData(c)
	if err := r.Register(c.h, c.add, c.remove); err != nil {
		if c.conn != nil {
			_ = c.conn.Destroy()
		} else {
			_ = unix.Close(fd)
		}
		return nil, err
	}
	evlog.Debugf("[Dial]: fd %d connecting to %s", fd, addr)
	return c, nil
}

func (c *Client) add(h *EventHandle) error {
	conn, err := NewConnection(h, h.Fd(), c.mode, RoleClient)
	if err != nil {
		return err
	}
	c.conn = conn
	if c.tlsCfg != nil {
		if err := conn.AttachTLS(c.tlsCfg); err != nil {
			return err
		}
		conn.SetReadyFunc(c.onReady)
	}
	conn.SetCloseFunc(c.onClose)
	h.SetReadFunc(c.onConnect)
	h.SetWriteFunc(c.onConnect)
	h.SetCloseFunc(c.onConnect)
	if err := c.r.SubscribeRead(h.Fd()); err != nil {
		return err
	}
	return c.r.SubscribeWrite(h.Fd())
}

func (c *Client) remove(h *EventHandle) error {
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Destroy()
}

// onConnect handles the first readiness after connect(2).
func (c *Client) onConnect(h *EventHandle) error {
	if c.connected {
		return nil
	}
	if err := util.SocketError(h.Fd()); err != nil {
		err = newError(KindConnection, "connect", err)
		c.conn.Fail(err)
		return err
	}
	if err := c.conn.capturePeer(); err != nil {
		if err == unix.ENOTCONN {
			// still in progress
			return nil
		}
		err = newError(KindConnection, "connect", err)
		c.conn.Fail(err)
		return err
	}
	c.connected = true
	h.SetReadFunc(c.onRead)
	h.SetWriteFunc(c.onWrite)
	h.SetCloseFunc(c.onHangup)
	evlog.Debugf("[Client.onConnect]: fd %d connected to %s:%d", h.Fd(), c.conn.PeerIP(), c.conn.PeerPort())

	if c.tlsCfg == nil {
		c.onReady(c.conn)
		if c.closed {
			return opError("client", ErrDestroyed)
		}
	}
	// flushes writes queued before the connect finished, or kicks the
	// TLS handshake
	return c.onWrite(h)
}

func (c *Client) onReady(conn *Connection) {
	if c.closed {
		return
	}
	if err := c.handler.OnConnect(c); err != nil {
		evlog.Debugf("[Client.OnConnect]: %s", err)
		_ = c.Close()
	}
}

func (c *Client) onClose(conn *Connection, err error) {
	c.handler.OnClose(c, err)
	_ = c.Close()
}

func (c *Client) onRead(h *EventHandle) error {
	n, err := c.conn.SocketRead()
	if n > 0 && !c.closed {
		if herr := c.handler.OnRead(c, n); herr != nil {
			_ = c.Close()
			return herr
		}
	}
	if err != nil && !IsWouldBlock(err) {
		return err
	}
	return nil
}

func (c *Client) onWrite(h *EventHandle) error {
	if err := c.conn.SocketWrite(); err != nil && !IsWouldBlock(err) {
		return err
	}
	return nil
}

func (c *Client) onHangup(h *EventHandle) error {
	if err := util.SocketError(h.Fd()); err != nil {
		c.conn.Fail(&Error{Kind: KindConnection, Op: "hangup", Msg: err.Error(), Err: ErrHangup})
		return nil
	}
	c.conn.Fail(opError("hangup", ErrHangup))
	return nil
}

func (c *Client) Reactor() *Reactor {
	return c.r
}

func (c *Client) Connection() *Connection {
	return c.conn
}

// Connected reports whether the connect completed. With TLS the handshake
// may still be running.
func (c *Client) Connected() bool {
	return c.connected && !c.closed
}

func (c *Client) RemoteAddr() net.Addr {
	return c.addr
}

func (c *Client) UserData() interface{} {
	return c.userData
}

func (c *Client) SetUserData(v interface{}) {
	c.userData = v
}

func (c *Client) Write(p []byte) error {
	if c.closed {
		return opError("client write", ErrDestroyed)
	}
	return c.conn.Write(p)
}

func (c *Client) WriteBuffer(b *Buffer) error {
	if c.closed {
		return opError("client write", ErrDestroyed)
	}
	return c.conn.EnqueueWrite(b)
}

func (c *Client) Fetch(out []byte) int {
	return c.conn.FetchInto(out)
}

func (c *Client) Peek() []byte {
	return c.conn.PeekReadBuffer()
}

func (c *Client) ClearReadBuffer() {
	c.conn.ClearReadBuffer()
}

// Close unregisters the client, which destroys its connection. Calling it
// again is a no-op.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.r.Unregister(c.h)
}
