//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"crypto/tls"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/poller"
	"github.com/dreamans/evslice/util"
)

// NewConnection wraps fd, which must belong to the registered handle h. A
// client whose connect is still in progress gets its peer address once
// the connect completes.
func NewConnection(h *EventHandle, fd int, mode Mode, role Role) (*Connection, error) {
	if h == nil || h.Reactor() == nil || fd < 0 {
		return nil, opError("new connection", ErrInvalidParam)
	}
	switch mode {
	case ModeTCP4, ModeTCP6:
	case ModeUDP4:
		return nil, &Error{Kind: KindMisuse, Op: "new connection", Msg: "udp", Err: ErrNotImplemented}
	default:
		return nil, opError("new connection", ErrInvalidParam)
	}
	if err := util.SetNonblock(fd); err != nil {
		return nil, newError(KindConnection, "set nonblock", err)
	}
	c := &Connection{
		h:          h,
		r:          h.Reactor(),
		fd:         fd,
		mode:       mode,
		role:       role,
		tr:         &plainTransport{fd: fd},
		writeQueue: queue.New(),
	}
	if err := c.capturePeer(); err != nil {
		if role != RoleClient || err != unix.ENOTCONN {
			return nil, newError(KindConnection, "getpeername", err)
		}
	}
	return c, nil
}

func (c *Connection) capturePeer() error {
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return err
	}
	c.peer = util.SockaddrToTCPAddr(sa)
	return nil
}

// AttachTLS switches the connection to TLS. The handshake runs on the next
// SocketRead or SocketWrite.
func (c *Connection) AttachTLS(cfg *tls.Config) error {
	if cfg == nil {
		return opError("attach tls", ErrInvalidParam)
	}
	table := c.r.TLS().Server()
	if c.role == RoleClient {
		table = c.r.TLS().Client()
	}
	c.tr = &tlsTransport{fd: c.fd, cfg: cfg, table: table}
	return nil
}

func (c *Connection) readSlack() int {
	if s := c.r.opts.ReadSlack; s > 0 {
		return s
	}
	return 1
}

// ensureReadSpace keeps at least ReadSlack free bytes plus room for the
// NUL sentinel after the logical length.
func (c *Connection) ensureReadSpace() error {
	need := c.readSlack() + 1
	if c.readBuf == nil {
		c.readBuf = c.r.pool.Acquire(need)
		return nil
	}
	c.readBuf.compact()
	if c.readBuf.free() < need {
		return c.r.pool.Grow(c.readBuf, need)
	}
	return nil
}

// step drives a pending handshake. It returns nil once the transport is
// usable.
func (c *Connection) step() error {
	if c.tr.ready() {
		return nil
	}
	err := c.tr.handshake()
	if err == nil {
		evlog.Debugf("[Connection.step]: fd %d %s handshake complete", c.fd, c.role)
		if c.writeQueue.Length() > 0 {
			_ = c.r.SubscribeWrite(c.fd)
		}
		if c.readyFn != nil {
			c.readyFn(c)
		}
		return nil
	}
	if IsWouldBlock(err) {
		if c.tr.pending() > 0 {
			_ = c.r.SubscribeWrite(c.fd)
		}
		return ErrWouldBlock
	}
	c.Fail(err)
	return err
}

// SocketRead reads what the transport has into the read buffer and returns
// the number of bytes added. ErrWouldBlock means nothing was available.
// A hard error that follows data is held back: the data is returned with a
// nil error, a read is deferred, and the next call fires the close
// callback with the error.
func (c *Connection) SocketRead() (int, error) {
	if c.destroyed {
		return 0, opError("read", ErrDestroyed)
	}
	if c.readErr != nil {
		c.Fail(c.readErr)
		return 0, c.readErr
	}
	if err := c.step(); err != nil {
		return 0, err
	}
	if c.destroyed {
		return 0, opError("read", ErrDestroyed)
	}

	total, err := c.fill()
	if c.tr.pending() > 0 {
		// the TLS layer queued a reply (key update, ticket) while reading
		_ = c.r.SubscribeWrite(c.fd)
	}
	switch {
	case err == nil, IsWouldBlock(err):
		return total, err
	case total > 0:
		evlog.Debugf("[Connection.SocketRead]: fd %d: %s after %d bytes", c.fd, err, total)
		c.readErr = err
		c.deferRead()
		return total, nil
	}
	evlog.Debugf("[Connection.SocketRead]: fd %d: %s", c.fd, err)
	c.Fail(err)
	return 0, err
}

// fill runs the read loop. Transports that buffer decoded data get up to
// TLSReadRetries extra reads before the rest is deferred.
func (c *Connection) fill() (int, error) {
	retries := 0
	total := 0
	for {
		if err := c.ensureReadSpace(); err != nil {
			return total, err
		}
		b := c.readBuf
		room := b.free() - 1
		n, err := c.tr.read(b.tail()[:room])
		if n > 0 {
			b.length += n
			b.data[b.length] = 0
			total += n
		}
		if err != nil {
			if IsWouldBlock(err) && total > 0 {
				return total, nil
			}
			return total, err
		}
		if c.tr.buffered() {
			if retries < c.r.opts.TLSReadRetries {
				retries++
				continue
			}
			// the session may still hold decrypted records
			c.deferRead()
			return total, nil
		}
		if n == room {
			c.deferRead()
		}
		return total, nil
	}
}

func (c *Connection) deferRead() {
	if err := c.r.Defer(c.fd, poller.EventRead); err != nil {
		evlog.Debugf("[Connection.deferRead]: fd %d: %s", c.fd, err)
	}
}

// SocketWrite drains the write queue head first. ErrWouldBlock means the
// socket is full and write interest is subscribed.
func (c *Connection) SocketWrite() error {
	if c.destroyed {
		return opError("write", ErrDestroyed)
	}
	if !c.tr.ready() {
		if err := c.step(); err != nil {
			return err
		}
		if c.destroyed {
			return opError("write", ErrDestroyed)
		}
		// records that arrived with the handshake get no new edge
		c.deferRead()
	}

	for c.writeQueue.Length() > 0 {
		b := c.writeQueue.Peek().(*Buffer)
		if b.cursor >= b.length {
			c.popWrite()
			continue
		}
		n, err := c.tr.write(b.Unflushed())
		b.cursor += n
		if err != nil {
			return c.writeFailed(err)
		}
		if n == 0 {
			return c.writeFailed(ErrWouldBlock)
		}
	}
	if c.tr.pending() > 0 {
		if err := c.tr.flush(); err != nil {
			return c.writeFailed(err)
		}
	}
	return nil
}

func (c *Connection) writeFailed(err error) error {
	if IsWouldBlock(err) {
		if serr := c.r.SubscribeWrite(c.fd); serr != nil {
			return serr
		}
		return ErrWouldBlock
	}
	evlog.Debugf("[Connection.SocketWrite]: fd %d: %s", c.fd, err)
	c.Fail(err)
	return err
}

// Destroy releases the buffers, ends the TLS session and closes the
// descriptor. The close callback is not fired.
func (c *Connection) Destroy() error {
	if c.destroyed {
		return opError("destroy", ErrDestroyed)
	}
	c.destroyed = true
	c.closeFired = true

	if c.readBuf != nil {
		_ = c.r.pool.Release(c.readBuf)
		c.readBuf = nil
	}
	for c.writeQueue.Length() > 0 {
		c.popWrite()
	}
	if err := c.tr.close(); err != nil {
		evlog.Debugf("[Connection.Destroy]: fd %d: %s", c.fd, err)
	}
	if err := unix.Close(c.fd); err != nil {
		return newError(KindSystem, "close", err)
	}
	evlog.Debugf("[Connection.Destroy]: fd %d %s closed", c.fd, c.role)
	return nil
}
