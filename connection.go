package evslice

import (
	"net"

	"github.com/eapache/queue"
)

// Connection is the per-descriptor state machine: a transport, a read
// buffer and a FIFO of pool buffers waiting to be written.
type Connection struct {
	h    *EventHandle
	r    *Reactor
	fd   int
	mode Mode
	role Role
	tr   transport

	readBuf    *Buffer
	writeQueue *queue.Queue

	peer *net.TCPAddr

	// hard read error held back until the bytes read before it are
	// delivered
	readErr error

	closeFn    func(c *Connection, err error)
	readyFn    func(c *Connection)
	closeFired bool
	destroyed  bool
}

func (c *Connection) Fd() int {
	return c.fd
}

func (c *Connection) Mode() Mode {
	return c.mode
}

func (c *Connection) Role() Role {
	return c.role
}

func (c *Connection) Handle() *EventHandle {
	return c.h
}

func (c *Connection) PeerAddr() net.Addr {
	if c.peer == nil {
		return nil
	}
	return c.peer
}

func (c *Connection) PeerIP() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.IP.String()
}

func (c *Connection) PeerPort() int {
	if c.peer == nil {
		return 0
	}
	return c.peer.Port
}

// SetCloseFunc installs the callback fired when the peer closes or the
// connection fails. It fires at most once and never for a local Destroy.
func (c *Connection) SetCloseFunc(fn func(c *Connection, err error)) {
	c.closeFn = fn
}

// SetReadyFunc installs the callback fired once a TLS handshake completes.
func (c *Connection) SetReadyFunc(fn func(c *Connection)) {
	c.readyFn = fn
}

// Fail fires the close callback with err unless it already fired.
func (c *Connection) Fail(err error) {
	if c.closeFired {
		return
	}
	c.closeFired = true
	if c.closeFn != nil {
		c.closeFn(c, err)
	}
}

func (c *Connection) Ready() bool {
	return !c.destroyed && c.tr.ready()
}

// Pending returns the number of buffers queued for writing.
func (c *Connection) Pending() int {
	return c.writeQueue.Length()
}

// PeekReadBuffer returns the unconsumed part of the read buffer. The slice
// is only valid until the next read or fetch.
func (c *Connection) PeekReadBuffer() []byte {
	if c.readBuf == nil {
		return nil
	}
	return c.readBuf.Unflushed()
}

// FetchInto moves up to len(out) unconsumed bytes into out and compacts
// the read buffer.
func (c *Connection) FetchInto(out []byte) int {
	b := c.readBuf
	if b == nil {
		return 0
	}
	n := copy(out, b.Unflushed())
	b.cursor += n
	b.compact()
	if b.length < len(b.data) {
		b.data[b.length] = 0
	}
	return n
}

// ClearReadBuffer drops everything read so far and hands the buffer back
// to the pool.
func (c *Connection) ClearReadBuffer() {
	if c.readBuf == nil {
		return
	}
	_ = c.r.pool.Release(c.readBuf)
	c.readBuf = nil
}

func (c *Connection) EnqueueWrite(b *Buffer) error {
	if c.destroyed {
		return opError("enqueue", ErrDestroyed)
	}
	if b == nil {
		return opError("enqueue", ErrInvalidParam)
	}
	if b.Linked() {
		return opError("enqueue", ErrBufferLinked)
	}
	b.list = listQueue
	c.writeQueue.Add(b)
	return c.r.SubscribeWrite(c.fd)
}

// Write copies p into a pool buffer and queues it.
func (c *Connection) Write(p []byte) error {
	if c.destroyed {
		return opError("write", ErrDestroyed)
	}
	if len(p) == 0 {
		return nil
	}
	b := c.r.pool.Acquire(len(p))
	b.Write(p)
	if err := c.EnqueueWrite(b); err != nil {
		if !b.Linked() {
			_ = c.r.pool.Release(b)
		}
		return err
	}
	return nil
}

// popWrite unlinks the head of the write queue and returns it to the pool.
func (c *Connection) popWrite() {
	b := c.writeQueue.Remove().(*Buffer)
	b.list = listNone
	_ = c.r.pool.Release(b)
}
