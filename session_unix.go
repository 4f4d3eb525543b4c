//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/util"
)

// Session is one connection accepted by a Server.
type Session struct {
	server   *Server
	h        *EventHandle
	conn     *Connection
	userData interface{}
	closed   bool
}

func (s *Session) Server() *Server {
	return s.server
}

func (s *Session) Connection() *Connection {
	return s.conn
}

func (s *Session) UserData() interface{} {
	return s.userData
}

func (s *Session) SetUserData(v interface{}) {
	s.userData = v
}

func (s *Session) PeerIP() string {
	return s.conn.PeerIP()
}

func (s *Session) PeerPort() int {
	return s.conn.PeerPort()
}

func (s *Session) Write(p []byte) error {
	if s.closed {
		return opError("session write", ErrDestroyed)
	}
	return s.conn.Write(p)
}

func (s *Session) WriteBuffer(b *Buffer) error {
	if s.closed {
		return opError("session write", ErrDestroyed)
	}
	return s.conn.EnqueueWrite(b)
}

func (s *Session) Fetch(out []byte) int {
	return s.conn.FetchInto(out)
}

func (s *Session) Peek() []byte {
	return s.conn.PeekReadBuffer()
}

func (s *Session) ClearReadBuffer() {
	s.conn.ClearReadBuffer()
}

// Close unregisters the session, which destroys its connection. Calling it
// again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.server.r.Unregister(s.h)
}

func (s *Session) add(h *EventHandle) error {
	srv := s.server
	conn, err := NewConnection(h, h.Fd(), srv.mode, RoleSession)
	if err != nil {
		return err
	}
	s.conn = conn
	if srv.tlsCfg != nil {
		if err := conn.AttachTLS(srv.tlsCfg); err != nil {
			return err
		}
		conn.SetReadyFunc(s.onReady)
	}
	conn.SetCloseFunc(s.onClose)
	h.SetReadFunc(s.onRead)
	h.SetWriteFunc(s.onWrite)
	h.SetCloseFunc(s.onHangup)
	return srv.r.SubscribeRead(h.Fd())
}

func (s *Session) remove(h *EventHandle) error {
	delete(s.server.sessions, s)
	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Destroy()
}

func (s *Session) onReady(c *Connection) {
	if s.closed {
		return
	}
	if err := s.server.handler.OnReady(s); err != nil {
		evlog.Debugf("[Session.OnReady]: %s:%d: %s", s.PeerIP(), s.PeerPort(), err)
		_ = s.Close()
	}
}

func (s *Session) onClose(c *Connection, err error) {
	s.server.handler.OnClose(s, err)
	_ = s.Close()
}

func (s *Session) onRead(h *EventHandle) error {
	n, err := s.conn.SocketRead()
	if n > 0 && !s.closed {
		if herr := s.server.handler.OnRead(s, n); herr != nil {
			_ = s.Close()
			return herr
		}
	}
	if err != nil && !IsWouldBlock(err) {
		return err
	}
	return nil
}

func (s *Session) onWrite(h *EventHandle) error {
	if err := s.conn.SocketWrite(); err != nil && !IsWouldBlock(err) {
		return err
	}
	return nil
}

func (s *Session) onHangup(h *EventHandle) error {
	err := util.SocketError(h.Fd())
	if err == nil {
		s.conn.Fail(opError("hangup", ErrHangup))
		return nil
	}
	s.conn.Fail(&Error{Kind: KindConnection, Op: "hangup", Msg: err.Error(), Err: ErrHangup})
	return nil
}
