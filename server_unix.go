//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package evslice

import (
	"crypto/tls"
	"net"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/util"
)

// Server accepts connections on a Listener and turns each of them into a
// Session registered with the same reactor.
type Server struct {
	r        *Reactor
	h        *EventHandle
	ln       *Listener
	mode     Mode
	tlsCfg   *tls.Config
	handler  SessionHandler
	sessions map[*Session]struct{}
	closed   bool
}

// Listen starts a server on bindIP:port. A nil tlsCfg serves plain TCP.
func Listen(r *Reactor, mode Mode, bindIP string, port int, tlsCfg *tls.Config, handler SessionHandler) (*Server, error) {
	if r == nil {
		return nil, opError("listen", ErrInvalidParam)
	}
	if handler == nil {
		handler = BaseSessionHandler{}
	}
	ln, err := NewListener(mode, bindIP, port)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		r:        r,
		ln:       ln,
		mode:     mode,
		tlsCfg:   tlsCfg,
		handler:  handler,
		sessions: make(map[*Session]struct{}),
	}
	srv.h = NewEventHandle("listener")
	srv.h.SetFd(ln.Fd())
	srv.h.SetUserData(srv)
	srv.h.SetReadFunc(srv.onAccept)

	err = r.Register(srv.h, func(h *EventHandle) error {
		return r.SubscribeRead(h.Fd())
	}, func(h *EventHandle) error {
		return ln.Close()
	})
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	evlog.Infof("[Listen]: %s %s (tls %t)", mode, ln.Addr(), tlsCfg != nil)
	return srv, nil
}

func (srv *Server) Reactor() *Reactor {
	return srv.r
}

func (srv *Server) Addr() net.Addr {
	return srv.ln.Addr()
}

func (srv *Server) SessionCount() int {
	return len(srv.sessions)
}

// Close closes every session and the listening socket.
func (srv *Server) Close() error {
	if srv.closed {
		return nil
	}
	srv.closed = true
	for s := range srv.sessions {
		if err := s.Close(); err != nil {
			evlog.Debugf("[Server.Close]: session %s:%d: %s", s.PeerIP(), s.PeerPort(), err)
		}
	}
	return srv.r.Unregister(srv.h)
}

func (srv *Server) onAccept(h *EventHandle) error {
	for {
		nfd, err := srv.ln.accept()
		if err != nil {
			switch {
			case util.WouldBlock(err):
				return nil
			case util.TemporaryErr(err), err == unix.ECONNABORTED, err == unix.EPROTO:
				continue
			}
			evlog.Warningf("[Server.accept]: %s", err)
			return nil
		}
		srv.newSession(nfd)
	}
}

func (srv *Server) newSession(nfd int) {
	s := &Session{server: srv}
	s.h = NewEventHandle("session")
	s.h.SetFd(nfd)
	s.h.SetUserData(s)
	if err := srv.r.Register(s.h, s.add, s.remove); err != nil {
		if s.conn != nil {
			_ = s.conn.Destroy()
		} else {
			_ = unix.Close(nfd)
		}
		evlog.Warningf("[Server.newSession]: fd %d: %s", nfd, err)
		return
	}
	srv.sessions[s] = struct{}{}
	log := evlog.With("fd", nfd)
	log.Debugf("[Server.newSession]: from %s:%d", s.PeerIP(), s.PeerPort())

	if err := srv.handler.OnAccept(s); err != nil {
		log.Debugf("[Server.OnAccept]: %s", err)
		_ = s.Close()
		return
	}
	if s.closed {
		return
	}
	if srv.tlsCfg == nil {
		s.onReady(s.conn)
		return
	}
	// start the handshake; a failure has already gone through OnClose
	if err := s.onRead(s.h); err != nil {
		log.Debugf("[Server.newSession]: handshake: %s", err)
	}
}
