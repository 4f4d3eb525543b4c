package tlsx

import (
	"crypto/tls"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evslice/evlog"
)

// MaxPlainWrite caps the plaintext accepted by a single Write so one
// connection cannot queue unbounded ciphertext.
const MaxPlainWrite = 64 * 1024

type session struct {
	fd      int
	state   State
	pipe    *pipe
	conn    *tls.Conn
	started bool
	done    chan error
}

// stop unparks a handshake goroutine and waits for it to exit.
func (s *session) stop() {
	if !s.started || s.done == nil {
		return
	}
	s.pipe.closed = true
	s.pipe.resume <- struct{}{}
	<-s.done
	s.done = nil
}

// Table holds the sessions of one role, indexed by descriptor.
type Table struct {
	role     Role
	maxFD    int
	sessions map[int]*session
}

func NewTable(role Role, maxFD int) *Table {
	return &Table{
		role:     role,
		maxFD:    maxFD,
		sessions: make(map[int]*session),
	}
}

func (t *Table) Role() Role {
	return t.role
}

func (t *Table) Len() int {
	return len(t.sessions)
}

func (t *Table) checkFd(fd int) error {
	if fd < 0 || fd >= t.maxFD {
		return ErrDescriptorRange
	}
	return nil
}

func (t *Table) State(fd int) State {
	if s, ok := t.sessions[fd]; ok {
		return s.state
	}
	return Idle
}

// Step advances the handshake on fd. It returns nil once the session is
// Connected, ErrWouldBlock while it waits for the peer, and
// ErrInvalidState when called again after completion. A failed handshake
// frees the session so the slot is Idle again.
func (t *Table) Step(fd int, cfg *tls.Config) error {
	if err := t.checkFd(fd); err != nil {
		return err
	}
	s, ok := t.sessions[fd]
	if !ok {
		if cfg == nil {
			return ErrNoConfig
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			return err
		}
		s = &session{fd: fd, state: Connecting, pipe: newPipe(fd)}
		if t.role == RoleClient {
			s.conn = tls.Client(s.pipe, cfg)
		} else {
			s.conn = tls.Server(s.pipe, cfg)
		}
		t.sessions[fd] = s
	}
	if s.state == Connected {
		return ErrInvalidState
	}
	return t.advance(s)
}

func (t *Table) advance(s *session) error {
	if err := s.pipe.flush(); err != nil {
		if err == ErrWouldBlock {
			return err
		}
		t.drop(s)
		return err
	}
	if !s.started {
		s.started = true
		s.done = make(chan error, 1)
		go func(c *tls.Conn, done chan<- error) {
			done <- c.Handshake()
		}(s.conn, s.done)
	} else {
		s.pipe.resume <- struct{}{}
	}

	select {
	case <-s.pipe.yield:
		if err := s.pipe.flush(); err != nil && err != ErrWouldBlock {
			t.drop(s)
			return err
		}
		return ErrWouldBlock
	case err := <-s.done:
		s.done = nil
		s.pipe.handshaking = false
		if err != nil {
			// best effort: let the peer see our alert
			_ = s.pipe.flush()
			t.drop(s)
			return classify("handshake", err)
		}
		s.state = Connected
		evlog.Debugf("[tlsx.Step]: fd %d %s handshake done, %s", s.fd, t.role, tls.VersionName(s.conn.ConnectionState().Version))
		if err := s.pipe.flush(); err != nil && err != ErrWouldBlock {
			t.drop(s)
			return err
		}
		return nil
	}
}

func (t *Table) drop(s *session) {
	s.stop()
	delete(t.sessions, s.fd)
}

func (t *Table) connected(fd int) (*session, error) {
	if err := t.checkFd(fd); err != nil {
		return nil, err
	}
	s, ok := t.sessions[fd]
	if !ok {
		return nil, ErrNoSession
	}
	if s.state != Connected {
		return nil, ErrWouldBlock
	}
	return s, nil
}

// Read decrypts into p. Bytes the TLS layer already holds are returned
// without touching the descriptor.
func (t *Table) Read(fd int, p []byte) (int, error) {
	s, err := t.connected(fd)
	if err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	// post-handshake messages may have queued a reply
	if ferr := s.pipe.flush(); ferr != nil && ferr != ErrWouldBlock {
		evlog.Debugf("[tlsx.Read]: fd %d flush: %s", fd, ferr)
	}
	if n > 0 {
		return n, nil
	}
	return 0, classify("read", err)
}

// Write encrypts up to MaxPlainWrite bytes of p and tries to flush them.
// Accepted plaintext is counted in n even when part of its ciphertext is
// still pending; ErrWouldBlock with n == 0 means earlier ciphertext has
// not drained yet.
func (t *Table) Write(fd int, p []byte) (int, error) {
	s, err := t.connected(fd)
	if err != nil {
		return 0, err
	}
	if err := s.pipe.flush(); err != nil {
		return 0, err
	}
	if len(p) > MaxPlainWrite {
		p = p[:MaxPlainWrite]
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, classify("write", err)
	}
	if err := s.pipe.flush(); err != nil && err != ErrWouldBlock {
		return n, err
	}
	return n, nil
}

// Pending returns the number of ciphertext bytes not yet written to fd.
func (t *Table) Pending(fd int) int {
	if s, ok := t.sessions[fd]; ok {
		return s.pipe.out.Len()
	}
	return 0
}

func (t *Table) Flush(fd int) error {
	if err := t.checkFd(fd); err != nil {
		return err
	}
	s, ok := t.sessions[fd]
	if !ok {
		return ErrNoSession
	}
	return s.pipe.flush()
}

// Close sends close-notify on a connected session, stops a parked
// handshake and frees the slot. Closing an idle slot is a no-op.
func (t *Table) Close(fd int) error {
	if err := t.checkFd(fd); err != nil {
		return err
	}
	s, ok := t.sessions[fd]
	if !ok {
		return nil
	}
	delete(t.sessions, fd)
	if s.state == Connected {
		if err := s.conn.Close(); err != nil {
			evlog.Debugf("[tlsx.Close]: fd %d close notify: %s", fd, err)
		}
		_ = s.pipe.flush()
		return nil
	}
	s.stop()
	return nil
}

func (t *Table) Destroy() {
	for fd := range t.sessions {
		_ = t.Close(fd)
	}
}
