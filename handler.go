package evslice

// SessionHandler receives the events of server sessions. Returning an
// error from OnAccept, OnReady or OnRead closes the session without
// calling OnClose.
type SessionHandler interface {
	OnAccept(s *Session) error
	// OnReady is called right after OnAccept for plain sessions, and once
	// the handshake completes for TLS ones.
	OnReady(s *Session) error
	// OnRead is called after n new bytes landed in the read buffer.
	OnRead(s *Session, n int) error
	// OnClose is called once when the peer closes or the session fails.
	OnClose(s *Session, err error)
}

type BaseSessionHandler struct{}

func (BaseSessionHandler) OnAccept(s *Session) error      { return nil }
func (BaseSessionHandler) OnReady(s *Session) error       { return nil }
func (BaseSessionHandler) OnRead(s *Session, n int) error { return nil }
func (BaseSessionHandler) OnClose(s *Session, err error)  {}

// ClientHandler receives the events of a Client. Errors returned from
// OnConnect or OnRead close the client without calling OnClose.
type ClientHandler interface {
	OnConnect(c *Client) error
	OnRead(c *Client, n int) error
	// OnClose is called once on connect failure, peer close or error.
	OnClose(c *Client, err error)
}

type BaseClientHandler struct{}

func (BaseClientHandler) OnConnect(c *Client) error     { return nil }
func (BaseClientHandler) OnRead(c *Client, n int) error { return nil }
func (BaseClientHandler) OnClose(c *Client, err error)  {}
