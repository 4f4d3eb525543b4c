package evslice

import "errors"

type Kind uint8

const (
	// KindInfo is transient: retry after the next readiness notification.
	KindInfo Kind = iota
	// KindConnection is fatal to the connection it was raised on.
	KindConnection
	// KindMisuse reports an invalid call.
	KindMisuse
	// KindSystem reports a failure of the readiness backend or the OS.
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindConnection:
		return "connection"
	case KindMisuse:
		return "misuse"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

var (
	ErrWouldBlock      = &Error{Kind: KindInfo, Msg: "operation would block"}
	ErrPeerClosed      = &Error{Kind: KindConnection, Msg: "peer closed the connection"}
	ErrHangup          = &Error{Kind: KindConnection, Msg: "descriptor hung up"}
	ErrInvalidParam    = &Error{Kind: KindMisuse, Msg: "invalid parameter"}
	ErrDescriptorRange = &Error{Kind: KindMisuse, Msg: "descriptor out of range"}
	ErrTableFull       = &Error{Kind: KindMisuse, Msg: "descriptor table full"}
	ErrDescriptorInUse = &Error{Kind: KindMisuse, Msg: "descriptor already registered"}
	ErrBufferLinked    = &Error{Kind: KindMisuse, Msg: "buffer is linked in a list"}
	ErrNotImplemented  = &Error{Kind: KindMisuse, Msg: "not implemented"}
	ErrHandshakeState  = &Error{Kind: KindMisuse, Msg: "handshake already completed"}
	ErrDestroyed       = &Error{Kind: KindMisuse, Msg: "already destroyed"}
)

// Error is the error type returned by the reactor, the pool and connections.
// Contextual errors wrap one of the sentinels, so errors.Is matches them.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return "evslice: " + e.text()
}

func (e *Error) text() string {
	msg := e.Msg
	if e.Err != nil {
		inner := e.Err.Error()
		if ie, ok := e.Err.(*Error); ok {
			inner = ie.text()
		}
		if msg == "" {
			msg = inner
		} else {
			msg = msg + ": " + inner
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func opError(op string, sentinel *Error) *Error {
	return &Error{Kind: sentinel.Kind, Op: op, Err: sentinel}
}

// KindOf reports the kind of the first *Error in err's chain. Errors that
// carry none are treated as connection errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindConnection
}

func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
