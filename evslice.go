package evslice

import "time"

type Mode uint8

const (
	ModeTCP4 Mode = iota
	ModeTCP6
	ModeUDP4
)

func (m Mode) String() string {
	switch m {
	case ModeTCP4:
		return "tcp4"
	case ModeTCP6:
		return "tcp6"
	case ModeUDP4:
		return "udp4"
	}
	return "unknown"
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tcp4", "tcp", "":
		return ModeTCP4, nil
	case "tcp6":
		return ModeTCP6, nil
	case "udp4", "udp":
		return ModeUDP4, nil
	}
	return 0, &Error{Kind: KindMisuse, Op: "parse mode", Msg: "unknown mode " + s, Err: ErrInvalidParam}
}

type Role uint8

const (
	// RoleClient is the connecting side of a connection.
	RoleClient Role = iota
	// RoleSession is a connection accepted by a server.
	RoleSession
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "session"
}

type HookKind uint8

const (
	HookInit HookKind = iota
	HookPreLoop
	HookProcess
	HookPostLoop
	HookFinish
	hookCount
)

func (k HookKind) String() string {
	switch k {
	case HookInit:
		return "init"
	case HookPreLoop:
		return "pre"
	case HookProcess:
		return "process"
	case HookPostLoop:
		return "post"
	case HookFinish:
		return "finish"
	}
	return "unknown"
}

const (
	DefaultMaxDescriptors     = 1024
	DefaultMaxEvents          = 128
	DefaultWaitTimeout        = time.Second
	DefaultBlockSize          = 32 * 1024
	DefaultMaxRetainedBuffers = 64
	DefaultReadSlack          = 4 * 1024
	DefaultTLSReadRetries     = 10
)

type Options struct {
	MaxDescriptors     int
	MaxEvents          int
	WaitTimeout        time.Duration
	BlockSize          int
	MaxRetainedBuffers int
	ReadSlack          int
	TLSReadRetries     int
}

func NewOptions() *Options {
	return &Options{
		MaxDescriptors:     DefaultMaxDescriptors,
		MaxEvents:          DefaultMaxEvents,
		WaitTimeout:        DefaultWaitTimeout,
		BlockSize:          DefaultBlockSize,
		MaxRetainedBuffers: DefaultMaxRetainedBuffers,
		ReadSlack:          DefaultReadSlack,
		TLSReadRetries:     DefaultTLSReadRetries,
	}
}

func (opts *Options) SetMaxDescriptors(n int) *Options {
	opts.MaxDescriptors = n
	return opts
}

func (opts *Options) SetMaxEvents(n int) *Options {
	opts.MaxEvents = n
	return opts
}

func (opts *Options) SetWaitTimeout(d time.Duration) *Options {
	opts.WaitTimeout = d
	return opts
}

func (opts *Options) SetBlockSize(n int) *Options {
	opts.BlockSize = n
	return opts
}

func (opts *Options) SetMaxRetainedBuffers(n int) *Options {
	opts.MaxRetainedBuffers = n
	return opts
}

func (opts *Options) SetReadSlack(n int) *Options {
	opts.ReadSlack = n
	return opts
}

// SetTLSReadRetries bounds the extra TLS reads done in one SocketRead call.
// Zero disables the retries.
func (opts *Options) SetTLSReadRetries(n int) *Options {
	opts.TLSReadRetries = n
	return opts
}

func (opts *Options) validate() error {
	switch {
	case opts.MaxDescriptors <= 0:
		return &Error{Kind: KindMisuse, Op: "options", Msg: "max descriptors must be positive", Err: ErrInvalidParam}
	case opts.MaxEvents <= 0:
		return &Error{Kind: KindMisuse, Op: "options", Msg: "max events must be positive", Err: ErrInvalidParam}
	case opts.BlockSize <= 0:
		return &Error{Kind: KindMisuse, Op: "options", Msg: "block size must be positive", Err: ErrInvalidParam}
	case opts.MaxRetainedBuffers < 0, opts.ReadSlack < 0, opts.TLSReadRetries < 0:
		return &Error{Kind: KindMisuse, Op: "options", Msg: "negative limit", Err: ErrInvalidParam}
	}
	return nil
}
