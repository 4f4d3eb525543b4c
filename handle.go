package evslice

// HandleFunc is a readiness or lifecycle callback of an EventHandle. A
// non-nil return stops the reactor from processing the descriptor any
// further in the current iteration.
type HandleFunc func(h *EventHandle) error

// EventHandle binds a descriptor to its callbacks inside a Reactor.
type EventHandle struct {
	fd       int
	name     string
	reactor  *Reactor
	userData interface{}

	destroyed bool
	live      int

	hooks   [hookCount]HandleFunc
	readFn  HandleFunc
	writeFn HandleFunc
	closeFn HandleFunc
	remove  HandleFunc
}

func NewEventHandle(name string) *EventHandle {
	return &EventHandle{fd: -1, name: name, live: -1}
}

func (h *EventHandle) SetFd(fd int) {
	h.fd = fd
}

func (h *EventHandle) Fd() int {
	return h.fd
}

func (h *EventHandle) Name() string {
	return h.name
}

func (h *EventHandle) SetName(name string) {
	h.name = name
}

// Reactor returns the owning reactor, nil when not registered.
func (h *EventHandle) Reactor() *Reactor {
	return h.reactor
}

func (h *EventHandle) UserData() interface{} {
	return h.userData
}

func (h *EventHandle) SetUserData(v interface{}) {
	h.userData = v
}

func (h *EventHandle) Destroyed() bool {
	return h.destroyed
}

func (h *EventHandle) SetReadFunc(fn HandleFunc) {
	h.readFn = fn
}

func (h *EventHandle) SetWriteFunc(fn HandleFunc) {
	h.writeFn = fn
}

func (h *EventHandle) SetCloseFunc(fn HandleFunc) {
	h.closeFn = fn
}

// SetHook installs a per-handle lifecycle hook. It runs after the reactor
// hook of the same kind; a failure unregisters this handle only.
func (h *EventHandle) SetHook(kind HookKind, fn HandleFunc) error {
	if kind >= hookCount {
		return opError("set hook", ErrInvalidParam)
	}
	h.hooks[kind] = fn
	return nil
}
