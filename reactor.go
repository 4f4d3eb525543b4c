package evslice

import (
	"errors"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/poller"
	"github.com/dreamans/evslice/tlsx"
)

// ReactorFunc is a reactor level lifecycle hook. A non-nil return aborts Run.
type ReactorFunc func(r *Reactor) error

type slot struct {
	h        *EventHandle
	mask     poller.Event
	armed    bool
	deferred poller.Event
}

// Reactor multiplexes readiness of registered descriptors on the goroutine
// that calls Run. Except for Quit, its methods must be called from that
// goroutine, or before Run starts.
type Reactor struct {
	opts  *Options
	poll  poller.Poller
	slots []slot
	live  []*EventHandle
	ready []poller.Ready

	deferred []int

	hooks    [hookCount]ReactorFunc
	pool     *BufferPool
	tls      *tlsx.Registry
	userData interface{}

	quit      atomic.Bool
	running   bool
	destroyed bool
}

func New(opts *Options) (*Reactor, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p, err := poller.New(opts.MaxEvents)
	if err != nil {
		return nil, newError(KindSystem, "create poller", err)
	}
	return newWithPoller(opts, p), nil
}

func newWithPoller(opts *Options, p poller.Poller) *Reactor {
	return &Reactor{
		opts:  opts,
		poll:  p,
		slots: make([]slot, opts.MaxDescriptors),
		ready: make([]poller.Ready, opts.MaxEvents),
		pool:  NewBufferPool(opts.BlockSize, opts.MaxRetainedBuffers),
		tls:   tlsx.NewRegistry(opts.MaxDescriptors),
	}
}

func (r *Reactor) Options() *Options {
	return r.opts
}

func (r *Reactor) Pool() *BufferPool {
	return r.pool
}

func (r *Reactor) TLS() *tlsx.Registry {
	return r.tls
}

func (r *Reactor) UserData() interface{} {
	return r.userData
}

func (r *Reactor) SetUserData(v interface{}) {
	r.userData = v
}

// Handles returns the number of registered handles.
func (r *Reactor) Handles() int {
	return len(r.live)
}

func (r *Reactor) SetHook(kind HookKind, fn ReactorFunc) error {
	if kind >= hookCount {
		return opError("set hook", ErrInvalidParam)
	}
	r.hooks[kind] = fn
	return nil
}

func (r *Reactor) checkFd(fd int) error {
	if fd < 0 || fd >= len(r.slots) {
		return &Error{Kind: KindMisuse, Op: "descriptor", Err: ErrDescriptorRange}
	}
	return nil
}

// Register attaches h to its descriptor and calls add, which usually
// subscribes read interest. If add fails the registration is undone and
// the remove hook is not called.
func (r *Reactor) Register(h *EventHandle, add, remove HandleFunc) error {
	if r.destroyed {
		return opError("register", ErrDestroyed)
	}
	if h == nil || add == nil || remove == nil {
		return opError("register", ErrInvalidParam)
	}
	if err := r.checkFd(h.fd); err != nil {
		return err
	}
	if len(r.live) >= len(r.slots) {
		return opError("register", ErrTableFull)
	}
	s := &r.slots[h.fd]
	if s.h != nil {
		return opError("register", ErrDescriptorInUse)
	}

	s.h = h
	h.reactor = r
	h.destroyed = false
	h.live = len(r.live)
	r.live = append(r.live, h)

	if err := add(h); err != nil {
		r.detach(h)
		if s.armed {
			_ = r.poll.Del(h.fd)
		}
		*s = slot{}
		h.reactor = nil
		return err
	}
	h.remove = remove
	return nil
}

// Unregister clears the OS subscription, calls the remove hook and detaches
// h. Calling it again is a no-op.
func (r *Reactor) Unregister(h *EventHandle) error {
	if h == nil {
		return opError("unregister", ErrInvalidParam)
	}
	if h.destroyed || h.reactor != r {
		return nil
	}
	h.destroyed = true

	if h.fd >= 0 && h.fd < len(r.slots) && r.slots[h.fd].h == h {
		s := &r.slots[h.fd]
		if s.armed {
			if err := r.poll.Del(h.fd); err != nil && err != syscall.EBADF && err != syscall.ENOENT {
				evlog.Debugf("[Reactor.Unregister]: fd %d poller del: %s", h.fd, err)
			}
		}
		*s = slot{}
	}

	var err error
	if h.remove != nil {
		err = h.remove(h)
	}
	r.detach(h)
	h.reactor = nil
	return err
}

func (r *Reactor) detach(h *EventHandle) {
	i := h.live
	if i < 0 || i >= len(r.live) || r.live[i] != h {
		return
	}
	last := len(r.live) - 1
	r.live[i] = r.live[last]
	r.live[i].live = i
	r.live[last] = nil
	r.live = r.live[:last]
	h.live = -1
}

func (r *Reactor) slotOf(fd int) (*slot, error) {
	if err := r.checkFd(fd); err != nil {
		return nil, err
	}
	s := &r.slots[fd]
	if s.h == nil {
		return nil, &Error{Kind: KindMisuse, Op: "subscribe", Msg: "descriptor not registered", Err: ErrInvalidParam}
	}
	return s, nil
}

func (r *Reactor) setInterest(fd int, ev poller.Event, on bool) error {
	s, err := r.slotOf(fd)
	if err != nil {
		return err
	}
	mask := s.mask &^ ev
	if on {
		mask = s.mask | ev
	}
	if mask == s.mask {
		return nil
	}
	s.mask = mask
	return r.sync(fd, s)
}

func (r *Reactor) sync(fd int, s *slot) error {
	var err error
	if s.armed {
		err = r.poll.Mod(fd, s.mask)
	} else {
		err = r.poll.Add(fd, s.mask)
		if err == nil {
			s.armed = true
		}
	}
	if err != nil {
		return newError(KindSystem, "poller update", err)
	}
	return nil
}

func (r *Reactor) SubscribeRead(fd int) error {
	return r.setInterest(fd, poller.EventRead, true)
}

func (r *Reactor) SubscribeWrite(fd int) error {
	return r.setInterest(fd, poller.EventWrite, true)
}

func (r *Reactor) UnsubscribeRead(fd int) error {
	return r.setInterest(fd, poller.EventRead, false)
}

func (r *Reactor) UnsubscribeWrite(fd int) error {
	return r.setInterest(fd, poller.EventWrite, false)
}

// Defer queues a synthetic readiness notification for fd, delivered after
// the next wait. While a deferral is pending the wait does not block.
func (r *Reactor) Defer(fd int, events poller.Event) error {
	s, err := r.slotOf(fd)
	if err != nil {
		return err
	}
	if s.deferred == 0 {
		r.deferred = append(r.deferred, fd)
	}
	s.deferred |= events
	return nil
}

// Quit asks Run to return at the next loop boundary. Safe to call from any
// goroutine.
func (r *Reactor) Quit() {
	r.quit.Store(true)
	if r.poll != nil {
		_ = r.poll.Wake()
	}
}

func (r *Reactor) Run() error {
	if r.destroyed {
		return opError("run", ErrDestroyed)
	}
	if r.running {
		return &Error{Kind: KindMisuse, Op: "run", Msg: "reactor already running", Err: ErrInvalidParam}
	}
	r.running = true
	defer func() {
		r.running = false
		r.quit.Store(false)
	}()

	if err := r.runHook(HookInit); err != nil {
		return err
	}
	for !r.quit.Load() {
		if err := r.runHook(HookPreLoop); err != nil {
			return err
		}
		if err := r.runHook(HookProcess); err != nil {
			return err
		}
		if err := r.wait(); err != nil {
			return err
		}
		r.runDeferred()
		if err := r.runHook(HookPostLoop); err != nil {
			return err
		}
	}
	return r.runHook(HookFinish)
}

func (r *Reactor) runHook(kind HookKind) error {
	if fn := r.hooks[kind]; fn != nil {
		if err := fn(r); err != nil {
			return &Error{Kind: KindSystem, Op: kind.String() + " hook", Err: err}
		}
	}
	var snapshot []*EventHandle
	for _, h := range r.live {
		if h.hooks[kind] != nil {
			snapshot = append(snapshot, h)
		}
	}
	for _, h := range snapshot {
		if h.destroyed {
			continue
		}
		if err := h.hooks[kind](h); err != nil {
			evlog.Debugf("[Reactor.runHook]: %s hook of %s (fd %d): %s", kind, h.name, h.fd, err)
			_ = r.Unregister(h)
		}
	}
	return nil
}

func (r *Reactor) timeout() int {
	if len(r.deferred) > 0 {
		return 0
	}
	if r.opts.WaitTimeout < 0 {
		return -1
	}
	return int(r.opts.WaitTimeout / time.Millisecond)
}

func (r *Reactor) wait() error {
	var n int
	var err error
	for {
		n, err = r.poll.Wait(r.ready, r.timeout())
		if err == nil {
			break
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return newError(KindSystem, "wait", err)
	}
	for i := 0; i < n; i++ {
		r.dispatch(r.ready[i].Fd, r.ready[i].Events)
	}
	return nil
}

func (r *Reactor) runDeferred() {
	if len(r.deferred) == 0 {
		return
	}
	fds := r.deferred
	r.deferred = nil
	for _, fd := range fds {
		s := &r.slots[fd]
		ev := s.deferred
		s.deferred = 0
		if s.h != nil && ev != 0 {
			r.dispatch(fd, ev)
		}
	}
}

func (r *Reactor) dispatch(fd int, ev poller.Event) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	s := &r.slots[fd]
	h := s.h
	if h == nil || h.destroyed {
		return
	}

	if ev&poller.EventRead != 0 && h.readFn != nil {
		if err := h.readFn(h); err != nil {
			evlog.Debugf("[Reactor.dispatch]: read %s (fd %d): %s", h.name, fd, err)
			return
		}
	}
	if ev&poller.EventWrite != 0 && s.h == h && !h.destroyed {
		_ = r.UnsubscribeWrite(fd)
		if h.writeFn != nil {
			if err := h.writeFn(h); err != nil {
				evlog.Debugf("[Reactor.dispatch]: write %s (fd %d): %s", h.name, fd, err)
				return
			}
		}
	}
	if ev&poller.EventErr != 0 && s.h == h && !h.destroyed && h.closeFn != nil {
		if err := h.closeFn(h); err != nil {
			evlog.Debugf("[Reactor.dispatch]: close %s (fd %d): %s", h.name, fd, err)
		}
	}

	// re-arm so a condition that still holds is reported again
	if s.h == h && !h.destroyed && s.armed && s.mask != 0 {
		if err := r.poll.Mod(fd, s.mask); err != nil {
			evlog.Debugf("[Reactor.dispatch]: re-arm fd %d: %s", fd, err)
		}
	}
}

// Destroy unregisters every handle, ends all TLS sessions, closes the
// backend and drains the pool. Calling it again is a no-op.
func (r *Reactor) Destroy() error {
	if r.destroyed {
		return nil
	}
	for len(r.live) > 0 {
		h := r.live[len(r.live)-1]
		if err := r.Unregister(h); err != nil {
			evlog.Debugf("[Reactor.Destroy]: unregister %s (fd %d): %s", h.name, h.fd, err)
		}
	}
	r.destroyed = true
	r.tls.Destroy()
	r.pool.Drain()
	r.deferred = nil
	if err := r.poll.Close(); err != nil && err != poller.ErrClosed {
		return newError(KindSystem, "close poller", err)
	}
	return nil
}
