//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package poller

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type KQueue struct {
	fd      int
	wakeR   int
	wakeW   int
	events  []unix.Kevent_t
	changes []unix.Kevent_t
	armed   map[int]Event
	closed  atomic.Bool
}

func New(maxEvents int) (Poller, error) {
	return KQueueCreate(maxEvents)
}

func KQueueCreate(maxEvents int) (*KQueue, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	for _, pfd := range p {
		unix.CloseOnExec(pfd)
		_ = unix.SetNonblock(pfd, true)
	}
	kq := &KQueue{
		fd:     fd,
		wakeR:  p[0],
		wakeW:  p[1],
		events: make([]unix.Kevent_t, maxEvents),
		armed:  make(map[int]Event),
	}
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], kq.wakeR, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(fd, ev[:], nil, nil); err != nil {
		kq.closeAll()
		return nil, err
	}
	return kq, nil
}

func (kq *KQueue) Add(fd int, events Event) error {
	kq.armed[fd] = 0
	return kq.apply(fd, events)
}

func (kq *KQueue) Mod(fd int, events Event) error {
	if _, ok := kq.armed[fd]; !ok {
		return unix.ENOENT
	}
	return kq.apply(fd, events)
}

func (kq *KQueue) Del(fd int) error {
	old, ok := kq.armed[fd]
	if !ok {
		return unix.ENOENT
	}
	delete(kq.armed, fd)
	kq.changes = kq.changes[:0]
	if old&EventRead != 0 {
		kq.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	}
	if old&EventWrite != 0 {
		kq.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	return kq.flush()
}

// apply re-adds every wanted filter, which also re-arms EV_CLEAR filters
// whose condition still holds, and deletes the ones no longer wanted.
func (kq *KQueue) apply(fd int, events Event) error {
	old := kq.armed[fd]
	kq.changes = kq.changes[:0]
	if events&EventRead != 0 {
		kq.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	} else if old&EventRead != 0 {
		kq.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	}
	if events&EventWrite != 0 {
		kq.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR)
	} else if old&EventWrite != 0 {
		kq.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	kq.armed[fd] = events & (EventRead | EventWrite)
	return kq.flush()
}

func (kq *KQueue) change(fd, filter, flags int) {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	kq.changes = append(kq.changes, ev)
}

func (kq *KQueue) flush() error {
	if len(kq.changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(kq.fd, kq.changes, nil, nil)
	return err
}

func (kq *KQueue) Wait(ready []Ready, msec int) (int, error) {
	if kq.closed.Load() {
		return 0, ErrClosed
	}
	max := len(ready)
	if max > len(kq.events) {
		max = len(kq.events)
	}
	if max == 0 {
		return 0, nil
	}
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(kq.fd, nil, kq.events[:max], ts)
	if err != nil {
		return 0, err
	}
	j := 0
	for i := 0; i < n; i++ {
		ev := kq.events[i]
		fd := int(ev.Ident)
		if fd == kq.wakeR {
			kq.drainWake()
			continue
		}
		var event Event
		switch ev.Filter {
		case unix.EVFILT_READ:
			event |= EventRead
		case unix.EVFILT_WRITE:
			event |= EventWrite
		}
		if ev.Flags&unix.EV_ERROR != 0 || ev.Flags&unix.EV_EOF != 0 {
			event |= EventErr
		}
		// the two filters of one descriptor arrive as separate kevents
		if j > 0 && ready[j-1].Fd == fd {
			ready[j-1].Events |= event
			continue
		}
		ready[j] = Ready{Fd: fd, Events: event}
		j++
	}
	return j, nil
}

func (kq *KQueue) Wake() error {
	_, err := unix.Write(kq.wakeW, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (kq *KQueue) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(kq.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (kq *KQueue) Close() error {
	if !kq.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return kq.closeAll()
}

func (kq *KQueue) closeAll() error {
	_ = unix.Close(kq.wakeR)
	_ = unix.Close(kq.wakeW)
	return unix.Close(kq.fd)
}
