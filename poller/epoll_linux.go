//go:build linux

package poller

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const (
	readEvent  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvent = unix.EPOLLOUT
)

type Epoll struct {
	fd      int
	eventFd int
	events  []unix.EpollEvent
	closed  atomic.Bool
}

func New(maxEvents int) (Poller, error) {
	return EpollCreate(maxEvents)
}

func EpollCreate(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	ep := &Epoll{
		fd:      fd,
		eventFd: efd,
		events:  make([]unix.EpollEvent, maxEvents),
	}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(efd)
		return nil, err
	}
	return ep, nil
}

func (ep *Epoll) Add(fd int, events Event) error {
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)})
}

func (ep *Epoll) Mod(fd int, events Event) error {
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)})
}

func (ep *Epoll) Del(fd int) error {
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (ep *Epoll) Wait(ready []Ready, msec int) (int, error) {
	if ep.closed.Load() {
		return 0, ErrClosed
	}
	max := len(ready)
	if max > len(ep.events) {
		max = len(ep.events)
	}
	if max == 0 {
		return 0, nil
	}
	n, err := unix.EpollWait(ep.fd, ep.events[:max], msec)
	if err != nil {
		return 0, err
	}
	j := 0
	for i := 0; i < n; i++ {
		ev := ep.events[i]
		fd := int(ev.Fd)
		if fd == ep.eventFd {
			ep.drainWake()
			continue
		}
		var event Event
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
			event |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			event |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			event |= EventErr
		}
		ready[j] = Ready{Fd: fd, Events: event}
		j++
	}
	return j, nil
}

func (ep *Epoll) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(ep.eventFd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (ep *Epoll) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(ep.eventFd, buf[:]); err != nil {
			return
		}
	}
}

func (ep *Epoll) Close() error {
	if !ep.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	_ = unix.Close(ep.eventFd)
	return unix.Close(ep.fd)
}

func toEpoll(events Event) uint32 {
	var flags uint32
	if events&EventRead != 0 {
		flags |= readEvent
	}
	if events&EventWrite != 0 {
		flags |= writeEvent
	}
	if flags != 0 {
		flags |= unix.EPOLLET
	}
	return flags
}
