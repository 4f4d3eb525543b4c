package poller

import "errors"

type Event uint32

const (
	EventRead  Event = 0x1
	EventWrite Event = 0x2
	EventErr   Event = 0x4
)

func (e Event) String() string {
	s := ""
	if e&EventRead != 0 {
		s += "r"
	}
	if e&EventWrite != 0 {
		s += "w"
	}
	if e&EventErr != 0 {
		s += "e"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Ready is one readiness notification returned by Wait.
type Ready struct {
	Fd     int
	Events Event
}

var (
	ErrClosed = errors.New("poller is not running")
)

// Poller is an edge-triggered readiness backend. Add and Mod take the
// read/write interest of a descriptor; a non-empty mask is always armed
// edge-triggered, and re-issuing Mod with an unchanged mask re-arms it.
// Error and hangup conditions are reported regardless of the mask.
type Poller interface {
	Add(fd int, events Event) error
	Mod(fd int, events Event) error
	Del(fd int) error

	// Wait fills ready with at most len(ready) notifications, blocking up
	// to msec milliseconds (negative blocks indefinitely). Wake-ups from
	// Wake are consumed internally and never show up in ready.
	Wait(ready []Ready, msec int) (int, error)

	// Wake interrupts a blocked Wait. Safe to call from any goroutine.
	Wake() error
	Close() error
}
