package evslice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamans/evslice/poller"
)

type fakePoller struct {
	adds, mods, dels int
	masks            map[int]poller.Event
	script           [][]poller.Ready
	timeouts         []int
	wakes            int
}

func newFakePoller() *fakePoller {
	return &fakePoller{masks: make(map[int]poller.Event)}
}

func (p *fakePoller) Add(fd int, ev poller.Event) error {
	p.adds++
	p.masks[fd] = ev
	return nil
}

func (p *fakePoller) Mod(fd int, ev poller.Event) error {
	p.mods++
	p.masks[fd] = ev
	return nil
}

func (p *fakePoller) Del(fd int) error {
	p.dels++
	delete(p.masks, fd)
	return nil
}

func (p *fakePoller) Wait(ready []poller.Ready, msec int) (int, error) {
	p.timeouts = append(p.timeouts, msec)
	if len(p.script) == 0 {
		return 0, nil
	}
	n := copy(ready, p.script[0])
	p.script = p.script[1:]
	return n, nil
}

func (p *fakePoller) Wake() error {
	p.wakes++
	return nil
}

func (p *fakePoller) Close() error {
	return nil
}

func newFakeReactor(maxFd int) (*Reactor, *fakePoller) {
	fp := newFakePoller()
	return newWithPoller(NewOptions().SetMaxDescriptors(maxFd), fp), fp
}

func nop(h *EventHandle) error { return nil }

func subscribeRead(h *EventHandle) error {
	return h.Reactor().SubscribeRead(h.Fd())
}

func handleOn(fd int) *EventHandle {
	h := NewEventHandle("test")
	h.SetFd(fd)
	return h
}

func TestSubscribeOnlyOnChange(t *testing.T) {
	r, fp := newFakeReactor(16)
	require.NoError(t, r.Register(handleOn(3), subscribeRead, nop))
	require.Equal(t, 1, fp.adds)

	require.NoError(t, r.SubscribeRead(3))
	require.Equal(t, 1, fp.adds)
	require.Equal(t, 0, fp.mods)

	require.NoError(t, r.SubscribeWrite(3))
	require.NoError(t, r.SubscribeWrite(3))
	require.Equal(t, 1, fp.mods)
	require.Equal(t, poller.EventRead|poller.EventWrite, fp.masks[3])

	require.NoError(t, r.UnsubscribeWrite(3))
	require.NoError(t, r.UnsubscribeWrite(3))
	require.Equal(t, 2, fp.mods)
	require.Equal(t, poller.EventRead, fp.masks[3])

	require.ErrorIs(t, r.SubscribeRead(4), ErrInvalidParam)
	require.ErrorIs(t, r.SubscribeRead(16), ErrDescriptorRange)
}

func TestRegisterMisuse(t *testing.T) {
	r, _ := newFakeReactor(2)

	require.ErrorIs(t, r.Register(handleOn(0), nil, nop), ErrInvalidParam)
	require.ErrorIs(t, r.Register(handleOn(0), nop, nil), ErrInvalidParam)
	require.ErrorIs(t, r.Register(handleOn(2), nop, nop), ErrDescriptorRange)
	require.ErrorIs(t, r.Register(handleOn(-1), nop, nop), ErrDescriptorRange)

	require.NoError(t, r.Register(handleOn(0), nop, nop))
	err := r.Register(handleOn(0), nop, nop)
	require.ErrorIs(t, err, ErrDescriptorInUse)
	require.Equal(t, KindMisuse, KindOf(err))

	require.NoError(t, r.Register(handleOn(1), nop, nop))
	require.ErrorIs(t, r.Register(handleOn(1), nop, nop), ErrTableFull)
	require.Equal(t, 2, r.Handles())
}

func TestRegisterRollback(t *testing.T) {
	r, fp := newFakeReactor(8)
	boom := errors.New("boom")
	removed := 0
	h := handleOn(5)
	err := r.Register(h, func(h *EventHandle) error {
		require.NoError(t, h.Reactor().SubscribeRead(h.Fd()))
		return boom
	}, func(h *EventHandle) error {
		removed++
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, r.Handles())
	require.Equal(t, 1, fp.dels)
	require.Equal(t, 0, removed)
	require.Nil(t, h.Reactor())

	require.NoError(t, r.Register(handleOn(5), subscribeRead, nop))
}

func TestUnregisterIdempotent(t *testing.T) {
	r, fp := newFakeReactor(8)
	removed := 0
	h := handleOn(4)
	require.NoError(t, r.Register(h, subscribeRead, func(h *EventHandle) error {
		removed++
		return nil
	}))

	require.NoError(t, r.Unregister(h))
	require.NoError(t, r.Unregister(h))
	require.True(t, h.Destroyed())
	require.Equal(t, 1, removed)
	require.Equal(t, 1, fp.dels)
	require.Equal(t, 0, r.Handles())
}

func TestRunHookOrder(t *testing.T) {
	r, fp := newFakeReactor(8)
	var calls []string
	iterations := 0
	record := func(name string) ReactorFunc {
		return func(r *Reactor) error {
			calls = append(calls, name)
			return nil
		}
	}
	require.NoError(t, r.SetHook(HookInit, record("init")))
	require.NoError(t, r.SetHook(HookPreLoop, record("pre")))
	require.NoError(t, r.SetHook(HookProcess, record("process")))
	require.NoError(t, r.SetHook(HookFinish, record("finish")))
	require.NoError(t, r.SetHook(HookPostLoop, func(r *Reactor) error {
		calls = append(calls, "post")
		if iterations++; iterations == 2 {
			r.Quit()
		}
		return nil
	}))
	require.ErrorIs(t, r.SetHook(HookKind(9), nil), ErrInvalidParam)

	h := handleOn(1)
	require.NoError(t, h.SetHook(HookPreLoop, func(h *EventHandle) error {
		calls = append(calls, "handle-pre")
		return nil
	}))
	require.NoError(t, r.Register(h, subscribeRead, nop))

	require.NoError(t, r.Run())
	require.Equal(t, []string{
		"init",
		"pre", "handle-pre", "process", "post",
		"pre", "handle-pre", "process", "post",
		"finish",
	}, calls)
	require.Equal(t, 1, fp.wakes)
	require.Len(t, fp.timeouts, 2)
	require.Equal(t, 1000, fp.timeouts[0])
}

func TestHookFailureAbortsRun(t *testing.T) {
	r, _ := newFakeReactor(8)
	boom := errors.New("boom")
	finished := false
	require.NoError(t, r.SetHook(HookProcess, func(r *Reactor) error { return boom }))
	require.NoError(t, r.SetHook(HookFinish, func(r *Reactor) error {
		finished = true
		return nil
	}))

	err := r.Run()
	require.ErrorIs(t, err, boom)
	require.False(t, finished)
}

func TestHandleHookFailureUnregistersHandle(t *testing.T) {
	r, _ := newFakeReactor(8)
	removed := false
	h := handleOn(2)
	require.NoError(t, h.SetHook(HookPreLoop, func(h *EventHandle) error {
		return errors.New("handle hook")
	}))
	require.NoError(t, r.Register(h, subscribeRead, func(h *EventHandle) error {
		removed = true
		return nil
	}))
	require.NoError(t, r.SetHook(HookPostLoop, func(r *Reactor) error {
		r.Quit()
		return nil
	}))

	require.NoError(t, r.Run())
	require.True(t, removed)
	require.Equal(t, 0, r.Handles())
}

func TestDispatchClearsWriteInterest(t *testing.T) {
	r, fp := newFakeReactor(8)
	h := handleOn(3)
	wrote := false
	h.SetWriteFunc(func(h *EventHandle) error {
		wrote = true
		require.Equal(t, poller.EventRead, fp.masks[3])
		return nil
	})
	require.NoError(t, r.Register(h, func(h *EventHandle) error {
		if err := h.Reactor().SubscribeRead(3); err != nil {
			return err
		}
		return h.Reactor().SubscribeWrite(3)
	}, nop))
	fp.script = [][]poller.Ready{{{Fd: 3, Events: poller.EventWrite}}}
	require.NoError(t, r.SetHook(HookPostLoop, func(r *Reactor) error {
		r.Quit()
		return nil
	}))

	require.NoError(t, r.Run())
	require.True(t, wrote)
	require.Equal(t, poller.EventRead, fp.masks[3])
}

func TestCallbackErrorIsNotFatal(t *testing.T) {
	r, _ := newFakeReactor(8)
	h := handleOn(3)
	reads, writes, closes := 0, 0, 0
	h.SetReadFunc(func(h *EventHandle) error {
		reads++
		return errors.New("read failed")
	})
	h.SetWriteFunc(func(h *EventHandle) error {
		writes++
		return nil
	})
	h.SetCloseFunc(func(h *EventHandle) error {
		closes++
		return nil
	})
	require.NoError(t, r.Register(h, subscribeRead, nop))

	other := handleOn(4)
	otherReads := 0
	other.SetReadFunc(func(h *EventHandle) error {
		otherReads++
		return nil
	})
	require.NoError(t, r.Register(other, subscribeRead, nop))

	r.poll.(*fakePoller).script = [][]poller.Ready{{
		{Fd: 3, Events: poller.EventRead | poller.EventWrite | poller.EventErr},
		{Fd: 4, Events: poller.EventRead},
	}}
	require.NoError(t, r.SetHook(HookPostLoop, func(r *Reactor) error {
		r.Quit()
		return nil
	}))

	require.NoError(t, r.Run())
	require.Equal(t, 1, reads)
	require.Equal(t, 0, writes)
	require.Equal(t, 0, closes)
	require.Equal(t, 1, otherReads)
}

func TestDeferredReadiness(t *testing.T) {
	r, fp := newFakeReactor(8)
	h := handleOn(6)
	reads := 0
	h.SetReadFunc(func(h *EventHandle) error {
		reads++
		return nil
	})
	require.NoError(t, r.Register(h, subscribeRead, nop))
	require.NoError(t, r.SetHook(HookInit, func(r *Reactor) error {
		return r.Defer(6, poller.EventRead)
	}))
	require.NoError(t, r.SetHook(HookPostLoop, func(r *Reactor) error {
		r.Quit()
		return nil
	}))
	require.ErrorIs(t, r.Defer(7, poller.EventRead), ErrInvalidParam)

	require.NoError(t, r.Run())
	require.Equal(t, 1, reads)
	require.Equal(t, []int{0}, fp.timeouts)
}

func TestDestroy(t *testing.T) {
	r, _ := newFakeReactor(8)
	removed := 0
	for fd := 0; fd < 3; fd++ {
		require.NoError(t, r.Register(handleOn(fd), subscribeRead, func(h *EventHandle) error {
			removed++
			return nil
		}))
	}
	require.NoError(t, r.Destroy())
	require.NoError(t, r.Destroy())
	require.Equal(t, 3, removed)
	require.Equal(t, 0, r.Handles())
	require.ErrorIs(t, r.Run(), ErrDestroyed)
	require.ErrorIs(t, r.Register(handleOn(1), nop, nop), ErrDestroyed)
}
