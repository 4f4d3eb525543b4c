package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/spf13/cobra"

	"github.com/dreamans/evslice"
	"github.com/dreamans/evslice/evlog"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Sends the configured message and prints the echo.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		tlsCfg, err := cfg.TLS.ClientConfig()
		if err != nil {
			return err
		}
		r, err := evslice.New(cfg.Options())
		if err != nil {
			return err
		}
		defer r.Destroy()

		interrupted, stop := quitOnSignal(r)
		defer stop()

		b := &backoff.Backoff{
			Factor: 1.5,
			Jitter: true,
			Min:    cfg.Client.RetryMinDur,
			Max:    cfg.Client.RetryMaxDur,
		}
		for attempt := 0; ; attempt++ {
			h := &pingHandler{msg: []byte(cfg.Client.Message)}
			_, err := evslice.Dial(r, cfg.Client.Host, cfg.Client.Port, cfg.Client.Mode, tlsCfg, h)
			if err == nil {
				err = r.Run()
			}
			if err == nil {
				err = h.err
			}
			if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(h.got))
				return nil
			}
			select {
			case <-interrupted:
				return err
			default:
			}
			// only connect failures are worth another try
			if h.connected || attempt >= cfg.Client.Retries {
				return err
			}
			d := b.Duration()
			evlog.Warningf("[client]: attempt %d: %s, retrying in %s", attempt+1, err, d)
			time.Sleep(d)
		}
	},
}

var errShortEcho = errors.New("connection closed before the echo was complete")

type pingHandler struct {
	msg       []byte
	got       []byte
	connected bool
	done      bool
	err       error
}

func (h *pingHandler) OnConnect(c *evslice.Client) error {
	h.connected = true
	return c.Write(h.msg)
}

func (h *pingHandler) OnRead(c *evslice.Client, n int) error {
	h.got = append(h.got, c.Peek()...)
	c.ClearReadBuffer()
	if len(h.got) >= len(h.msg) {
		h.done = true
		_ = c.Close()
		c.Reactor().Quit()
	}
	return nil
}

func (h *pingHandler) OnClose(c *evslice.Client, err error) {
	if !h.done {
		h.err = err
		if err == nil {
			h.err = errShortEcho
		}
	}
	c.Reactor().Quit()
}
