package main

import (
	"github.com/spf13/cobra"

	"github.com/dreamans/evslice"
	"github.com/dreamans/evslice/evlog"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Runs an echo server.",
	Long:  `The 'server' command listens on the configured address and echoes every byte back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		tlsCfg, err := cfg.TLS.ServerConfig()
		if err != nil {
			return err
		}
		r, err := evslice.New(cfg.Options())
		if err != nil {
			return err
		}
		defer r.Destroy()

		srv, err := evslice.Listen(r, cfg.Server.Mode, cfg.Server.Bind, cfg.Server.Port, tlsCfg, &echoHandler{})
		if err != nil {
			return err
		}
		_, stop := quitOnSignal(r)
		defer stop()

		err = r.Run()
		evlog.Infof("[server]: stopped with %d sessions, pool %s", srv.SessionCount(), r.Pool().Metrics())
		_ = srv.Close()
		return err
	},
}

type echoHandler struct {
	evslice.BaseSessionHandler
}

func (h *echoHandler) OnReady(s *evslice.Session) error {
	evlog.Debugf("[echo]: %s:%d ready", s.PeerIP(), s.PeerPort())
	return nil
}

func (h *echoHandler) OnRead(s *evslice.Session, n int) error {
	err := s.Write(s.Peek())
	s.ClearReadBuffer()
	return err
}

func (h *echoHandler) OnClose(s *evslice.Session, err error) {
	evlog.Debugf("[echo]: %s:%d closed: %s", s.PeerIP(), s.PeerPort(), err)
}
