package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamans/evslice"
	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/internal/conf"
)

var confPath string

var rootCmd = &cobra.Command{
	Use:          "evslice",
	Short:        "Echo server and ping client on the evslice reactor.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "config", "c", "config.yaml", "Path to the configuration file.")
	rootCmd.AddCommand(serverCmd, clientCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func load() (*conf.Conf, error) {
	cfg, err := conf.LoadFromFile(confPath)
	if err != nil {
		return nil, err
	}
	logger, err := evlog.NewLevelLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	evlog.SetLogger(logger)
	return cfg, nil
}

// quitOnSignal stops r on SIGINT/SIGTERM. The returned channel is closed
// once a signal arrived.
func quitOnSignal(r *evslice.Reactor) (<-chan struct{}, func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	fired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case s := <-sig:
			evlog.Infof("[signal]: %s, quitting", s)
			close(fired)
			r.Quit()
		case <-done:
		}
	}()
	return fired, func() {
		signal.Stop(sig)
		close(done)
	}
}
