package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/G-Research/tabsink/internal/common/sinkcontext"
)

// CreateContextWithShutdown returns a context that is cancelled when SIGINT or SIGTERM is received.  A second
// signal exits the process without waiting for the context's users to wind down.
func CreateContextWithShutdown() *sinkcontext.Context {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return withShutdown(sinkcontext.Background(), c, os.Exit)
}

func withShutdown(parent *sinkcontext.Context, signals <-chan os.Signal, exit func(code int)) *sinkcontext.Context {
	ctx, cancel := sinkcontext.WithCancel(parent)
	go func() {
		select {
		case sig := <-signals:
			ctx.Log.Warnf("Received %s: no more input will be read, waiting for accepted rows to be written", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-signals
		ctx.Log.Errorf("Received %s again: exiting without waiting for outstanding writes", sig)
		exit(1)
	}()
	return ctx
}
