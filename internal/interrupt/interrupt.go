// Package interrupt turns SIGINT/SIGTERM into a controlled stop of the loop.
//
// The first signal cancels the context returned by Install, prints a notice
// and records the exit code (128+signo). A second signal exits immediately
// with that code.
package interrupt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/behouba/criu-coordinator/internal/exitcodes"
	"github.com/behouba/criu-coordinator/internal/logger"
)

// Handler owns the signal subscription for one session.
type Handler struct {
	signals     []os.Signal
	notice      func(msg string)
	exit        func(code int)
	logger      *log.Logger
	notify      func(c chan<- os.Signal, sig ...os.Signal)
	stopNotify  func(c chan<- os.Signal)
	interrupted atomic.Bool
	code        atomic.Int32
}

type Option func(*Handler)

// WithNotice sets the callback that prints the one-line interrupt notice.
func WithNotice(fn func(msg string)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.notice = fn
		}
	}
}

// WithExit replaces os.Exit for the second-signal path.
func WithExit(fn func(code int)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.exit = fn
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New returns a Handler for SIGINT and SIGTERM.
func New(opts ...Option) *Handler {
	h := &Handler{
		signals:    []os.Signal{os.Interrupt, syscall.SIGTERM},
		notice:     func(string) {},
		exit:       os.Exit,
		logger:     logger.Discard(),
		notify:     signal.Notify,
		stopNotify: signal.Stop,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Install subscribes to the signals and returns a context that is cancelled
// by the first one. stop unsubscribes and releases the context; it is safe to
// call more than once.
func (h *Handler) Install(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	h.notify(ch, h.signals...)

	done := make(chan struct{})
	go h.watch(ch, cancel, done)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.stopNotify(ch)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}

func (h *Handler) watch(ch <-chan os.Signal, cancel context.CancelFunc, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			h.handle(sig, cancel)
		}
	}
}

func (h *Handler) handle(sig os.Signal, cancel context.CancelFunc) {
	if h.interrupted.CompareAndSwap(false, true) {
		h.code.Store(int32(exitcodes.FromSignal(signalNumber(sig))))
		h.logger.Debug("received signal", "signal", sig)
		h.notice(fmt.Sprintf("Interrupted by %s: stopping the current run (signal again to exit now)", signalName(sig)))
		cancel()
		return
	}
	h.logger.Warn("second signal received, exiting immediately", "signal", sig)
	h.exit(h.ExitCode())
}

// Interrupted reports whether a signal stopped the session.
func (h *Handler) Interrupted() bool {
	return h.interrupted.Load()
}

// ExitCode is 128+signo of the first signal, or 0 if none arrived.
func (h *Handler) ExitCode() int {
	return int(h.code.Load())
}

// signalName renders SIGINT and SIGTERM by their conventional names.
func signalName(sig os.Signal) string {
	switch sig {
	case os.Interrupt:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
