// Package dispatch runs the worker pool that pulls notifications off a
// kchannel.Channel, routes each to its syscall-number handler, and
// replies. It adapts a FUSE-style request loop (one worker goroutine per
// server, a table of op-type handlers, uniform panic recovery converting
// to an EIO-equivalent reply) from FUSE
// ops to seccomp-notify syscalls.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/kchannel"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

// Handler handles one intercepted syscall and returns either a success
// value or an *errs.Error. Handlers that want the kernel to run the
// original syscall return (0, ErrContinue).
type Handler func(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error)

// ErrContinue is a sentinel a Handler returns to request a continue
// response instead of success(value) or error(kind).
var ErrContinue = fmt.Errorf("continue")

// Table maps a syscall number to the Handler that services it.
type Table map[int32]Handler

// Dispatcher owns the handler table and the supervisor it operates on.
type Dispatcher struct {
	Supervisor *supervisor.Supervisor
	Handlers   Table
}

func New(s *supervisor.Supervisor, handlers Table) *Dispatcher {
	return &Dispatcher{Supervisor: s, Handlers: handlers}
}

// Loop runs workers concurrent goroutines, each pulling requests from ch
// and replying, until ctx is canceled or a Recv/Send error is fatal.
func (d *Dispatcher) Loop(ctx context.Context, ch kchannel.Channel, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return d.worker(ctx, ch)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, ch kchannel.Channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := ch.Recv(ctx)
		if err != nil {
			return err
		}

		resp := d.handle(ctx, req)

		if err := ch.Send(ctx, resp); err != nil {
			return err
		}
	}
}

// handle resolves and runs the handler for req, recovering from any panic
// and reporting it as IO so a single handler bug cannot take down the
// worker pool or leave a notification unanswered.
func (d *Dispatcher) handle(ctx context.Context, req notif.Request) (resp notif.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.Supervisor.Log.Error("handler panic", slog.Any("recover", r), slog.Int64("id", int64(req.ID)), slog.Int64("syscall", int64(req.Syscall)))
			resp = notif.Fail(req.ID, errs.IO)
		}
	}()

	h, ok := d.Handlers[req.Syscall]
	if !ok {
		return notif.Fail(req.ID, errs.NOSYS)
	}

	value, err := h(ctx, d.Supervisor, req)
	switch {
	case err == ErrContinue:
		return notif.Continue(req.ID)
	case err != nil:
		return notif.Fail(req.ID, errs.FromErrno(err).Kind)
	default:
		return notif.Success(req.ID, value)
	}
}
