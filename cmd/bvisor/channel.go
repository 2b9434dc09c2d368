package main

import (
	"context"

	"github.com/tnachen/bVisor-sub000/internal/notif"
)

// noopChannel is a placeholder kchannel.Channel: the real implementation
// reads SECCOMP_IOCTL_NOTIF_RECV/SEND off the listener fd handed to this
// process by its launcher (the seccomp filter installation and fd handoff
// are outside this supervisor's scope). This one simply blocks until the
// context is canceled, so the dispatch loop starts and shuts down cleanly
// without a real kernel notification source wired in yet.
type noopChannel struct{}

func (noopChannel) Recv(ctx context.Context) (notif.Request, error) {
	<-ctx.Done()
	return notif.Request{}, ctx.Err()
}

func (noopChannel) Send(ctx context.Context, resp notif.Response) error {
	return nil
}

func (noopChannel) IDValid(ctx context.Context, id uint64) (bool, error) {
	return true, nil
}
