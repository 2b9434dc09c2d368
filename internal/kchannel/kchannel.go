// Package kchannel names the interface the core consumes from the kernel's
// seccomp-notify mechanism. The mechanism itself — installing the filter,
// ioctl(SECCOMP_IOCTL_NOTIF_RECV/SEND/ID_VALID) — is an external
// collaborator; this package only states the contract it expects from that
// collaborator, without implementing one.
package kchannel

import (
	"context"

	"github.com/tnachen/bVisor-sub000/internal/notif"
)

// Channel is the kernel-mediated notification slot. Recv blocks until a
// guest thread is suspended pending a syscall reply. Send posts exactly one
// reply per received request. IDValid reports whether a notification id is
// still live — the kernel can revoke a slot if the guest thread died before
// the supervisor replied.
type Channel interface {
	Recv(ctx context.Context) (notif.Request, error)
	Send(ctx context.Context, resp notif.Response) error
	IDValid(ctx context.Context, id uint64) (bool, error)
}
