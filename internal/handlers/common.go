// Package handlers implements the per-syscall handler functions, each
// matching the shared "parse -> route -> critical section -> effect ->
// reply" shape. It adapts the one-function-per-op-type,
// resolve-then-mutate-then-reply shape used for FUSE op methods elsewhere
// to seccomp-notify syscalls.
package handlers

import (
	"os"

	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/procns"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

// osFileFromFd wraps a raw kernel fd created directly by a handler (e.g.
// socket(2), pipe2(2)) in an *os.File so it can back a backend.Passthrough.
func osFileFromFd(fd int) *os.File {
	return os.NewFile(uintptr(fd), "")
}

const maxIOChunk = 4096

// callerThread resolves req's caller thread under the supervisor lock.
func callerThread(s *supervisor.Supervisor, req notif.Request) (*procns.Thread, error) {
	s.Lock()
	defer s.Unlock()
	return s.Threads().Get(int(req.Pid))
}

// borrowFile looks up fd in the caller's fd table and returns a
// reference-bumped File the handler may use outside the lock. The caller
// must Unref it when done.
func borrowFile(s *supervisor.Supervisor, req notif.Request, fd int) (*vfile.File, error) {
	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return nil, errs.New(errs.SRCH)
	}
	return t.FdTable.GetRef(fd)
}

// isStdio reports whether fd names one of the three reserved stdio slots.
func isStdio(fd int) bool {
	return fd >= 0 && fd < 3
}

const (
	stdinFd  = 0
	stdoutFd = 1
	stderrFd = 2
)

// RegisterDefault builds the syscall-number -> Handler table for every
// virtualized syscall this supervisor handles.
func RegisterDefault() dispatch.Table {
	t := dispatch.Table{}
	registerIO(t)
	registerFd(t)
	registerNet(t)
	registerFsops(t)
	registerProcops(t)
	return t
}
