package handlers

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

func registerFd(t dispatch.Table) {
	t[unix.SYS_CLOSE] = Close
	t[unix.SYS_DUP] = Dup
	t[unix.SYS_DUP3] = Dup3
	t[unix.SYS_FCNTL] = Fcntl
}

// Close implements close(fd): stdio fds are left to the kernel; any other
// fd is dropped from the table, unreferencing its File.
func Close(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	if isStdio(fd) {
		return 0, dispatch.ErrContinue
	}

	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	if err := t.FdTable.Remove(fd); err != nil {
		return 0, err
	}
	return 0, nil
}

// Dup implements dup(fd): duplicate to the lowest available slot,
// cloexec defaulting to false.
func Dup(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])

	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	newFd, err := t.FdTable.Dup(fd)
	if err != nil {
		return 0, err
	}
	return int64(newFd), nil
}

// Dup3 implements dup3(old, new, flags).
func Dup3(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	oldFd := int(req.Args[0])
	newFd := int(req.Args[1])
	flags := int32(req.Args[2])

	if flags != 0 && flags != unix.O_CLOEXEC {
		return 0, errs.New(errs.INVAL)
	}
	if oldFd == newFd {
		return 0, errs.New(errs.INVAL)
	}
	if isStdio(newFd) {
		return 0, errs.New(errs.INVAL)
	}

	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	if err := t.FdTable.DupAt(oldFd, newFd, flags == unix.O_CLOEXEC); err != nil {
		return 0, err
	}
	return int64(newFd), nil
}

const (
	fcntlDupfd        = unix.F_DUPFD
	fcntlGetfd        = unix.F_GETFD
	fcntlSetfd        = unix.F_SETFD
	fcntlGetfl        = unix.F_GETFL
	fcntlSetfl        = unix.F_SETFL
	fcntlDupfdCloexec = unix.F_DUPFD_CLOEXEC
)

// mutableFlags is the set of O_* bits SETFL may change; ACCMODE, CREAT,
// EXCL, and TRUNC are fixed at open time.
const mutableFlags = unix.O_APPEND | unix.O_ASYNC | unix.O_DIRECT | unix.O_NOATIME | unix.O_NONBLOCK

// Fcntl implements fcntl(fd, cmd, arg) over the subset of commands a
// sandboxed guest actually needs.
func Fcntl(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	cmd := int(req.Args[1])
	arg := req.Args[2]

	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}

	switch cmd {
	case fcntlDupfd, fcntlDupfdCloexec:
		newFd, err := t.FdTable.DupFrom(fd, int(arg))
		if err != nil {
			return 0, err
		}
		if cmd == fcntlDupfdCloexec {
			t.FdTable.SetCloexec(newFd, true)
		}
		return int64(newFd), nil

	case fcntlGetfd:
		cloexec, err := t.FdTable.Cloexec(fd)
		if err != nil {
			return 0, err
		}
		if cloexec {
			return 1, nil
		}
		return 0, nil

	case fcntlSetfd:
		if err := t.FdTable.SetCloexec(fd, arg&unix.FD_CLOEXEC != 0); err != nil {
			return 0, err
		}
		return 0, nil

	case fcntlGetfl:
		f, err := t.FdTable.Peek(fd)
		if err != nil {
			return 0, err
		}
		return int64(f.OpenFlags), nil

	case fcntlSetfl:
		f, err := t.FdTable.Peek(fd)
		if err != nil {
			return 0, err
		}
		f.OpenFlags = (f.OpenFlags &^ mutableFlags) | (int(arg) & mutableFlags)
		if hostFd, ok := f.Backend.BackingFd(); ok {
			unix.FcntlInt(uintptr(hostFd), unix.F_SETFL, int(arg)&mutableFlags) //nolint:errcheck // best-effort propagation
		}
		return 0, nil

	case unix.F_GETLK, unix.F_SETLK, unix.F_SETLKW,
		unix.F_OFD_GETLK, unix.F_OFD_SETLK, unix.F_OFD_SETLKW,
		unix.F_GETOWN, unix.F_SETOWN, unix.F_GETSIG, unix.F_SETSIG:
		return 0, nil

	default:
		return 0, errs.New(errs.INVAL)
	}
}
