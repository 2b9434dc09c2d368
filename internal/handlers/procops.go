package handlers

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/membridge"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

func registerProcops(t dispatch.Table) {
	t[unix.SYS_SYSINFO] = Sysinfo
	t[unix.SYS_UNAME] = Uname
	t[unix.SYS_GETPPID] = Getppid
	t[unix.SYS_GETTID] = Gettid
	t[unix.SYS_KILL] = Kill
	t[unix.SYS_TKILL] = Tkill
	t[unix.SYS_EXIT] = Exit
	t[unix.SYS_EXIT_GROUP] = ExitGroup
}

// Sysinfo implements sysinfo(buf): fixed totalram/freeram, zero load
// averages, procs sized to the thread registry (clamped to u16), uptime
// since the supervisor started, mem_unit 1.
func Sysinfo(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	s.Lock()
	procs := len(s.Threads().AbsTids())
	s.Unlock()
	if procs > 0xffff {
		procs = 0xffff
	}

	const fixedMem = 1 << 30 // 1 GiB, a plausible fixed figure for a sandboxed guest

	var info unix.Sysinfo_t
	info.Uptime = int64(s.Uptime().Seconds())
	info.Totalram = fixedMem
	info.Freeram = fixedMem / 2
	info.Procs = uint16(procs)
	info.Unit = 1

	if err := membridge.Write(s.Mem, req.Pid, info, req.Args[0]); err != nil {
		return 0, err
	}
	return 0, nil
}

func fillUtsField(dst *[65]byte, s string) {
	copy(dst[:], s)
}

// Uname implements uname(buf): a fixed, plausible identity for the guest.
func Uname(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	var uts unix.Utsname
	fillUtsField(&uts.Sysname, "Linux")
	fillUtsField(&uts.Nodename, "bvisor")
	fillUtsField(&uts.Release, "6.1.0-bvisor")
	fillUtsField(&uts.Version, "#1 SMP PREEMPT bvisor")
	fillUtsField(&uts.Machine, "x86_64")
	fillUtsField(&uts.Domainname, "(none)")

	if err := membridge.Write(s.Mem, req.Pid, uts, req.Args[0]); err != nil {
		return 0, err
	}
	return 0, nil
}

// Getppid implements getppid(): the namespaced tgid of the parent
// thread-group's leader, or 0 if the caller is a namespace root or the
// parent is not visible in the caller's namespace.
func Getppid(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	if t.IsNamespaceRoot() || t.ThreadGroup.Parent == nil {
		return 0, nil
	}

	parentTgid := t.ThreadGroup.Parent.Tgid
	parent, perr := s.Threads().Get(parentTgid)
	if perr != nil {
		return 0, nil
	}
	// parent.NsTgid(t): parent's own tgid, translated into t's (the
	// caller's) namespace — not the other way around.
	nsTgid, ok := parent.NsTgid(t)
	if !ok {
		return 0, nil
	}
	return int64(nsTgid), nil
}

// Gettid implements gettid(): the caller's own namespaced tid.
func Gettid(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	return int64(t.NsTid()), nil
}

func resolveTarget(s *supervisor.Supervisor, req notif.Request, nsTarget int64) (int, error) {
	if nsTarget <= 0 {
		return 0, errs.New(errs.INVAL)
	}
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	target, terr := s.Threads().GetNamespaced(t, int(nsTarget))
	if terr != nil {
		return 0, terr
	}
	return target.AbsTid, nil
}

// Kill implements kill(target_nstgid, sig): resolve to an absolute tgid
// via the caller's namespace and send a real signal; the thread registry
// is updated only by the subsequent exit notification.
func Kill(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	sig := unix.Signal(req.Args[1])

	s.Lock()
	absTarget, err := resolveTarget(s, req, int64(req.Args[0]))
	s.Unlock()
	if err != nil {
		return 0, err
	}
	if err := unix.Kill(absTarget, sig); err != nil {
		return 0, errs.FromErrno(err)
	}
	return 0, nil
}

// Tkill implements tkill(target_nstid, sig): like kill but on a single
// tid (tgkill semantics narrowed to a thread-directed signal).
func Tkill(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	sig := unix.Signal(req.Args[1])

	s.Lock()
	absTarget, err := resolveTarget(s, req, int64(req.Args[0]))
	s.Unlock()
	if err != nil {
		return 0, err
	}
	if err := unix.Tgkill(unix.Getpid(), absTarget, sig); err != nil {
		return 0, errs.FromErrno(err)
	}
	return 0, nil
}

// exitCommon implements the shared exit/exit_group tail: enter the
// critical section, SIGKILL the rest of the namespace if the caller is
// its root, drop the caller's Thread, and reply continue
// so the kernel completes the real exit.
func exitCommon(s *supervisor.Supervisor, req notif.Request) (int64, error) {
	s.Lock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		s.Unlock()
		return 0, dispatch.ErrContinue
	}

	if t.IsNamespaceRoot() {
		for _, member := range t.Namespace.Members() {
			if member == t {
				continue
			}
			unix.Kill(member.AbsTid, unix.SIGKILL) //nolint:errcheck // logged via caller's dispatch, absence means already dead
		}
	}
	s.Threads().HandleThreadExit(int(req.Pid))
	s.Unlock()

	return 0, dispatch.ErrContinue
}

// Exit implements exit(status).
func Exit(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	return exitCommon(s, req)
}

// ExitGroup implements exit_group(status).
func ExitGroup(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	return exitCommon(s, req)
}
