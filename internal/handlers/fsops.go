package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/backend"
	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/router"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

const (
	// shortSymlinkDir backs the execve path-rewrite trick. Entry names
	// under it are a fixed 3 hex digits (§6 "symlinks/" requires a single
	// known name length), keeping the whole rewritten path at 7 bytes —
	// short enough to fit in place of any real guest path.
	shortSymlinkDir = "/.x"
	pathMax         = 4096
)

func registerFsops(t dispatch.Table) {
	t[unix.SYS_OPENAT] = Openat
	t[unix.SYS_CHDIR] = Chdir
	t[unix.SYS_FCHDIR] = Fchdir
	t[unix.SYS_GETCWD] = Getcwd
	t[unix.SYS_MKDIRAT] = Mkdirat
	t[unix.SYS_UNLINKAT] = Unlinkat
	t[unix.SYS_SYMLINKAT] = Symlinkat
	t[unix.SYS_READLINKAT] = Readlinkat
	t[unix.SYS_FCHMODAT] = Fchmodat
	t[unix.SYS_UTIMENSAT] = Utimensat
	t[unix.SYS_FACCESSAT] = Faccessat
	t[unix.SYS_EXECVE] = Execve
}

// dirfdBase resolves the base directory a dirfd-relative path argument is
// joined against: AT_FDCWD means the caller's cwd; otherwise the
// opened_path of the dirfd's own File.
func dirfdBase(s *supervisor.Supervisor, req notif.Request, dirfd int32) (string, error) {
	if dirfd == unix.AT_FDCWD {
		t, err := callerThread(s, req)
		if err != nil {
			return "", errs.New(errs.SRCH)
		}
		return t.Fs.Cwd, nil
	}
	f, err := borrowFile(s, req, int(dirfd))
	if err != nil {
		return "", err
	}
	defer f.Unref()
	return f.OpenedPath, nil
}

func readPath(s *supervisor.Supervisor, req notif.Request, addr uint64) (string, error) {
	buf := make([]byte, pathMax)
	name, err := s.Mem.ReadString(buf, req.Pid, addr)
	if err != nil {
		return "", err
	}
	return string(name), nil
}

// Openat implements openat(dirfd, path, flags, mode).
func Openat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	dirfd := int32(req.Args[0])
	flags := int(req.Args[2])
	mode := os.FileMode(req.Args[3] & 0o7777)

	base, err := dirfdBase(s, req, dirfd)
	if err != nil {
		return 0, err
	}
	path, err := readPath(s, req, req.Args[1])
	if err != nil {
		return 0, err
	}

	outcome, err := s.Policy.Route(base, path)
	if err != nil {
		return 0, err
	}
	if outcome.Blocked {
		return 0, errs.New(errs.PERM)
	}

	if outcome.Backend == router.BackendProc {
		s.Lock()
		s.Threads().SyncNewThreads() //nolint:errcheck // best-effort sync before listing
		s.Unlock()
	}

	var be vfile.Backend
	switch outcome.Backend {
	case router.BackendPassthrough:
		f, oerr := os.OpenFile(outcome.Normalized, flags, mode)
		if oerr != nil {
			return 0, errs.FromErrno(oerr)
		}
		be = backend.NewPassthrough(f)
	case router.BackendCow:
		if flags&unix.O_CREAT != 0 {
			s.Overlay.ClearTombstone(outcome.Normalized)
		} else if !s.Overlay.GuestPathExists(outcome.Normalized) {
			return 0, errs.New(errs.NOENT)
		}
		c, oerr := backend.OpenCow(s.Overlay, outcome.Normalized, flags, mode)
		if oerr != nil {
			return 0, oerr
		}
		be = c
	case router.BackendTmp:
		tb, oerr := backend.OpenTmp(s.Overlay, outcome.Normalized, flags, mode)
		if oerr != nil {
			return 0, oerr
		}
		be = tb
	case router.BackendProc:
		caller, cerr := callerThread(s, req)
		if cerr != nil {
			return 0, errs.New(errs.SRCH)
		}
		content, entries, perr := renderProc(s, caller, outcome.Normalized)
		if perr != nil {
			return 0, perr
		}
		if entries != nil {
			be = backend.NewProcDir(outcome.Normalized, entries)
		} else {
			be = backend.NewProc(outcome.Normalized, content)
		}
	}

	file := vfile.New(be, flags, outcome.Normalized)
	return installFd(s, req, file, flags&unix.O_CLOEXEC != 0)
}

// Chdir implements chdir(path).
func Chdir(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	t, err := callerThread(s, req)
	if err != nil {
		return 0, err
	}
	path, err := readPath(s, req, req.Args[0])
	if err != nil {
		return 0, err
	}
	if path == "" {
		return 0, errs.New(errs.NOENT)
	}

	outcome, err := s.Policy.Route(t.Fs.Cwd, path)
	if err != nil {
		return 0, err
	}
	if outcome.Blocked {
		return 0, errs.New(errs.PERM)
	}
	if !isDir(s, outcome) {
		return 0, errs.New(errs.NOTDIR)
	}

	s.Lock()
	defer s.Unlock()
	t.Fs.Cwd = outcome.Normalized
	return 0, nil
}

// Fchdir implements fchdir(fd).
func Fchdir(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	st, serr := f.Backend.Statx()
	if serr != nil {
		return 0, serr
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return 0, errs.New(errs.NOTDIR)
	}

	t, err := callerThread(s, req)
	if err != nil {
		return 0, err
	}
	s.Lock()
	defer s.Unlock()
	t.Fs.Cwd = f.OpenedPath
	return 0, nil
}

func isDir(s *supervisor.Supervisor, outcome router.Outcome) bool {
	switch outcome.Backend {
	case router.BackendProc:
		return true
	case router.BackendCow:
		if s.Overlay.CowExists(outcome.Normalized) {
			info, err := os.Stat(s.Overlay.HostCowPath(outcome.Normalized))
			return err == nil && info.IsDir()
		}
		info, err := os.Stat(outcome.Normalized)
		return err == nil && info.IsDir()
	case router.BackendTmp:
		info, err := os.Stat(s.Overlay.HostTmpPath(outcome.Normalized))
		return err == nil && info.IsDir()
	default:
		info, err := os.Stat(outcome.Normalized)
		return err == nil && info.IsDir()
	}
}

// Getcwd implements getcwd(buf, size).
func Getcwd(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	t, err := callerThread(s, req)
	if err != nil {
		return 0, err
	}
	size := req.Args[1]

	s.Lock()
	cwd := t.Fs.Cwd
	s.Unlock()

	if uint64(len(cwd)+1) > size {
		return 0, errs.New(errs.RANGE)
	}
	buf := append([]byte(cwd), 0)
	if err := s.Mem.WriteSlice(buf, req.Pid, req.Args[0]); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}

func routeAndCheckWritable(s *supervisor.Supervisor, req notif.Request, dirfd int32, pathAddr uint64) (router.Outcome, error) {
	base, err := dirfdBase(s, req, dirfd)
	if err != nil {
		return router.Outcome{}, err
	}
	path, err := readPath(s, req, pathAddr)
	if err != nil {
		return router.Outcome{}, err
	}
	outcome, err := s.Policy.Route(base, path)
	if err != nil {
		return router.Outcome{}, err
	}
	if outcome.Blocked {
		return router.Outcome{}, errs.New(errs.PERM)
	}
	if outcome.Backend == router.BackendPassthrough || outcome.Backend == router.BackendProc {
		return router.Outcome{}, errs.New(errs.PERM)
	}
	return outcome, nil
}

func hostPathFor(s *supervisor.Supervisor, outcome router.Outcome) string {
	if outcome.Backend == router.BackendTmp {
		return s.Overlay.HostTmpPath(outcome.Normalized)
	}
	return s.Overlay.HostCowPath(outcome.Normalized)
}

// Mkdirat implements mkdirat(dirfd, path, mode).
func Mkdirat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	outcome, err := routeAndCheckWritable(s, req, int32(req.Args[0]), req.Args[1])
	if err != nil {
		return 0, err
	}
	mode := os.FileMode(req.Args[2] & 0o7777)

	s.Lock()
	defer s.Unlock()
	if err := s.Overlay.Mkdir(outcome.Normalized, hostPathFor(s, outcome), mode); err != nil {
		return 0, err
	}
	return 0, nil
}

// Unlinkat implements unlinkat(dirfd, path, flags).
func Unlinkat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	outcome, err := routeAndCheckWritable(s, req, int32(req.Args[0]), req.Args[1])
	if err != nil {
		return 0, err
	}
	flags := int(req.Args[2])
	hostPath := hostPathFor(s, outcome)

	s.Lock()
	defer s.Unlock()

	info, statErr := os.Lstat(hostPath)
	if statErr == nil {
		if flags&unix.AT_REMOVEDIR != 0 {
			if !info.IsDir() {
				return 0, errs.New(errs.NOTDIR)
			}
			entries, rerr := os.ReadDir(hostPath)
			if rerr == nil && len(entries) > 0 {
				return 0, errs.New(errs.NOTEMPTY)
			}
			if err := s.Overlay.Rmdir(outcome.Normalized, hostPath); err != nil {
				return 0, err
			}
			return 0, nil
		}
		if info.IsDir() {
			return 0, errs.New(errs.ISDIR)
		}
	}
	if err := s.Overlay.Unlink(outcome.Normalized, hostPath); err != nil {
		return 0, err
	}
	return 0, nil
}

// Symlinkat implements symlinkat(target, newdirfd, linkpath).
func Symlinkat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	target, err := readPath(s, req, req.Args[0])
	if err != nil {
		return 0, err
	}
	outcome, err := routeAndCheckWritable(s, req, int32(req.Args[1]), req.Args[2])
	if err != nil {
		return 0, err
	}

	s.Lock()
	defer s.Unlock()
	if err := s.Overlay.Symlink(outcome.Normalized, hostPathFor(s, outcome), target); err != nil {
		return 0, err
	}
	return 0, nil
}

// Readlinkat implements readlinkat(dirfd, path, buf, bufsiz).
func Readlinkat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	base, err := dirfdBase(s, req, int32(req.Args[0]))
	if err != nil {
		return 0, err
	}
	path, err := readPath(s, req, req.Args[1])
	if err != nil {
		return 0, err
	}
	outcome, err := s.Policy.Route(base, path)
	if err != nil {
		return 0, err
	}
	if outcome.Blocked {
		return 0, errs.New(errs.PERM)
	}

	var target string
	if outcome.Backend == router.BackendProc {
		if !strings.HasSuffix(outcome.Normalized, "/cwd") && !strings.HasSuffix(outcome.Normalized, "/exe") {
			return 0, errs.New(errs.INVAL)
		}
		caller, cerr := callerThread(s, req)
		if cerr != nil {
			return 0, errs.New(errs.SRCH)
		}
		content, entries, perr := renderProc(s, caller, outcome.Normalized)
		if perr != nil {
			return 0, perr
		}
		if entries != nil {
			return 0, errs.New(errs.INVAL)
		}
		target = string(content)
	} else {
		var hostPath string
		switch outcome.Backend {
		case router.BackendTmp:
			hostPath = s.Overlay.HostTmpPath(outcome.Normalized)
		case router.BackendCow:
			if s.Overlay.CowExists(outcome.Normalized) {
				hostPath = s.Overlay.HostCowPath(outcome.Normalized)
			} else {
				hostPath = outcome.Normalized
			}
		default:
			hostPath = outcome.Normalized
		}

		t, rerr := os.Readlink(hostPath)
		if rerr != nil {
			return 0, errs.FromErrno(rerr)
		}
		target = t
	}

	bufsiz := req.Args[3]
	if uint64(len(target)) > bufsiz {
		target = target[:bufsiz]
	}
	if err := s.Mem.WriteSlice([]byte(target), req.Pid, req.Args[2]); err != nil {
		return 0, err
	}
	return int64(len(target)), nil
}

// Fchmodat implements fchmodat(dirfd, path, mode, flags).
func Fchmodat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	flags := int(req.Args[3])
	if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
		return 0, errs.New(errs.OPNOTSUPP)
	}
	outcome, err := routeAndCheckWritable(s, req, int32(req.Args[0]), req.Args[1])
	if err != nil {
		return 0, err
	}
	mode := os.FileMode(req.Args[2] & 0o7777)

	s.Lock()
	defer s.Unlock()
	if err := os.Chmod(hostPathFor(s, outcome), mode); err != nil {
		return 0, errs.FromErrno(err)
	}
	return 0, nil
}

// Utimensat implements utimensat(dirfd, path, times, flags).
func Utimensat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	outcome, err := routeAndCheckWritable(s, req, int32(req.Args[0]), req.Args[1])
	if err != nil {
		return 0, err
	}

	s.Lock()
	defer s.Unlock()
	now := time.Now()
	if err := os.Chtimes(hostPathFor(s, outcome), now, now); err != nil {
		return 0, errs.FromErrno(err)
	}
	return 0, nil
}

// Faccessat implements faccessat(dirfd, path, mode, flags).
func Faccessat(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	base, err := dirfdBase(s, req, int32(req.Args[0]))
	if err != nil {
		return 0, err
	}
	path, err := readPath(s, req, req.Args[1])
	if err != nil {
		return 0, err
	}
	outcome, err := s.Policy.Route(base, path)
	if err != nil {
		return 0, err
	}
	if outcome.Blocked {
		return 0, errs.New(errs.PERM)
	}
	if outcome.Backend == router.BackendProc {
		return 0, nil
	}
	if !s.Overlay.GuestPathExists(outcome.Normalized) && outcome.Backend != router.BackendTmp {
		return 0, errs.New(errs.NOENT)
	}
	return 0, nil
}

// fixedWidthHex renders id's low 12 bits as exactly 3 lowercase hex digits,
// so every rewritten execve path has the same short length regardless of
// how large the notification id has grown.
func fixedWidthHex(id uint64) string {
	return fmt.Sprintf("%03x", id&0xfff)
}

// Execve implements execve(path, argv, envp) using a path-rewrite trick:
// passthrough continues unmodified; cow/tmp files with an on-disk shadow
// copy get a short-lived symlink under a fixed short
// directory whose target is the shadow path, and the guest's path argument
// is overwritten in place with that short name.
func Execve(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	t, err := callerThread(s, req)
	if err != nil {
		return 0, err
	}
	path, err := readPath(s, req, req.Args[0])
	if err != nil {
		return 0, err
	}

	outcome, err := s.Policy.Route(t.Fs.Cwd, path)
	if err != nil {
		return 0, err
	}
	if outcome.Blocked {
		return 0, errs.New(errs.PERM)
	}
	if outcome.Backend == router.BackendProc {
		return 0, errs.New(errs.ACCES)
	}

	s.Lock()
	t.ProgramImage = outcome.Normalized
	s.Unlock()

	if outcome.Backend == router.BackendPassthrough {
		return 0, dispatch.ErrContinue
	}

	var shadow string
	switch outcome.Backend {
	case router.BackendCow:
		if !s.Overlay.CowExists(outcome.Normalized) {
			return 0, dispatch.ErrContinue
		}
		shadow = s.Overlay.HostCowPath(outcome.Normalized)
	case router.BackendTmp:
		shadow = s.Overlay.HostTmpPath(outcome.Normalized)
	}

	if err := os.MkdirAll(shortSymlinkDir, 0o755); err != nil {
		return 0, errs.FromErrno(err)
	}
	shortName := shortSymlinkDir + "/" + fixedWidthHex(req.ID)
	if len(shortName) > len(path) {
		return 0, errs.New(errs.PERM)
	}

	os.Remove(shortName)
	if err := os.Symlink(shadow, shortName); err != nil {
		return 0, errs.FromErrno(err)
	}
	defer os.Remove(shortName)

	padded := make([]byte, len(path)+1)
	copy(padded, shortName)
	if err := s.Mem.WriteSlice(padded, req.Pid, req.Args[0]); err != nil {
		return 0, err
	}
	return 0, dispatch.ErrContinue
}
