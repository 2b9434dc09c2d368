package handlers

import (
	"context"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/router"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

// HandlersTest exercises end-to-end syscall flows against the real handler
// functions. Every request carries the test process's own pid as the
// "guest" tid, so reads/writes through the membridge land on real host
// memory (/proc/<pid>/mem against our own process); membridge's own tests
// instead point the bridge at a synthetic proc root.
type HandlersTest struct {
	suite.Suite
	s       *supervisor.Supervisor
	pid     uint32
	nextReq uint64
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTest))
}

func (t *HandlersTest) SetupTest() {
	t.s = supervisor.New(supervisor.Config{
		OverlayRoot: t.T().TempDir(),
		Policy: router.Policy{
			BlockedPrefixes:     []string{"/sys"},
			PassthroughPrefixes: []string{"/dev"},
			ProcPrefix:          "/proc",
			TmpPrefix:           "/tmp",
		},
		MaxFds: 64,
	})
	t.pid = uint32(os.Getpid())
}

// req builds a notification with a fresh monotonic id, the test process's
// own pid, and the given six syscall arguments.
func (t *HandlersTest) req(args ...uint64) notif.Request {
	t.nextReq++
	var a [6]uint64
	copy(a[:], args)
	return notif.Request{ID: t.nextReq, Pid: t.pid, Args: a}
}

// addrOf returns the guest "virtual address" of a real byte slice in this
// process's own address space, so handlers that read/write guest memory via
// (pid, addr) operate on real backing memory.
func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return uint64(uintptr(unsafe.Pointer(&struct{}{})))
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func (t *HandlersTest) kindOf(err error) errs.Kind {
	t.T().Helper()
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	return e.Kind
}

// TestPipeTransfer verifies pipe2 then write then read round-trips bytes
// through a pair of virtual fds both >= 3.
func (t *HandlersTest) TestPipeTransfer() {
	ctx := context.Background()
	var pipefd [8]byte
	_, err := Pipe2(ctx, t.s, t.req(addrOf(pipefd[:]), 0))
	t.Require().NoError(err)

	r := int64(int32(le32(pipefd[0:4])))
	w := int64(int32(le32(pipefd[4:8])))
	t.GreaterOrEqual(r, int64(3))
	t.GreaterOrEqual(w, int64(3))

	payload := []byte("hello")
	n, err := Write(ctx, t.s, t.req(uint64(w), addrOf(payload), uint64(len(payload))))
	t.Require().NoError(err)
	t.EqualValues(5, n)

	buf := make([]byte, 5)
	n, err = Read(ctx, t.s, t.req(uint64(r), addrOf(buf), uint64(len(buf))))
	t.Require().NoError(err)
	t.EqualValues(5, n)
	t.Equal("hello", string(buf))
}

// TestVirtualizedTmpRoundTrip verifies a tmp-backed file created, written,
// closed, reopened and read gives back the same bytes, then disappears
// after unlink.
func (t *HandlersTest) TestVirtualizedTmpRoundTrip() {
	ctx := context.Background()
	path := cString("/tmp/x")

	fdA, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644))
	t.Require().NoError(err)

	payload := []byte("abc")
	n, err := Write(ctx, t.s, t.req(uint64(fdA), addrOf(payload), uint64(len(payload))))
	t.Require().NoError(err)
	t.EqualValues(3, n)

	_, err = Close(ctx, t.s, t.req(uint64(fdA)))
	t.Require().NoError(err)

	fdB, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY, 0))
	t.Require().NoError(err)

	buf := make([]byte, 3)
	n, err = Read(ctx, t.s, t.req(uint64(fdB), addrOf(buf), uint64(len(buf))))
	t.Require().NoError(err)
	t.EqualValues(3, n)
	t.Equal("abc", string(buf))
	Close(ctx, t.s, t.req(uint64(fdB))) //nolint:errcheck

	_, err = Unlinkat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), 0))
	t.Require().NoError(err)

	_, err = Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY, 0))
	t.Require().Error(err)
	t.Equal(errs.NOENT, t.kindOf(err))
}

// TestFdAllocationReusesLowestFreeSlot verifies a closed fd's slot is the
// first one reused by the next open.
func (t *HandlersTest) TestFdAllocationReusesLowestFreeSlot() {
	ctx := context.Background()
	path := cString("/dev/null")

	fd1, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY, 0))
	t.Require().NoError(err)
	t.EqualValues(3, fd1)

	fd2, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY, 0))
	t.Require().NoError(err)
	t.EqualValues(4, fd2)

	_, err = Close(ctx, t.s, t.req(uint64(fd1)))
	t.Require().NoError(err)

	fd3, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY, 0))
	t.Require().NoError(err)
	t.EqualValues(3, fd3)
}

// TestFcntlFlagMutation verifies F_SETFL mutates status flags but never the
// open-time access-mode bits, which F_GETFL must keep reporting unchanged.
func (t *HandlersTest) TestFcntlFlagMutation() {
	ctx := context.Background()
	path := cString("/tmp/flags")
	fd, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_RDONLY|unix.O_CREAT, 0o644))
	t.Require().NoError(err)

	_, err = Fcntl(ctx, t.s, t.req(uint64(fd), unix.F_SETFL, unix.O_RDWR|unix.O_NONBLOCK))
	t.Require().NoError(err)

	flags, err := Fcntl(ctx, t.s, t.req(uint64(fd), unix.F_GETFL, 0))
	t.Require().NoError(err)
	t.NotZero(flags & unix.O_NONBLOCK)
	t.EqualValues(unix.O_RDONLY, flags&unix.O_ACCMODE, "ACCMODE must stay fixed at open-time value")
}

// TestGetdentsTombstoneFilter verifies an unlinked child is invisible to a
// subsequent getdents64 over the same directory.
func (t *HandlersTest) TestGetdentsTombstoneFilter() {
	ctx := context.Background()

	for _, p := range []string{"/tmp/d", "/tmp/d/a", "/tmp/d/b"} {
		if p == "/tmp/d" {
			_, err := Mkdirat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(cString(p)), 0o755))
			t.Require().NoError(err)
			continue
		}
		fd, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(cString(p)), unix.O_WRONLY|unix.O_CREAT, 0o644))
		t.Require().NoError(err)
		Close(ctx, t.s, t.req(uint64(fd))) //nolint:errcheck
	}

	before := t.listNames("/tmp/d")
	t.Contains(before, "a")
	t.Contains(before, "b")

	_, err := Unlinkat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(cString("/tmp/d/a")), 0))
	t.Require().NoError(err)

	after := t.listNames("/tmp/d")
	t.NotContains(after, "a")
	t.Contains(after, "b")
}

func (t *HandlersTest) listNames(dir string) []string {
	ctx := context.Background()
	dfd, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(cString(dir)), unix.O_RDONLY, 0))
	t.Require().NoError(err)
	defer Close(ctx, t.s, t.req(uint64(dfd))) //nolint:errcheck

	var names []string
	buf := make([]byte, 4096)
	for {
		n, err := Getdents64(ctx, t.s, t.req(uint64(dfd), addrOf(buf), uint64(len(buf))))
		t.Require().NoError(err)
		if n == 0 {
			break
		}
		names = append(names, parseDirentNames(buf[:n])...)
	}
	return names
}

// parseDirentNames walks a getdents64-format buffer (reclen at a fixed
// offset, NUL-terminated name at the end of each record) to its names.
func parseDirentNames(buf []byte) []string {
	var out []string
	off := 0
	for off < len(buf) {
		if off+19 > len(buf) {
			break
		}
		reclen := int(le16(buf[off+16 : off+18]))
		if reclen < 19 || off+reclen > len(buf) {
			break
		}
		nameBytes := buf[off+19 : off+reclen]
		end := 0
		for end < len(nameBytes) && nameBytes[end] != 0 {
			end++
		}
		out = append(out, string(nameBytes[:end]))
		off += reclen
	}
	return out
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// TestNamespaceParentage verifies getppid called as a grandchild resolves
// to its parent's namespaced tgid, and a CLONE_NEWPID child sees no
// visible parent at all.
func TestNamespaceParentage(t *testing.T) {
	ctx := context.Background()
	s := supervisor.New(supervisor.Config{
		OverlayRoot: t.TempDir(),
		Policy:      router.Policy{TmpPrefix: "/tmp"},
		MaxFds:      16,
	})

	init, err := s.GetThread(os.Getpid())
	require.NoError(t, err)

	absC1 := os.Getpid() + 100000
	absG := os.Getpid() + 100001

	s.Lock()
	c1 := s.Threads().RegisterChild(init, absC1, 0)
	s.Threads().RegisterChild(c1, absG, 0)
	s.Unlock()

	ppid, err := Getppid(ctx, s, notif.Request{ID: 1, Pid: uint32(absG)})
	require.NoError(t, err)
	require.EqualValues(t, absC1, ppid, "getppid as the grandchild resolves to its parent's namespaced tgid")

	// Recreate c1 as a CLONE_NEWPID root: its parent becomes invisible.
	s2 := supervisor.New(supervisor.Config{
		OverlayRoot: t.TempDir(),
		Policy:      router.Policy{TmpPrefix: "/tmp"},
		MaxFds:      16,
	})
	init2, err := s2.GetThread(os.Getpid())
	require.NoError(t, err)
	absC1b := os.Getpid() + 200000
	s2.Lock()
	c1b := s2.Threads().RegisterChild(init2, absC1b, 0x20000000)
	s2.Unlock()
	require.True(t, c1b.IsNamespaceRoot())

	ppid2, err := Getppid(ctx, s2, notif.Request{ID: 2, Pid: uint32(absC1b)})
	require.NoError(t, err)
	require.EqualValues(t, 0, ppid2, "a CLONE_NEWPID root's parent is invisible")
}

// TestTmpCreateMaterializesShadowFile verifies that an O_CREAT open under
// the tmp prefix creates the file in the overlay's tmp shadow tree. It uses
// a tmp-backed path since a real host path's write permissions aren't
// guaranteed under every test-runner uid.
func (t *HandlersTest) TestTmpCreateMaterializesShadowFile() {
	ctx := context.Background()
	path := cString("/tmp/cow-equivalent")
	fd, err := Openat(ctx, t.s, t.req(uint64(unix.AT_FDCWD), addrOf(path), unix.O_WRONLY|unix.O_CREAT, 0o644))
	t.Require().NoError(err)
	Close(ctx, t.s, t.req(uint64(fd))) //nolint:errcheck

	t.True(t.s.Overlay.TmpExists("/tmp/cow-equivalent"))
}

// TestUnknownCallerIsSRCH checks the universal "unknown tid -> SRCH" rule
// stated for every handler.
func (t *HandlersTest) TestUnknownCallerIsSRCH() {
	ctx := context.Background()
	req := notif.Request{ID: 999, Pid: 0x7fffffff, Args: [6]uint64{0}}
	_, err := Dup(ctx, t.s, req)
	t.Require().Error(err)
	t.Equal(errs.SRCH, t.kindOf(err))
}
