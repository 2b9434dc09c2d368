package backend

import (
	"os"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/overlay"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
	"golang.org/x/sys/unix"
)

// Tmp is a file backed by an fd onto the overlay's tmp shadow tree. There
// is no host fallback: /tmp is entirely private to the sandbox.
type Tmp struct {
	f         *os.File
	guestPath string
	overlay   *overlay.Overlay
}

func OpenTmp(ov *overlay.Overlay, guestPath string, flags int, mode os.FileMode) (*Tmp, error) {
	hostPath, err := ov.ResolveTmp(guestPath)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(hostPath, flags, mode)
	if err != nil {
		return nil, errs.FromErrno(err)
	}
	return &Tmp{f: f, guestPath: guestPath, overlay: ov}, nil
}

func (t *Tmp) Kind() vfile.Kind { return vfile.Tmp }

func (t *Tmp) Read(buf []byte) (int, error) {
	n, err := t.f.Read(buf)
	if err != nil && n == 0 {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (t *Tmp) Write(buf []byte) (int, error) {
	n, err := t.f.Write(buf)
	if err != nil {
		return n, errs.FromErrno(err)
	}
	return n, nil
}

func (t *Tmp) Lseek(offset int64, whence int) (int64, error) {
	n, err := t.f.Seek(offset, whence)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (t *Tmp) Statx() (unix.Statx_t, error) {
	var st unix.Statx_t
	if err := unix.Statx(int(t.f.Fd()), "", unix.AT_EMPTY_PATH, unix.STATX_ALL, &st); err != nil {
		return st, errs.FromErrno(err)
	}
	return st, nil
}

func (t *Tmp) Getdents64(buf []byte) (int, error) {
	raw := make([]byte, len(buf))
	n, err := unix.Getdents(int(t.f.Fd()), raw)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	filtered := filterDirents(raw[:n], func(name string) bool {
		child := t.guestPath
		if child != "/" {
			child += "/"
		}
		child += name
		return !t.overlay.IsTombstoned(child)
	})
	copy(buf, filtered)
	return len(filtered), nil
}

func (t *Tmp) Connect(addr []byte) error               { return errs.New(errs.NOTSOCK) }
func (t *Tmp) SendTo(buf, addr []byte) (int, error)     { return 0, errs.New(errs.NOTSOCK) }
func (t *Tmp) RecvFrom(buf []byte) (int, []byte, error) { return 0, nil, errs.New(errs.NOTSOCK) }
func (t *Tmp) Shutdown(how int) error                   { return errs.New(errs.NOTSOCK) }

func (t *Tmp) BackingFd() (int, bool) {
	return int(t.f.Fd()), true
}

func (t *Tmp) Close() error {
	return t.f.Close()
}
