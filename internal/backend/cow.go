package backend

import (
	"os"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/overlay"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
	"golang.org/x/sys/unix"
)

// Cow is a file backed either by a read-through host fd onto the real
// tree, or by a writecopy fd onto the on-disk copy in the overlay's cow
// shadow. The first write against a read-through Cow triggers a copy-up.
type Cow struct {
	f          *os.File
	guestPath  string
	overlay    *overlay.Overlay
	writecopy  bool
	copyUpFlag int
	copyUpMode os.FileMode
}

// OpenCow opens guestPath for the cow backend. If flags request write
// access, the copy-up happens immediately; otherwise the real host file is
// opened read-through and copy-up is deferred to the first Write.
func OpenCow(ov *overlay.Overlay, guestPath string, flags int, mode os.FileMode) (*Cow, error) {
	wantsWrite := flags&(os.O_WRONLY|os.O_RDWR) != 0 || flags&os.O_CREATE != 0

	if wantsWrite {
		hostPath, err := ov.ResolveCow(guestPath)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(hostPath, flags, mode)
		if err != nil {
			return nil, errs.FromErrno(err)
		}
		return &Cow{f: f, guestPath: guestPath, overlay: ov, writecopy: true}, nil
	}

	var hostPath string
	if ov.CowExists(guestPath) {
		hostPath = ov.HostCowPath(guestPath)
	} else {
		hostPath = guestPath
	}
	f, err := os.OpenFile(hostPath, flags, mode)
	if err != nil {
		return nil, errs.FromErrno(err)
	}
	return &Cow{
		f:          f,
		guestPath:  guestPath,
		overlay:    ov,
		writecopy:  ov.CowExists(guestPath),
		copyUpFlag: flags,
		copyUpMode: mode,
	}, nil
}

func (c *Cow) Kind() vfile.Kind { return vfile.Cow }

func (c *Cow) Read(buf []byte) (int, error) {
	n, err := c.f.Read(buf)
	if err != nil && n == 0 {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (c *Cow) Write(buf []byte) (int, error) {
	if !c.writecopy {
		if err := c.copyUp(); err != nil {
			return 0, err
		}
	}
	n, err := c.f.Write(buf)
	if err != nil {
		return n, errs.FromErrno(err)
	}
	return n, nil
}

func (c *Cow) copyUp() error {
	off, err := c.f.Seek(0, os.SEEK_CUR)
	if err != nil {
		return errs.FromErrno(err)
	}
	hostPath, err := c.overlay.ResolveCow(c.guestPath)
	if err != nil {
		return err
	}
	newF, err := os.OpenFile(hostPath, os.O_RDWR, 0o644)
	if err != nil {
		return errs.FromErrno(err)
	}
	if _, err := newF.Seek(off, os.SEEK_SET); err != nil {
		newF.Close()
		return errs.FromErrno(err)
	}
	c.f.Close()
	c.f = newF
	c.writecopy = true
	return nil
}

func (c *Cow) Lseek(offset int64, whence int) (int64, error) {
	n, err := c.f.Seek(offset, whence)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (c *Cow) Statx() (unix.Statx_t, error) {
	var st unix.Statx_t
	if err := unix.Statx(int(c.f.Fd()), "", unix.AT_EMPTY_PATH, unix.STATX_ALL, &st); err != nil {
		return st, errs.FromErrno(err)
	}
	return st, nil
}

// Getdents64 merges physical entries with tombstone visibility: any name
// whose absolute guest path is tombstoned or ancestor-tombstoned is
// skipped.
func (c *Cow) Getdents64(buf []byte) (int, error) {
	raw := make([]byte, len(buf))
	n, err := unix.Getdents(int(c.f.Fd()), raw)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	filtered := filterDirents(raw[:n], func(name string) bool {
		child := c.guestPath
		if child != "/" {
			child += "/"
		}
		child += name
		return !c.overlay.IsTombstoned(child)
	})
	copy(buf, filtered)
	return len(filtered), nil
}

func (c *Cow) Connect(addr []byte) error                      { return errs.New(errs.NOTSOCK) }
func (c *Cow) SendTo(buf, addr []byte) (int, error)            { return 0, errs.New(errs.NOTSOCK) }
func (c *Cow) RecvFrom(buf []byte) (int, []byte, error)        { return 0, nil, errs.New(errs.NOTSOCK) }
func (c *Cow) Shutdown(how int) error                          { return errs.New(errs.NOTSOCK) }

func (c *Cow) BackingFd() (int, bool) {
	if c.f == nil {
		return 0, false
	}
	return int(c.f.Fd()), true
}

func (c *Cow) Close() error {
	return c.f.Close()
}
