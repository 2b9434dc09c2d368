// Package backend implements the four backend file variants —
// passthrough, cow, tmp, proc — each satisfying vfile.Backend. It adapts
// a thin typed layer over a lower-level transport ("forward verbatim,
// translate errors"), the shape of storage-object read/write wrappers
// elsewhere in this codebase, from HTTP
// objects to host kernel fds.
package backend

import (
	"os"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
	"golang.org/x/sys/unix"
)

// Passthrough wraps a single host kernel fd; every operation forwards to
// the kernel unchanged.
type Passthrough struct {
	f *os.File
}

func NewPassthrough(f *os.File) *Passthrough {
	return &Passthrough{f: f}
}

func (p *Passthrough) Kind() vfile.Kind { return vfile.Passthrough }

func (p *Passthrough) Read(buf []byte) (int, error) {
	n, err := p.f.Read(buf)
	if err != nil && n == 0 {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (p *Passthrough) Write(buf []byte) (int, error) {
	n, err := p.f.Write(buf)
	if err != nil {
		return n, errs.FromErrno(err)
	}
	return n, nil
}

func (p *Passthrough) Lseek(offset int64, whence int) (int64, error) {
	n, err := p.f.Seek(offset, whence)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (p *Passthrough) Statx() (unix.Statx_t, error) {
	var st unix.Statx_t
	err := unix.Statx(int(p.f.Fd()), "", unix.AT_EMPTY_PATH, unix.STATX_ALL, &st)
	if err != nil {
		return st, errs.FromErrno(err)
	}
	return st, nil
}

func (p *Passthrough) Getdents64(buf []byte) (int, error) {
	n, err := unix.Getdents(int(p.f.Fd()), buf)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	return n, nil
}

func (p *Passthrough) Connect(addr []byte) error {
	sa, err := parseSockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Connect(int(p.f.Fd()), sa); err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

func (p *Passthrough) SendTo(buf, addr []byte) (int, error) {
	var sa unix.Sockaddr
	if len(addr) > 0 {
		var err error
		sa, err = parseSockaddr(addr)
		if err != nil {
			return 0, err
		}
	}
	if err := unix.Sendto(int(p.f.Fd()), buf, 0, sa); err != nil {
		return 0, errs.FromErrno(err)
	}
	return len(buf), nil
}

func (p *Passthrough) RecvFrom(buf []byte) (int, []byte, error) {
	n, from, err := unix.Recvfrom(int(p.f.Fd()), buf, 0)
	if err != nil {
		return 0, nil, errs.FromErrno(err)
	}
	return n, encodeSockaddr(from), nil
}

func (p *Passthrough) Shutdown(how int) error {
	if err := unix.Shutdown(int(p.f.Fd()), how); err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

func (p *Passthrough) BackingFd() (int, bool) {
	return int(p.f.Fd()), true
}

func (p *Passthrough) Close() error {
	return p.f.Close()
}
