package backend

import (
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
	"golang.org/x/sys/unix"
)

// Proc is a purely in-memory, read-only file whose contents are rendered
// once by the handler layer (e.g. a guest's /proc/<tid>/status page) and
// handed to Proc at construction time. It never touches a host fd.
type Proc struct {
	guestPath string
	content   []byte
	offset    int64
	entries   []ProcDirent
	dirents   []byte // rendered lazily on first Getdents64 call
}

// ProcDirent is one synthetic directory entry for a proc directory backend
// (e.g. the children of /proc, or of /proc/<tid>/fd).
type ProcDirent struct {
	Name string
	Type uint8
}

func NewProc(guestPath string, content []byte) *Proc {
	return &Proc{guestPath: guestPath, content: content}
}

func NewProcDir(guestPath string, entries []ProcDirent) *Proc {
	return &Proc{guestPath: guestPath, entries: entries}
}

func (p *Proc) Kind() vfile.Kind { return vfile.Proc }

func (p *Proc) Read(buf []byte) (int, error) {
	if p.offset >= int64(len(p.content)) {
		return 0, nil
	}
	n := copy(buf, p.content[p.offset:])
	p.offset += int64(n)
	return n, nil
}

func (p *Proc) Write(buf []byte) (int, error) {
	return 0, errs.New(errs.IO)
}

func (p *Proc) Lseek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case unix.SEEK_SET:
		newOffset = offset
	case unix.SEEK_CUR:
		newOffset = p.offset + offset
	case unix.SEEK_END:
		newOffset = int64(len(p.content)) + offset
	default:
		return 0, errs.New(errs.INVAL)
	}
	if newOffset < 0 {
		return 0, errs.New(errs.INVAL)
	}
	p.offset = newOffset
	return p.offset, nil
}

func (p *Proc) Statx() (unix.Statx_t, error) {
	var st unix.Statx_t
	st.Mask = unix.STATX_SIZE | unix.STATX_TYPE | unix.STATX_MODE
	st.Size = uint64(len(p.content))
	if p.entries != nil {
		st.Mode = unix.S_IFDIR | 0o555
	} else {
		st.Mode = unix.S_IFREG | 0o444
	}
	return st, nil
}

// Getdents64 renders the full entry set once and hands it out across
// however many calls it takes to drain buf, mirroring the real syscall's
// "advance a directory stream position, return 0 once exhausted" contract
// so a caller looping until it reads 0 bytes terminates.
func (p *Proc) Getdents64(buf []byte) (int, error) {
	if p.dirents == nil && p.offset == 0 {
		var raw []byte
		off := int64(0)
		for i, e := range p.entries {
			typ := e.Type
			if typ == 0 {
				typ = unix.DT_REG
			}
			rec := encodeDirent(uint64(i+1), off, typ, e.Name)
			off += int64(len(rec))
			raw = append(raw, rec...)
		}
		p.dirents = raw
		if p.dirents == nil {
			p.dirents = []byte{}
		}
	}
	if p.offset >= int64(len(p.dirents)) {
		return 0, nil
	}
	n := copy(buf, p.dirents[p.offset:])
	p.offset += int64(n)
	return n, nil
}

func (p *Proc) Connect(addr []byte) error               { return errs.New(errs.NOTSOCK) }
func (p *Proc) SendTo(buf, addr []byte) (int, error)     { return 0, errs.New(errs.NOTSOCK) }
func (p *Proc) RecvFrom(buf []byte) (int, []byte, error) { return 0, nil, errs.New(errs.NOTSOCK) }
func (p *Proc) Shutdown(how int) error                   { return errs.New(errs.NOTSOCK) }

func (p *Proc) BackingFd() (int, bool) {
	return 0, false
}

func (p *Proc) Close() error {
	return nil
}
