// Package membridge provides typed read/write of scalars, slices, and
// C strings in a guest thread's address space by (tid, virtual address),
// grounded on gcsfuse's own pattern of a narrow, explicitly-bounds-checked
// I/O seam (storage reader wrappers elsewhere in this codebase never
// perform unbounded reads; neither does this one). The canonical backing
// mechanism is /proc/<pid>/mem.
package membridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

// maxCopyBytes bounds any single guest memory transfer; handlers never
// need more than a page or two for any single copy.
const maxCopyBytes = 1 << 20

// Bridge reads and writes another thread's memory through its /proc mem
// file. It carries no state of its own; every call is self-contained so
// that it can be used outside the supervisor's coordination mutex.
type Bridge struct {
	procRoot string
}

func New() *Bridge {
	return &Bridge{procRoot: "/proc"}
}

// NewWithRoot lets tests point the bridge at a synthetic proc tree.
func NewWithRoot(root string) *Bridge {
	return &Bridge{procRoot: root}
}

func (b *Bridge) memPath(tid uint32) string {
	return filepath.Join(b.procRoot, strconv.FormatUint(uint64(tid), 10), "mem")
}

func (b *Bridge) openMem(tid uint32, write bool) (*os.File, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_WRONLY
	}
	f, err := os.OpenFile(b.memPath(tid), flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.SRCH)
		}
		return nil, errs.Wrap(errs.FAULT, err)
	}
	return f, nil
}

// ReadSlice reads exactly len(buf) bytes from tid's address space at addr.
func (b *Bridge) ReadSlice(buf []byte, tid uint32, addr uint64) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf) > maxCopyBytes {
		return errs.New(errs.INVAL)
	}
	f, err := b.openMem(tid, false)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.ReadAt(buf, int64(addr))
	if n != len(buf) {
		if err == nil || err == io.EOF {
			return errs.New(errs.FAULT)
		}
		return errs.Wrap(errs.FAULT, err)
	}
	return nil
}

// WriteSlice writes all of bytes into tid's address space at addr.
func (b *Bridge) WriteSlice(bytes []byte, tid uint32, addr uint64) error {
	if len(bytes) == 0 {
		return nil
	}
	if len(bytes) > maxCopyBytes {
		return errs.New(errs.INVAL)
	}
	f, err := b.openMem(tid, true)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.WriteAt(bytes, int64(addr))
	if n != len(bytes) {
		if err == nil {
			return errs.New(errs.FAULT)
		}
		return errs.Wrap(errs.FAULT, err)
	}
	return nil
}

// ReadString reads up to cap(buf) bytes or up to a NUL, whichever comes
// first, and returns the slice without the trailing NUL.
func (b *Bridge) ReadString(buf []byte, tid uint32, addr uint64) ([]byte, error) {
	if len(buf) > maxCopyBytes {
		return nil, errs.New(errs.INVAL)
	}
	f, err := b.openMem(tid, false)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Read in small chunks so we stop promptly at the NUL without reading
	// past the end of a mapped region that happens to follow it.
	const chunk = 256
	total := 0
	for total < len(buf) {
		end := total + chunk
		if end > len(buf) {
			end = len(buf)
		}
		n, rerr := f.ReadAt(buf[total:end], int64(addr)+int64(total))
		if n == 0 && rerr != nil {
			if total == 0 {
				return nil, errs.New(errs.FAULT)
			}
			break
		}
		for i := 0; i < n; i++ {
			if buf[total+i] == 0 {
				return buf[:total+i], nil
			}
		}
		total += n
		if rerr != nil {
			break
		}
	}
	return buf[:total], nil
}

// Read performs a fixed-size POD read of T from tid's address space.
func Read[T any](b *Bridge, tid uint32, addr uint64) (T, error) {
	var v T
	size := binary.Size(v)
	if size <= 0 {
		var zero T
		return zero, fmt.Errorf("membridge: type %T has no fixed binary size", v)
	}
	buf := make([]byte, size)
	if err := b.ReadSlice(buf, tid, addr); err != nil {
		var zero T
		return zero, err
	}
	r := bytesReader{buf: buf}
	if err := binary.Read(&r, binary.LittleEndian, &v); err != nil {
		var zero T
		return zero, errs.Wrap(errs.FAULT, err)
	}
	return v, nil
}

// Write performs a fixed-size POD write of v into tid's address space.
func Write[T any](b *Bridge, tid uint32, v T, addr uint64) error {
	buf := make([]byte, binary.Size(v))
	w := bytesWriter{buf: buf}
	if err := binary.Write(&w, binary.LittleEndian, v); err != nil {
		return errs.Wrap(errs.FAULT, err)
	}
	return b.WriteSlice(w.buf, tid, addr)
}

// bytesReader/bytesWriter adapt a fixed slice to io.Reader/io.Writer without
// pulling in bytes.Buffer's growth semantics, since these buffers are
// always pre-sized exactly.
type bytesReader struct {
	buf []byte
	off int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}

type bytesWriter struct {
	buf []byte
	off int
}

func (w *bytesWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}
