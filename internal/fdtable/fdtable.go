// Package fdtable implements the per-thread guest file descriptor table:
// a lowest-free-slot int->FdEntry map, with dup/dup_at/close semantics
// layered over internal/vfile's refcounted File. It adapts a handle-table
// pattern (a mutex-guarded map from an
// opaque int handle to a *fileHandle, with lowest-handle reuse), adapted
// from "FUSE handle ID" to "guest fd number".
package fdtable

import (
	"sort"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

// reservedFds is the first fd number insert/dup may allocate. Fds 0-2 are
// reserved for the guest's stdio and are only ever populated explicitly via
// SetAt, mirroring a real process's inherited stdin/stdout/stderr.
const reservedFds = 3

// Entry is one occupied slot in a Table.
type Entry struct {
	File    *vfile.File
	Cloexec bool
}

// Table is a single thread's fd -> Entry map. Callers are responsible for
// serializing access (the supervisor's single mutex).
type Table struct {
	entries map[int]Entry
	maxFds  int
}

// New returns an empty table with no fds installed, bounded by maxFds. A
// maxFds of 0 or less means unbounded.
func New(maxFds int) *Table {
	return &Table{entries: make(map[int]Entry), maxFds: maxFds}
}

// Fork returns a copy of t sharing the same *vfile.File values (each
// ref-counted up once), for use when a guest thread's fd table is
// inherited by a child thread/process on fork/clone.
func (t *Table) Fork() *Table {
	n := New(t.maxFds)
	for fd, e := range t.entries {
		n.entries[fd] = Entry{File: e.File.GetRef(), Cloexec: e.Cloexec}
	}
	return n
}

// SetAt installs f at exactly fd, reference-counted already by the caller,
// unreferencing whatever previously occupied that slot. Used to seed
// stdin/stdout/stderr below reservedFds.
func (t *Table) SetAt(fd int, f *vfile.File, cloexec bool) error {
	if fd < 0 {
		return errs.New(errs.BADF)
	}
	if old, ok := t.entries[fd]; ok {
		old.File.Unref()
	}
	t.entries[fd] = Entry{File: f, Cloexec: cloexec}
	return nil
}

// lowestFree returns the lowest unoccupied fd >= floor.
func (t *Table) lowestFree(floor int) int {
	fd := floor
	for {
		if _, occupied := t.entries[fd]; !occupied {
			return fd
		}
		fd++
	}
}

func (t *Table) count() int {
	return len(t.entries)
}

// Insert installs f (already reference-counted by the caller) at the
// lowest free fd >= reservedFds, failing with MFILE if the table is at
// capacity.
func (t *Table) Insert(f *vfile.File, cloexec bool) (int, error) {
	if t.maxFds > 0 && t.count() >= t.maxFds {
		return 0, errs.New(errs.MFILE)
	}
	fd := t.lowestFree(reservedFds)
	t.entries[fd] = Entry{File: f, Cloexec: cloexec}
	return fd, nil
}

// Dup duplicates oldFd to the lowest free fd >= reservedFds (dup(2)/F_DUPFD
// semantics), bumping the File's refcount.
func (t *Table) Dup(oldFd int) (int, error) {
	e, ok := t.entries[oldFd]
	if !ok {
		return 0, errs.New(errs.BADF)
	}
	if t.maxFds > 0 && t.count() >= t.maxFds {
		return 0, errs.New(errs.MFILE)
	}
	newFd := t.lowestFree(reservedFds)
	t.entries[newFd] = Entry{File: e.File.GetRef(), Cloexec: false}
	return newFd, nil
}

// DupFrom duplicates oldFd to the lowest free fd >= minFd (F_DUPFD/
// F_DUPFD_CLOEXEC semantics), bumping the File's refcount. minFd below
// reservedFds is raised to reservedFds, since 0-2 are reserved for stdio.
func (t *Table) DupFrom(oldFd, minFd int) (int, error) {
	e, ok := t.entries[oldFd]
	if !ok {
		return 0, errs.New(errs.BADF)
	}
	if minFd < reservedFds {
		minFd = reservedFds
	}
	if t.maxFds > 0 && t.count() >= t.maxFds {
		return 0, errs.New(errs.MFILE)
	}
	newFd := t.lowestFree(minFd)
	t.entries[newFd] = Entry{File: e.File.GetRef(), Cloexec: false}
	return newFd, nil
}

// DupAt duplicates oldFd onto exactly newFd (dup2/dup3 semantics), closing
// whatever previously occupied newFd first. If oldFd == newFd, dup2 is a
// no-op that merely validates oldFd is open.
func (t *Table) DupAt(oldFd, newFd int, cloexec bool) error {
	e, ok := t.entries[oldFd]
	if !ok {
		return errs.New(errs.BADF)
	}
	if oldFd == newFd {
		return nil
	}
	if old, occupied := t.entries[newFd]; occupied {
		old.File.Unref()
	}
	t.entries[newFd] = Entry{File: e.File.GetRef(), Cloexec: cloexec}
	return nil
}

// GetRef returns the File at fd with its refcount bumped, for an operation
// that wants to retain it beyond the current call (e.g. I/O outside the
// supervisor lock). Returns BADF if fd is not open.
func (t *Table) GetRef(fd int) (*vfile.File, error) {
	e, ok := t.entries[fd]
	if !ok {
		return nil, errs.New(errs.BADF)
	}
	return e.File.GetRef(), nil
}

// Peek returns the File at fd without bumping its refcount, for
// operations that only read/write through the existing reference: I/O
// through a borrowed File needs no lock.
func (t *Table) Peek(fd int) (*vfile.File, error) {
	e, ok := t.entries[fd]
	if !ok {
		return nil, errs.New(errs.BADF)
	}
	return e.File, nil
}

// Remove closes fd: it is dropped from the table and the underlying File is
// unreferenced, releasing the backend at refcount zero.
func (t *Table) Remove(fd int) error {
	e, ok := t.entries[fd]
	if !ok {
		return errs.New(errs.BADF)
	}
	delete(t.entries, fd)
	return e.File.Unref()
}

// Cloexec reports whether fd is marked close-on-exec.
func (t *Table) Cloexec(fd int) (bool, error) {
	e, ok := t.entries[fd]
	if !ok {
		return false, errs.New(errs.BADF)
	}
	return e.Cloexec, nil
}

// SetCloexec sets fd's close-on-exec flag (F_SETFD/FD_CLOEXEC).
func (t *Table) SetCloexec(fd int, cloexec bool) error {
	e, ok := t.entries[fd]
	if !ok {
		return errs.New(errs.BADF)
	}
	e.Cloexec = cloexec
	t.entries[fd] = e
	return nil
}

// CloseOnExec closes every fd marked close-on-exec, for execve.
func (t *Table) CloseOnExec() {
	for fd, e := range t.entries {
		if e.Cloexec {
			e.File.Unref()
			delete(t.entries, fd)
		}
	}
}

// CloseAll closes every fd in the table, for thread/process exit.
func (t *Table) CloseAll() {
	for fd, e := range t.entries {
		e.File.Unref()
		delete(t.entries, fd)
	}
}

// Fds returns the currently open fd numbers in ascending order, for
// rendering a /proc/<tid>/fd listing.
func (t *Table) Fds() []int {
	fds := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}
