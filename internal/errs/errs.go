// Package errs is the supervisor's closed, POSIX-flavored error-kind
// taxonomy. Handlers never return a bare error to dispatch; they wrap every
// failure in one of these kinds so that the reply translation step can set
// the guest-visible errno without leaking supervisor diagnostics, the same
// closed-vocabulary approach used for mapping storage errors onto a fixed
// set of client-facing codes.
package errs

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kind is one of the closed set of POSIX-flavored error kinds a handler may
// report back to a guest.
type Kind int

const (
	PERM Kind = iota
	NOENT
	SRCH
	BADF
	NOMEM
	ACCES
	FAULT
	EXIST
	NOTDIR
	ISDIR
	INVAL
	MFILE
	SPIPE
	RANGE
	NAMETOOLONG
	NOSYS
	IO
	NOTSOCK
	OPNOTSUPP
	NOTEMPTY
)

var names = map[Kind]string{
	PERM:        "PERM",
	NOENT:       "NOENT",
	SRCH:        "SRCH",
	BADF:        "BADF",
	NOMEM:       "NOMEM",
	ACCES:       "ACCES",
	FAULT:       "FAULT",
	EXIST:       "EXIST",
	NOTDIR:      "NOTDIR",
	ISDIR:       "ISDIR",
	INVAL:       "INVAL",
	MFILE:       "MFILE",
	SPIPE:       "SPIPE",
	RANGE:       "RANGE",
	NAMETOOLONG: "NAMETOOLONG",
	NOSYS:       "NOSYS",
	IO:          "IO",
	NOTSOCK:     "NOTSOCK",
	OPNOTSUPP:   "OPNOTSUPP",
	NOTEMPTY:    "NOTEMPTY",
}

var errnos = map[Kind]unix.Errno{
	PERM:        unix.EPERM,
	NOENT:       unix.ENOENT,
	SRCH:        unix.ESRCH,
	BADF:        unix.EBADF,
	NOMEM:       unix.ENOMEM,
	ACCES:       unix.EACCES,
	FAULT:       unix.EFAULT,
	EXIST:       unix.EEXIST,
	NOTDIR:      unix.ENOTDIR,
	ISDIR:       unix.EISDIR,
	INVAL:       unix.EINVAL,
	MFILE:       unix.EMFILE,
	SPIPE:       unix.ESPIPE,
	RANGE:       unix.ERANGE,
	NAMETOOLONG: unix.ENAMETOOLONG,
	NOSYS:       unix.ENOSYS,
	IO:          unix.EIO,
	NOTSOCK:     unix.ENOTSOCK,
	OPNOTSUPP:   unix.EOPNOTSUPP,
	NOTEMPTY:    unix.ENOTEMPTY,
}

var fromErrno map[unix.Errno]Kind

func init() {
	fromErrno = make(map[unix.Errno]Kind, len(errnos))
	for k, e := range errnos {
		fromErrno[e] = k
	}
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// Errno returns the numeric errno a guest should observe for this kind.
func (k Kind) Errno() int {
	if e, ok := errnos[k]; ok {
		return int(e)
	}
	return int(unix.EIO)
}

// Error is the error type handlers return; dispatch maps any other error
// through FromErrno (a raw errno keeps its kind, anything else becomes IO).
type Error struct {
	Kind  Kind
	Cause error
}

func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FromErrno maps a raw OS/syscall error onto the closed taxonomy, for
// backends that forward to real kernel operations. Unrecognized errnos
// become IO: unexpected failures on I/O paths default to IO rather than
// a misleading specific kind.
func FromErrno(err error) *Error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if k, ok := fromErrno[unix.Errno(errno)]; ok {
			return &Error{Kind: k, Cause: err}
		}
	}
	return &Error{Kind: IO, Cause: err}
}
