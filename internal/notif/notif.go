// Package notif holds the fixed-layout notification request/response
// records exchanged with the kernel's seccomp-notify mechanism and the
// reply builders handlers use, following the same request/response
// plumbing shape elsewhere in this codebase: typed request structs in,
// typed reply out, nothing free-form.
package notif

import "github.com/tnachen/bVisor-sub000/internal/errs"

// FlagContinue, set on a Response, tells the kernel to run the original
// syscall unmodified (possibly after the supervisor rewrote arguments in
// guest memory).
const FlagContinue uint32 = 1 << 0

// Request is a single intercepted syscall, suspended pending a Response.
type Request struct {
	ID                 uint64
	Syscall            int32
	Arch               uint32
	Pid                uint32 // absolute tid of the caller
	Args               [6]uint64
	InstructionPointer uint64
}

// Response is exactly one of success(value), error(kind), or continue.
type Response struct {
	ID    uint64
	Value int64
	Error int32
	Flags uint32
}

// Success builds a success(value) response.
func Success(id uint64, value int64) Response {
	return Response{ID: id, Value: value}
}

// Fail builds an error(kind) response.
func Fail(id uint64, kind errs.Kind) Response {
	return Response{ID: id, Error: int32(kind.Errno())}
}

// Continue builds a continue response: the kernel executes the original
// syscall, unmodified or with guest memory already rewritten by the caller.
func Continue(id uint64) Response {
	return Response{ID: id, Flags: FlagContinue}
}
