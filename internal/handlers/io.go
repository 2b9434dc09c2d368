package handlers

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

func registerIO(t dispatch.Table) {
	t[unix.SYS_READ] = Read
	t[unix.SYS_WRITE] = Write
	t[unix.SYS_READV] = Readv
	t[unix.SYS_WRITEV] = Writev
	t[unix.SYS_LSEEK] = Lseek
	t[unix.SYS_GETDENTS64] = Getdents64
}

// Read implements read(fd, buf, n): stdin continues to the kernel; any
// other fd is read through its backend up to min(n, 4 KiB) and copied into
// guest memory.
func Read(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	addr := req.Args[1]
	n := req.Args[2]

	if fd == stdinFd {
		return 0, dispatch.ErrContinue
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	if n > maxIOChunk {
		n = maxIOChunk
	}
	buf := make([]byte, n)
	read, err := f.Backend.Read(buf)
	if err != nil {
		return 0, err
	}
	if err := s.Mem.WriteSlice(buf[:read], req.Pid, addr); err != nil {
		return 0, err
	}
	return int64(read), nil
}

// Write implements write(fd, buf, n): stdout/stderr capture into their log
// buffers; everything else writes through the backend, up to 4 KiB.
func Write(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	addr := req.Args[1]
	n := req.Args[2]
	if n > maxIOChunk {
		n = maxIOChunk
	}

	buf := make([]byte, n)
	if err := s.Mem.ReadSlice(buf, req.Pid, addr); err != nil {
		return 0, err
	}

	switch fd {
	case stdoutFd:
		s.Stdout.Write(buf)
		return int64(len(buf)), nil
	case stderrFd:
		s.Stderr.Write(buf)
		return int64(len(buf)), nil
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	written, err := f.Backend.Write(buf)
	if err != nil {
		return 0, err
	}
	return int64(written), nil
}

type iovec struct {
	Base uint64
	Len  uint64
}

const maxIovecs = 16

func readIovecs(s *supervisor.Supervisor, req notif.Request, addr uint64, count uint64) ([]iovec, error) {
	if count > maxIovecs {
		count = maxIovecs
	}
	out := make([]iovec, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := readIovecAt(s, req.Pid, addr+i*16)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readIovecAt(s *supervisor.Supervisor, pid uint32, addr uint64) (iovec, error) {
	buf := make([]byte, 16)
	if err := s.Mem.ReadSlice(buf, pid, addr); err != nil {
		return iovec{}, err
	}
	return iovec{
		Base: leUint64(buf[0:8]),
		Len:  leUint64(buf[8:16]),
	}, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// readUint64At reads a single little-endian uint64 field out of guest
// memory, for pulling individual struct msghdr fields (msg_iov,
// msg_iovlen) without modeling the whole struct.
func readUint64At(s *supervisor.Supervisor, pid uint32, addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	if err := s.Mem.ReadSlice(buf, pid, addr); err != nil {
		return 0, err
	}
	return leUint64(buf), nil
}

// Readv implements readv, scattering into up to 16 iovecs totaling <= 4 KiB.
func Readv(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	if fd == stdinFd {
		return 0, dispatch.ErrContinue
	}

	iovecs, err := readIovecs(s, req, req.Args[1], req.Args[2])
	if err != nil {
		return 0, err
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	var total int64
	remaining := int64(maxIOChunk)
	for _, v := range iovecs {
		if remaining <= 0 {
			break
		}
		want := v.Len
		if int64(want) > remaining {
			want = uint64(remaining)
		}
		buf := make([]byte, want)
		n, err := f.Backend.Read(buf)
		if err != nil {
			return total, err
		}
		if err := s.Mem.WriteSlice(buf[:n], req.Pid, v.Base); err != nil {
			return total, err
		}
		total += int64(n)
		remaining -= int64(n)
		if n < int(want) {
			break
		}
	}
	return total, nil
}

// Writev implements writev, gathering from up to 16 iovecs totaling <= 4 KiB.
func Writev(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])

	iovecs, err := readIovecs(s, req, req.Args[1], req.Args[2])
	if err != nil {
		return 0, err
	}

	var chunks [][]byte
	remaining := int64(maxIOChunk)
	for _, v := range iovecs {
		if remaining <= 0 {
			break
		}
		want := v.Len
		if int64(want) > remaining {
			want = uint64(remaining)
		}
		buf := make([]byte, want)
		if err := s.Mem.ReadSlice(buf, req.Pid, v.Base); err != nil {
			return 0, err
		}
		chunks = append(chunks, buf)
		remaining -= int64(want)
	}

	switch fd {
	case stdoutFd, stderrFd:
		var total int64
		buf := logBuf(s, fd)
		for _, c := range chunks {
			buf.Write(c)
			total += int64(len(c))
		}
		return total, nil
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	var total int64
	for _, c := range chunks {
		n, err := f.Backend.Write(c)
		if err != nil {
			return total, err
		}
		total += int64(n)
	}
	return total, nil
}

func logBuf(s *supervisor.Supervisor, fd int) interface{ Write([]byte) (int, error) } {
	if fd == stdoutFd {
		return s.Stdout
	}
	return s.Stderr
}

// Lseek implements lseek(fd, off, whence): stdio is a pipe-like object and
// always fails SPIPE; otherwise dispatched to the backend.
func Lseek(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	if isStdio(fd) {
		return 0, errs.New(errs.SPIPE)
	}
	offset := int64(req.Args[1])
	whence := int(req.Args[2])
	if whence < unix.SEEK_SET || whence > unix.SEEK_END {
		return 0, errs.New(errs.INVAL)
	}
	if whence == unix.SEEK_SET && offset < 0 {
		return 0, errs.New(errs.INVAL)
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	n, err := f.Backend.Lseek(offset, whence)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Getdents64 implements getdents64(fd, buf, n). Proc/cow/tmp directories
// consult tombstones/namespace under the supervisor lock; passthrough
// directories are read outside the lock.
func Getdents64(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	addr := req.Args[1]
	n := req.Args[2]
	if isStdio(fd) {
		return 0, dispatch.ErrContinue
	}
	if n > maxIOChunk {
		n = maxIOChunk
	}

	s.Lock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		s.Unlock()
		return 0, errs.New(errs.SRCH)
	}
	f, err := t.FdTable.GetRef(fd)
	if err != nil {
		s.Unlock()
		return 0, err
	}

	var (
		read int
		buf  = make([]byte, n)
	)
	switch f.Backend.Kind() {
	case vfile.Cow, vfile.Tmp, vfile.Proc:
		read, err = f.Backend.Getdents64(buf)
		s.Unlock()
	default:
		s.Unlock()
		read, err = f.Backend.Getdents64(buf)
	}
	f.Unref()
	if err != nil {
		return 0, err
	}

	if err := s.Mem.WriteSlice(buf[:read], req.Pid, addr); err != nil {
		return 0, err
	}
	return int64(read), nil
}
