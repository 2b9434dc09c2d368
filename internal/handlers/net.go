package handlers

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/backend"
	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/notif"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

func registerNet(t dispatch.Table) {
	t[unix.SYS_SOCKET] = Socket
	t[unix.SYS_SOCKETPAIR] = Socketpair
	t[unix.SYS_PIPE2] = Pipe2
	t[unix.SYS_CONNECT] = Connect
	t[unix.SYS_SHUTDOWN] = Shutdown
	t[unix.SYS_RECVFROM] = Recvfrom
	t[unix.SYS_RECVMSG] = Recvmsg
	t[unix.SYS_SENDTO] = Sendto
	t[unix.SYS_SENDMSG] = Sendmsg
}

func installFd(s *supervisor.Supervisor, req notif.Request, f *vfile.File, cloexec bool) (int64, error) {
	s.Lock()
	defer s.Unlock()
	t, err := s.Threads().Get(int(req.Pid))
	if err != nil {
		return 0, errs.New(errs.SRCH)
	}
	fd, err := t.FdTable.Insert(f, cloexec)
	if err != nil {
		return 0, err
	}
	return int64(fd), nil
}

// Socket implements socket(domain, type, protocol): creates a kernel
// socket and wraps it passthrough.
func Socket(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	domain := int(req.Args[0])
	typ := int(req.Args[1])
	proto := int(req.Args[2])

	cloexec := typ&unix.SOCK_CLOEXEC != 0
	hostFd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return 0, errs.FromErrno(err)
	}
	f := vfile.New(backend.NewPassthrough(osFileFromFd(hostFd)), 0, "")
	return installFd(s, req, f, cloexec)
}

// Socketpair implements socketpair(domain, type, protocol, sv): creates a
// kernel socketpair, wraps both ends passthrough, writes the pair of vfds
// into guest memory at sv.
func Socketpair(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	domain := int(req.Args[0])
	typ := int(req.Args[1])
	proto := int(req.Args[2])
	svAddr := req.Args[3]

	cloexec := typ&unix.SOCK_CLOEXEC != 0
	fds, err := unix.Socketpair(domain, typ, proto)
	if err != nil {
		return 0, errs.FromErrno(err)
	}

	f0 := vfile.New(backend.NewPassthrough(osFileFromFd(fds[0])), 0, "")
	f1 := vfile.New(backend.NewPassthrough(osFileFromFd(fds[1])), 0, "")

	vfd0, err := installFd(s, req, f0, cloexec)
	if err != nil {
		return 0, err
	}
	vfd1, err := installFd(s, req, f1, cloexec)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 8)
	putLE32(buf[0:4], uint32(vfd0))
	putLE32(buf[4:8], uint32(vfd1))
	if err := s.Mem.WriteSlice(buf, req.Pid, svAddr); err != nil {
		return 0, err
	}
	return 0, nil
}

// Pipe2 implements pipe2(pipefd, flags): creates a kernel pipe, wraps both
// ends passthrough, writes the pair of vfds into guest memory.
func Pipe2(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	pipefdAddr := req.Args[0]
	flags := int(req.Args[1])

	cloexec := flags&unix.O_CLOEXEC != 0

	var fds [2]int
	if err := unix.Pipe2(fds[:], flags&^unix.O_CLOEXEC); err != nil {
		return 0, errs.FromErrno(err)
	}

	fr := vfile.New(backend.NewPassthrough(osFileFromFd(fds[0])), unix.O_RDONLY, "")
	fw := vfile.New(backend.NewPassthrough(osFileFromFd(fds[1])), unix.O_WRONLY, "")

	rfd, err := installFd(s, req, fr, cloexec)
	if err != nil {
		return 0, err
	}
	wfd, err := installFd(s, req, fw, cloexec)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 8)
	putLE32(buf[0:4], uint32(rfd))
	putLE32(buf[4:8], uint32(wfd))
	if err := s.Mem.WriteSlice(buf, req.Pid, pipefdAddr); err != nil {
		return 0, err
	}
	return 0, nil
}

// Connect implements connect(fd, addr, addrlen).
func Connect(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	addr := req.Args[1]
	addrlen := req.Args[2]

	if addrlen < 1 || addrlen > 128 {
		return 0, errs.New(errs.INVAL)
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	buf := make([]byte, addrlen)
	if err := s.Mem.ReadSlice(buf, req.Pid, addr); err != nil {
		return 0, err
	}
	if err := f.Backend.Connect(buf); err != nil {
		return 0, err
	}
	return 0, nil
}

// Shutdown implements shutdown(fd, how).
func Shutdown(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	how := int(req.Args[1])

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	if err := f.Backend.Shutdown(how); err != nil {
		return 0, err
	}
	return 0, nil
}

// Recvfrom implements recvfrom(fd, buf, n, flags, src_addr, addrlen).
func Recvfrom(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	bufAddr := req.Args[1]
	n := req.Args[2]
	srcAddr := req.Args[4]
	if n > maxIOChunk {
		n = maxIOChunk
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	buf := make([]byte, n)
	read, from, err := f.Backend.RecvFrom(buf)
	if err != nil {
		return 0, err
	}
	if err := s.Mem.WriteSlice(buf[:read], req.Pid, bufAddr); err != nil {
		return 0, err
	}
	if srcAddr != 0 && len(from) > 0 {
		s.Mem.WriteSlice(from, req.Pid, srcAddr) //nolint:errcheck // best-effort address echo
	}
	return int64(read), nil
}

// msghdrIovecs reads struct msghdr's msg_iov/msg_iovlen fields (offsets 16
// and 24 in the x86-64 layout) and resolves them to the underlying iovec
// array, ignoring msg_name/msg_control: this supervisor never needs SCM
// credential or fd passing for any syscall it virtualizes.
func msghdrIovecs(s *supervisor.Supervisor, req notif.Request, msgAddr uint64) ([]iovec, error) {
	msgIovPtr, err := readUint64At(s, req.Pid, msgAddr+16)
	if err != nil {
		return nil, err
	}
	msgIovLen, err := readUint64At(s, req.Pid, msgAddr+24)
	if err != nil {
		return nil, err
	}
	return readIovecs(s, req, msgIovPtr, msgIovLen)
}

// Recvmsg implements recvmsg(fd, msg, flags): one receive sized to the
// combined length of every iovec in msg_iov (up to 16 iovecs, 4 KiB total),
// scattered across those iovecs in order afterward — the same gather/
// scatter shape as Readv/Writev, applied to a socket recvfrom instead of a
// plain read so a single underlying message is split correctly across
// however many iovecs the guest supplied.
func Recvmsg(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	msgAddr := req.Args[1]

	iovecs, err := msghdrIovecs(s, req, msgAddr)
	if err != nil {
		return 0, err
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	var total uint64
	for _, v := range iovecs {
		total += v.Len
	}
	if total > maxIOChunk {
		total = maxIOChunk
	}

	buf := make([]byte, total)
	read, _, err := f.Backend.RecvFrom(buf)
	if err != nil {
		return 0, err
	}
	buf = buf[:read]

	var written int64
	for _, v := range iovecs {
		if len(buf) == 0 {
			break
		}
		n := int(v.Len)
		if n > len(buf) {
			n = len(buf)
		}
		if err := s.Mem.WriteSlice(buf[:n], req.Pid, v.Base); err != nil {
			return written, err
		}
		buf = buf[n:]
		written += int64(n)
	}
	return written, nil
}

// Sendto implements sendto(fd, buf, n, flags, dest_addr, addrlen).
func Sendto(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	bufAddr := req.Args[1]
	n := req.Args[2]
	destAddr := req.Args[4]
	addrlen := req.Args[5]
	if n > maxIOChunk {
		n = maxIOChunk
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	buf := make([]byte, n)
	if err := s.Mem.ReadSlice(buf, req.Pid, bufAddr); err != nil {
		return 0, err
	}

	var addrBuf []byte
	if destAddr != 0 && addrlen > 0 {
		addrBuf = make([]byte, addrlen)
		if err := s.Mem.ReadSlice(addrBuf, req.Pid, destAddr); err != nil {
			return 0, err
		}
	}

	written, err := f.Backend.SendTo(buf, addrBuf)
	if err != nil {
		return 0, err
	}
	return int64(written), nil
}

// Sendmsg implements sendmsg(fd, msg, flags): gathers every iovec in
// msg_iov (up to 16 iovecs, 4 KiB total) from guest memory into one
// contiguous buffer and issues a single send, the same gather shape
// Writev uses to combine several iovecs into one write.
func Sendmsg(ctx context.Context, s *supervisor.Supervisor, req notif.Request) (int64, error) {
	fd := int(req.Args[0])
	msgAddr := req.Args[1]

	iovecs, err := msghdrIovecs(s, req, msgAddr)
	if err != nil {
		return 0, err
	}

	f, err := borrowFile(s, req, fd)
	if err != nil {
		return 0, err
	}
	defer f.Unref()

	var buf []byte
	remaining := int64(maxIOChunk)
	for _, v := range iovecs {
		if remaining <= 0 {
			break
		}
		want := v.Len
		if int64(want) > remaining {
			want = uint64(remaining)
		}
		chunk := make([]byte, want)
		if err := s.Mem.ReadSlice(chunk, req.Pid, v.Base); err != nil {
			return 0, err
		}
		buf = append(buf, chunk...)
		remaining -= int64(want)
	}

	written, err := f.Backend.SendTo(buf, nil)
	if err != nil {
		return 0, err
	}
	return int64(written), nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
