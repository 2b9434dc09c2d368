package backend

import (
	"encoding/binary"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"golang.org/x/sys/unix"
)

// parseSockaddr decodes the raw guest-supplied sockaddr bytes (already
// copied out of guest memory by the handler) into a unix.Sockaddr. Only
// AF_UNIX and AF_INET are understood; anything else is rejected, matching
// this backend's fixed surface (sockets are not a general networking
// stack, just enough to support pipe/socketpair-style transfer).
func parseSockaddr(addr []byte) (unix.Sockaddr, error) {
	if len(addr) < 2 {
		return nil, errs.New(errs.INVAL)
	}
	family := binary.LittleEndian.Uint16(addr[0:2])
	switch family {
	case unix.AF_UNIX:
		path := addr[2:]
		n := 0
		for n < len(path) && path[n] != 0 {
			n++
		}
		return &unix.SockaddrUnix{Name: string(path[:n])}, nil
	case unix.AF_INET:
		if len(addr) < 8 {
			return nil, errs.New(errs.INVAL)
		}
		sa := &unix.SockaddrInet4{
			Port: int(binary.BigEndian.Uint16(addr[2:4])),
		}
		copy(sa.Addr[:], addr[4:8])
		return sa, nil
	default:
		return nil, errs.New(errs.NOTSOCK)
	}
}

// encodeSockaddr is the inverse of parseSockaddr, for recvfrom replies.
func encodeSockaddr(sa unix.Sockaddr) []byte {
	switch v := sa.(type) {
	case *unix.SockaddrUnix:
		buf := make([]byte, 2+len(v.Name)+1)
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_UNIX)
		copy(buf[2:], v.Name)
		return buf
	case *unix.SockaddrInet4:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(v.Port))
		copy(buf[4:8], v.Addr[:])
		return buf
	default:
		return nil
	}
}
