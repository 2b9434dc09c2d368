package backend

import "encoding/binary"

// filterDirents drops getdents64 records whose name fails keep, preserving
// the kernel's packed record layout (ino uint64, off int64, reclen uint16,
// type uint8, NUL-terminated name) for every record it keeps. This is how
// cow/tmp directories apply tombstone visibility on top of a real
// getdents64 call.
func filterDirents(buf []byte, keep func(name string) bool) []byte {
	out := make([]byte, 0, len(buf))
	off := 0
	for off+19 <= len(buf) {
		reclen := int(binary.LittleEndian.Uint16(buf[off+16 : off+18]))
		if reclen < 19 || off+reclen > len(buf) {
			break
		}
		nameField := buf[off+19 : off+reclen]
		nameLen := 0
		for nameLen < len(nameField) && nameField[nameLen] != 0 {
			nameLen++
		}
		name := string(nameField[:nameLen])

		if name == "." || name == ".." || keep(name) {
			out = append(out, buf[off:off+reclen]...)
		}
		off += reclen
	}
	return out
}

// encodeDirent builds a single packed getdents64 record for a synthetic
// (proc) directory entry, in the same layout filterDirents parses.
func encodeDirent(ino uint64, off int64, typ uint8, name string) []byte {
	reclen := 19 + len(name) + 1
	if pad := reclen % 8; pad != 0 {
		reclen += 8 - pad
	}
	rec := make([]byte, reclen)
	binary.LittleEndian.PutUint64(rec[0:8], ino)
	binary.LittleEndian.PutUint64(rec[8:16], uint64(off))
	binary.LittleEndian.PutUint16(rec[16:18], uint16(reclen))
	rec[18] = typ
	copy(rec[19:], name)
	return rec
}
