package backend

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type DirentTest struct {
	suite.Suite
}

func TestDirentSuite(t *testing.T) {
	suite.Run(t, new(DirentTest))
}

// parseNames extracts the name field of every record in buf, mirroring
// enough of filterDirents's own parsing to check round-trips independently.
func parseNames(buf []byte) []string {
	var names []string
	off := 0
	for off+19 <= len(buf) {
		reclen := int(buf[off+16]) | int(buf[off+17])<<8
		if reclen < 19 || off+reclen > len(buf) {
			break
		}
		nameField := buf[off+19 : off+reclen]
		n := 0
		for n < len(nameField) && nameField[n] != 0 {
			n++
		}
		names = append(names, string(nameField[:n]))
		off += reclen
	}
	return names
}

func (t *DirentTest) TestEncodeThenParseRoundTripsName() {
	rec := encodeDirent(7, 0, 8, "status")
	t.Equal([]string{"status"}, parseNames(rec))
}

func (t *DirentTest) TestEncodeRecordLengthIsEightByteAligned() {
	rec := encodeDirent(1, 0, 4, "fd")
	t.Zero(len(rec) % 8)
}

func (t *DirentTest) TestFilterDirentsAlwaysKeepsDotEntries() {
	buf := append(encodeDirent(1, 0, 4, "."), encodeDirent(2, 0, 4, "..")...)
	buf = append(buf, encodeDirent(3, 0, 8, "hidden")...)

	out := filterDirents(buf, func(name string) bool { return false })
	t.Equal([]string{".", ".."}, parseNames(out))
}

func (t *DirentTest) TestFilterDirentsDropsRejectedNames() {
	buf := append(encodeDirent(1, 0, 8, "keepme"), encodeDirent(2, 0, 8, "dropme")...)

	out := filterDirents(buf, func(name string) bool { return name == "keepme" })
	t.Equal([]string{"keepme"}, parseNames(out))
}

func (t *DirentTest) TestFilterDirentsPreservesOrder() {
	var buf []byte
	for _, n := range []string{"a", "b", "c"} {
		buf = append(buf, encodeDirent(1, 0, 8, n)...)
	}
	out := filterDirents(buf, func(string) bool { return true })
	t.Equal([]string{"a", "b", "c"}, parseNames(out))
}
