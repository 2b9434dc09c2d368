package membridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

type MembridgeTest struct {
	suite.Suite
	root string
	tid  uint32
}

func TestMembridgeSuite(t *testing.T) {
	suite.Run(t, new(MembridgeTest))
}

func (t *MembridgeTest) SetupTest() {
	t.root = t.T().TempDir()
	t.tid = 4242
	dir := filepath.Join(t.root, "4242")
	require.NoError(t.T(), os.MkdirAll(dir, 0755))
	// A plain regular file stands in for /proc/<tid>/mem: ReadAt/WriteAt at
	// arbitrary offsets behave the same way the real mem file does for the
	// offsets this bridge ever issues.
	f, err := os.OpenFile(filepath.Join(dir, "mem"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t.T(), err)
	require.NoError(t.T(), f.Truncate(4096))
	require.NoError(t.T(), f.Close())
}

func (t *MembridgeTest) TestWriteThenReadSliceRoundTrips() {
	b := NewWithRoot(t.root)
	want := []byte("hello from the guest")
	t.Require().NoError(b.WriteSlice(want, t.tid, 16))

	got := make([]byte, len(want))
	t.Require().NoError(b.ReadSlice(got, t.tid, 16))
	t.Equal(want, got)
}

func (t *MembridgeTest) TestReadStringStopsAtNUL() {
	b := NewWithRoot(t.root)
	payload := []byte("cstring\x00trailing-garbage")
	t.Require().NoError(b.WriteSlice(payload, t.tid, 0))

	buf := make([]byte, 64)
	got, err := b.ReadString(buf, t.tid, 0)
	t.Require().NoError(err)
	t.Equal("cstring", string(got))
}

func (t *MembridgeTest) TestUnknownTidIsSRCH() {
	b := NewWithRoot(t.root)
	buf := make([]byte, 4)
	err := b.ReadSlice(buf, 99999, 0)
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.SRCH, e.Kind)
}

func (t *MembridgeTest) TestOversizeTransferIsINVAL() {
	b := NewWithRoot(t.root)
	buf := make([]byte, maxCopyBytes+1)
	err := b.ReadSlice(buf, t.tid, 0)
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.INVAL, e.Kind)
}

func (t *MembridgeTest) TestGenericReadWriteRoundTripsAStruct() {
	type point struct {
		X int32
		Y int32
	}
	b := NewWithRoot(t.root)
	want := point{X: -7, Y: 99}
	t.Require().NoError(Write(b, t.tid, want, 512))

	got, err := Read[point](b, t.tid, 512)
	t.Require().NoError(err)
	t.Equal(want, got)
}

func (t *MembridgeTest) TestZeroLengthSliceOpsAreNoops() {
	b := NewWithRoot(t.root)
	t.NoError(b.WriteSlice(nil, t.tid, 0))
	t.NoError(b.ReadSlice(nil, t.tid, 0))
}
