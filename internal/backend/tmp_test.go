package backend

import (
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tnachen/bVisor-sub000/internal/overlay"
	"github.com/tnachen/bVisor-sub000/internal/tombstone"
	"github.com/tnachen/bVisor-sub000/internal/vfile"
)

type TmpTest struct {
	suite.Suite
	ov *overlay.Overlay
}

func TestTmpSuite(t *testing.T) {
	suite.Run(t, new(TmpTest))
}

func (t *TmpTest) SetupTest() {
	t.ov = overlay.New(t.T().TempDir(), tombstone.New())
}

func (t *TmpTest) TestWriteThenReadHasNoHostCounterpart() {
	guestPath := "/tmp/scratch"
	tm, err := OpenTmp(t.ov, guestPath, os.O_RDWR|os.O_CREATE, 0644)
	t.Require().NoError(err)
	defer tm.Close()

	_, err = tm.Write([]byte("private"))
	t.Require().NoError(err)
	_, err = tm.Lseek(0, os.SEEK_SET)
	t.Require().NoError(err)

	buf := make([]byte, 16)
	n, err := tm.Read(buf)
	t.Require().NoError(err)
	t.Equal("private", string(buf[:n]))

	_, statErr := os.Stat(guestPath)
	t.True(os.IsNotExist(statErr))
}

func (t *TmpTest) TestKindIsTmp() {
	tm, err := OpenTmp(t.ov, "/tmp/x", os.O_RDWR|os.O_CREATE, 0644)
	t.Require().NoError(err)
	defer tm.Close()
	t.Equal(vfile.Tmp, tm.Kind())
}
