package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tnachen/bVisor-sub000/internal/overlay"
	"github.com/tnachen/bVisor-sub000/internal/tombstone"
)

type CowTest struct {
	suite.Suite
	guestRoot string
	ov        *overlay.Overlay
}

func TestCowSuite(t *testing.T) {
	suite.Run(t, new(CowTest))
}

func (t *CowTest) SetupTest() {
	t.guestRoot = t.T().TempDir()
	t.ov = overlay.New(t.T().TempDir(), tombstone.New())
}

func (t *CowTest) guestPath(rel string) string {
	return filepath.Join(t.guestRoot, rel)
}

func (t *CowTest) TestReadOnlyOpenReadsThroughToRealFile() {
	src := t.guestPath("a.txt")
	require.NoError(t.T(), os.WriteFile(src, []byte("real-content"), 0644))

	c, err := OpenCow(t.ov, src, os.O_RDONLY, 0)
	t.Require().NoError(err)
	defer c.Close()

	buf := make([]byte, 32)
	n, err := c.Read(buf)
	t.Require().NoError(err)
	t.Equal("real-content", string(buf[:n]))
	t.False(t.ov.CowExists(src))
}

func (t *CowTest) TestFirstWriteAgainstReadThroughTriggersCopyUp() {
	src := t.guestPath("b.txt")
	require.NoError(t.T(), os.WriteFile(src, []byte("original"), 0644))

	c, err := OpenCow(t.ov, src, os.O_RDONLY, 0)
	t.Require().NoError(err)
	defer c.Close()

	_, err = c.Lseek(0, os.SEEK_END)
	t.Require().NoError(err)
	_, err = c.Write([]byte("-appended"))
	t.Require().NoError(err)

	t.True(t.ov.CowExists(src))

	realContent, err := os.ReadFile(src)
	t.Require().NoError(err)
	t.Equal("original", string(realContent), "the real host file must never be mutated")

	shadow, err := os.ReadFile(t.ov.HostCowPath(src))
	t.Require().NoError(err)
	t.Equal("original-appended", string(shadow))
}

func (t *CowTest) TestOpenWithCreateFlagCopiesUpImmediately() {
	dst := t.guestPath("new.txt")
	c, err := OpenCow(t.ov, dst, os.O_RDWR|os.O_CREATE, 0644)
	t.Require().NoError(err)
	defer c.Close()

	t.True(t.ov.CowExists(dst))
}

func (t *CowTest) TestGetdents64FiltersTombstonedChildren() {
	dir := t.guestPath("dir")
	require.NoError(t.T(), os.Mkdir(dir, 0755))
	require.NoError(t.T(), os.WriteFile(filepath.Join(dir, "visible"), []byte("x"), 0644))
	require.NoError(t.T(), os.WriteFile(filepath.Join(dir, "gone"), []byte("x"), 0644))

	c, err := OpenCow(t.ov, dir, os.O_RDONLY, 0)
	t.Require().NoError(err)
	defer c.Close()

	t.ov.Unlink(filepath.Join(dir, "gone"), t.ov.HostCowPath(filepath.Join(dir, "gone")))

	buf := make([]byte, 4096)
	n, err := c.Getdents64(buf)
	t.Require().NoError(err)
	names := parseNames(buf[:n])
	t.Contains(names, "visible")
	t.NotContains(names, "gone")
}
