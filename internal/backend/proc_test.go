package backend

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

type ProcTest struct {
	suite.Suite
}

func TestProcSuite(t *testing.T) {
	suite.Run(t, new(ProcTest))
}

func (t *ProcTest) TestReadReturnsContentThenEOFZero() {
	p := NewProc("/proc/1/status", []byte("Name:\tinit\n"))
	buf := make([]byte, 64)
	n, err := p.Read(buf)
	t.Require().NoError(err)
	t.Equal("Name:\tinit\n", string(buf[:n]))

	n, err = p.Read(buf)
	t.Require().NoError(err)
	t.Zero(n)
}

func (t *ProcTest) TestReadRespectsPartialBuffer() {
	p := NewProc("/x", []byte("0123456789"))
	buf := make([]byte, 4)
	n, err := p.Read(buf)
	t.Require().NoError(err)
	t.Equal("0123", string(buf[:n]))

	n, err = p.Read(buf)
	t.Require().NoError(err)
	t.Equal("4567", string(buf[:n]))
}

func (t *ProcTest) TestWriteIsAlwaysIO() {
	p := NewProc("/x", nil)
	_, err := p.Write([]byte("nope"))
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.IO, e.Kind)
}

func (t *ProcTest) TestLseekSetCurEnd() {
	p := NewProc("/x", []byte("0123456789"))

	off, err := p.Lseek(3, unix.SEEK_SET)
	t.Require().NoError(err)
	t.EqualValues(3, off)

	off, err = p.Lseek(2, unix.SEEK_CUR)
	t.Require().NoError(err)
	t.EqualValues(5, off)

	off, err = p.Lseek(-1, unix.SEEK_END)
	t.Require().NoError(err)
	t.EqualValues(9, off)
}

func (t *ProcTest) TestLseekNegativeResultIsInval() {
	p := NewProc("/x", []byte("short"))
	_, err := p.Lseek(-100, unix.SEEK_END)
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.INVAL, e.Kind)
}

func (t *ProcTest) TestLseekUnknownWhenceIsInval() {
	p := NewProc("/x", []byte("short"))
	_, err := p.Lseek(0, 99)
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.INVAL, e.Kind)
}

func (t *ProcTest) TestStatxReportsDirForDirBackend() {
	p := NewProcDir("/proc", []ProcDirent{{Name: "1", Type: unix.DT_DIR}})
	st, err := p.Statx()
	t.Require().NoError(err)
	t.Equal(uint16(unix.S_IFDIR|0o555), st.Mode)
}

func (t *ProcTest) TestStatxReportsRegForFileBackend() {
	p := NewProc("/proc/1/status", []byte("x"))
	st, err := p.Statx()
	t.Require().NoError(err)
	t.Equal(uint16(unix.S_IFREG|0o444), st.Mode)
	t.EqualValues(1, st.Size)
}

func (t *ProcTest) TestGetdents64EncodesEveryEntry() {
	p := NewProcDir("/proc", []ProcDirent{
		{Name: "1", Type: unix.DT_DIR},
		{Name: "2", Type: unix.DT_DIR},
	})
	buf := make([]byte, 256)
	n, err := p.Getdents64(buf)
	t.Require().NoError(err)
	t.Equal([]string{"1", "2"}, parseNames(buf[:n]))
}

func (t *ProcTest) TestSocketOpsAreNotsock() {
	p := NewProc("/x", nil)
	_, err := p.RecvFrom(nil)
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.NOTSOCK, e.Kind)
}
