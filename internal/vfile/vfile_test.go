package vfile

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

// fakeBackend is a minimal Backend stub that counts Close calls, so tests
// can assert Unref releases it exactly once.
type fakeBackend struct {
	closes int
}

func (f *fakeBackend) Kind() Kind                       { return Passthrough }
func (f *fakeBackend) Read(buf []byte) (int, error)     { return 0, nil }
func (f *fakeBackend) Write(buf []byte) (int, error)    { return len(buf), nil }
func (f *fakeBackend) Lseek(int64, int) (int64, error)  { return 0, nil }
func (f *fakeBackend) Statx() (unix.Statx_t, error)      { return unix.Statx_t{}, nil }
func (f *fakeBackend) Getdents64(buf []byte) (int, error) { return 0, nil }
func (f *fakeBackend) Connect(addr []byte) error         { return nil }
func (f *fakeBackend) SendTo(buf, addr []byte) (int, error) { return len(buf), nil }
func (f *fakeBackend) RecvFrom(buf []byte) (int, []byte, error) { return 0, nil, nil }
func (f *fakeBackend) Shutdown(how int) error            { return nil }
func (f *fakeBackend) BackingFd() (int, bool)            { return 0, false }
func (f *fakeBackend) Close() error {
	f.closes++
	return nil
}

type VfileTest struct {
	suite.Suite
}

func TestVfileSuite(t *testing.T) {
	suite.Run(t, new(VfileTest))
}

func (t *VfileTest) TestNewStartsAtRefcountOne() {
	f := New(&fakeBackend{}, 0, "/a")
	t.EqualValues(1, f.RefCount())
}

func (t *VfileTest) TestGetRefIncrementsRefcount() {
	f := New(&fakeBackend{}, 0, "/a")
	f.GetRef()
	t.EqualValues(2, f.RefCount())
}

func (t *VfileTest) TestUnrefDoesNotCloseWhileReferencesRemain() {
	backend := &fakeBackend{}
	f := New(backend, 0, "/a")
	f.GetRef()

	t.Require().NoError(f.Unref())
	t.EqualValues(1, f.RefCount())
	t.Zero(backend.closes)
}

func (t *VfileTest) TestUnrefClosesExactlyOnceAtZero() {
	backend := &fakeBackend{}
	f := New(backend, 0, "/a")
	f.GetRef()
	f.GetRef()

	t.Require().NoError(f.Unref())
	t.Require().NoError(f.Unref())
	t.Require().NoError(f.Unref())

	t.EqualValues(0, f.RefCount())
	t.Equal(1, backend.closes)
}
