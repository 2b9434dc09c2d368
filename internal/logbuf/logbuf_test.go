package logbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LogbufTest struct {
	suite.Suite
}

func TestLogbufSuite(t *testing.T) {
	suite.Run(t, new(LogbufTest))
}

func (t *LogbufTest) TestWriteThenReadDrainsExactBytes() {
	b := New()
	n, err := b.Write([]byte("hello "))
	t.Require().NoError(err)
	t.Equal(6, n)
	_, _ = b.Write([]byte("world"))

	t.Equal("hello world", string(b.Read()))
}

func (t *LogbufTest) TestReadDrainsOnlySinceLastRead() {
	b := New()
	_, _ = b.Write([]byte("first"))
	t.Equal("first", string(b.Read()))
	t.Empty(b.Read())

	_, _ = b.Write([]byte("second"))
	t.Equal("second", string(b.Read()))
}

func (t *LogbufTest) TestWriteAlwaysSucceeds() {
	b := New()
	_, err := b.Write(nil)
	t.NoError(err)
	_, err = b.Write([]byte{})
	t.NoError(err)
}

func (t *LogbufTest) TestConcurrentWritesDoNotRace() {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Write([]byte("x"))
		}()
	}
	wg.Wait()
	t.Len(b.Read(), 50)
}
