package router

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

type RouterTest struct {
	suite.Suite
	policy Policy
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTest))
}

func (t *RouterTest) SetupTest() {
	t.policy = Policy{
		BlockedPrefixes:     []string{"/sys", "/tmp/.bvisor-overlay"},
		PassthroughPrefixes: []string{"/dev"},
		ProcPrefix:          "/proc",
		TmpPrefix:           "/tmp",
	}
}

func (t *RouterTest) TestBlockedPrefixWins() {
	out, err := t.policy.Route("/", "/sys/kernel/foo")
	t.Require().NoError(err)
	t.True(out.Blocked)
}

func (t *RouterTest) TestProcPrefixRoutesToProcBackend() {
	out, err := t.policy.Route("/", "/proc/1/status")
	t.Require().NoError(err)
	t.False(out.Blocked)
	t.Equal(BackendProc, out.Backend)
}

func (t *RouterTest) TestTmpPrefixRoutesToTmpBackend() {
	out, err := t.policy.Route("/", "/tmp/x")
	t.Require().NoError(err)
	t.Equal(BackendTmp, out.Backend)
}

func (t *RouterTest) TestPassthroughPrefixRoutesToPassthroughBackend() {
	out, err := t.policy.Route("/", "/dev/null")
	t.Require().NoError(err)
	t.Equal(BackendPassthrough, out.Backend)
}

func (t *RouterTest) TestEverythingElseRoutesToCow() {
	out, err := t.policy.Route("/", "/home/guest/file.txt")
	t.Require().NoError(err)
	t.Equal(BackendCow, out.Backend)
}

func (t *RouterTest) TestRelativePathJoinsBase() {
	out, err := t.policy.Route("/home/guest", "sub/file.txt")
	t.Require().NoError(err)
	t.Equal("/home/guest/sub/file.txt", out.Normalized)
}

func (t *RouterTest) TestAbsolutePathIgnoresBase() {
	out, err := t.policy.Route("/home/guest", "/tmp/x")
	t.Require().NoError(err)
	t.Equal("/tmp/x", out.Normalized)
}

func (t *RouterTest) TestDotDotIsCleaned() {
	out, err := t.policy.Route("/", "/home/guest/../other")
	t.Require().NoError(err)
	t.Equal("/home/other", out.Normalized)
}

func (t *RouterTest) TestEmptyPathIsNoent() {
	_, err := t.policy.Route("/", "")
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.NOENT, e.Kind)
}

func (t *RouterTest) TestOverlongPathIsNametoolong() {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	_, err := t.policy.Route("/", "/"+string(long))
	t.Require().Error(err)
	var e *errs.Error
	t.Require().ErrorAs(err, &e)
	t.Equal(errs.NAMETOOLONG, e.Kind)
}

func (t *RouterTest) TestRoutingIsIdempotent() {
	out1, err1 := t.policy.Route("/", "/proc/1/cwd")
	t.Require().NoError(err1)
	out2, err2 := t.policy.Route("/", out1.Normalized)
	t.Require().NoError(err2)
	t.Equal(out1, out2)
}

func (t *RouterTest) TestPrefixMatchDoesNotMatchSimilarSiblingName() {
	// "/tmpfoo" must not be treated as under "/tmp".
	out, err := t.policy.Route("/", "/tmpfoo/file")
	t.Require().NoError(err)
	t.NotEqual(BackendTmp, out.Backend)
}
