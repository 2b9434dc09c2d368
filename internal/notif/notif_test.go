package notif

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

type NotifTest struct {
	suite.Suite
}

func TestNotifSuite(t *testing.T) {
	suite.Run(t, new(NotifTest))
}

func (t *NotifTest) TestSuccessCarriesValueAndNoError() {
	r := Success(42, 7)
	t.Equal(uint64(42), r.ID)
	t.EqualValues(7, r.Value)
	t.Zero(r.Error)
	t.Zero(r.Flags)
}

func (t *NotifTest) TestFailCarriesErrnoNotKind() {
	r := Fail(9, errs.BADF)
	t.Equal(uint64(9), r.ID)
	t.EqualValues(errs.BADF.Errno(), r.Error)
	t.Zero(r.Value)
}

func (t *NotifTest) TestContinueSetsFlagOnly() {
	r := Continue(3)
	t.Equal(uint64(3), r.ID)
	t.Equal(FlagContinue, r.Flags&FlagContinue)
	t.Zero(r.Error)
	t.Zero(r.Value)
}

func (t *NotifTest) TestResponsesAreMutuallyDistinguishable() {
	// A well-formed Response is exactly one of success, error, or continue:
	// never both a nonzero Error and the continue flag.
	ok := Success(1, 0)
	t.Zero(ok.Flags & FlagContinue)
	fail := Fail(1, errs.IO)
	t.Zero(fail.Flags & FlagContinue)
	cont := Continue(1)
	t.Zero(cont.Error)
}
