// Package supervisor implements the central coordination object: a single
// mutex guarding the thread registry, every thread's fd table, the overlay,
// and tombstones, with File refcounting and backend I/O kept lock-free. A
// single struct embeds syncutil.InvariantMutex and owns every mutable piece
// of the sandboxed filesystem's state; it is the sole lock acquired by
// every op handler.
package supervisor

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"

	"github.com/tnachen/bVisor-sub000/clock"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/kchannel"
	"github.com/tnachen/bVisor-sub000/internal/logbuf"
	"github.com/tnachen/bVisor-sub000/internal/membridge"
	"github.com/tnachen/bVisor-sub000/internal/overlay"
	"github.com/tnachen/bVisor-sub000/internal/procns"
	"github.com/tnachen/bVisor-sub000/internal/router"
	"github.com/tnachen/bVisor-sub000/internal/tombstone"
)

// Supervisor owns every piece of mutable sandbox state and the single
// mutex that guards it.
type Supervisor struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	threads *procns.Registry
	// GUARDED_BY(mu)
	tombstones *tombstone.Set

	// Overlay's existence predicates and mutators are also under mu; its
	// path-computation helpers are pure and need no lock.
	Overlay *overlay.Overlay
	Policy  router.Policy

	Stdout *logbuf.Buffer
	Stderr *logbuf.Buffer

	Mem *membridge.Bridge

	Channel kchannel.Channel

	NamespaceUID string
	StartTime    time.Time
	clock        clock.Clock

	Log *slog.Logger

	maxFds int
}

// Config bundles the construction-time parameters of a Supervisor.
type Config struct {
	OverlayRoot string
	Policy      router.Policy
	Channel     kchannel.Channel
	Clock       clock.Clock
	Log         *slog.Logger
	MaxFds      int
}

// New constructs a Supervisor with an empty overlay/tombstone state and a
// fresh thread registry, stamping its start time from cfg.Clock.
func New(cfg Config) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	ts := tombstone.New()
	s := &Supervisor{
		threads:      procns.New(cfg.MaxFds),
		tombstones:   ts,
		Overlay:      overlay.New(cfg.OverlayRoot, ts),
		Policy:       cfg.Policy,
		Stdout:       logbuf.New(),
		Stderr:       logbuf.New(),
		Mem:          membridge.New(),
		Channel:      cfg.Channel,
		NamespaceUID: uuid.NewString(),
		StartTime:    cfg.Clock.Now(),
		clock:        cfg.Clock,
		Log:          cfg.Log,
		maxFds:       cfg.MaxFds,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

// checkInvariants is consulted by the InvariantMutex on lock/unlock in
// builds compiled with the appropriate syncutil tag. Its body is empty: no
// invariant (such as every registered Thread being present in its own
// namespace's tid mapping) is verified.
func (s *Supervisor) checkInvariants() {
}

// Uptime returns the duration since the supervisor started, for
// sysinfo(2).
func (s *Supervisor) Uptime() time.Duration {
	return s.clock.Now().Sub(s.StartTime)
}

// Lock acquires the single coordination mutex. Every access to the thread
// registry, a thread's fd table, a file's mutable fields (other than
// refcount), tombstones, or overlay existence predicates/mutators must
// happen between Lock and Unlock.
func (s *Supervisor) Lock() {
	s.mu.Lock()
}

// Unlock releases the single coordination mutex.
func (s *Supervisor) Unlock() {
	s.mu.Unlock()
}

// Threads returns the thread registry. Callers must hold the supervisor
// lock for any operation beyond taking a reference to the registry itself.
func (s *Supervisor) Threads() *procns.Registry {
	return s.threads
}

// Tombstones returns the tombstone set. Callers must hold the supervisor
// lock.
func (s *Supervisor) Tombstones() *tombstone.Set {
	return s.tombstones
}

// GetThread resolves absTid under the supervisor lock, translating an
// unknown caller into errs.SRCH, as every handler's contract requires: an
// unknown caller tid always yields SRCH.
func (s *Supervisor) GetThread(absTid int) (*procns.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.threads.Get(absTid)
	if err != nil {
		return nil, errs.New(errs.SRCH)
	}
	return t, nil
}
