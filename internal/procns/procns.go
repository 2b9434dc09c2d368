// Package procns implements the guest thread/namespace registry:
// absolute-tid kernel threads, the PID-namespace tid mappings they're
// visible under, and thread-group parentage. It adapts an inode-generation
// registry shape (a mutex-guarded map keyed by an opaque id, with lazy
// registration of entries the cache has not seen yet and a parent-pointer
// walk for path resolution) from "inode generation number" to
// "PID-namespace-relative tid".
package procns

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/fdtable"
)

// CloneNewPID mirrors the kernel's CLONE_NEWPID flag bit, the one clone
// flag registerChild inspects.
const CloneNewPID = 0x20000000

// FsInfo is a thread's working-directory state, mutated only by
// chdir/fchdir.
type FsInfo struct {
	Cwd string
}

// Namespace is one PID namespace: a depth and the bidirectional tid
// mapping for every thread it contains.
type Namespace struct {
	Depth int

	// Root is the thread that created this namespace (NsTid 1 within it),
	// or nil for the registry's initial root namespace.
	Root *Thread

	// isHostRoot marks the registry's single depth-1 namespace: unlike a
	// CLONE_NEWPID child namespace (whose creator gets synthetic NsTid 1),
	// the host's own root PID namespace shows every thread under its real
	// kernel tid, matching what a process on the bare host sees.
	isHostRoot bool

	toNsTid map[*Thread]int
	fromTid map[int]*Thread
	nextTid int
}

func newNamespace(depth int, root *Thread) *Namespace {
	return &Namespace{
		Depth:   depth,
		Root:    root,
		toNsTid: make(map[*Thread]int),
		fromTid: make(map[int]*Thread),
		nextTid: 1,
	}
}

func newHostRootNamespace() *Namespace {
	ns := newNamespace(1, nil)
	ns.isHostRoot = true
	return ns
}

func (n *Namespace) register(t *Thread) int {
	nsTid := n.nextTid
	if n.isHostRoot {
		nsTid = t.AbsTid
	} else {
		n.nextTid++
	}
	n.toNsTid[t] = nsTid
	n.fromTid[nsTid] = t
	return nsTid
}

func (n *Namespace) remove(t *Thread) {
	if nsTid, ok := n.toNsTid[t]; ok {
		delete(n.fromTid, nsTid)
		delete(n.toNsTid, t)
	}
}

// NsTid returns t's tid as seen inside n, and whether t is a member of n.
func (n *Namespace) NsTid(t *Thread) (int, bool) {
	nsTid, ok := n.toNsTid[t]
	return nsTid, ok
}

// ByNsTid resolves a namespace-relative tid to its Thread.
func (n *Namespace) ByNsTid(nsTid int) (*Thread, bool) {
	t, ok := n.fromTid[nsTid]
	return t, ok
}

// Members returns every thread currently registered in n.
func (n *Namespace) Members() []*Thread {
	out := make([]*Thread, 0, len(n.toNsTid))
	for t := range n.toNsTid {
		out = append(out, t)
	}
	return out
}

// ThreadGroup is a "process": a tgid plus its member threads and an
// optional parent group.
type ThreadGroup struct {
	Tgid    int // AbsTid of the leader thread
	Parent  *ThreadGroup
	members map[int]*Thread // keyed by AbsTid
}

func newThreadGroup(tgid int, parent *ThreadGroup) *ThreadGroup {
	return &ThreadGroup{Tgid: tgid, Parent: parent, members: make(map[int]*Thread)}
}

// Thread is one guest kernel thread known to the supervisor.
type Thread struct {
	AbsTid      int
	ThreadGroup *ThreadGroup
	Namespace   *Namespace
	FdTable     *fdtable.Table
	Fs          *FsInfo

	// ProgramImage is the guest path most recently execve'd into this
	// thread, if any; it backs /proc/<tid>/exe. Empty until the thread's
	// first successful execve.
	ProgramImage string

	state state
}

type state int

const (
	stateRegistered state = iota
	stateRunning
	stateExiting
	stateRemoved
)

// Registry holds every guest thread the supervisor has observed.
type Registry struct {
	byAbsTid map[int]*Thread
	rootNs   *Namespace
	maxFds   int
}

// New returns an empty registry rooted at a single depth-1 namespace.
func New(maxFds int) *Registry {
	r := &Registry{byAbsTid: make(map[int]*Thread), maxFds: maxFds}
	r.rootNs = newHostRootNamespace()
	return r
}

// kernelDescendant reports whether absTid names a process still alive on
// the host, as a proxy for "is this pid a descendant of the sandbox root".
// Actual ancestry filtering by sandbox root pid is the caller's
// responsibility (the dispatch layer knows the root at construction time).
func kernelDescendant(absTid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(absTid)))
	return err == nil
}

// Get resolves absTid to its Thread, lazily registering it as a root
// namespace member if the kernel still has it but the registry does not.
func (r *Registry) Get(absTid int) (*Thread, error) {
	if t, ok := r.byAbsTid[absTid]; ok {
		return t, nil
	}
	if !kernelDescendant(absTid) {
		return nil, errs.New(errs.SRCH)
	}
	t := &Thread{
		AbsTid:    absTid,
		Namespace: r.rootNs,
		FdTable:   fdtable.New(r.maxFds),
		Fs:        &FsInfo{Cwd: "/"},
		state:     stateRunning,
	}
	t.ThreadGroup = newThreadGroup(absTid, nil)
	r.rootNs.register(t)
	r.byAbsTid[absTid] = t
	return t, nil
}

// GetNamespaced resolves a tid as caller would see it: nsTid is looked up
// in caller's own namespace.
func (r *Registry) GetNamespaced(caller *Thread, nsTid int) (*Thread, error) {
	t, ok := caller.Namespace.ByNsTid(nsTid)
	if !ok {
		return nil, errs.New(errs.SRCH)
	}
	return t, nil
}

// RegisterChild registers a clone/fork child of parent. If cloneFlags has
// CLONE_NEWPID set, the child becomes the root (NsTid 1) of a fresh
// namespace one level deeper than parent's; otherwise it joins parent's
// namespace under a freshly assigned NsTid.
func (r *Registry) RegisterChild(parent *Thread, childAbsTid int, cloneFlags uint64) *Thread {
	if existing, ok := r.byAbsTid[childAbsTid]; ok {
		return existing
	}

	child := &Thread{
		AbsTid:  childAbsTid,
		FdTable: parent.FdTable.Fork(),
		Fs:      &FsInfo{Cwd: parent.Fs.Cwd},
		state:   stateRegistered,
	}

	if cloneFlags&CloneNewPID != 0 {
		ns := newNamespace(parent.Namespace.Depth+1, child)
		child.Namespace = ns
		ns.register(child)
	} else {
		child.Namespace = parent.Namespace
		parent.Namespace.register(child)
	}

	// A thread with a distinct tgid (clone without CLONE_THREAD) starts a
	// new thread group under parent's group; for our purposes every
	// registered child starts its own group, with parent's group as its
	// parent.
	child.ThreadGroup = newThreadGroup(childAbsTid, parent.ThreadGroup)
	child.ThreadGroup.members[childAbsTid] = child

	r.byAbsTid[childAbsTid] = child
	return child
}

// SyncNewThreads scans /proc for descendants unknown to the registry and
// registers them into the root namespace, used before synthesizing /proc
// responses so listings are current.
func (r *Registry) SyncNewThreads() error {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return errs.FromErrno(err)
	}
	for _, e := range entries {
		tid, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		if _, ok := r.byAbsTid[tid]; ok {
			continue
		}
		r.Get(tid) //nolint:errcheck // best-effort sync, absence is not an error here
	}
	return nil
}

// AbsTids returns the absolute tids of every thread currently registered,
// for rendering the top-level /proc listing.
func (r *Registry) AbsTids() []int {
	out := make([]int, 0, len(r.byAbsTid))
	for tid := range r.byAbsTid {
		out = append(out, tid)
	}
	return out
}

// HandleThreadExit removes absTid from the registry. If it was a namespace
// root, its namespace's other members are the caller's responsibility to
// SIGKILL; this only performs the bookkeeping removal.
func (r *Registry) HandleThreadExit(absTid int) {
	t, ok := r.byAbsTid[absTid]
	if !ok {
		return
	}
	t.state = stateExiting
	t.Namespace.remove(t)
	delete(t.ThreadGroup.members, absTid)
	delete(r.byAbsTid, absTid)
	t.state = stateRemoved
}

// IsNamespaceRoot reports whether t created the namespace it lives in.
func (t *Thread) IsNamespaceRoot() bool {
	return t.Namespace.Root == t
}

// NsTid returns t's own namespaced tid.
func (t *Thread) NsTid() int {
	nsTid, _ := t.Namespace.NsTid(t)
	return nsTid
}

// NsTgid returns the namespaced tgid of t's thread group, as seen in
// caller's namespace; ok is false if the leader is not visible there.
func (t *Thread) NsTgid(caller *Thread) (int, bool) {
	leader, err := caller.Namespace.toNsTidLookup(t.ThreadGroup.Tgid)
	return leader, err
}

// toNsTidLookup resolves absTid's Thread (if registered as such) to its
// nsTid within n. It is defined on Namespace via the registry's byAbsTid
// map at call sites; here it is a thin convenience used by NsTgid.
func (n *Namespace) toNsTidLookup(absTgid int) (int, bool) {
	for t, nsTid := range n.toNsTid {
		if t.AbsTid == absTgid {
			return nsTid, true
		}
	}
	return 0, false
}
