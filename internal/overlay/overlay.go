// Package overlay implements the on-disk representation of the cow and
// tmp shadow trees, adapting an on-disk object-generation tree from
// "shadow a cloud object under a local path" to "shadow a guest path under
// a local cow/tmp root".
package overlay

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/tombstone"
)

// Overlay owns the two shadow directory trees rooted under a single host
// directory per sandbox run.
type Overlay struct {
	Root    string
	cowRoot string
	tmpRoot string

	tombstones *tombstone.Set
}

func New(root string, tombstones *tombstone.Set) *Overlay {
	return &Overlay{
		Root:       root,
		cowRoot:    filepath.Join(root, "cow"),
		tmpRoot:    filepath.Join(root, "tmp"),
		tombstones: tombstones,
	}
}

func (o *Overlay) SymlinksRoot() string {
	return filepath.Join(o.Root, "symlinks")
}

func (o *Overlay) HostCowPath(guestPath string) string {
	return filepath.Join(o.cowRoot, filepath.FromSlash(guestPath))
}

func (o *Overlay) HostTmpPath(guestPath string) string {
	return filepath.Join(o.tmpRoot, filepath.FromSlash(guestPath))
}

func (o *Overlay) CowExists(guestPath string) bool {
	_, err := os.Lstat(o.HostCowPath(guestPath))
	return err == nil
}

func (o *Overlay) TmpExists(guestPath string) bool {
	_, err := os.Lstat(o.HostTmpPath(guestPath))
	return err == nil
}

// IsTombstoned reports whether guestPath or one of its ancestors has been
// deleted in the sandbox, for getdents64 visibility filtering.
func (o *Overlay) IsTombstoned(guestPath string) bool {
	return o.tombstones.IsTombstoned(guestPath) || o.tombstones.IsAncestorTombstoned(guestPath)
}

// ClearTombstone removes any tombstone recorded for guestPath, for callers
// that create a new entry there directly (e.g. O_CREAT opens) rather than
// going through Mkdir/Symlink.
func (o *Overlay) ClearTombstone(guestPath string) {
	o.tombstones.Remove(guestPath)
}

// GuestPathExists is the cow-view existence predicate: a path exists if
// it has neither been tombstoned nor has a tombstoned ancestor, and either
// the cow tree or the underlying host path has an entry for it.
func (o *Overlay) GuestPathExists(guestPath string) bool {
	if o.tombstones.IsTombstoned(guestPath) || o.tombstones.IsAncestorTombstoned(guestPath) {
		return false
	}
	if o.CowExists(guestPath) {
		return true
	}
	_, err := os.Lstat(guestPath)
	return err == nil
}

// ResolveCow returns the host path currently backing guestPath under the
// cow shadow, copying the real file up into the shadow first if needed.
func (o *Overlay) ResolveCow(guestPath string) (string, error) {
	hostPath := o.HostCowPath(guestPath)
	if _, err := os.Lstat(hostPath); err == nil {
		return hostPath, nil
	}
	if err := o.copyUp(guestPath, hostPath); err != nil {
		return "", err
	}
	return hostPath, nil
}

func (o *Overlay) copyUp(guestPath, hostPath string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return errs.FromErrno(err)
	}

	info, err := os.Lstat(guestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing to copy up yet; the caller is about to create it.
			return nil
		}
		return errs.FromErrno(err)
	}

	if info.IsDir() {
		return errs.FromErrno(os.MkdirAll(hostPath, info.Mode().Perm()))
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(guestPath)
		if err != nil {
			return errs.FromErrno(err)
		}
		os.Remove(hostPath)
		return errs.FromErrno(os.Symlink(target, hostPath))
	}

	src, err := os.Open(guestPath)
	if err != nil {
		return errs.FromErrno(err)
	}
	defer src.Close()

	dst, err := os.OpenFile(hostPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errs.FromErrno(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

// ResolveTmp returns the host path for guestPath under the tmp shadow,
// creating parent directories lazily. There is no host fallback: /tmp is
// private to the sandbox.
func (o *Overlay) ResolveTmp(guestPath string) (string, error) {
	hostPath := o.HostTmpPath(guestPath)
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return "", errs.FromErrno(err)
	}
	return hostPath, nil
}

// Mkdir creates guestPath as a directory in the given shadow tree
// (hostPath is the already-resolved cow or tmp path) and clears any
// tombstone for it.
func (o *Overlay) Mkdir(guestPath, hostPath string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return errs.FromErrno(err)
	}
	if err := os.Mkdir(hostPath, mode); err != nil {
		return errs.FromErrno(err)
	}
	o.tombstones.Remove(guestPath)
	return nil
}

// Rmdir removes an empty directory, clears the tombstones of its former
// children, and tombstones guestPath itself.
func (o *Overlay) Rmdir(guestPath, hostPath string) error {
	if err := os.Remove(hostPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.FromErrno(err)
	}
	o.tombstones.RemoveChildren(guestPath)
	o.tombstones.Add(guestPath)
	return nil
}

// Unlink removes a file (or leaves it absent) and tombstones guestPath.
func (o *Overlay) Unlink(guestPath, hostPath string) error {
	if err := os.Remove(hostPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.FromErrno(err)
	}
	o.tombstones.Add(guestPath)
	return nil
}

// Symlink creates a symlink at guestPath/hostPath pointing at target and
// clears any tombstone for guestPath.
func (o *Overlay) Symlink(guestPath, hostPath, target string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return errs.FromErrno(err)
	}
	os.Remove(hostPath)
	if err := os.Symlink(target, hostPath); err != nil {
		return errs.FromErrno(err)
	}
	o.tombstones.Remove(guestPath)
	return nil
}
