// Package tombstone tracks guest paths explicitly deleted inside the
// sandbox so that lookups can hide them regardless of whether a physical
// overlay copy or a real host file still exists.
//
// Set carries no lock of its own: every access happens inside the
// Supervisor's single coordination mutex, the same guarded-by-the-owner's
// -lock convention applied to the inode and handle maps elsewhere in this
// codebase.
package tombstone

import "strings"

// Set is the collection of tombstoned guest paths.
type Set struct {
	paths map[string]struct{}
}

func New() *Set {
	return &Set{paths: make(map[string]struct{})}
}

func (s *Set) Add(p string) {
	s.paths[p] = struct{}{}
}

func (s *Set) Remove(p string) {
	delete(s.paths, p)
}

func (s *Set) IsTombstoned(p string) bool {
	_, ok := s.paths[p]
	return ok
}

// IsAncestorTombstoned reports whether any proper prefix directory of p is
// tombstoned.
func (s *Set) IsAncestorTombstoned(p string) bool {
	for _, ancestor := range ancestors(p) {
		if s.IsTombstoned(ancestor) {
			return true
		}
	}
	return false
}

// RemoveChildren clears every tombstone whose path is p or lies under p,
// used when a directory is removed, before the directory itself is
// tombstoned.
func (s *Set) RemoveChildren(p string) {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	for entry := range s.paths {
		if entry == p || strings.HasPrefix(entry, prefix) {
			delete(s.paths, entry)
		}
	}
}

// ancestors returns every proper prefix directory of p, excluding p itself
// and the root.
func ancestors(p string) []string {
	var out []string
	for {
		idx := strings.LastIndexByte(p, '/')
		if idx <= 0 {
			break
		}
		p = p[:idx]
		out = append(out, p)
	}
	return out
}
