// Package router implements the path router: a pure function from (base
// directory, guest path) to either block or a classified, normalized
// path. It performs no I/O, the same separation of pure path arithmetic
// from the I/O that follows it used by inode-name resolution elsewhere
// in this codebase.
package router

import (
	"path"
	"strings"

	"github.com/tnachen/bVisor-sub000/internal/errs"
)

// maxPathLen mirrors Linux's PATH_MAX.
const maxPathLen = 4096

// Backend identifies which of the four backend file variants should serve
// a routed path.
type Backend int

const (
	BackendPassthrough Backend = iota
	BackendCow
	BackendTmp
	BackendProc
)

func (b Backend) String() string {
	switch b {
	case BackendPassthrough:
		return "passthrough"
	case BackendCow:
		return "cow"
	case BackendTmp:
		return "tmp"
	case BackendProc:
		return "proc"
	default:
		return "unknown"
	}
}

// Outcome is the result of routing a single path.
type Outcome struct {
	Blocked    bool
	Backend    Backend
	Normalized string
}

// Policy is the fixed, process-wide policy surface.
type Policy struct {
	BlockedPrefixes     []string
	PassthroughPrefixes []string
	ProcPrefix          string
	TmpPrefix           string
}

// Route resolves and classifies a guest path. If user_path is absolute,
// base is ignored.
func (p Policy) Route(base, userPath string) (Outcome, error) {
	if userPath == "" {
		return Outcome{}, errs.New(errs.NOENT)
	}

	var full string
	if strings.HasPrefix(userPath, "/") {
		full = userPath
	} else {
		full = base + "/" + userPath
	}

	normalized := path.Clean(full)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > maxPathLen {
		return Outcome{}, errs.New(errs.NAMETOOLONG)
	}

	for _, prefix := range p.BlockedPrefixes {
		if underPrefix(normalized, prefix) {
			return Outcome{Blocked: true, Normalized: normalized}, nil
		}
	}
	if p.ProcPrefix != "" && underPrefix(normalized, p.ProcPrefix) {
		return Outcome{Backend: BackendProc, Normalized: normalized}, nil
	}
	if p.TmpPrefix != "" && underPrefix(normalized, p.TmpPrefix) {
		return Outcome{Backend: BackendTmp, Normalized: normalized}, nil
	}
	for _, prefix := range p.PassthroughPrefixes {
		if underPrefix(normalized, prefix) {
			return Outcome{Backend: BackendPassthrough, Normalized: normalized}, nil
		}
	}
	return Outcome{Backend: BackendCow, Normalized: normalized}, nil
}

func underPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
