package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tnachen/bVisor-sub000/internal/backend"
	"github.com/tnachen/bVisor-sub000/internal/errs"
	"github.com/tnachen/bVisor-sub000/internal/procns"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

// renderProc synthesizes the content (for a file) or entries (for a
// directory) backing a path under the proc mount, as caller sees it: the
// top-level listing and every per-tid lookup are resolved through caller's
// own PID namespace, never by raw absolute tid, matching the AbsTid/NsTid
// separation the rest of the supervisor enforces. Only the slice of /proc
// this supervisor's handlers actually touch is rendered: the tid listing,
// a per-thread status file, a per-thread fd directory, cwd, and exe.
func renderProc(s *supervisor.Supervisor, caller *procns.Thread, guestPath string) ([]byte, []backend.ProcDirent, error) {
	rel := strings.TrimPrefix(guestPath, s.Policy.ProcPrefix)
	rel = strings.Trim(rel, "/")

	s.Lock()
	defer s.Unlock()

	if rel == "" {
		entries := []backend.ProcDirent{}
		for _, member := range caller.Namespace.Members() {
			nsTid, ok := caller.Namespace.NsTid(member)
			if !ok {
				continue
			}
			entries = append(entries, backend.ProcDirent{Name: strconv.Itoa(nsTid), Type: 4 /* DT_DIR */})
		}
		return nil, entries, nil
	}

	parts := strings.SplitN(rel, "/", 2)

	var t *procns.Thread
	if parts[0] == "self" {
		t = caller
	} else {
		nsTid, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, nil, errs.New(errs.NOENT)
		}
		target, ok := caller.Namespace.ByNsTid(nsTid)
		if !ok {
			return nil, nil, errs.New(errs.NOENT)
		}
		t = target
	}

	if len(parts) == 1 {
		return nil, []backend.ProcDirent{
			{Name: "status", Type: 8 /* DT_REG */},
			{Name: "fd", Type: 4 /* DT_DIR */},
			{Name: "cwd", Type: 10 /* DT_LNK */},
			{Name: "exe", Type: 10 /* DT_LNK */},
		}, nil
	}

	switch parts[1] {
	case "status":
		nsTid := t.NsTid()
		content := fmt.Sprintf("Name:\tbvisor-thread\nPid:\t%d\nTgid:\t%d\nNStgid:\t%d\n", nsTid, t.ThreadGroup.Tgid, nsTid)
		return []byte(content), nil, nil
	case "cwd":
		return []byte(t.Fs.Cwd), nil, nil
	case "exe":
		if t.ProgramImage == "" {
			return nil, nil, errs.New(errs.NOENT)
		}
		return []byte(t.ProgramImage), nil, nil
	case "fd":
		entries := []backend.ProcDirent{}
		for _, fd := range t.FdTable.Fds() {
			entries = append(entries, backend.ProcDirent{Name: strconv.Itoa(fd), Type: 10})
		}
		return nil, entries, nil
	default:
		return nil, nil, errs.New(errs.NOENT)
	}
}
