// Package state implements the on-disk State Store: the per-service
// principal state, its orthogonal flags, and the scheduled-start edges
// that persist across supervisor invocations.
package state

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Bits is a bitset over the disjoint principal states plus the orthogonal
// flags. Exactly one principal bit is set at any instant; flags compose
// freely.
type Bits uint32

const (
	Stopped Bits = 1 << iota
	Starting
	Started
	Stopping
	Inactive

	WasInactive
	Failed
	Coldplugged
	CrashedDaemons

	principalMask = Stopped | Starting | Started | Stopping | Inactive
)

// Principal returns the bitset restricted to its single principal state.
func (b Bits) Principal() Bits { return b & principalMask }

func (b Bits) String() string {
	switch b.Principal() {
	case Starting:
		return "starting"
	case Started:
		if b&CrashedDaemons != 0 {
			return "crashed"
		}
		return "started"
	case Stopping:
		return "stopping"
	case Inactive:
		return "inactive"
	default:
		return "stopped"
	}
}

// principalDirs maps a principal bit to the directory name spec.md §6
// fixes for it. Stopped has no directory: its presence is the absence of
// every other principal marker.
var principalDirs = map[Bits]string{
	Starting: "starting",
	Started:  "started",
	Stopping: "stopping",
	Inactive: "inactive",
}

var flagDirs = map[Bits]string{
	WasInactive: "wasinactive",
	Failed:      "failed",
	Coldplugged: "coldplugged",
}

// CrashChecker decides whether a STARTED service's daemons have crashed.
// The real check (PID files, cgroup membership) lives outside this core;
// production wiring injects a concrete implementation.
type CrashChecker interface {
	Crashed(svc string) bool
}

// noCrashChecker is the default: nothing is ever reported crashed.
type noCrashChecker struct{}

func (noCrashChecker) Crashed(string) bool { return false }

// Store is the filesystem-backed State Store rooted at Dir (RC_SVCDIR).
type Store struct {
	Dir          string
	RunlevelsDir string // e.g. /etc/runlevels, used by InRunlevel
	Crash        CrashChecker
}

// New returns a Store rooted at dir with sane defaults.
func New(dir string) *Store {
	return &Store{Dir: dir, RunlevelsDir: filepath.Join(filepath.Dir(dir), "runlevels"), Crash: noCrashChecker{}}
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.Dir}, parts...)...)
}

// Get returns the current state bitset for svc.
func (s *Store) Get(svc string) Bits {
	var b Bits
	found := false
	for bit, dir := range principalDirs {
		if exists(s.path(dir, svc)) {
			b |= bit
			found = true
		}
	}
	if !found {
		b |= Stopped
	}
	for bit, dir := range flagDirs {
		if exists(s.path(dir, svc)) {
			b |= bit
		}
	}
	if b&Started != 0 && s.Crash != nil && s.Crash.Crashed(svc) {
		b |= CrashedDaemons
	}
	return b
}

// Mark attempts to transition svc's principal state to next, adjusting
// flags per the WASINACTIVE/COLDPLUGGED rules of spec.md §3/I4. It
// returns false if a concurrent actor already created the target
// principal marker (P1): callers must treat that as "taken over by
// something else".
func (s *Store) Mark(svc string, next Bits) (bool, error) {
	cur := s.Get(svc)

	if dir, ok := principalDirs[next]; ok {
		if err := s.mkdirAll(dir); err != nil {
			return false, err
		}
		f, err := os.OpenFile(s.path(dir, svc), os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return false, nil
			}
			return false, err
		}
		f.Close()
	}

	// Remove every other principal marker (Stopped has none to remove).
	for bit, dir := range principalDirs {
		if bit != next {
			_ = os.Remove(s.path(dir, svc))
		}
	}

	switch {
	case next == Starting && cur.Principal() == Inactive:
		if err := s.setFlag(svc, WasInactive, true); err != nil {
			return false, err
		}
	case next == Stopped:
		if err := s.setFlag(svc, WasInactive, false); err != nil {
			return false, err
		}
		if err := s.setFlag(svc, Coldplugged, false); err != nil {
			return false, err
		}
	}

	return true, nil
}

// MarkFailed sets the sticky FAILED flag without touching the principal
// state.
func (s *Store) MarkFailed(svc string) error { return s.setFlag(svc, Failed, true) }

// ClearFailed clears FAILED. Zap is its only caller; FAILED otherwise
// stays set across transitions.
func (s *Store) ClearFailed(svc string) error { return s.setFlag(svc, Failed, false) }

// Uncoldplug clears COLDPLUGGED directly — used by zap. Mark(svc, Stopped)
// also clears COLDPLUGGED on every transition to STOPPED.
func (s *Store) Uncoldplug(svc string) error { return s.setFlag(svc, Coldplugged, false) }

func (s *Store) setFlag(svc string, bit Bits, set bool) error {
	dir, ok := flagDirs[bit]
	if !ok {
		return nil
	}
	path := s.path(dir, svc)
	if set {
		if err := s.mkdirAll(dir); err != nil {
			return err
		}
		if exists(path) {
			return nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
		if f != nil {
			f.Close()
		}
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) mkdirAll(dir string) error {
	return os.MkdirAll(s.path(dir), 0o755)
}

// List returns every service currently in the given principal state.
// Only Stopped (the default/negative state) cannot be listed this way;
// callers needing "all stopped services" should diff List of the other
// four against the known service set.
func (s *Store) List(principal Bits) ([]string, error) {
	dir, ok := principalDirs[principal]
	if !ok {
		return nil, errors.New("state: List only supports a transient principal state")
	}
	entries, err := os.ReadDir(s.path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Schedule installs a scheduled-start edge: when trigger next reaches
// STARTED, target should be started if still STOPPED.
func (s *Store) Schedule(trigger, target string) error {
	if err := os.MkdirAll(s.path("scheduled", trigger), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path("scheduled", trigger, target), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Scheduled returns the targets currently scheduled for trigger, without
// consuming them.
func (s *Store) Scheduled(trigger string) ([]string, error) {
	entries, err := os.ReadDir(s.path("scheduled", trigger))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// ConsumeScheduled returns and removes every target scheduled for
// trigger. Re-running a successful start with an empty scheduled set is
// then a no-op (P5).
func (s *Store) ConsumeScheduled(trigger string) ([]string, error) {
	targets, err := s.Scheduled(trigger)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		_ = os.Remove(s.path("scheduled", trigger, t))
	}
	return targets, nil
}

// DaemonsCrashed reports whether svc's daemons have crashed while STARTED.
func (s *Store) DaemonsCrashed(svc string) bool {
	if s.Crash == nil {
		return false
	}
	return s.Get(svc)&Started != 0 && s.Crash.Crashed(svc)
}

// InRunlevel reports whether svc is a member of the named runlevel.
func (s *Store) InRunlevel(svc, level string) bool {
	return exists(filepath.Join(s.RunlevelsDir, level, svc))
}

// TransientMarkerPaths returns the on-disk paths of every transient
// state marker currently present for svc (its principal marker, if any,
// plus WASINACTIVE). The Control-Epoch Guard compares an ownership
// probe's mtime against these to tell whether a peer has re-marked the
// service's state since the probe was created.
func (s *Store) TransientMarkerPaths(svc string) []string {
	var paths []string
	for _, dir := range principalDirs {
		p := s.path(dir, svc)
		if exists(p) {
			paths = append(paths, p)
		}
	}
	if p := s.path(flagDirs[WasInactive], svc); exists(p) {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
