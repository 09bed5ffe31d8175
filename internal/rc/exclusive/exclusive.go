// Package exclusive implements the Exclusion & Presence component: the
// per-service FIFO marker that serializes concurrent actions against the
// same service, and the ownership-probe symlink a Control-Epoch Guard
// compares against to detect takeover.
package exclusive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Manager creates and removes the exclusive markers under
// <svcdir>/exclusive.
type Manager struct {
	Dir string // <svcdir>/exclusive
}

// New returns a Manager rooted at svcDir/exclusive, creating the
// directory if absent.
func New(svcDir string) (*Manager, error) {
	dir := filepath.Join(svcDir, "exclusive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{Dir: dir}, nil
}

func (m *Manager) marker(svc string) string { return filepath.Join(m.Dir, svc) }
func (m *Manager) probe(svc string) string  { return fmt.Sprintf("%s.%d", m.marker(svc), os.Getpid()) }

// MakeExclusive creates svc's FIFO marker and this process's ownership
// probe symlink pointing at it. A pre-existing FIFO from a dead process
// is tolerated (EEXIST): the caller has already synchronized via
// whatever higher-level lock it holds, matching the original's
// make_exclusive(), which treats EEXIST and EACCES as "someone else is
// already here" rather than fatal errors.
func (m *Manager) MakeExclusive(svc string) error {
	path := m.marker(svc)
	err := unix.Mkfifo(path, 0o600)
	if err != nil && !errors.Is(err, os.ErrExist) && !errors.Is(err, unix.EEXIST) && !errors.Is(err, unix.EACCES) {
		return fmt.Errorf("exclusive: mkfifo %s: %w", path, err)
	}

	probe := m.probe(svc)
	_ = os.Remove(probe)
	if err := os.Symlink(path, probe); err != nil {
		return fmt.Errorf("exclusive: symlink probe for %s: %w", svc, err)
	}
	return nil
}

// RemoveExclusive removes svc's FIFO marker. Callers only do this once
// they are certain no other process still depends on its presence (the
// Lifecycle Engine calls it at the very end of start/stop).
func (m *Manager) RemoveExclusive(svc string) error {
	err := os.Remove(m.marker(svc))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveProbe removes this process's ownership probe symlink, one of the
// cleanup steps every exit path must perform (I2).
func (m *Manager) RemoveProbe(svc string) error {
	err := os.Remove(m.probe(svc))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ProbePath returns the path of this process's ownership probe for svc,
// for callers (the Control-Epoch Guard) that need to stat it directly.
func (m *Manager) ProbePath(svc string) string { return m.probe(svc) }

// MarkerPath returns the path of svc's FIFO marker.
func (m *Manager) MarkerPath(svc string) string { return m.marker(svc) }

// HasMarker reports whether svc currently has an exclusive marker.
func (m *Manager) HasMarker(svc string) bool {
	_, err := os.Lstat(m.marker(svc))
	return err == nil
}
