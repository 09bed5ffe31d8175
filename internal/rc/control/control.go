// Package control implements the Control-Epoch Guard: the mtime
// comparison between an ownership probe and the transient state marker
// files that tells a long-running action whether it is still the
// process in control of a service, or whether a newer invocation has
// taken over since the probe was created.
package control

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/openrc-go/runscript/internal/rc/exclusive"
	"github.com/openrc-go/runscript/internal/rc/state"
)

// Guard answers InControl for one service across the lifetime of a
// single action.
type Guard struct {
	excl  *exclusive.Manager
	store *state.Store
	svc   string

	sighup int32 // set via SetSighup once this process has received SIGHUP
}

// New returns a Guard for svc backed by excl and store.
func New(excl *exclusive.Manager, store *state.Store, svc string) *Guard {
	return &Guard{excl: excl, store: store, svc: svc}
}

// SetSighup records that this process has received SIGHUP. A process
// that has lost its controlling terminal is no longer an authoritative
// controller, matching the original's "sighup" flag: once set, InControl
// reports false regardless of what the marker files say.
func (g *Guard) SetSighup(v bool) {
	n := int32(0)
	if v {
		n = 1
	}
	atomic.StoreInt32(&g.sighup, n)
}

func (g *Guard) gotSighup() bool { return atomic.LoadInt32(&g.sighup) != 0 }

// InControl reports whether this process is still the one in control of
// svc: its ownership probe must still exist, must not be older than any
// transient state marker (a peer re-marking the service's state after
// our probe was created means a takeover happened), the service must
// not have dropped back to STOPPED, and this process must not have
// received SIGHUP since the action began.
func (g *Guard) InControl() bool {
	if g.gotSighup() {
		return false
	}

	cur := g.store.Get(g.svc)
	if cur.Principal() == state.Stopped {
		return false
	}

	probeInfo, err := os.Lstat(g.excl.ProbePath(g.svc))
	if err != nil {
		// Our own probe is gone: someone removed it out from under us,
		// or we never created one. Either way we are not in control.
		return false
	}

	markers := g.store.TransientMarkerPaths(g.svc)
	if len(markers) == 0 {
		// No transient marker at all: the state a peer would re-mark
		// into has vanished, which is itself evidence of a takeover.
		return false
	}

	for _, m := range markers {
		markerInfo, err := os.Lstat(m)
		if err != nil {
			continue
		}
		if markerInfo.ModTime().After(probeInfo.ModTime().Add(epsilon)) {
			return false
		}
	}

	return true
}

// epsilon absorbs filesystem mtime granularity so two nearly-simultaneous
// stats on the same underlying inode don't spuriously disagree.
const epsilon = 10 * time.Millisecond
