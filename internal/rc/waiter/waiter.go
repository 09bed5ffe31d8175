// Package waiter implements the Peer Waiter: polling for a sibling
// service's exclusive marker to disappear before proceeding, the
// mechanism ibefore/iafter ordering relies on between independently
// scheduled supervisor invocations.
package waiter

import (
	"context"
	"os"
	"time"
)

// Default polling interval and deadline, matching the original's
// svc_wait(): a 20ms poll against a 300s ceiling.
const (
	PollInterval   = 20 * time.Millisecond
	DefaultTimeout = 300 * time.Second
)

// Wait blocks until peer's exclusive marker at markerPath disappears, ctx
// is canceled, or (unless notimeout is set) DefaultTimeout elapses. It
// returns true if the marker was gone when Wait returned, false if it
// gave up while the marker was still present.
//
// The loop always performs one final check after any wake reason so a
// marker that disappears in the same instant as a timeout or
// cancellation is still observed (matching the original's
// check-after-the-loop structure rather than failing on the exact
// boundary tick).
func Wait(ctx context.Context, markerPath string, notimeout bool) bool {
	return WaitTimeout(ctx, markerPath, DefaultTimeout, notimeout)
}

// WaitTimeout is Wait with an explicit timeout, split out so tests don't
// have to block for the full 300s default.
func WaitTimeout(ctx context.Context, markerPath string, timeout time.Duration, notimeout bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if !exists(markerPath) {
			return true
		}

		if !notimeout && time.Now().After(deadline) {
			return !exists(markerPath)
		}

		select {
		case <-ctx.Done():
			return !exists(markerPath)
		case <-ticker.C:
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
