package waiter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenMarkerAbsent(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "sshd")

	start := time.Now()
	ok := WaitTimeout(context.Background(), marker, time.Second, false)
	if !ok {
		t.Error("WaitTimeout = false, want true when marker never existed")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("WaitTimeout took too long for an already-absent marker")
	}
}

func TestWaitReturnsTrueOnceMarkerRemoved(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "sshd")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan bool, 1)
	go func() {
		done <- WaitTimeout(context.Background(), marker, 5*time.Second, false)
	}()

	time.Sleep(5 * PollInterval)
	if err := os.Remove(marker); err != nil {
		t.Fatal(err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Error("WaitTimeout = false, want true after marker removed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitTimeout did not observe marker removal in time")
	}
}

func TestWaitTimesOutWhenMarkerPersists(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "sshd")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ok := WaitTimeout(context.Background(), marker, 50*time.Millisecond, false)
	if ok {
		t.Error("WaitTimeout = true, want false when marker never disappears")
	}
}

// TestNotimeoutNeverGivesUpBeforeMarkerGone exercises P7: with notimeout
// set, Wait must not return false purely due to elapsed time, only due to
// context cancellation or the marker actually disappearing.
func TestNotimeoutNeverGivesUpBeforeMarkerGone(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "sshd")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		// timeout shorter than the sleep below: if notimeout is honored,
		// Wait must still be blocked when we cancel explicitly.
		done <- WaitTimeout(ctx, marker, 10*time.Millisecond, true)
	}()

	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("WaitTimeout with notimeout returned before cancellation or marker removal")
	default:
	}

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("WaitTimeout = true after cancellation with marker still present")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitTimeout did not honor context cancellation")
	}
}
