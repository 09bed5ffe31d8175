package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecSucceedsAndCapturesOutput(t *testing.T) {
	script := writeScript(t, "echo hello\n")

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Exec(ctx, Options{Path: "/bin/sh", Args: []string{script}, Stdout: &buf, Prefix: "sshd | "})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if buf.String() != "sshd | hello\n" {
		t.Errorf("output = %q, want %q", buf.String(), "sshd | hello\n")
	}
}

func TestExecReportsNonZeroExit(t *testing.T) {
	script := writeScript(t, "exit 3\n")

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Exec(ctx, Options{Path: "/bin/sh", Args: []string{script}, Stdout: &buf})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestExecPassesEnv(t *testing.T) {
	script := writeScript(t, "echo $RC_SVCNAME\n")

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Exec(ctx, Options{
		Path:   "/bin/sh",
		Args:   []string{script},
		Env:    []string{"RC_SVCNAME=sshd"},
		Stdout: &buf,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
	if buf.String() != "sshd\n" {
		t.Errorf("output = %q, want %q", buf.String(), "sshd\n")
	}
}

func TestExecContextCancelTerminatesChild(t *testing.T) {
	script := writeScript(t, "trap 'exit 0' TERM\nsleep 5\n")

	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Exec(ctx, Options{Path: "/bin/sh", Args: []string{script}, Stdout: &buf})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Exec did not return after context cancellation")
	}
}

func TestExecSighupOnlySetsFlagNotForwarded(t *testing.T) {
	// The child traps SIGHUP as fatal; if Exec forwarded it instead of
	// only invoking OnSighup, the child would exit early with a distinct
	// status instead of running to completion.
	script := writeScript(t, "trap 'exit 9' HUP\nsleep 0.3\necho done\n")

	var buf bytes.Buffer
	var sighupCount int32

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		res, _ := Exec(ctx, Options{
			Path:   "/bin/sh",
			Args:   []string{script},
			Stdout: &buf,
			OnSighup: func() {
				atomic.AddInt32(&sighupCount, 1)
			},
		})
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0 (HUP must not be forwarded to the child)", res.ExitCode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Exec did not complete")
	}

	if atomic.LoadInt32(&sighupCount) == 0 {
		t.Error("OnSighup was never invoked")
	}
	if buf.String() != "done\n" {
		t.Errorf("output = %q, want %q", buf.String(), "done\n")
	}
}

func TestExecAbortsOnSigterm(t *testing.T) {
	script := writeScript(t, "trap 'exit 0' TERM\nsleep 5\n")

	var buf bytes.Buffer
	var msg string

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		res, _ := Exec(ctx, Options{
			Path:   "/bin/sh",
			Args:   []string{script},
			Stdout: &buf,
			Abort:  func(m string) { msg = m },
		})
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if !res.Aborted {
			t.Error("Aborted = false, want true after SIGTERM")
		}
		if res.AbortSignal != syscall.SIGTERM {
			t.Errorf("AbortSignal = %v, want SIGTERM", res.AbortSignal)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Exec did not return after SIGTERM")
	}

	if msg == "" {
		t.Error("expected an abort message to be recorded")
	}
}
