// Package runner implements the Script Runner: it execs the shell helper
// that actually implements a service's start/stop/etc, bridges its
// output through a Prefixer, and relays the signals a controlling
// supervisor is expected to: SIGWINCH resizes the pty, SIGHUP only marks
// this invocation as non-authoritative (it is never forwarded to the
// child), and SIGINT/SIGTERM/SIGQUIT are forwarded to the child and then
// abort the run.
//
// The original bridges these with a self-pipe and a single select()
// loop around the pty master fd. Go's signal.Notify already delivers
// signals onto a channel from a dedicated runtime-managed goroutine —
// the async-signal-safe self-pipe trick reimplemented as a language
// feature — so this package uses that instead of hand-rolling a pipe.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// Options configures one Exec call.
type Options struct {
	Path   string // absolute path to the shell helper
	Args   []string
	Env    []string
	Dir    string
	Prefix string    // per-service output prefix; "" disables prefixing
	Stdout io.Writer // defaults to os.Stdout
	Stdin  io.Reader // defaults to os.Stdin

	// UsePTY requests pty-backed execution so the child sees a
	// controlling terminal and TIOCGWINSZ/TIOCSWINSZ behave as a real
	// terminal session. Honored only where openPTY is implemented
	// (Linux); elsewhere Exec falls back to direct pipes and Prefix is
	// still applied to whatever the child writes to its stdout pipe.
	UsePTY bool

	// OnSighup, if set, is called (off the signal-delivery goroutine,
	// from Exec's own loop) when this invocation receives SIGHUP. It
	// must return quickly. spec.md §4.6 step 5: SIGHUP only sets a
	// non-authoritative flag, it is never forwarded to the child.
	OnSighup func()

	// Abort, if set, receives a human-readable "caught SIG, aborting"
	// message when SIGINT/SIGTERM/SIGQUIT or ctx cancellation triggers
	// an abort, instead of the message going to os.Stderr directly.
	Abort func(msg string)
}

// Result carries the child's exit status back to the Lifecycle Engine.
type Result struct {
	ExitCode int
	Signaled bool
	Signal   syscall.Signal

	// Aborted is set when the run ended because of a forwarded
	// SIGINT/SIGTERM/SIGQUIT or context cancellation rather than the
	// child exiting on its own initiative.
	Aborted     bool
	AbortSignal syscall.Signal // zero value when aborted by ctx cancellation, not a signal
}

// Exec runs the configured command to completion, relaying terminal
// resizes to its pty and reporting SIGHUP through OnSighup (never to the
// child), and returns its exit status.
// Exec always waits for the child to actually exit, even after an
// abort is triggered, so the caller never loses track of the child.
func Exec(ctx context.Context, opts Options) (Result, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	abort := opts.Abort
	if abort == nil {
		abort = func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}

	out := io.Writer(opts.Stdout)
	if opts.Prefix != "" {
		out = NewPrefixer(opts.Stdout, opts.Prefix)
	}

	// Detached from ctx deliberately: Exec manages the child's lifetime
	// itself (forward-then-abort), rather than letting CommandContext's
	// default Kill-on-cancel race with that handling.
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var master *os.File
	if opts.UsePTY {
		m, slave, err := openPTY()
		if err == nil {
			master = m
			defer master.Close()
			cmd.Stdin = slave
			cmd.Stdout = slave
			cmd.Stderr = slave
		}
		// err != nil: pty unsupported on this platform, fall through to
		// the direct-pipe path below.
	}
	if master == nil {
		cmd.Stdin = opts.Stdin
		cmd.Stdout = out
		cmd.Stderr = out
	}

	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh, signalsToForward()...)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	if master != nil {
		if sl, ok := cmd.Stdout.(*os.File); ok {
			sl.Close()
		}
		go io.Copy(out, master)
		syncWindowSize(master)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	pid := cmd.Process.Pid
	ctxDone := ctx.Done()
	var aborted bool
	var abortSig syscall.Signal

	for {
		select {
		case sig := <-sigCh:
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			switch s {
			case syscall.SIGHUP:
				if opts.OnSighup != nil {
					opts.OnSighup()
				}
			case syscall.SIGWINCH:
				if master != nil {
					syncWindowSize(master)
				}
			default:
				if !aborted {
					_ = syscall.Kill(-pid, s)
					abort(fmt.Sprintf("caught %s, aborting", s))
					aborted = true
					abortSig = s
				}
			}
		case err := <-done:
			res := resultFromWaitErr(err)
			res.Aborted = aborted
			res.AbortSignal = abortSig
			return res, nil
		case <-ctxDone:
			if !aborted {
				_ = syscall.Kill(-pid, syscall.SIGTERM)
				abort(fmt.Sprintf("caught %s, aborting", ctx.Err()))
				aborted = true
			}
			// Disable this case: ctx stays Done forever, and without
			// this the loop would spin resending the signal every
			// iteration while waiting for the child to exit.
			ctxDone = nil
		}
	}
}

func resultFromWaitErr(err error) Result {
	if err == nil {
		return Result{ExitCode: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return Result{ExitCode: 128 + int(status.Signal()), Signaled: true, Signal: status.Signal()}
			}
			return Result{ExitCode: status.ExitStatus()}
		}
		return Result{ExitCode: exitErr.ExitCode()}
	}
	return Result{ExitCode: -1}
}
