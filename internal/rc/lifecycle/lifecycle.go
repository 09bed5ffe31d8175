// Package lifecycle implements the Lifecycle Engine: the
// start/stop/restart/status/zap/condrestart/describe/introspect
// algorithms that mediate between a requested action and the shell
// helper that actually carries it out for one service.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	log "github.com/hashicorp/go-hclog"

	"github.com/openrc-go/runscript/internal/rc/control"
	"github.com/openrc-go/runscript/internal/rc/deptree"
	"github.com/openrc-go/runscript/internal/rc/env"
	"github.com/openrc-go/runscript/internal/rc/exclusive"
	"github.com/openrc-go/runscript/internal/rc/hooks"
	"github.com/openrc-go/runscript/internal/rc/runner"
	"github.com/openrc-go/runscript/internal/rc/state"
	"github.com/openrc-go/runscript/internal/rc/waiter"
)

// Error classifies a failed action by the exit code the original maps
// it to, so cmd/runscript can return the right status without the
// caller re-deriving it from the error text.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrAlreadyStarted is returned by Start with -s/--ifstarted when
	// the service is already in STARTED.
	ErrAlreadyStarted = &Error{Code: 0, Message: "service already started"}
	// ErrBrokenDependency aborts Start when a needed service is missing
	// from the dependency tree entirely.
	ErrBrokenDependency = &Error{Code: 1, Message: "broken dependency"}
	// ErrDependencyFailed aborts Start when a needed peer failed to
	// reach STARTED.
	ErrDependencyFailed = &Error{Code: 1, Message: "dependency failed to start"}
	// ErrDeferred is returned (wrapped with the triggering dependency and
	// target) when Start schedules itself to run later instead of
	// hard-failing, because a hard dependency is INACTIVE/WASINACTIVE
	// rather than missing outright. Code 0: deferral is not a failure.
	ErrDeferred = &Error{Code: 0, Message: "start deferred pending a dependency"}
	// ErrDependentStopFailed aborts Stop when one or more dependents
	// failed to stop first.
	ErrDependentStopFailed = &Error{Code: 1, Message: "a dependent service failed to stop"}
	// ErrTakenOver is returned when the Control-Epoch Guard observes
	// that a newer invocation has taken control mid-action.
	ErrTakenOver = &Error{Code: 1, Message: "another invocation took control of this service"}
	// ErrAborted is returned when a forwarded SIGINT/SIGTERM/SIGQUIT or
	// context cancellation aborted the running script mid-action.
	ErrAborted = &Error{Code: 1, Message: "action aborted by signal"}
)

// Options bundles the per-invocation flags spec.md §6 names.
type Options struct {
	Debug     bool // -d/--debug
	IfStarted bool // -s/--ifstarted
	NoDeps    bool // -D/--nodeps
}

// Supervisor is the Lifecycle Engine for one service. One Supervisor
// handles the actions of one runscript invocation against exactly one
// service, run one after another, matching the original's single-shot
// runscript process model.
type Supervisor struct {
	Svc    string
	SvcDir string
	Runlvl string

	Store  *state.Store
	Tree   *deptree.Tree
	Excl   *exclusive.Manager
	Guard  *control.Guard
	Hooks  hooks.Runner
	Config env.Config
	Logger log.Logger

	ScriptPath string
	Opts       Options

	Stdout interface {
		Write([]byte) (int, error)
	}
}

// childEnv builds the environment passed to the shell helper for this
// action.
func (s *Supervisor) childEnv(action string) []string {
	return env.Build(s.Config, map[string]string{
		"RC_SVCNAME":   s.Svc,
		"RC_RUNLEVEL":  s.Runlvl,
		"EBUILD_PHASE": action,
	})
}

// run execs the shell helper with one or more action arguments (restart's
// NoDeps path combines "stop" and "start" into a single invocation),
// wiring the Control-Epoch Guard's sighup flag and the abort message
// sink into the Script Runner.
func (s *Supervisor) run(ctx context.Context, actions ...string) (runner.Result, error) {
	return runner.Exec(ctx, runner.Options{
		Path:     s.ScriptPath,
		Args:     actions,
		Env:      s.childEnv(actions[len(actions)-1]),
		Prefix:   "",
		Stdout:   s.Stdout,
		UsePTY:   true,
		OnSighup: func() { s.Guard.SetSighup(true) },
		Abort:    func(msg string) { s.Logger.Warn(msg, "service", s.Svc) },
	})
}

// Start brings the service from STOPPED/INACTIVE through its
// dependencies to STARTED, per spec.md §4.8's svc_start algorithm.
func (s *Supervisor) Start(ctx context.Context) error {
	cur := s.Store.Get(s.Svc)

	if s.Opts.IfStarted && cur.Principal() == state.Started {
		return ErrAlreadyStarted
	}
	if cur.Principal() == state.Started || cur.Principal() == state.Starting {
		return nil
	}

	if !s.Opts.NoDeps && s.Tree != nil {
		if broken := s.Tree.Broken(s.Svc); len(broken) > 0 {
			return fmt.Errorf("%w: %v", ErrBrokenDependency, broken)
		}
	}

	// Mark before make_exclusive, per spec.md §4.8 steps 3-4: the
	// marker-based race is resolved first, and only a winner goes on to
	// create the FIFO and ownership probe.
	ok, err := s.Store.Mark(s.Svc, state.Starting)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTakenOver
	}

	if err := s.Excl.MakeExclusive(s.Svc); err != nil {
		_, _ = s.Store.Mark(s.Svc, state.Stopped)
		return err
	}

	// Single cleanup routine, run exactly once, on every exit path from
	// here on: unconditionally drop our probe and the exclusive marker,
	// and restore STOPPED unless the action reached a committed terminal
	// state.
	committed := false
	defer func() {
		if !committed {
			_, _ = s.Store.Mark(s.Svc, state.Stopped)
		}
		_ = s.Excl.RemoveProbe(s.Svc)
		_ = s.Excl.RemoveExclusive(s.Svc)
	}()

	_ = s.Hooks.Run(hooks.ServiceStartIn, s.Svc)

	if !s.Opts.NoDeps && s.Tree != nil {
		if err := s.startDependencies(ctx); err != nil {
			return err
		}
	}

	_ = s.Hooks.Run(hooks.ServiceStartNow, s.Svc)

	res, err := s.run(ctx, "start")
	if err != nil {
		return err
	}
	if res.Aborted {
		return ErrAborted
	}

	if !s.Guard.InControl() {
		return ErrTakenOver
	}

	if res.ExitCode != 0 {
		_ = s.Store.MarkFailed(s.Svc)
		_ = s.Hooks.Run(hooks.ServiceStartDone, s.Svc)
		return &Error{Code: res.ExitCode, Message: fmt.Sprintf("%s start script exited %d", s.Svc, res.ExitCode)}
	}

	if _, err := s.Store.Mark(s.Svc, state.Started); err != nil {
		return err
	}
	committed = true

	_ = s.Hooks.Run(hooks.ServiceStartDone, s.Svc)

	if err := s.runScheduledStarts(ctx); err != nil {
		s.Logger.Warn("scheduled start failed", "service", s.Svc, "error", err)
	}

	_ = s.Hooks.Run(hooks.ServiceStartOut, s.Svc)
	return nil
}

// startDependencies walks ineed/iuse/iafter before the start script
// itself runs, per spec.md §4.8 steps 5-7:
//   - ineed: a STARTED peer is skipped, an INACTIVE/WASINACTIVE peer
//     defers this start via Store.Schedule instead of hard-failing, and
//     anything else is waited on through the Peer Waiter and then
//     hard-fails if it didn't reach STARTED.
//   - iuse: soft-started if STOPPED, skipped entirely if the peer carries
//     WASINACTIVE, and never allowed to fail this start.
//   - iafter: waited on (never started), purely an ordering constraint.
func (s *Supervisor) startDependencies(ctx context.Context) error {
	for _, dep := range s.Tree.Depend(s.Svc, deptree.Ineed) {
		depBits := s.Store.Get(dep)
		switch {
		case depBits.Principal() == state.Started:
			continue
		case depBits.Principal() == state.Inactive || depBits&state.WasInactive != 0:
			if err := s.Store.Schedule(dep, s.Svc); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s scheduled to start when %s has started", ErrDeferred, s.Svc, dep)
		default:
			notimeout := s.Tree.HasKeyword(dep, "notimeout")
			marker := filepath.Join(s.SvcDir, "exclusive", dep)
			waiter.Wait(ctx, marker, notimeout)
			if s.Store.Get(dep).Principal() != state.Started {
				return fmt.Errorf("%w: %s", ErrDependencyFailed, dep)
			}
		}
	}

	for _, dep := range s.Tree.Depend(s.Svc, deptree.Iuse) {
		depBits := s.Store.Get(dep)
		if depBits&state.WasInactive != 0 {
			continue
		}
		if depBits.Principal() != state.Stopped {
			continue
		}
		child := *s
		child.Svc = dep
		child.ScriptPath = filepath.Join(filepath.Dir(s.ScriptPath), dep)
		_ = child.Start(ctx) // soft dependency: its failure never blocks us
	}

	for _, dep := range s.Tree.Depend(s.Svc, deptree.Iafter) {
		notimeout := s.Tree.HasKeyword(dep, "notimeout")
		marker := filepath.Join(s.SvcDir, "exclusive", dep)
		waiter.Wait(ctx, marker, notimeout)
	}

	return nil
}

// runScheduledStarts consumes and starts every service that was
// scheduled to start once this one reached STARTED (P5: consuming twice
// is a no-op).
func (s *Supervisor) runScheduledStarts(ctx context.Context) error {
	targets, err := s.Store.ConsumeScheduled(s.Svc)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if s.Store.Get(target).Principal() != state.Stopped {
			continue
		}
		child := *s
		child.Svc = target
		child.Guard = control.New(s.Excl, s.Store, target)
		child.ScriptPath = filepath.Join(filepath.Dir(s.ScriptPath), target)
		if err := child.Start(ctx); err != nil {
			s.Logger.Warn("scheduled service failed to start", "service", target, "error", err)
		}
	}
	return nil
}

// Stop brings the service down from STARTED/INACTIVE to STOPPED, or back
// to INACTIVE when the service carries WASINACTIVE, per spec.md §4.8's
// svc_stop algorithm.
func (s *Supervisor) Stop(ctx context.Context) error {
	cur := s.Store.Get(s.Svc)
	if cur.Principal() == state.Stopped {
		return nil
	}

	wasInactive := cur&state.WasInactive != 0
	prevPrincipal := cur.Principal()

	// Mark before make_exclusive, same ordering fix as Start.
	ok, err := s.Store.Mark(s.Svc, state.Stopping)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTakenOver
	}

	if err := s.Excl.MakeExclusive(s.Svc); err != nil {
		_, _ = s.Store.Mark(s.Svc, prevPrincipal)
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = s.Store.Mark(s.Svc, prevPrincipal)
		}
		_ = s.Excl.RemoveProbe(s.Svc)
		_ = s.Excl.RemoveExclusive(s.Svc)
	}()

	_ = s.Hooks.Run(hooks.ServiceStopIn, s.Svc)

	if !s.Opts.NoDeps && s.Tree != nil {
		if err := s.stopDependents(ctx); err != nil {
			return err
		}
	}

	_ = s.Hooks.Run(hooks.ServiceStopNow, s.Svc)

	res, err := s.run(ctx, "stop")
	if err != nil {
		return err
	}
	if res.Aborted {
		return ErrAborted
	}

	if !s.Guard.InControl() {
		return ErrTakenOver
	}

	next := state.Stopped
	if wasInactive {
		next = state.Inactive
	}

	if res.ExitCode != 0 {
		_ = s.Store.MarkFailed(s.Svc)
		_ = s.Hooks.Run(hooks.ServiceStopDone, s.Svc)
		return &Error{Code: res.ExitCode, Message: fmt.Sprintf("%s stop script exited %d", s.Svc, res.ExitCode)}
	}

	if _, err := s.Store.Mark(s.Svc, next); err != nil {
		return err
	}
	committed = true

	_ = s.Hooks.Run(hooks.ServiceStopDone, s.Svc)
	_ = s.Hooks.Run(hooks.ServiceStopOut, s.Svc)
	return nil
}

// stopDependents stops every STARTED/INACTIVE dependent of s.Svc, in
// the Dependency Oracle's reverse-topological order, before s.Svc's own
// stop script runs (spec.md §4.8 step 7, I5). A dependent that fails to
// stop is marked FAILED and collected; any failure aborts stopping
// s.Svc itself rather than proceeding underneath a still-running
// dependent.
func (s *Supervisor) stopDependents(ctx context.Context) error {
	var failed []string
	for _, dependent := range s.Tree.DependentsOrdered(s.Svc) {
		depBits := s.Store.Get(dependent)
		if depBits.Principal() != state.Started && depBits.Principal() != state.Inactive {
			continue
		}
		depSup := *s
		depSup.Svc = dependent
		depSup.ScriptPath = filepath.Join(filepath.Dir(s.ScriptPath), dependent)
		if err := depSup.Stop(ctx); err != nil {
			_ = s.Store.MarkFailed(dependent)
			failed = append(failed, dependent)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrDependentStopFailed, failed)
	}
	return nil
}

// Restart dispatches to the NoDeps or dependency-aware algorithm per
// spec.md §4.8: -D/--nodeps collapses stop+start into a single script
// invocation when possible (Scenario 6), otherwise the full dependency
// graph's STARTED/INACTIVE cohort is snapshotted and restarted around
// the target service (P6).
func (s *Supervisor) Restart(ctx context.Context) error {
	if s.Opts.NoDeps || s.Tree == nil {
		return s.restartNoDeps(ctx)
	}
	return s.restartWithDeps(ctx)
}

// restartNoDeps issues one combined exec("stop","start") when the
// service is already STARTED or INACTIVE, instead of two separate
// script invocations. Anything else (already STOPPED, etc) falls back
// to a plain stop-then-start, since there is nothing to combine.
func (s *Supervisor) restartNoDeps(ctx context.Context) error {
	cur := s.Store.Get(s.Svc)
	if cur.Principal() != state.Started && cur.Principal() != state.Inactive {
		if err := s.Stop(ctx); err != nil {
			return err
		}
		return s.Start(ctx)
	}

	prevPrincipal := cur.Principal()

	ok, err := s.Store.Mark(s.Svc, state.Stopping)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTakenOver
	}

	if err := s.Excl.MakeExclusive(s.Svc); err != nil {
		_, _ = s.Store.Mark(s.Svc, prevPrincipal)
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = s.Store.Mark(s.Svc, prevPrincipal)
		}
		_ = s.Excl.RemoveProbe(s.Svc)
		_ = s.Excl.RemoveExclusive(s.Svc)
	}()

	res, err := s.run(ctx, "stop", "start")
	if err != nil {
		return err
	}
	if res.Aborted {
		return ErrAborted
	}

	if !s.Guard.InControl() {
		return ErrTakenOver
	}

	if res.ExitCode != 0 {
		_ = s.Store.MarkFailed(s.Svc)
		return &Error{Code: res.ExitCode, Message: fmt.Sprintf("%s stop/start exited %d", s.Svc, res.ExitCode)}
	}

	if _, err := s.Store.Mark(s.Svc, state.Started); err != nil {
		return err
	}
	committed = true
	return nil
}

// restartWithDeps snapshots every currently STARTED or INACTIVE service
// before stopping the target, restarts the target through the normal
// Stop/Start dependency algorithms, then restarts whatever is left of
// that snapshot (excluding the target and anything the dependency
// cascade already brought back up).
func (s *Supervisor) restartWithDeps(ctx context.Context) error {
	cohort, err := s.restartCohort()
	if err != nil {
		return err
	}

	if err := s.Stop(ctx); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	var warnings []string
	for _, name := range cohort {
		if s.Store.Get(name).Principal() == state.Started {
			continue // already brought back up by the dependency cascade
		}
		child := *s
		child.Svc = name
		child.Guard = control.New(s.Excl, s.Store, name)
		child.ScriptPath = filepath.Join(filepath.Dir(s.ScriptPath), name)
		if err := child.Start(ctx); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(warnings) > 0 {
		s.Logger.Warn("restart cohort incomplete", "service", s.Svc, "errors", warnings)
	}
	return nil
}

// restartCohort returns, sorted, every currently STARTED or INACTIVE
// service other than s.Svc itself.
func (s *Supervisor) restartCohort() ([]string, error) {
	started, err := s.Store.List(state.Started)
	if err != nil {
		return nil, err
	}
	inactive, err := s.Store.List(state.Inactive)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, n := range started {
		set[n] = true
	}
	for _, n := range inactive {
		set[n] = true
	}
	delete(set, s.Svc)

	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// CondRestart restarts only if the service is currently STARTED,
// matching the original's svc_restart under the "conditional" verb.
func (s *Supervisor) CondRestart(ctx context.Context) error {
	if s.Store.Get(s.Svc).Principal() != state.Started {
		return nil
	}
	return s.Restart(ctx)
}

// Status reports the human-readable status line, the read-only action
// that bypasses the root-only gate and the exclusive marker entirely.
func (s *Supervisor) Status() string {
	b := s.Store.Get(s.Svc)
	status := b.String()
	if b&state.Failed != 0 {
		status += " (failed)"
	}
	return fmt.Sprintf("%s: %s", s.Svc, status)
}

// StatusCode reports the exit code status should produce: 0 iff the
// service is STARTED and its daemons haven't crashed, otherwise the raw
// state bitset cast to an int (spec.md §6; Scenario 5's crashed service
// must exit nonzero).
func (s *Supervisor) StatusCode() int {
	b := s.Store.Get(s.Svc)
	if b&state.Started != 0 && b&state.CrashedDaemons == 0 {
		return 0
	}
	return int(uint32(b))
}

// Zap forcibly clears a service's transient state without running any
// script, for recovering from a wedged supervisor invocation.
func (s *Supervisor) Zap(ctx context.Context) error {
	if _, err := s.Store.Mark(s.Svc, state.Stopped); err != nil {
		return err
	}
	if err := s.Store.ClearFailed(s.Svc); err != nil {
		return err
	}
	if err := s.Store.Uncoldplug(s.Svc); err != nil {
		return err
	}
	return s.Excl.RemoveExclusive(s.Svc)
}

// Describe prints the service's dependency relations without acting on
// it, the introspection verb spec.md §4.8 names.
func (s *Supervisor) Describe() string {
	if s.Tree == nil {
		return s.Svc + ": no dependency information loaded"
	}
	return fmt.Sprintf(
		"%s: ineed=%v iuse=%v iafter=%v ibefore=%v needsme=%v usesme=%v",
		s.Svc,
		s.Tree.Depend(s.Svc, deptree.Ineed),
		s.Tree.Depend(s.Svc, deptree.Iuse),
		s.Tree.Depend(s.Svc, deptree.Iafter),
		s.Tree.Depend(s.Svc, deptree.Ibefore),
		s.Tree.NeedsMe(s.Svc),
		s.Tree.UsesMe(s.Svc),
	)
}

// Introspect reports the raw state bitset and keyword set, the other
// introspection verb.
func (s *Supervisor) Introspect() string {
	b := s.Store.Get(s.Svc)
	var words []string
	if s.Tree != nil {
		words = s.Tree.Keywords(s.Svc)
	}
	return fmt.Sprintf("%s: bits=%#x keywords=%v", s.Svc, uint32(b), words)
}

// Schedule records that target should start once s.Svc reaches STARTED.
func (s *Supervisor) Schedule(target string) error {
	return s.Store.Schedule(s.Svc, target)
}
