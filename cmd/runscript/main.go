// Command runscript is the per-service supervisor: it mediates between
// a requested action (start, stop, restart, status, ...) and the shell
// helper implementing an OpenRC-style service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openrc-go/runscript/internal/rc/control"
	"github.com/openrc-go/runscript/internal/rc/deptree"
	"github.com/openrc-go/runscript/internal/rc/env"
	"github.com/openrc-go/runscript/internal/rc/exclusive"
	"github.com/openrc-go/runscript/internal/rc/hooks"
	"github.com/openrc-go/runscript/internal/rc/lifecycle"
	"github.com/openrc-go/runscript/internal/rc/rclog"
	"github.com/openrc-go/runscript/internal/rc/shell"
	"github.com/openrc-go/runscript/internal/rc/state"
)

func main() {
	os.Exit(runMain())
}

// runMain is split out from main so every return path flows through
// deferred cleanup before the process exits — os.Exit called directly
// from main would skip it, the same pitfall the original guards against
// with atexit(cleanup).
func runMain() int {
	args, err := shell.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := rclog.New("runscript", args.Opts.Debug)

	svcDir := envOr("RC_SVCDIR", "/run/runscript")
	depCache := envOr("RC_DEPTREE_CACHE", filepath.Join(svcDir, "deptree"))
	rcConf := envOr("RC_CONF", "/etc/rc.conf")
	runlevel := envOr("RC_SOFTLEVEL", "default")

	cfg, err := env.LoadConfig(rcConf)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}

	tree, err := deptree.Load(depCache)
	if err != nil {
		logger.Error("failed to load dependency tree", "error", err)
		return 1
	}

	excl, err := exclusive.New(svcDir)
	if err != nil {
		logger.Error("failed to initialize exclusive markers", "error", err)
		return 1
	}

	svc := filepath.Base(args.ScriptPath)
	st := state.New(svcDir)

	sup := &lifecycle.Supervisor{
		Svc:        svc,
		SvcDir:     svcDir,
		Runlvl:     runlevel,
		Store:      st,
		Tree:       tree,
		Excl:       excl,
		Guard:      control.New(excl, st, svc),
		Hooks:      hooks.NewLoggingRunner(logger),
		Config:     cfg,
		Logger:     logger,
		ScriptPath: args.ScriptPath,
		Opts:       args.Opts,
		Stdout:     os.Stdout,
	}

	// Every exit path below this point must still remove our ownership
	// probe, matching the original's cleanup()/atexit invariant.
	defer excl.RemoveProbe(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	code, err := shell.Dispatch(sup, args.Actions, func(action string) error {
		return dispatchOne(ctx, sup, action)
	})
	if err != nil {
		logger.Error("action failed", "service", svc, "error", err)
	}
	return code
}

func dispatchOne(ctx context.Context, sup *lifecycle.Supervisor, action string) error {
	switch action {
	case "start":
		return sup.Start(ctx)
	case "stop":
		return sup.Stop(ctx)
	case "restart":
		return sup.Restart(ctx)
	case "condrestart", "conditionalrestart":
		return sup.CondRestart(ctx)
	case "status":
		fmt.Println(sup.Status())
		if code := sup.StatusCode(); code != 0 {
			return &lifecycle.Error{Code: code, Message: fmt.Sprintf("%s not started", sup.Svc)}
		}
		return nil
	case "zap":
		return sup.Zap(ctx)
	case "describe":
		fmt.Println(sup.Describe())
		return nil
	case "introspect":
		fmt.Println(sup.Introspect())
		return nil
	default:
		return fmt.Errorf("runscript: unknown action %q", action)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
