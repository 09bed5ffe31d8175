// Package shell implements the Supervisor Shell: argument parsing,
// rc_parallel prefix-width computation, the root-only permission gate,
// and dispatch to the Lifecycle Engine for one runscript invocation.
package shell

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openrc-go/runscript/internal/rc/lifecycle"
)

// readOnlyActions bypass the root-only gate: they only read state, they
// never touch the exclusive marker or run a script.
var readOnlyActions = map[string]bool{
	"status":     true,
	"help":       true,
	"describe":   true,
	"introspect": true,
}

// Args is the parsed command line: a script path followed by one or
// more actions, with -d/-s/-D evaluated positionally as the original's
// getopt_long loop does.
type Args struct {
	ScriptPath string
	Actions    []string
	Opts       lifecycle.Options
}

// Parse mirrors the original's argument grammar: [-d|--debug]
// [-s|--ifstarted] [-D|--nodeps] <script> <action> [<action> ...].
func Parse(argv []string) (Args, error) {
	var a Args
	var positional []string

	for _, arg := range argv {
		switch arg {
		case "-d", "--debug":
			a.Opts.Debug = true
		case "-s", "--ifstarted":
			a.Opts.IfStarted = true
		case "-D", "--nodeps":
			a.Opts.NoDeps = true
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) < 2 {
		return a, errors.New("shell: usage: runscript [-d] [-s] [-D] <script> <action> [<action> ...]")
	}

	a.ScriptPath = positional[0]
	a.Actions = positional[1:]

	base := filepath.Base(a.ScriptPath)
	if base != a.ScriptPath && strings.Contains(filepath.Base(a.ScriptPath), string(filepath.Separator)) {
		return a, fmt.Errorf("shell: service name must be a bare basename, got %q", a.ScriptPath)
	}

	return a, nil
}

// RequiresRoot reports whether action must be gated on root per
// spec.md's permission-gate Open Question resolution: every action
// except the read-only introspection verbs.
func RequiresRoot(action string) bool {
	return !readOnlyActions[action]
}

// CheckPermission enforces the root-only gate, centralized here instead
// of gestured at per-action the way the original does it.
func CheckPermission(action string) error {
	if !RequiresRoot(action) {
		return nil
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("shell: %s requires root", action)
	}
	return nil
}

// PrefixWidth computes the rc_parallel column width: the longest service
// name among siblings, so parallel output lines up. An empty siblings
// list (rc_parallel disabled, or a single-service invocation) yields a
// width of 0 and Prefix returns "".
func PrefixWidth(siblings []string) int {
	width := 0
	for _, s := range siblings {
		if len(s) > width {
			width = len(s)
		}
	}
	return width
}

// Prefix renders svc's output-line prefix at the given column width, or
// "" if width is 0 (rc_parallel disabled).
func Prefix(svc string, width int) string {
	if width == 0 {
		return ""
	}
	return fmt.Sprintf("%-*s| ", width, svc)
}

// Dispatch runs every requested action against sup in order, stopping at
// the first error, and returns the process exit code the original's
// main() would produce.
func Dispatch(sup *lifecycle.Supervisor, actions []string, run func(string) error) (int, error) {
	for _, action := range actions {
		if err := CheckPermission(action); err != nil {
			return 1, err
		}
		if err := run(action); err != nil {
			var lerr *lifecycle.Error
			if errors.As(err, &lerr) {
				return lerr.Code, err
			}
			return 1, err
		}
	}
	return 0, nil
}
