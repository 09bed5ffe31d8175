// Package env builds the sanitized execution environment passed to a
// service script, and loads the rc.conf-equivalent configuration file
// that seeds it.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Passthrough lists the variables inherited verbatim from the
// supervisor's own environment when present; everything else is
// dropped, matching the original's practice of constructing a fresh
// environment for the service script rather than forwarding an
// unaudited one.
var Passthrough = []string{
	"PATH",
	"HOME",
	"TERM",
	"LANG",
	"LC_ALL",
}

// Config is the set of assignments loaded from an rc.conf-equivalent
// file: KEY="value" lines, shell-style comments, minimal quoting.
type Config map[string]string

// LoadConfig parses path with godotenv, which tolerates the relaxed
// quoting rc.conf assignments use closely enough that no shell needs to
// be invoked just to read configuration. A missing file is not an
// error: the supervisor falls back to built-in defaults.
func LoadConfig(path string) (Config, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return nil, fmt.Errorf("env: load %s: %w", path, err)
	}
	return Config(vars), nil
}

// Bool reads key as a shell-truthy boolean ("yes"/"true"/"1"), the
// convention rc.conf assignments like rc_parallel use.
func (c Config) Bool(key string, def bool) bool {
	v, ok := c[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	case "no", "false", "0":
		return false
	default:
		return def
	}
}

// String reads key, falling back to def if absent.
func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Build constructs the environment slice passed to exec.Cmd.Env: the
// allowed passthrough variables from the current process, overlaid with
// cfg's assignments, overlaid with extra (the per-service variables the
// Lifecycle Engine computes, e.g. RC_SVCNAME/RC_RUNLEVEL/EBUILD_PHASE).
func Build(cfg Config, extra map[string]string) []string {
	merged := map[string]string{}

	for _, name := range Passthrough {
		if v, ok := os.LookupEnv(name); ok {
			merged[name] = v
		}
	}
	for k, v := range cfg {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
