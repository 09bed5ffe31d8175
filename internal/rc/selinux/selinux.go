// Package selinux is an extension point only. SELinux-aware re-exec (the
// original's selinux_setup()/is_selinux_enabled() dance before running a
// service script under the right security context) is out of scope for
// this core; this package fixes where that behavior would plug in
// without implementing it.
package selinux

// Enabled always reports false: this build carries no SELinux support.
func Enabled() bool { return false }

// Reexec is a no-op. A real implementation would re-exec the current
// process under the service script's target security context before
// Supervisor.Start proceeds.
func Reexec(svc string) error { return nil }
