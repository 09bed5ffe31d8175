//go:build !linux

// Package coldplug is a no-op on platforms other than Linux: the
// original gates coldplug deferral behind #ifdef __linux__, and no
// other platform in this core's scope has an equivalent early-boot
// marker to key off.
package coldplug

// Deferred always reports false outside Linux.
func Deferred(svc string) bool { return false }

// Defer is a no-op outside Linux.
func Defer(svc string) error { return nil }
