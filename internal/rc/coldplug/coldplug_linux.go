//go:build linux

// Package coldplug implements the Linux-specific coldplug deferral gate:
// while /dev/.rcsysinit is present, a starting service is recorded under
// /dev/.rcboot instead of actually starting, to be coldplugged once the
// system has finished early boot.
package coldplug

import (
	"os"
	"path/filepath"
)

const (
	sysinitMarker = "/dev/.rcsysinit"
	bootDir       = "/dev/.rcboot"
)

// Deferred reports whether svc should be deferred for coldplug: true
// only during early boot, before /dev/.rcsysinit has been removed by the
// boot sequence.
func Deferred(svc string) bool {
	_, err := os.Stat(sysinitMarker)
	return err == nil
}

// Defer records svc under /dev/.rcboot so a later coldplug pass can pick
// it up, mirroring the original's behavior under __linux__.
func Defer(svc string) error {
	if err := os.MkdirAll(bootDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(bootDir, svc), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
