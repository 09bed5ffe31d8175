//go:build linux

package runner

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// openPTY allocates a pty pair via /dev/ptmx, the Linux path the
// original's pty support takes (as opposed to BSD's openpty(3), which
// this core does not implement — see DESIGN.md).
func openPTY() (master, slave *os.File, err error) {
	m, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("runner: open /dev/ptmx: %w", err)
	}

	var unlock int32
	if err := unix.IoctlSetPointerInt(int(m.Fd()), unix.TIOCSPTLCK, int(unlock)); err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("runner: TIOCSPTLCK: %w", err)
	}

	n, err := unix.IoctlGetInt(int(m.Fd()), unix.TIOCGPTN)
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("runner: TIOCGPTN: %w", err)
	}

	slavePath := "/dev/pts/" + strconv.Itoa(n)
	s, err := os.OpenFile(slavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("runner: open %s: %w", slavePath, err)
	}

	return m, s, nil
}

func signalsToForward() []os.Signal {
	return []os.Signal{
		syscall.SIGWINCH,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
	}
}

func syncWindowSize(master *os.File) {
	var ws unix.Winsize
	if err := ioctlGetWinsize(int(os.Stdin.Fd()), &ws); err != nil {
		return
	}
	_ = ioctlSetWinsize(int(master.Fd()), &ws)
}

func ioctlGetWinsize(fd int, ws *unix.Winsize) error {
	got, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return err
	}
	*ws = *got
	return nil
}

func ioctlSetWinsize(fd int, ws *unix.Winsize) error {
	return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
}
