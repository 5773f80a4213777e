package jobs

import (
	"errors"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("not a terminal")

// Terminal is the controlling terminal as job control sees it.
type Terminal interface {
	// Fd is the descriptor of the terminal in the shell, or -1.
	Fd() int
	Pgrp() (int, error)
	SetPgrp(pgid int) error
	SaveModes() (*term.State, error)
	RestoreModes(state *term.State) error
}

// TTY is a Terminal backed by an open terminal descriptor.
type TTY struct {
	fd int
	// rearm receives SIGTTOU again after a terminal handoff; nil means the
	// signal goes back to its default disposition.
	rearm chan<- os.Signal
}

// NewTTY wraps fd, which must refer to a terminal. If the shell catches
// SIGTTOU on a channel, pass it as rearm so the handoff can restore it.
func NewTTY(fd int, rearm chan<- os.Signal) (*TTY, error) {
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	return &TTY{fd: fd, rearm: rearm}, nil
}

func (t *TTY) Fd() int {
	return t.fd
}

func (t *TTY) Pgrp() (int, error) {
	return unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
}

// SetPgrp makes pgid the foreground group. A shell in a background group
// would get SIGTTOU for this, so the signal is ignored around the call.
func (t *TTY) SetPgrp(pgid int) error {
	signal.Ignore(unix.SIGTTOU)
	defer func() {
		if t.rearm != nil {
			signal.Notify(t.rearm, unix.SIGTTOU)
		} else {
			signal.Reset(unix.SIGTTOU)
		}
	}()

	for {
		err := unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
		if err != unix.EINTR {
			return err
		}
	}
}

func (t *TTY) SaveModes() (*term.State, error) {
	return term.GetState(t.fd)
}

func (t *TTY) RestoreModes(state *term.State) error {
	if state == nil {
		return nil
	}
	return term.Restore(t.fd, state)
}

// suspend stops process group pgrp with SIGTTIN. The signal only stops
// the shell under its default disposition, so any subscription is
// dropped first; callers subscribe to SIGTTIN after Acquire returns.
var suspend = func(pgrp int) error {
	signal.Reset(unix.SIGTTIN)
	return unix.Kill(-pgrp, unix.SIGTTIN)
}

// waitForeground returns once the shell's process group owns t.
func waitForeground(t Terminal) error {
	for {
		fg, err := t.Pgrp()
		if err != nil {
			return err
		}
		pgrp := unix.Getpgrp()
		if fg == pgrp {
			return nil
		}
		// Started in the background: stop until someone gives us the
		// terminal.
		if err := suspend(pgrp); err != nil {
			return err
		}
	}
}

// Acquire waits until the shell's process group is in the foreground of
// the terminal, then puts the shell in a group of its own and gives that
// group the terminal. It returns the group that owned the terminal before.
func Acquire(t Terminal) (int, error) {
	if err := waitForeground(t); err != nil {
		return 0, err
	}

	orig := unix.Getpgrp()
	pid := unix.Getpid()
	if orig != pid {
		if err := unix.Setpgid(0, 0); err != nil {
			return 0, err
		}
	}
	if err := t.SetPgrp(pid); err != nil {
		return 0, err
	}
	logger.Printf("acquired terminal: pgrp %d -> %d", orig, pid)
	return orig, nil
}
