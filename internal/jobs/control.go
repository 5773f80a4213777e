package jobs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var ErrNotChild = errors.New("not a child of this shell")

const DefaultPollInterval = 200 * time.Millisecond

type Option func(*Controller)

// WithTerminal enables job control on t.
func WithTerminal(t Terminal) Option {
	return func(c *Controller) {
		c.term = t
	}
}

// WithInterrupts sets the channel on which the shell receives SIGINT and
// the other job-control signals it catches.
func WithInterrupts(ch <-chan os.Signal) Option {
	return func(c *Controller) {
		c.interrupts = ch
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithOutput sets where job reports go.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) {
		c.out = w
	}
}

func WithColors(on bool) Option {
	return func(c *Controller) {
		c.colors = on
	}
}

func WithPipefail(on bool) Option {
	return func(c *Controller) {
		c.pipefail = on
	}
}

func WithHistory(n int) Option {
	return func(c *Controller) {
		c.history = n
	}
}

// Interactive turns on the reports an interactive shell prints: background
// job numbers and finished-job notifications.
func Interactive(on bool) Option {
	return func(c *Controller) {
		c.interactive = on
	}
}

// Controller owns the job table and the terminal, and moves jobs between
// the foreground and the background. All of its methods run on the
// shell's main goroutine.
type Controller struct {
	table       *Table
	term        Terminal
	history     int
	interrupts  <-chan os.Signal
	sigchld     chan os.Signal
	poll        time.Duration
	out         io.Writer
	colors      bool
	pipefail    bool
	interactive bool

	shellPgid   int
	origPgrp    int
	acquired    bool
	interrupted bool
}

func NewController(opts ...Option) *Controller {
	c := &Controller{
		poll:    DefaultPollInterval,
		out:     os.Stderr,
		history: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.table = NewTable(c.history)
	c.shellPgid = unix.Getpgrp()
	return c
}

// Start subscribes to SIGCHLD. The signal only wakes blocked waits; the
// table is folded on the main goroutine by Poll.
func (c *Controller) Start() {
	if c.sigchld != nil {
		return
	}
	c.sigchld = make(chan os.Signal, 1)
	signal.Notify(c.sigchld, unix.SIGCHLD)
}

// TakeTerminal puts the shell in its own process group in the foreground
// of the terminal. On failure job control is turned off.
func (c *Controller) TakeTerminal() error {
	if c.term == nil {
		return ErrNotTerminal
	}
	orig, err := Acquire(c.term)
	if err != nil {
		logger.Printf("job control disabled: %v", err)
		c.term = nil
		return err
	}
	c.origPgrp = orig
	c.acquired = true
	c.shellPgid = unix.Getpgrp()
	return nil
}

// Close stops SIGCHLD delivery and gives the terminal back to the group
// that had it before TakeTerminal.
func (c *Controller) Close() {
	if c.sigchld != nil {
		signal.Stop(c.sigchld)
		c.sigchld = nil
	}
	if c.acquired && c.term != nil {
		if c.origPgrp != c.shellPgid {
			unix.Setpgid(0, c.origPgrp)
		}
		if err := c.term.SetPgrp(c.origPgrp); err != nil {
			logger.Printf("restore terminal pgrp %d: %v", c.origPgrp, err)
		}
		c.acquired = false
	}
}

func (c *Controller) Table() *Table {
	return c.table
}

// JobControl reports whether jobs get process groups of their own and the
// terminal is handed to foreground jobs.
func (c *Controller) JobControl() bool {
	return c.term != nil
}

// TTY returns the terminal descriptor foreground jobs are given, or -1.
func (c *Controller) TTY() int {
	if c.term == nil {
		return -1
	}
	return c.term.Fd()
}

func (c *Controller) ShellPgid() int {
	return c.shellPgid
}

func (c *Controller) SetPipefail(on bool) {
	c.pipefail = on
}

func (c *Controller) Pipefail() bool {
	return c.pipefail
}

func (c *Controller) SetInteractive(on bool) {
	c.interactive = on
}

func (c *Controller) IsInteractive() bool {
	return c.interactive
}

// Interrupted reports whether an interrupt reached the shell, or killed a
// foreground job of an interactive shell, since the last ClearInterrupt.
func (c *Controller) Interrupted() bool {
	// Interrupts that arrived while no job was waited for are still queued.
	for !c.interrupted {
		select {
		case sig := <-c.interrupts:
			c.interrupted = sig == unix.SIGINT
		default:
			return false
		}
	}
	return true
}

func (c *Controller) ClearInterrupt() {
	c.interrupted = false
}

// Create registers a launched job.
func (c *Controller) Create(procs []*Process, text string) (*Job, error) {
	return c.table.Create(procs, text, c.JobControl())
}

// Poll collects every pending status change without blocking.
func (c *Controller) Poll() {
	for _, pid := range c.table.Live() {
		c.collect(pid)
	}
}

func (c *Controller) collect(pid int) {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// Already collected elsewhere; nothing more will arrive.
			logger.Printf("wait4(%d): no such child, marking exited", pid)
			c.table.Update(pid, Exited(0))
			return
		case err != nil:
			logger.Printf("wait4(%d): %v", pid, err)
			return
		case wpid == 0:
			return
		}
		st := FromWait(ws)
		logger.Printf("pid %d: %s code=%d signal=%v", pid, st.State, st.Code, st.Signal)
		c.table.Update(pid, st)
		if st.Terminal() {
			return
		}
	}
}

// block polls until done returns true. It returns early, reporting true,
// when an interrupt arrives and stopOnInterrupt is set; otherwise onInt is
// called for each interrupt.
func (c *Controller) block(done func() bool, onInt func(), stopOnInterrupt bool) bool {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		c.Poll()
		if done() {
			return false
		}
		select {
		case <-c.sigchld:
		case <-ticker.C:
		case sig := <-c.interrupts:
			if sig != unix.SIGINT {
				continue
			}
			c.interrupted = true
			if onInt != nil {
				onInt()
			}
			if stopOnInterrupt {
				return true
			}
		}
	}
}

// Foreground runs the foreground protocol on j and returns its status.
// When cont is set the job was stopped and is sent SIGCONT first.
func (c *Controller) Foreground(j *Job, cont bool) int {
	handoff := c.term != nil && j.JobControl && j.Pgid != 0

	var (
		prev  = c.shellPgid
		modes *term.State
	)
	if handoff {
		// The first stage may already have taken the terminal itself.
		if pg, err := c.term.Pgrp(); err == nil && pg != j.Pgid {
			prev = pg
		}
		modes, _ = c.term.SaveModes()
		if cont && j.modes != nil {
			c.term.RestoreModes(j.modes)
		}
		if err := c.term.SetPgrp(j.Pgid); err != nil {
			logger.Printf("give terminal to %d: %v", j.Pgid, err)
		}
	}

	j.Foreground = true
	if cont {
		c.table.SetRunning(j)
		c.kill(j, unix.SIGCONT)
	}

	c.block(func() bool { return j.State() != JobRunning }, func() {
		// A group of its own did not get the terminal's interrupt.
		if j.JobControl {
			c.kill(j, unix.SIGINT)
		}
		j.Interrupted = true
	}, false)
	j.Foreground = false

	if handoff {
		if j.State() == JobStopped {
			j.modes, _ = c.term.SaveModes()
		}
		if err := c.term.SetPgrp(prev); err != nil {
			logger.Printf("take terminal back to %d: %v", prev, err)
		}
		c.term.RestoreModes(modes)
	}

	if j.State() == JobStopped {
		j.Changed = false
		fmt.Fprintf(c.out, "\n%s\n", c.Format(j, FormatDefault))
		return 128 + int(j.StopSignal())
	}

	status := j.ExitStatus(c.pipefail)
	c.reportTermination(j)
	j.Reported = true
	j.Changed = false
	c.table.Reap(j)
	return status
}

func (c *Controller) reportTermination(j *Job) {
	st := j.final(c.pipefail)
	switch st.Signal {
	case 0:
		return
	case unix.SIGINT:
		j.Interrupted = true
		// A script keeps going when a child dies of SIGINT it did not
		// share with the shell.
		if c.interactive {
			c.interrupted = true
			fmt.Fprintln(c.out)
		}
	case unix.SIGPIPE:
	default:
		fmt.Fprintln(c.out, describeSignal(st))
	}
}

// Announce prints the job number and leader pid of a new background job.
func (c *Controller) Announce(j *Job) {
	if c.interactive {
		fmt.Fprintf(c.out, "[%d] %d\n", j.ID, j.Leader())
	}
}

// Background continues a stopped job without giving it the terminal.
func (c *Controller) Background(j *Job, w io.Writer) {
	j.Foreground = false
	if j.State() == JobStopped {
		c.table.SetRunning(j)
		c.kill(j, unix.SIGCONT)
	}
	j.Changed = false
	fmt.Fprintf(w, "[%d]%c %s &\n", j.ID, c.marker(j), j.Text)
}

// Wait blocks until j is done or stopped. An interrupt ends the wait with
// status 130.
func (c *Controller) Wait(j *Job) int {
	if c.block(func() bool { return j.State() != JobRunning }, nil, true) {
		return 128 + int(unix.SIGINT)
	}
	if j.State() == JobStopped {
		return 128 + int(j.StopSignal())
	}
	status := j.ExitStatus(c.pipefail)
	j.Reported = true
	j.Changed = false
	c.table.Reap(j)
	return status
}

// WaitPid waits for one process. A pid whose job was already reaped
// returns its remembered status; an unknown pid returns ErrNotChild.
func (c *Controller) WaitPid(pid int) (int, error) {
	j := c.table.ByPid(pid)
	if j == nil {
		if st, ok := c.table.Remembered(pid); ok {
			return st.ExitCode(), nil
		}
		return 127, fmt.Errorf("pid %d is %w", pid, ErrNotChild)
	}

	var proc *Process
	for _, p := range j.Processes {
		if p.Pid == pid {
			proc = p
		}
	}
	if c.block(func() bool { return proc.Status.State != JobRunning }, nil, true) {
		return 128 + int(unix.SIGINT), nil
	}
	if proc.Status.State == JobStopped {
		return 128 + int(proc.Status.Signal), nil
	}
	if j.State() == JobDone {
		j.Reported = true
		j.Changed = false
		c.table.Reap(j)
	}
	return proc.Status.ExitCode(), nil
}

// WaitAll blocks until no job is running and returns the status of the
// job that finished last. Finished jobs are consumed.
func (c *Controller) WaitAll() int {
	running := func() bool {
		for _, j := range c.table.List() {
			if j.State() == JobRunning {
				return false
			}
		}
		return true
	}
	if c.block(running, nil, true) {
		return 128 + int(unix.SIGINT)
	}

	var last *Job
	for _, j := range c.table.List() {
		if j.State() != JobDone {
			continue
		}
		if last == nil || j.finished > last.finished {
			last = j
		}
		j.Reported = true
		j.Changed = false
		c.table.Reap(j)
	}
	if last == nil {
		return 0
	}
	return last.ExitStatus(c.pipefail)
}

// Signal delivers sig to every process of j. A stopped job that is sent a
// terminating signal is continued so it can act on it.
func (c *Controller) Signal(j *Job, sig syscall.Signal) error {
	if err := c.kill(j, sig); err != nil {
		return err
	}
	if j.State() != JobStopped || stopSignal(sig) {
		return nil
	}
	if sig != unix.SIGCONT {
		if err := c.kill(j, unix.SIGCONT); err != nil {
			return err
		}
	}
	c.table.SetRunning(j)
	return nil
}

func stopSignal(sig syscall.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}

func (c *Controller) kill(j *Job, sig syscall.Signal) error {
	if j.JobControl && j.Pgid != 0 {
		return unix.Kill(-j.Pgid, sig)
	}
	var first error
	for _, p := range j.Processes {
		if p.Pid == 0 || p.Status.Terminal() {
			continue
		}
		if err := unix.Kill(p.Pid, sig); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Notify reports each job whose state changed since its last report, once,
// and reaps the finished ones.
func (c *Controller) Notify(w io.Writer) {
	c.Poll()
	for _, j := range c.table.List() {
		if !j.Changed || j.Foreground {
			continue
		}
		state := j.State()
		if state == JobRunning {
			j.Changed = false
			continue
		}
		if c.interactive {
			fmt.Fprintln(w, c.Format(j, FormatDefault))
		}
		j.Changed = false
		if state == JobDone {
			j.Reported = true
			c.table.Reap(j)
		}
	}
}

// HangupStopped sends SIGHUP and then SIGCONT to every stopped job, as the
// shell does when it exits.
func (c *Controller) HangupStopped() {
	for _, j := range c.table.Stopped() {
		logger.Printf("hangup job %d", j.ID)
		c.kill(j, unix.SIGHUP)
		c.kill(j, unix.SIGCONT)
	}
}
