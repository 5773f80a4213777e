// Package jobs tracks the processes the shell starts, grouped into jobs,
// and moves jobs between the foreground and the background.
package jobs

import (
	"fmt"
	"io"
	"log"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var logger = log.New(io.Discard, "jobs: ", log.LstdFlags)

func SetLogger(l *log.Logger) {
	logger = l
}

type JobState int

const (
	JobRunning JobState = iota
	JobStopped
	JobDone
)

func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "Running"
	case JobStopped:
		return "Stopped"
	case JobDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Status is the last observed wait status of one process.
type Status struct {
	State JobState
	// Code is the exit code of a process that exited normally.
	Code int
	// Signal is the signal that killed or stopped the process.
	Signal syscall.Signal
	Core   bool
}

func Running() Status                    { return Status{State: JobRunning} }
func Exited(code int) Status             { return Status{State: JobDone, Code: code} }
func Signaled(sig syscall.Signal) Status { return Status{State: JobDone, Signal: sig} }
func StoppedBy(sig syscall.Signal) Status {
	return Status{State: JobStopped, Signal: sig}
}

// FromWait converts a wait4 status.
func FromWait(ws unix.WaitStatus) Status {
	switch {
	case ws.Exited():
		return Exited(ws.ExitStatus())
	case ws.Signaled():
		return Status{State: JobDone, Signal: ws.Signal(), Core: ws.CoreDump()}
	case ws.Stopped():
		return StoppedBy(ws.StopSignal())
	default:
		return Running()
	}
}

// ExitCode is the shell status for this process: the exit code, or
// 128 plus the signal for a killed or stopped process.
func (s Status) ExitCode() int {
	if s.Signal != 0 {
		return 128 + int(s.Signal)
	}
	return s.Code
}

func (s Status) Terminal() bool {
	return s.State == JobDone
}

// Process is one member of a job. A Pid of 0 is a stage that never
// started, such as a command that was not found.
type Process struct {
	Pid    int
	Text   string
	Status Status
}

type Job struct {
	ID        int
	Pgid      int
	Processes []*Process
	Text      string
	Started   time.Time

	// JobControl is set when Pgid is a process group of its own.
	JobControl bool
	// Foreground is set while the job owns the terminal.
	Foreground  bool
	Interrupted bool
	Waited      bool
	Reported    bool
	Changed     bool

	seq      uint64
	finished uint64
	modes    *term.State
}

// State folds the member statuses: done when all are done, stopped when
// none runs and at least one is stopped, running otherwise.
func (j *Job) State() JobState {
	done, stopped := 0, 0
	for _, p := range j.Processes {
		switch p.Status.State {
		case JobDone:
			done++
		case JobStopped:
			stopped++
		}
	}
	switch {
	case done == len(j.Processes):
		return JobDone
	case stopped > 0 && done+stopped == len(j.Processes):
		return JobStopped
	default:
		return JobRunning
	}
}

// ExitStatus is the status of the last process, or with pipefail the
// status of the rightmost process that failed.
func (j *Job) ExitStatus(pipefail bool) int {
	if len(j.Processes) == 0 {
		return 0
	}
	if pipefail {
		for i := len(j.Processes) - 1; i >= 0; i-- {
			if code := j.Processes[i].Status.ExitCode(); code != 0 {
				return code
			}
		}
		return 0
	}
	return j.Processes[len(j.Processes)-1].Status.ExitCode()
}

// StopSignal returns the signal that stopped the job.
func (j *Job) StopSignal() syscall.Signal {
	for _, p := range j.Processes {
		if p.Status.State == JobStopped {
			return p.Status.Signal
		}
	}
	return 0
}

// Leader is the pid of the first started process.
func (j *Job) Leader() int {
	for _, p := range j.Processes {
		if p.Pid != 0 {
			return p.Pid
		}
	}
	return 0
}

func (j *Job) Pids() []int {
	pids := make([]int, 0, len(j.Processes))
	for _, p := range j.Processes {
		if p.Pid != 0 {
			pids = append(pids, p.Pid)
		}
	}
	return pids
}

func (j *Job) String() string {
	return fmt.Sprintf("[%d] %s", j.ID, j.Text)
}
