package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sys/unix"
)

type FormatMode int

const (
	FormatDefault FormatMode = iota
	// FormatLong includes the leader pid.
	FormatLong
	// FormatPids prints only the leader pid.
	FormatPids
)

var (
	colorDone    = color.New(color.FgGreen)
	colorStopped = color.New(color.FgYellow)
	colorFailed  = color.New(color.FgRed)
)

// final is the status that describes a finished job.
func (j *Job) final(pipefail bool) Status {
	if len(j.Processes) == 0 {
		return Status{}
	}
	if pipefail {
		for i := len(j.Processes) - 1; i >= 0; i-- {
			if st := j.Processes[i].Status; st.ExitCode() != 0 {
				return st
			}
		}
	}
	return j.Processes[len(j.Processes)-1].Status
}

// marker is '+' for the current job, '-' for the previous one.
func (c *Controller) marker(j *Job) rune {
	switch j {
	case c.table.Current():
		return '+'
	case c.table.Previous():
		return '-'
	default:
		return ' '
	}
}

// Format renders j the way the jobs builtin and notifications show it.
func (c *Controller) Format(j *Job, mode FormatMode) string {
	if mode == FormatPids {
		return strconv.Itoa(j.Leader())
	}

	state := c.paint(j, fmt.Sprintf("%-24s", c.StateText(j)))
	text := j.Text
	if j.State() == JobRunning {
		text += " &"
	}
	if mode == FormatLong {
		return fmt.Sprintf("[%d]%c %d %s%s", j.ID, c.marker(j), j.Leader(), state, text)
	}
	return fmt.Sprintf("[%d]%c  %s%s", j.ID, c.marker(j), state, text)
}

// StateText is the state word of j: Running, Stopped, Done, Exit N, or
// the name of the signal that killed it.
func (c *Controller) StateText(j *Job) string {
	switch j.State() {
	case JobRunning:
		return "Running"
	case JobStopped:
		switch j.StopSignal() {
		case unix.SIGTTIN:
			return "Stopped (tty input)"
		case unix.SIGTTOU:
			return "Stopped (tty output)"
		case unix.SIGSTOP:
			return "Stopped (signal)"
		default:
			return "Stopped"
		}
	default:
		st := j.final(c.pipefail)
		switch {
		case st.Signal != 0:
			return describeSignal(st)
		case st.Code != 0:
			return fmt.Sprintf("Exit %d", st.Code)
		default:
			return "Done"
		}
	}
}

func (c *Controller) paint(j *Job, s string) string {
	var col *color.Color
	switch j.State() {
	case JobRunning:
		return s
	case JobStopped:
		col = colorStopped
	default:
		if j.final(c.pipefail).ExitCode() == 0 {
			col = colorDone
		} else {
			col = colorFailed
		}
	}
	if c.colors {
		col.EnableColor()
	} else {
		col.DisableColor()
	}
	return col.Sprint(s)
}

// describeSignal capitalizes the system description of the signal that
// terminated a process.
func describeSignal(st Status) string {
	desc := SignalDescription(st.Signal)
	if st.Core {
		desc += " (core dumped)"
	}
	return desc
}

func SignalDescription(sig syscall.Signal) string {
	desc := sig.String()
	if strings.HasPrefix(desc, "signal ") {
		return "Signal " + strings.TrimPrefix(desc, "signal ")
	}
	return strings.ToUpper(desc[:1]) + desc[1:]
}
