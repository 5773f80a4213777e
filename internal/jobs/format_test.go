package jobs

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	c, jobs := fakeJobs(t)
	tab := c.Table()

	assert.Equal(t, fmt.Sprintf("[1]   %-24s%s", "Running", "sleep 100 &"), c.Format(jobs[0], FormatDefault))
	assert.Equal(t, fmt.Sprintf("[3]+ 5003 %-24s%s", "Running", "sleep 200 &"), c.Format(jobs[2], FormatLong))
	assert.Equal(t, "5002", c.Format(jobs[1], FormatPids))

	tab.Update(5002, StoppedBy(syscall.SIGTSTP))
	assert.Equal(t, fmt.Sprintf("[2]-  %-24s%s", "Stopped", "vim notes.txt"), c.Format(jobs[1], FormatDefault))

	tab.Update(5003, Exited(1))
	assert.Equal(t, fmt.Sprintf("[3]+  %-24s%s", "Exit 1", "sleep 200"), c.Format(jobs[2], FormatDefault))
}

func TestStateText(t *testing.T) {
	c := NewController()

	tests := []struct {
		status Status
		want   string
	}{
		{Running(), "Running"},
		{Exited(0), "Done"},
		{Exited(2), "Exit 2"},
		{Signaled(syscall.SIGTERM), "Terminated"},
		{Signaled(syscall.SIGKILL), "Killed"},
		{Status{State: JobDone, Signal: syscall.SIGSEGV, Core: true}, "Segmentation fault (core dumped)"},
		{StoppedBy(syscall.SIGTSTP), "Stopped"},
		{StoppedBy(syscall.SIGTTIN), "Stopped (tty input)"},
		{StoppedBy(syscall.SIGTTOU), "Stopped (tty output)"},
		{StoppedBy(syscall.SIGSTOP), "Stopped (signal)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			j := &Job{Processes: []*Process{{Pid: 1, Status: tt.status}}}
			assert.Equal(t, tt.want, c.StateText(j))
		})
	}
}

func TestColorsOnlyWhenEnabled(t *testing.T) {
	plain := NewController()
	colored := NewController(WithColors(true))

	for _, c := range []*Controller{plain, colored} {
		_, err := c.Table().Create([]*Process{{Pid: 7001, Status: Exited(0)}}, "true", true)
		require.NoError(t, err)
	}

	j := plain.Table().Get(1)
	assert.NotContains(t, plain.Format(j, FormatDefault), "\x1b[")

	j = colored.Table().Get(1)
	assert.Contains(t, colored.Format(j, FormatDefault), "\x1b[32m")
}
