package jobs

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func procs(pids ...int) []*Process {
	var ps []*Process
	for _, pid := range pids {
		ps = append(ps, &Process{Pid: pid, Text: "cmd"})
	}
	return ps
}

func finish(t *Table, j *Job, code int) {
	for _, p := range j.Processes {
		t.Update(p.Pid, Exited(code))
	}
}

func TestStateFold(t *testing.T) {
	j := &Job{Processes: []*Process{{Pid: 1}, {Pid: 2}, {Pid: 3}}}
	assert.Equal(t, JobRunning, j.State())

	j.Processes[0].Status = Exited(0)
	j.Processes[1].Status = StoppedBy(syscall.SIGTSTP)
	assert.Equal(t, JobRunning, j.State(), "one process still runs")

	j.Processes[2].Status = StoppedBy(syscall.SIGTSTP)
	assert.Equal(t, JobStopped, j.State())
	assert.Equal(t, syscall.SIGTSTP, j.StopSignal())

	j.Processes[1].Status = Signaled(syscall.SIGKILL)
	j.Processes[2].Status = Exited(3)
	assert.Equal(t, JobDone, j.State())
	assert.Equal(t, 3, j.ExitStatus(false))
}

func TestExitStatusPipefail(t *testing.T) {
	j := &Job{Processes: []*Process{
		{Pid: 1, Status: Exited(1)},
		{Pid: 2, Status: Signaled(syscall.SIGPIPE)},
		{Pid: 3, Status: Exited(0)},
	}}
	assert.Equal(t, 0, j.ExitStatus(false))
	assert.Equal(t, 128+int(syscall.SIGPIPE), j.ExitStatus(true))

	j.Processes[1].Status = Exited(0)
	assert.Equal(t, 1, j.ExitStatus(true))
}

func TestJobNumbersReusedAfterReap(t *testing.T) {
	tab := NewTable(10)

	var jobs []*Job
	for i, pid := range []int{1001, 1002, 1003} {
		j, err := tab.Create(procs(pid), "sleep", true)
		require.NoError(t, err)
		assert.Equal(t, i+1, j.ID)
		assert.Equal(t, pid, j.Pgid)
		jobs = append(jobs, j)
	}

	finish(tab, jobs[1], 0)
	assert.True(t, jobs[1].Waited)
	assert.False(t, tab.Reap(jobs[1]), "not reported yet")
	assert.Same(t, jobs[1], tab.Get(2))

	jobs[1].Reported = true
	assert.True(t, tab.Reap(jobs[1]))
	assert.Nil(t, tab.Get(2))
	assert.Nil(t, tab.ByPid(1002))

	j, err := tab.Create(procs(1004), "sleep", true)
	require.NoError(t, err)
	assert.Equal(t, 2, j.ID)
	assert.Same(t, j, tab.Current())
	assert.Same(t, jobs[2], tab.Previous())
}

func TestReapRequiresDone(t *testing.T) {
	tab := NewTable(10)
	j, err := tab.Create(procs(2001, 2002), "a | b", true)
	require.NoError(t, err)

	j.Reported = true
	tab.Update(2001, Exited(0))
	assert.False(t, tab.Reap(j), "one process still runs")
	assert.Equal(t, 1, tab.Len())

	tab.Update(2002, Exited(0))
	assert.True(t, tab.Reap(j))
	assert.Equal(t, 0, tab.Len())

	st, ok := tab.Remembered(2002)
	require.True(t, ok)
	assert.Equal(t, 0, st.ExitCode())
}

func TestHistoryIsBounded(t *testing.T) {
	tab := NewTable(2)
	for _, pid := range []int{1, 2, 3} {
		j, err := tab.Create(procs(pid), "x", false)
		require.NoError(t, err)
		finish(tab, j, pid)
		j.Reported = true
		require.True(t, tab.Reap(j))
	}

	_, ok := tab.Remembered(1)
	assert.False(t, ok)
	st, ok := tab.Remembered(3)
	require.True(t, ok)
	assert.Equal(t, 3, st.ExitCode())
}

func TestDuplicatePgid(t *testing.T) {
	tab := NewTable(10)
	_, err := tab.Create(procs(3001), "a", true)
	require.NoError(t, err)

	_, err = tab.Create(procs(3001, 3002), "b", true)
	assert.True(t, errors.Is(err, ErrDuplicatePgid))
	assert.Equal(t, 1, tab.Len())

	_, err = tab.Create(nil, "empty", true)
	assert.True(t, errors.Is(err, ErrNoProcesses))
}

func TestChangedFlag(t *testing.T) {
	tab := NewTable(10)
	j, err := tab.Create(procs(4001), "a", true)
	require.NoError(t, err)
	assert.False(t, j.Changed)

	tab.Update(4001, StoppedBy(syscall.SIGTSTP))
	assert.True(t, j.Changed)
	j.Changed = false

	tab.Update(4001, StoppedBy(syscall.SIGTSTP))
	assert.False(t, j.Changed, "same state")

	tab.SetRunning(j)
	assert.Equal(t, JobRunning, j.State())
	assert.Len(t, tab.Stopped(), 0)
}

func TestPlaceholderOnlyJob(t *testing.T) {
	tab := NewTable(10)
	j, err := tab.Create([]*Process{{Text: "nosuch", Status: Exited(127)}}, "nosuch", false)
	require.NoError(t, err)

	assert.Equal(t, JobDone, j.State())
	assert.True(t, j.Waited)
	assert.Equal(t, 0, j.Pgid)
	assert.Equal(t, 127, j.ExitStatus(false))
	assert.Empty(t, tab.Live())
}
