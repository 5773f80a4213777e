package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicatePgid = errors.New("process group already belongs to a live job")
	ErrNoProcesses   = errors.New("job has no processes")
)

type remembered struct {
	pid    int
	status Status
}

// Table is the registry of jobs. Jobs live in an arena addressed by job
// number; a slot is freed only when its job is reaped.
type Table struct {
	mu         sync.Mutex
	slots      []*Job
	byPid      map[int]*Job
	seq        uint64
	doneSeq    uint64
	history    []remembered
	maxHistory int
}

func NewTable(maxHistory int) *Table {
	return &Table{
		byPid:      make(map[int]*Job),
		maxHistory: maxHistory,
	}
}

// Create registers a fully launched job under the smallest free job
// number. Pgid is the pid of the first started process.
func (t *Table) Create(procs []*Process, text string, jobControl bool) (*Job, error) {
	if len(procs) == 0 {
		return nil, ErrNoProcesses
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	j := &Job{
		Processes:  procs,
		Text:       text,
		JobControl: jobControl,
		Started:    time.Now(),
	}
	j.Pgid = j.Leader()

	if j.Pgid != 0 {
		for _, other := range t.slots {
			if other != nil && other.Pgid == j.Pgid && other.State() != JobDone {
				return nil, fmt.Errorf("pgid %d: %w", j.Pgid, ErrDuplicatePgid)
			}
		}
	}

	id := t.allocate()
	j.ID = id
	t.seq++
	j.seq = t.seq
	t.slots[id-1] = j
	if j.State() == JobDone {
		// Nothing started, so there is nothing left to collect.
		j.Waited = true
		j.Changed = true
		t.doneSeq++
		j.finished = t.doneSeq
	}
	for _, p := range procs {
		if p.Pid != 0 {
			t.byPid[p.Pid] = j
		}
	}
	logger.Printf("created job %d pgid=%d pids=%v %q", j.ID, j.Pgid, j.Pids(), j.Text)
	return j, nil
}

func (t *Table) allocate() int {
	for i, j := range t.slots {
		if j == nil {
			return i + 1
		}
	}
	t.slots = append(t.slots, nil)
	return len(t.slots)
}

// Get finds a job by number.
func (t *Table) Get(id int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 1 || id > len(t.slots) {
		return nil
	}
	return t.slots[id-1]
}

func (t *Table) ByPid(pid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPid[pid]
}

func (t *Table) MarkChanged(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j.Changed = true
}

// Update folds a new status for pid into its job and returns the job, or
// nil if no job owns pid. The changed flag is raised when the job's
// aggregate state moves.
func (t *Table) Update(pid int, st Status) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	j := t.byPid[pid]
	if j == nil {
		return nil
	}
	before := j.State()
	for _, p := range j.Processes {
		if p.Pid == pid {
			p.Status = st
		}
	}
	after := j.State()
	if before != after {
		j.Changed = true
		logger.Printf("job %d: %s -> %s", j.ID, before, after)
	}
	if after == JobDone && !j.Waited {
		j.Waited = true
		t.doneSeq++
		j.finished = t.doneSeq
	}
	return j
}

// SetRunning marks every stopped process of j as running again, as after
// a SIGCONT.
func (t *Table) SetRunning(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range j.Processes {
		if p.Status.State == JobStopped {
			p.Status = Running()
		}
	}
}

// Reap frees j's slot if it is done, waited on and reported, and
// remembers its pids' statuses. It reports whether j was removed.
func (t *Table) Reap(j *Job) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if j.State() != JobDone || !j.Waited || !j.Reported {
		return false
	}
	if j.ID < 1 || j.ID > len(t.slots) || t.slots[j.ID-1] != j {
		return false
	}
	t.slots[j.ID-1] = nil
	for len(t.slots) > 0 && t.slots[len(t.slots)-1] == nil {
		t.slots = t.slots[:len(t.slots)-1]
	}
	for _, p := range j.Processes {
		if p.Pid == 0 {
			continue
		}
		delete(t.byPid, p.Pid)
		t.remember(p.Pid, p.Status)
	}
	logger.Printf("reaped job %d", j.ID)
	return true
}

func (t *Table) remember(pid int, st Status) {
	if t.maxHistory <= 0 {
		return
	}
	t.history = append(t.history, remembered{pid: pid, status: st})
	if over := len(t.history) - t.maxHistory; over > 0 {
		t.history = t.history[over:]
	}
}

// Remembered returns the final status of a pid whose job was already
// reaped.
func (t *Table) Remembered(pid int) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].pid == pid {
			return t.history[i].status, true
		}
	}
	return Status{}, false
}

// Current is the most recently created job that is still running or
// stopped, or that finished without being reported.
func (t *Table) Current() *Job {
	live := t.byRecency()
	if len(live) == 0 {
		return nil
	}
	return live[0]
}

// Previous is the job created before the current one.
func (t *Table) Previous() *Job {
	live := t.byRecency()
	if len(live) < 2 {
		return nil
	}
	return live[1]
}

func (t *Table) byRecency() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var live []*Job
	for _, j := range t.slots {
		if j != nil && !(j.State() == JobDone && j.Reported) {
			live = append(live, j)
		}
	}
	sort.Slice(live, func(a, b int) bool { return live[a].seq > live[b].seq })
	return live
}

// List returns the jobs in job number order.
func (t *Table) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]*Job, 0, len(t.slots))
	for _, j := range t.slots {
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func (t *Table) Len() int {
	return len(t.List())
}

// Stopped returns the jobs whose state is stopped.
func (t *Table) Stopped() []*Job {
	var stopped []*Job
	for _, j := range t.List() {
		if j.State() == JobStopped {
			stopped = append(stopped, j)
		}
	}
	return stopped
}

// Live returns the pids of every process that has not finished.
func (t *Table) Live() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pids []int
	for _, j := range t.slots {
		if j == nil {
			continue
		}
		for _, p := range j.Processes {
			if p.Pid != 0 && !p.Status.Terminal() {
				pids = append(pids, p.Pid)
			}
		}
	}
	return pids
}
