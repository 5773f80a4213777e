package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/gosh-project/gosh/internal/ast"
	"github.com/gosh-project/gosh/internal/process"
	"github.com/gosh-project/gosh/internal/redirect"
	"github.com/gosh-project/gosh/internal/variables"
)

// SubshellEnv names the descriptor a child shell reads its Snapshot from.
const SubshellEnv = "GOSH_SUBSHELL_FD"

// Snapshot is the state a child shell starts from: a copy of the parent's
// variables, functions and options plus the source it has to run.
type Snapshot struct {
	Vars      []variables.Variable `json:"vars"`
	Functions map[string]string    `json:"functions,omitempty"`
	Args      []string             `json:"args,omitempty"`
	Arg0      string               `json:"arg0"`
	Options   Options              `json:"options"`
	Status    int                  `json:"status"`
	ShellPid  int                  `json:"shell_pid"`
	LastBgPid int                  `json:"last_bg_pid,omitempty"`
	// Fds are the descriptors above 2 that are open in the child.
	Fds  []int  `json:"fds,omitempty"`
	Body string `json:"body"`
}

func (e *Executor) snapshot(body string, files []*os.File) *Snapshot {
	snap := &Snapshot{
		Vars:      e.vars.All(),
		Functions: make(map[string]string, len(e.funcs)),
		Args:      e.vars.Args(),
		Arg0:      e.arg0,
		Options:   e.options,
		Status:    e.lastExitCode,
		ShellPid:  e.shellPid,
		LastBgPid: e.lastBgPid,
		Body:      body,
	}
	for name, fn := range e.funcs {
		src := fn.String()
		if fn.Node != nil {
			src = ast.Source(fn.Node)
		}
		snap.Functions[name] = name + "() " + src
	}
	for fd := 3; fd < len(files); fd++ {
		if files[fd] != nil {
			snap.Fds = append(snap.Fds, fd)
		}
	}
	return snap
}

// Restore installs snap into a fresh executor.
func (e *Executor) Restore(snap *Snapshot) {
	e.vars.Replace(snap.Vars)
	e.vars.SetArgs(snap.Args)
	e.arg0 = snap.Arg0
	e.setOptions(snap.Options)

	names := make([]string, 0, len(snap.Functions))
	for name := range snap.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status := e.RunString(snap.Functions[name]); status != 0 {
			logger.Printf("restore function %s: status %d", name, status)
		}
	}

	for _, fd := range snap.Fds {
		e.fds.Set(fd, os.NewFile(uintptr(fd), "fd"+strconv.Itoa(fd)))
	}
	e.lastExitCode = snap.Status
	e.shellPid = snap.ShellPid
	e.lastBgPid = snap.LastBgPid
}

// spawnSubshell starts a child shell running body as a job stage.
func (e *Executor) spawnSubshell(fds *redirect.Table, body string, pgid int, fg bool) (int, int) {
	pid, err := e.startShell(fds, body, e.jobs.JobControl(), pgid, fg)
	if err != nil {
		e.report(fds, "%v", err)
		return 0, process.ExitCode(err)
	}
	return pid, 0
}

// startShell re-executes the shell binary with descriptor table fds. The
// snapshot travels over a pipe placed just above the table.
func (e *Executor) startShell(fds *redirect.Table, body string, setpgid bool, pgid int, fg bool) (int, error) {
	if e.self == "" {
		return 0, fmt.Errorf("subshell: %w", process.ErrNotFound)
	}

	files := fds.Files()
	for len(files) < 3 {
		files = append(files, nil)
	}
	snapFd := len(files)
	data, err := json.Marshal(e.snapshot(body, files))
	if err != nil {
		return 0, fmt.Errorf("subshell: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("subshell: %w", err)
	}
	files = append(files, r)

	tty := e.jobs.TTY()
	env := append(e.vars.Environ(nil), SubshellEnv+"="+strconv.Itoa(snapFd))
	pid, err := process.Start(e.self, []string{"gosh"}, &process.Attr{
		Env:        env,
		Files:      files,
		Setpgid:    setpgid,
		Pgid:       pgid,
		Foreground: fg && tty >= 0,
		Tty:        tty,
	})
	r.Close()
	if err != nil {
		w.Close()
		return 0, err
	}

	// The snapshot can be larger than the pipe buffer.
	go func() {
		defer w.Close()
		if _, err := w.Write(data); err != nil {
			logger.Printf("subshell %d: write snapshot: %v", pid, err)
		}
	}()
	return pid, nil
}

// commandSubstitution runs source in a child shell in the shell's own
// process group and copies its output to w.
func (e *Executor) commandSubstitution(w io.Writer, source string) error {
	r, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	fds := e.fds.Clone()
	fds.Set(1, pw)

	pid, err := e.startShell(fds, source, false, 0, false)
	pw.Close()
	if err != nil {
		r.Close()
		return err
	}

	_, copyErr := io.Copy(w, r)
	r.Close()

	ws, err := process.Wait(pid)
	e.substRan = true
	if err != nil {
		e.substStatus = 1
	} else {
		e.substStatus = process.StatusCode(ws)
	}
	return copyErr
}

// RunSubshell turns the process into a child shell when it was started as
// one, and never returns in that case. newExecutor builds the executor the
// snapshot is restored into.
func RunSubshell(newExecutor func() *Executor) {
	v, ok := os.LookupEnv(SubshellEnv)
	if !ok {
		return
	}
	os.Unsetenv(SubshellEnv)

	fd, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gosh: %s=%s: %v\n", SubshellEnv, v, err)
		os.Exit(2)
	}
	f := os.NewFile(uintptr(fd), "snapshot")
	var snap Snapshot
	err = json.NewDecoder(f).Decode(&snap)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gosh: read subshell state: %v\n", err)
		os.Exit(2)
	}

	e := newExecutor()
	e.jobs.Start()
	e.Restore(&snap)
	status := e.RunString(snap.Body)
	if exiting, code := e.Exiting(); exiting {
		status = code
	}
	os.Exit(status)
}
