package executor

import (
	"errors"
	"os"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gosh-project/gosh/internal/ast"
	"github.com/gosh-project/gosh/internal/jobs"
	"github.com/gosh-project/gosh/internal/process"
	"github.com/gosh-project/gosh/internal/redirect"
)

// stageFunc starts one pipeline stage with descriptor table fds, joining
// process group pgid (0 for a new group). It returns the pid of the
// started process, or 0 and the stage's status when nothing was left
// running.
type stageFunc func(fds *redirect.Table, pgid int, foreground bool) (pid, status int)

type stage struct {
	text  string
	start stageFunc
}

// builtins that must not run in the shell itself when they end a pipeline
var flowBuiltins = map[string]bool{
	"break":    true,
	"continue": true,
	"return":   true,
	"exit":     true,
	"eval":     true,
	"exec":     true,
}

func negate(status int) int {
	if status == 0 {
		return 1
	}
	return 0
}

func (e *Executor) runPipeline(cmd *ast.Command) int {
	p := cmd.Pipeline
	if len(p.Stages) == 1 {
		status := e.Execute(p.Stages[0])
		if p.Negated {
			status = negate(status)
		}
		return status
	}

	stages := make([]stage, len(p.Stages))
	for i, st := range p.Stages {
		stages[i] = e.stage(st, i == len(p.Stages)-1)
	}
	status := e.runJobStages(cmd.String(), stages, false)
	if p.Negated {
		status = negate(status)
	}
	return status
}

func (e *Executor) runBackground(child *ast.Command) int {
	var stages []stage
	if child.Type == ast.CommandPipeline && len(child.Pipeline.Stages) > 1 && len(child.Redirects) == 0 {
		for _, st := range child.Pipeline.Stages {
			stages = append(stages, e.stage(st, false))
		}
	} else {
		stages = []stage{e.stage(child, false)}
	}
	return e.runJobStages(child.String(), stages, true)
}

// runSubshell runs cmd in a child shell. Its redirections are already
// installed in the shell's table.
func (e *Executor) runSubshell(cmd *ast.Command) int {
	body := cmd.Body()
	return e.runJobStages(cmd.String(), []stage{{
		text: cmd.String(),
		start: func(fds *redirect.Table, pgid int, fg bool) (int, int) {
			return e.spawnSubshell(fds, body, pgid, fg)
		},
	}}, false)
}

// runJob runs a single prepared stage as a foreground or background job.
func (e *Executor) runJob(text string, starts []stageFunc, bg bool) int {
	stages := make([]stage, len(starts))
	for i, start := range starts {
		stages[i] = stage{text: text, start: start}
	}
	return e.runJobStages(text, stages, bg)
}

// runJobStages creates every pipe first, starts the stages left to right in
// one process group, registers the job and then waits for it or, for a
// background job, announces it.
func (e *Executor) runJobStages(text string, stages []stage, bg bool) int {
	n := len(stages)
	pipes := make([][2]*os.File, 0, n-1)
	defer func() {
		for _, p := range pipes {
			p[0].Close()
			p[1].Close()
		}
	}()
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			e.report(e.fds, "pipe: %v", err)
			return 1
		}
		pipes = append(pipes, [2]*os.File{r, w})
	}

	jc := e.jobs.JobControl()
	var devnull *os.File
	if bg && !jc {
		f, err := os.Open(os.DevNull)
		if err == nil {
			devnull = f
			defer f.Close()
		}
	}

	procs := make([]*jobs.Process, 0, n)
	pgid := 0
	for i, st := range stages {
		fds := e.fds.Clone()
		if i == 0 && devnull != nil {
			fds.Set(0, devnull)
		}
		if i > 0 {
			fds.Set(0, pipes[i-1][0])
		}
		if i < n-1 {
			fds.Set(1, pipes[i][1])
		}
		if i == n-1 {
			// Only the read end feeding the last stage is still needed here.
			for j, p := range pipes {
				p[1].Close()
				if j < n-2 {
					p[0].Close()
				}
			}
		}

		fg := !bg && jc && pgid == 0
		pid, status := st.start(fds, pgid, fg)
		proc := &jobs.Process{Pid: pid, Text: st.text}
		if pid == 0 {
			proc.Status = jobs.Exited(status)
		} else if jc && pgid == 0 {
			pgid = pid
		}
		procs = append(procs, proc)
	}

	job, err := e.jobs.Create(procs, text)
	if err != nil {
		e.report(e.fds, "%v", err)
		return 1
	}

	if bg {
		if pid := procs[n-1].Pid; pid != 0 {
			e.lastBgPid = pid
		} else if pid := job.Leader(); pid != 0 {
			e.lastBgPid = pid
		}
		e.jobs.Announce(job)
		return 0
	}
	return e.jobs.Foreground(job, false)
}

// stage prepares cmd as one pipeline stage. Its redirections apply after
// the pipe ends are installed. A builtin ending a pipeline runs in the
// shell when last is set; everything that is not an external command
// runs in a child shell.
func (e *Executor) stage(cmd *ast.Command, last bool) stage {
	return stage{
		text: cmd.String(),
		start: func(fds *redirect.Table, pgid int, fg bool) (int, int) {
			scope, err := redirect.Apply(fds, cmd.Redirects, e.expander)
			if err != nil {
				e.report(fds, "%v", err)
				return 0, 1
			}
			defer scope.Restore()

			if cmd.Type != ast.CommandSimple {
				return e.spawnSubshell(fds, cmd.Body(), pgid, fg)
			}
			return e.startSimple(cmd.Simple, fds, pgid, fg, last)
		},
	}
}

func (e *Executor) startSimple(simple *ast.SimpleCommand, fds *redirect.Table, pgid int, fg, last bool) (int, int) {
	fields, err := e.expander.Fields(simple.Args...)
	if err != nil {
		e.report(fds, "%v", err)
		return 0, 1
	}
	if len(fields) == 0 {
		return 0, 0
	}
	overrides, err := e.prefixAssignments(simple.Assigns)
	if err != nil {
		e.report(fds, "%v", err)
		return 0, 1
	}

	name := fields[0]
	if _, isFunc := e.funcs[name]; !isFunc && name != "exec" {
		fn := e.builtins.Get(name)
		switch {
		case fn != nil && last && !flowBuiltins[name]:
			var status int
			e.withTemporary(overrides, func() {
				status = fn(stdio(fds), fields)
			})
			return 0, status
		case fn == nil:
			path, err := process.LookPath(name, e.vars.Get("PATH"))
			if err != nil {
				e.reportLookup(fds, name, err)
				return 0, process.ExitCode(err)
			}
			return e.spawnExternal(fds, path, fields, e.vars.Environ(overrides), pgid, fg)
		}
	}

	src, err := quoteCommand(overrides, fields)
	if err != nil {
		e.report(fds, "%v", err)
		return 0, 1
	}
	return e.spawnSubshell(fds, src, pgid, fg)
}

// quoteCommand renders an already expanded command as source for a child
// shell, so expansions are not repeated there.
func quoteCommand(overrides map[string]string, fields []string) (string, error) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+len(fields))
	for _, name := range names {
		q, err := syntax.Quote(overrides[name], syntax.LangBash)
		if err != nil {
			return "", err
		}
		parts = append(parts, name+"="+q)
	}
	for _, f := range fields {
		q, err := syntax.Quote(f, syntax.LangBash)
		if err != nil {
			return "", err
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " "), nil
}

func (e *Executor) spawnExternal(fds *redirect.Table, path string, argv, env []string, pgid int, fg bool) (int, int) {
	tty := e.jobs.TTY()
	attr := &process.Attr{
		Env:        env,
		Files:      fds.Files(),
		Setpgid:    e.jobs.JobControl(),
		Pgid:       pgid,
		Foreground: fg && tty >= 0,
		Tty:        tty,
	}

	pid, err := process.Start(path, argv, attr)
	if errors.Is(err, process.ErrNoExec) && e.self != "" {
		// No interpreter line: run the file as a gosh script.
		script := append([]string{e.arg0, path}, argv[1:]...)
		pid, err = process.Start(e.self, script, attr)
	}
	if err != nil {
		e.report(fds, "%v", err)
		return 0, process.ExitCode(err)
	}
	return pid, 0
}
