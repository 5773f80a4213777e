package executor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosh-project/gosh/internal/ast"
	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/process"
	"github.com/gosh-project/gosh/internal/redirect"
	"github.com/gosh-project/gosh/internal/variables"
)

func (e *Executor) runSimple(cmd *ast.Command) int {
	simple := cmd.Simple

	e.substRan = false
	fields, err := e.expander.Fields(simple.Args...)
	if err != nil {
		e.report(e.fds, "%v", err)
		return 1
	}

	if len(fields) == 0 {
		// Assignments only; redirections still open their files.
		scope, err := redirect.Apply(e.fds, cmd.Redirects, e.expander)
		if err != nil {
			e.report(e.fds, "%v", err)
			return 1
		}
		defer scope.Restore()

		if status := e.assign(simple.Assigns); status != 0 {
			return status
		}
		if e.substRan {
			return e.substStatus
		}
		return 0
	}

	overrides, err := e.prefixAssignments(simple.Assigns)
	if err != nil {
		e.report(e.fds, "%v", err)
		return 1
	}

	scope, err := redirect.Apply(e.fds, cmd.Redirects, e.expander)
	if err != nil {
		e.report(e.fds, "%v", err)
		return 1
	}

	name := fields[0]
	if name == "exec" {
		return e.exec(scope, fields[1:], overrides)
	}
	defer scope.Restore()

	if body, ok := e.funcs[name]; ok {
		var status int
		e.withTemporary(overrides, func() {
			status = e.callFunction(body, fields[1:])
		})
		return status
	}

	if fn := e.builtins.Get(name); fn != nil {
		var status int
		e.withTemporary(overrides, func() {
			status = fn(stdio(e.fds), fields)
		})
		return status
	}

	path, err := process.LookPath(name, e.vars.Get("PATH"))
	if err != nil {
		e.reportLookup(e.fds, name, err)
		return process.ExitCode(err)
	}

	env := e.vars.Environ(overrides)
	return e.runJob(cmd.String(), []stageFunc{
		func(fds *redirect.Table, pgid int, fg bool) (int, int) {
			return e.spawnExternal(fds, path, fields, env, pgid, fg)
		},
	}, false)
}

func (e *Executor) reportLookup(fds *redirect.Table, name string, err error) {
	switch {
	case errors.Is(err, process.ErrNotFound) && !strings.Contains(name, "/"):
		e.report(fds, "%s: command not found", name)
	case errors.Is(err, process.ErrNotFound):
		e.report(fds, "%s: No such file or directory", name)
	case errors.Is(err, process.ErrNotExecutable):
		e.report(fds, "%s: Permission denied", name)
	default:
		e.report(fds, "%v", err)
	}
}

func (e *Executor) assignValue(as *ast.Assign) (string, error) {
	value, err := e.expander.Literal(as.Value)
	if err != nil {
		return "", err
	}
	if as.Append {
		value = e.vars.Get(as.Name) + value
	}
	return value, nil
}

func (e *Executor) assign(assigns []*ast.Assign) int {
	for _, as := range assigns {
		value, err := e.assignValue(as)
		if err != nil {
			e.report(e.fds, "%v", err)
			return 1
		}
		if err := e.vars.Set(as.Name, value); err != nil {
			e.report(e.fds, "%s: %v", as.Name, err)
			return 1
		}
	}
	return 0
}

// prefixAssignments expands "NAME=value cmd" assignments, which apply to
// the command only.
func (e *Executor) prefixAssignments(assigns []*ast.Assign) (map[string]string, error) {
	if len(assigns) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(assigns))
	for _, as := range assigns {
		value, err := e.assignValue(as)
		if err != nil {
			return nil, err
		}
		if e.vars.IsReadOnly(as.Name) {
			return nil, fmt.Errorf("%s: %w", as.Name, variables.ErrReadOnly)
		}
		overrides[as.Name] = value
	}
	return overrides, nil
}

// withTemporary runs fn with overrides set as exported variables, then
// puts the previous values back.
func (e *Executor) withTemporary(overrides map[string]string, fn func()) {
	if len(overrides) == 0 {
		fn()
		return
	}

	type prev struct {
		v      variables.Variable
		exists bool
	}
	saved := make(map[string]prev, len(overrides))
	for name, value := range overrides {
		v, ok := e.vars.Lookup(name)
		saved[name] = prev{v: v, exists: ok}
		e.vars.Set(name, value)
		e.vars.Export(name)
	}
	defer func() {
		for name, p := range saved {
			if !p.exists {
				e.vars.Unset(name)
				continue
			}
			e.vars.Set(name, p.v.Value)
			if !p.v.Exported {
				e.vars.Unexport(name)
			}
		}
	}()
	fn()
}

// exec without a command makes its redirections permanent; with one it
// replaces the shell.
func (e *Executor) exec(scope *redirect.Scope, args []string, overrides map[string]string) int {
	if len(args) == 0 {
		scope.Keep()
		return 0
	}
	defer scope.Restore()

	path, err := process.LookPath(args[0], e.vars.Get("PATH"))
	if err != nil {
		e.reportLookup(e.fds, args[0], err)
		return process.ExitCode(err)
	}
	e.jobs.Close()
	err = process.Exec(path, args, e.vars.Environ(overrides), e.fds.Files())
	e.jobs.Start()
	e.report(e.fds, "exec: %v", err)
	return process.ExitCode(err)
}

// registerSpecials installs the builtins that act on the executor itself.
func (e *Executor) registerSpecials() {
	e.builtins.Register(":", func(*builtin.IO, []string) int { return 0 })
	e.builtins.Register("true", func(*builtin.IO, []string) int { return 0 })
	e.builtins.Register("false", func(*builtin.IO, []string) int { return 1 })
	e.builtins.Register("break", e.builtinBreak)
	e.builtins.Register("continue", e.builtinBreak)
	e.builtins.Register("return", e.builtinReturn)
	e.builtins.Register("shift", e.builtinShift)
	e.builtins.Register("eval", e.builtinEval)
}

func (e *Executor) builtinBreak(stdio *builtin.IO, args []string) int {
	levels := 1
	if len(args) > 1 {
		n, err := builtin.ParseIntArg(args[1])
		if err != nil || n < 1 {
			return stdio.Errorf(args[0], "%s: loop count out of range", args[1])
		}
		levels = n
	}
	if e.loopDepth == 0 {
		stdio.Errorf(args[0], "only meaningful in a `for', `while', or `until' loop")
		return 0
	}
	if levels > e.loopDepth {
		levels = e.loopDepth
	}
	kind := flowBreak
	if args[0] == "continue" {
		kind = flowContinue
	}
	e.flow = flow{kind: kind, levels: levels}
	return 0
}

func (e *Executor) builtinReturn(stdio *builtin.IO, args []string) int {
	if e.funcDepth == 0 && e.sourceDepth == 0 {
		return stdio.Errorf("return", "can only `return' from a function or sourced script")
	}
	status := e.lastExitCode
	if len(args) > 1 {
		n, err := builtin.ParseIntArg(args[1])
		if err != nil {
			stdio.Errorf("return", "%s: numeric argument required", args[1])
			n = 2
		}
		status = n & 0xff
	}
	e.flow = flow{kind: flowReturn, status: status}
	return status
}

func (e *Executor) builtinShift(stdio *builtin.IO, args []string) int {
	n := 1
	if len(args) > 1 {
		var err error
		if n, err = strconv.Atoi(args[1]); err != nil {
			return stdio.Errorf("shift", "%s: numeric argument required", args[1])
		}
	}
	if err := e.vars.Shift(n); err != nil {
		return stdio.Errorf("shift", "%v", err)
	}
	return 0
}

func (e *Executor) builtinEval(stdio *builtin.IO, args []string) int {
	src := builtin.JoinArgs(args[1:])
	if strings.TrimSpace(src) == "" {
		return 0
	}
	return e.RunString(src)
}
