// Package executor walks command trees, running builtins in the shell
// and everything else as child processes grouped into jobs.
package executor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gosh-project/gosh/internal/ast"
	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/expander"
	"github.com/gosh-project/gosh/internal/jobs"
	"github.com/gosh-project/gosh/internal/parser"
	"github.com/gosh-project/gosh/internal/redirect"
	"github.com/gosh-project/gosh/internal/variables"
)

var logger = log.New(io.Discard, "executor: ", log.LstdFlags)

func SetLogger(l *log.Logger) {
	logger = l
}

var ErrUnknownOption = errors.New("invalid option name")

// Options are the settable shell options that change execution.
type Options struct {
	Pipefail bool `json:"pipefail"`
	NoGlob   bool `json:"noglob"`
	NoUnset  bool `json:"nounset"`
}

type flowKind int

const (
	flowNone flowKind = iota
	flowBreak
	flowContinue
	flowReturn
	flowExit
)

// flow is a pending break, continue, return or exit unwinding toward the
// loop, function or session that consumes it.
type flow struct {
	kind   flowKind
	levels int
	status int
}

type Config struct {
	Vars     *variables.Manager
	Builtins *builtin.Manager
	Jobs     *jobs.Controller
	Stdin    *os.File
	Stdout   *os.File
	Stderr   *os.File
	// Arg0 is $0.
	Arg0 string
	// Self is the gosh binary used for subshells. Defaults to
	// os.Executable.
	Self string
}

type Executor struct {
	vars     *variables.Manager
	builtins *builtin.Manager
	jobs     *jobs.Controller
	expander *expander.Expander
	fds      *redirect.Table
	funcs    map[string]*ast.Command
	options  Options

	self      string
	arg0      string
	shellPid  int
	lastBgPid int

	lastExitCode int
	substStatus  int
	substRan     bool

	flow        flow
	loopDepth   int
	funcDepth   int
	sourceDepth int
}

func New(cfg Config) *Executor {
	e := &Executor{
		vars:     cfg.Vars,
		builtins: cfg.Builtins,
		jobs:     cfg.Jobs,
		funcs:    make(map[string]*ast.Command),
		self:     cfg.Self,
		arg0:     cfg.Arg0,
		shellPid: os.Getpid(),
	}
	if e.vars == nil {
		e.vars = variables.New()
	}
	if e.builtins == nil {
		e.builtins = builtin.New()
	}
	if e.jobs == nil {
		e.jobs = jobs.NewController()
	}
	if e.self == "" {
		if self, err := os.Executable(); err == nil {
			e.self = self
		}
	}
	if e.arg0 == "" {
		e.arg0 = "gosh"
	}

	stdin, stdout, stderr := cfg.Stdin, cfg.Stdout, cfg.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	e.fds = redirect.NewTable(stdin, stdout, stderr)

	e.expander = expander.New(e.vars, e)
	e.expander.SetCommandSubstitution(e.commandSubstitution)
	e.registerSpecials()
	return e
}

func (e *Executor) LastStatus() int        { return e.lastExitCode }
func (e *Executor) LastBackgroundPid() int { return e.lastBgPid }
func (e *Executor) ShellPid() int          { return e.shellPid }
func (e *Executor) ScriptName() string     { return e.arg0 }

func (e *Executor) LastExitCode() int {
	return e.lastExitCode
}

func (e *Executor) SetLastExitCode(code int) {
	e.lastExitCode = code
}

func (e *Executor) SetArg0(name string) {
	e.arg0 = name
}

func (e *Executor) Vars() *variables.Manager {
	return e.vars
}

func (e *Executor) Jobs() *jobs.Controller {
	return e.jobs
}

func (e *Executor) Expander() *expander.Expander {
	return e.expander
}

// Fds is the shell's own descriptor table.
func (e *Executor) Fds() *redirect.Table {
	return e.fds
}

// Stdio returns the current standard streams of the shell.
func (e *Executor) Stdio() *builtin.IO {
	return stdio(e.fds)
}

func stdio(t *redirect.Table) *builtin.IO {
	return &builtin.IO{Stdin: t.Stdin(), Stdout: t.Stdout(), Stderr: t.Stderr()}
}

func (e *Executor) Options() Options {
	return e.options
}

// SetOption turns a named option on or off.
func (e *Executor) SetOption(name string, on bool) error {
	switch name {
	case "pipefail":
		e.options.Pipefail = on
		e.jobs.SetPipefail(on)
	case "noglob":
		e.options.NoGlob = on
		e.expander.SetNoGlob(on)
	case "nounset":
		e.options.NoUnset = on
		e.expander.SetNoUnset(on)
	default:
		return fmt.Errorf("%s: %w", name, ErrUnknownOption)
	}
	return nil
}

func (e *Executor) setOptions(o Options) {
	e.SetOption("pipefail", o.Pipefail)
	e.SetOption("noglob", o.NoGlob)
	e.SetOption("nounset", o.NoUnset)
}

// Functions returns the names of defined functions.
func (e *Executor) Functions() []string {
	names := make([]string, 0, len(e.funcs))
	for name := range e.funcs {
		names = append(names, name)
	}
	return names
}

// RequestExit unwinds the running commands; the session then exits with
// code.
func (e *Executor) RequestExit(code int) {
	e.flow = flow{kind: flowExit, status: code}
}

// Exiting reports whether exit was requested, and with which status.
func (e *Executor) Exiting() (bool, int) {
	return e.flow.kind == flowExit, e.flow.status
}

func (e *Executor) interrupted() bool {
	return e.jobs.Interrupted()
}

func (e *Executor) unwinding() bool {
	return e.flow.kind != flowNone || e.interrupted()
}

// report prints a diagnostic on the current standard error.
func (e *Executor) report(fds *redirect.Table, format string, a ...interface{}) {
	fmt.Fprintf(fds.Stderr(), "gosh: "+format+"\n", a...)
}

// RunString parses and runs src statement by statement. A syntax error
// has status 2.
func (e *Executor) RunString(src string) int {
	return e.run(strings.NewReader(src), "")
}

// Run executes the commands read from r, as for a script or standard
// input. name is used in syntax error messages.
func (e *Executor) Run(r io.Reader, name string) int {
	return e.run(r, name)
}

func (e *Executor) run(r io.Reader, name string) int {
	p := parser.New()
	p.SetName(name)
	status := 0
	err := p.Each(r, func(cmd *ast.Command) bool {
		if !e.jobs.IsInteractive() {
			e.jobs.ClearInterrupt()
		}
		status = e.Execute(cmd)
		return e.flow.kind == flowNone
	})
	if err != nil {
		e.report(e.fds, "%v", err)
		status = 2
		e.lastExitCode = status
	}
	return status
}

// Source runs the commands read from r in the current shell, as the
// source builtin does. Non-nil args replace the positional parameters for
// the duration. A return ends the sourced commands.
func (e *Executor) Source(r io.Reader, name string, args []string) int {
	if args != nil {
		e.vars.PushArgs(args)
		defer e.vars.PopArgs()
	}
	e.sourceDepth++
	defer func() { e.sourceDepth-- }()

	status := e.run(r, name)
	if e.flow.kind == flowReturn {
		status = e.flow.status
		e.flow = flow{}
	}
	return status
}

// Execute runs one command node and returns its status, which also
// becomes $?.
func (e *Executor) Execute(cmd *ast.Command) int {
	if cmd == nil {
		return e.lastExitCode
	}

	var status int
	switch cmd.Type {
	case ast.CommandSimple:
		status = e.runSimple(cmd)
	case ast.CommandFunction:
		e.funcs[cmd.Function.Name] = cmd.Function.Body
		status = 0
	default:
		scope, err := redirect.Apply(e.fds, cmd.Redirects, e.expander)
		if err != nil {
			e.report(e.fds, "%v", err)
			status = 1
			break
		}
		status = e.dispatch(cmd)
		scope.Restore()
	}

	e.lastExitCode = status
	return status
}

func (e *Executor) dispatch(cmd *ast.Command) int {
	switch cmd.Type {
	case ast.CommandPipeline:
		return e.runPipeline(cmd)
	case ast.CommandBackground:
		return e.runBackground(cmd.Background.Command)
	case ast.CommandList:
		return e.runList(cmd.List)
	case ast.CommandIf:
		return e.runIf(cmd.If)
	case ast.CommandFor:
		return e.runFor(cmd.For)
	case ast.CommandWhile:
		return e.runWhile(cmd.While)
	case ast.CommandCase:
		return e.runCase(cmd.Case)
	case ast.CommandSubshell:
		return e.runSubshell(cmd)
	case ast.CommandGroup:
		return e.runGroup(cmd.Group)
	default:
		e.report(e.fds, "%s: unsupported command", cmd.Type)
		return 1
	}
}

func (e *Executor) runList(list *ast.List) int {
	status := 0
	for i, cmd := range list.Commands {
		if i > 0 {
			switch list.Operators[i-1] {
			case "&&":
				if status != 0 {
					continue
				}
			case "||":
				if status == 0 {
					continue
				}
			}
		}
		status = e.Execute(cmd)
		if e.unwinding() {
			break
		}
	}
	return status
}

func (e *Executor) runGroup(group *ast.GroupCommand) int {
	status := 0
	for _, cmd := range group.Commands {
		status = e.Execute(cmd)
		if e.unwinding() {
			break
		}
	}
	return status
}

func (e *Executor) runIf(cmd *ast.IfCommand) int {
	cond := e.Execute(cmd.Condition)
	if e.unwinding() {
		return cond
	}
	if cond == 0 {
		return e.Execute(cmd.Then)
	}
	if cmd.Else != nil {
		return e.Execute(cmd.Else)
	}
	return 0
}

// loopDone consumes a pending break or continue aimed at the innermost
// loop and reports whether that loop must stop.
func (e *Executor) loopDone() bool {
	switch e.flow.kind {
	case flowBreak:
		e.flow.levels--
		if e.flow.levels <= 0 {
			e.flow = flow{}
		}
		return true
	case flowContinue:
		e.flow.levels--
		if e.flow.levels <= 0 {
			e.flow = flow{}
			return false
		}
		return true
	case flowReturn, flowExit:
		return true
	}
	return e.interrupted()
}

func (e *Executor) runWhile(cmd *ast.WhileCommand) int {
	e.loopDepth++
	defer func() { e.loopDepth-- }()

	status := 0
	for {
		cond := e.Execute(cmd.Condition)
		if e.flow.kind != flowNone || e.interrupted() {
			if e.loopDone() {
				break
			}
			continue
		}
		if (cond == 0) == cmd.Until {
			break
		}
		status = e.Execute(cmd.Body)
		if e.loopDone() {
			break
		}
	}
	return status
}

func (e *Executor) runFor(cmd *ast.ForCommand) int {
	var values []string
	if cmd.UseArgs {
		values = e.vars.Args()
	} else {
		var err error
		values, err = e.expander.Fields(cmd.Values...)
		if err != nil {
			e.report(e.fds, "%v", err)
			return 1
		}
	}

	e.loopDepth++
	defer func() { e.loopDepth-- }()

	status := 0
	for _, value := range values {
		if err := e.vars.Set(cmd.Variable, value); err != nil {
			e.report(e.fds, "%s: %v", cmd.Variable, err)
			return 1
		}
		status = e.Execute(cmd.Body)
		if e.loopDone() {
			break
		}
	}
	return status
}

func (e *Executor) runCase(cmd *ast.CaseCommand) int {
	word, err := e.expander.Literal(cmd.Word)
	if err != nil {
		e.report(e.fds, "%v", err)
		return 1
	}

	status := 0
	fall := false
	for _, item := range cmd.Cases {
		if !fall && !e.caseMatch(item, word) {
			continue
		}
		status = e.Execute(item.Command)
		if e.unwinding() {
			return status
		}
		switch item.Operator {
		case ast.CaseBreak:
			return status
		case ast.CaseFallthrough:
			fall = true
		case ast.CaseResume:
			fall = false
		}
	}
	return status
}

func (e *Executor) caseMatch(item *ast.CaseItem, word string) bool {
	for _, w := range item.Patterns {
		pat, err := e.expander.Pattern(w)
		if err != nil {
			e.report(e.fds, "%v", err)
			continue
		}
		if expander.Match(pat, word) {
			return true
		}
	}
	return false
}

// callFunction runs a function body with args as its positional
// parameters. The scope is popped however the body ends.
func (e *Executor) callFunction(body *ast.Command, args []string) int {
	e.vars.PushArgs(args)
	e.funcDepth++
	defer func() {
		e.funcDepth--
		e.vars.PopArgs()
	}()

	status := e.Execute(body)
	if e.flow.kind == flowReturn {
		status = e.flow.status
		e.flow = flow{}
	}
	return status
}
