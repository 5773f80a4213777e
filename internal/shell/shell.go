package shell

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/config"
	"github.com/gosh-project/gosh/internal/executor"
	"github.com/gosh-project/gosh/internal/jobs"
	"github.com/gosh-project/gosh/internal/parser"
	"github.com/gosh-project/gosh/internal/prompt"
	"github.com/gosh-project/gosh/internal/readline"
	"github.com/gosh-project/gosh/internal/variables"
)

const Version = "1.1.0"

var logger = log.New(io.Discard, "shell: ", log.LstdFlags)

func SetLogger(l *log.Logger) {
	logger = l
}

type Shell struct {
	config    *config.Config
	variables *variables.Manager
	executor  *executor.Executor
	prompt    *prompt.Manager
	readline  *readline.Manager
	builtins  *builtin.Manager
	jobs      *jobs.Controller

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	interactive bool
	exitCode    int
	// exitWarned is set by an exit refused because of stopped jobs, and
	// lets the next consecutive exit through.
	exitWarned    bool
	warnedLastCmd bool

	sigChan chan os.Signal
}

func New(cfg *config.Config) *Shell {
	if cfg == nil {
		cfg = config.New()
	}
	return &Shell{
		config:    cfg,
		variables: variables.New(),
		builtins:  builtin.New(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

// SetStdio replaces the standard streams the shell starts with.
func (s *Shell) SetStdio(stdin, stdout, stderr *os.File) {
	s.stdin, s.stdout, s.stderr = stdin, stdout, stderr
}

// MaybeRunSubshell runs the process as a child shell when it was started
// as one. It must be called before anything else in main.
func MaybeRunSubshell() {
	executor.RunSubshell(func() *executor.Executor {
		s := New(config.New())
		s.init(false)
		return s.executor
	})
}

// Run executes the command, script or interactive session described by
// the config and returns the exit status.
func (s *Shell) Run() int {
	s.init(s.detectInteractive())
	defer s.cleanup()

	s.initializeEnvironment()
	if s.interactive {
		s.loadStartupFiles()
	}

	cfg := s.config
	switch {
	case cfg.Command != "":
		if len(cfg.ScriptArgs) > 0 {
			s.executor.SetArg0(cfg.ScriptArgs[0])
			s.variables.SetArgs(cfg.ScriptArgs[1:])
		}
		s.exitCode = s.executor.RunString(cfg.Command)
	case cfg.ScriptFile != "":
		s.exitCode = s.executeScript(cfg.ScriptFile, cfg.ScriptArgs)
	case s.interactive:
		s.exitCode = s.interactiveLoop()
	default:
		s.variables.SetArgs(cfg.ScriptArgs)
		s.exitCode = s.executor.Run(s.stdin, "")
	}

	if exiting, code := s.executor.Exiting(); exiting {
		s.exitCode = code
	}
	return s.exitCode
}

func (s *Shell) detectInteractive() bool {
	cfg := s.config
	if cfg.Interactive {
		return true
	}
	if cfg.Command != "" || cfg.ScriptFile != "" {
		return false
	}
	return term.IsTerminal(int(s.stdin.Fd())) && term.IsTerminal(int(s.stderr.Fd()))
}

// init builds the job controller and executor. An interactive shell
// catches the job-control signals and, unless disabled, takes the
// terminal.
func (s *Shell) init(interactive bool) {
	cfg := s.config
	s.interactive = interactive

	colors := cfg.EnableColors && term.IsTerminal(int(s.stderr.Fd()))
	opts := []jobs.Option{
		jobs.WithOutput(s.stderr),
		jobs.WithHistory(cfg.MaxJobHistory),
		jobs.WithPollInterval(cfg.Poll()),
		jobs.WithPipefail(cfg.Pipefail),
		jobs.WithColors(colors),
		jobs.Interactive(interactive),
	}

	wantTerminal := cfg.JobControl == "on" || (cfg.JobControl == "auto" && interactive)
	if interactive {
		// Caught signals are reset to their defaults in children by exec.
		s.sigChan = make(chan os.Signal, 8)
		opts = append(opts, jobs.WithInterrupts(s.sigChan))
	}
	if wantTerminal {
		tty, err := jobs.NewTTY(int(s.stdin.Fd()), s.sigChan)
		if err == nil {
			opts = append(opts, jobs.WithTerminal(tty))
		} else if cfg.JobControl == "on" || interactive {
			logger.Printf("job control disabled: %v", err)
		}
	}

	s.jobs = jobs.NewController(opts...)
	s.jobs.Start()
	if s.jobs.JobControl() {
		if err := s.jobs.TakeTerminal(); err != nil {
			fmt.Fprintf(s.stderr, "gosh: cannot set terminal process group: %v\n", err)
			fmt.Fprintln(s.stderr, "gosh: no job control in this shell")
		}
	}
	// Subscribed only now: a shell started in the background has to stop
	// on SIGTTIN until it owns the terminal.
	if s.sigChan != nil {
		signal.Notify(s.sigChan, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
			syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU)
	}

	s.executor = executor.New(executor.Config{
		Vars:     s.variables,
		Builtins: s.builtins,
		Jobs:     s.jobs,
		Stdin:    s.stdin,
		Stdout:   s.stdout,
		Stderr:   s.stderr,
	})
	if cfg.Pipefail {
		s.executor.SetOption("pipefail", true)
	}

	s.prompt = prompt.New(s.variables, s.jobs.Table().Len)
	s.readline = readline.New(s.stdin, s.stderr, s.sigChan)
	s.initializeBuiltins()
}

func (s *Shell) initializeEnvironment() {
	cfg := s.config

	if pwd, err := os.Getwd(); err == nil {
		s.variables.Set("PWD", pwd)
	}
	s.variables.Set("SHLVL", strconv.Itoa(s.getSHLVL()+1))
	s.variables.Export("SHLVL")
	s.variables.Set("GOSH_VERSION", Version)
	if execPath, err := os.Executable(); err == nil {
		s.variables.Set("SHELL", execPath)
	} else {
		s.variables.Set("SHELL", "gosh")
	}
	if hostname, err := os.Hostname(); err == nil {
		s.variables.Set("HOSTNAME", hostname)
	}

	session := cfg.Session
	if session == "" {
		session = uuid.NewString()
	}
	s.variables.Set("GOSH_SESSION", session)
	s.variables.Export("GOSH_SESSION")

	if _, ok := s.variables.Lookup("PS1"); !ok {
		s.variables.Set("PS1", cfg.PS1)
	}
	if _, ok := s.variables.Lookup("PS2"); !ok {
		s.variables.Set("PS2", cfg.PS2)
	}
}

func (s *Shell) getSHLVL() int {
	level, err := strconv.Atoi(s.variables.Get("SHLVL"))
	if err != nil || level < 0 {
		return 0
	}
	return level
}

func (s *Shell) loadStartupFiles() {
	home := s.variables.Get("HOME")
	if s.config.Login && !s.config.NoProfile {
		profiles := []string{
			"/etc/profile",
			filepath.Join(home, ".gosh_profile"),
			filepath.Join(home, ".profile"),
		}
		for _, profile := range profiles {
			if _, err := os.Stat(profile); err == nil {
				s.sourceFile(profile)
			}
		}
	}

	if !s.config.NoRC && os.Getenv("GOSH_NORC") == "" {
		rc := config.ExpandHome(s.config.RCFile, home)
		if _, err := os.Stat(rc); err == nil {
			s.sourceFile(rc)
		}
	}
}

func (s *Shell) sourceFile(filename string) int {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(s.stderr, "gosh: %s: %v\n", filename, err)
		return 1
	}
	defer file.Close()
	return s.executor.Source(file, filename, nil)
}

func (s *Shell) executeScript(filename string, args []string) int {
	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(s.stderr, "gosh: %s: No such file or directory\n", filename)
			return 127
		}
		fmt.Fprintf(s.stderr, "gosh: %s: %v\n", filename, err)
		return 126
	}
	defer file.Close()

	s.executor.SetArg0(filename)
	if len(args) > 0 {
		s.variables.SetArgs(args[1:])
	}
	return s.executor.Run(file, filename)
}

func (s *Shell) interactiveLoop() int {
	fmt.Fprintf(s.stderr, "gosh %s - Go Shell\n", Version)
	fmt.Fprintln(s.stderr, "Type 'help' for more information.")

	var pending strings.Builder
	for {
		if pending.Len() == 0 {
			s.jobs.Notify(s.stderr)
			s.jobs.ClearInterrupt()
		}

		ps := s.prompt.GeneratePS2()
		if pending.Len() == 0 {
			ps = s.prompt.Generate(s.exitCode)
		}

		line, err := s.readline.ReadLine(ps)
		switch {
		case errors.Is(err, readline.ErrInterrupted):
			fmt.Fprintln(s.stderr)
			pending.Reset()
			s.exitCode = 130
			s.executor.SetLastExitCode(130)
			continue
		case err == io.EOF:
			if pending.Len() > 0 {
				fmt.Fprintln(s.stderr, "gosh: syntax error: unexpected end of file")
				pending.Reset()
				continue
			}
			s.startCommand()
			if s.refuseExit(s.stderr) {
				continue
			}
			fmt.Fprintln(s.stderr, "exit")
			return s.exitCode
		case err != nil:
			fmt.Fprintf(s.stderr, "gosh: %v\n", err)
			return 1
		}

		pending.WriteString(line)
		pending.WriteByte('\n')
		src := pending.String()
		if _, err := parser.New().Parse(src); parser.IsIncomplete(err) {
			continue
		}
		pending.Reset()
		if strings.TrimSpace(src) == "" {
			continue
		}

		s.startCommand()
		s.exitCode = s.executor.RunString(src)
		if exiting, code := s.executor.Exiting(); exiting {
			return code
		}
	}
}

// startCommand forgets an exit refusal older than the previous command.
func (s *Shell) startCommand() {
	s.warnedLastCmd = s.exitWarned
	s.exitWarned = false
}

// refuseExit applies the stopped-jobs policy: an interactive shell refuses
// the first exit while jobs are stopped and allows the next consecutive
// one.
func (s *Shell) refuseExit(w io.Writer) bool {
	if !s.interactive || s.warnedLastCmd {
		return false
	}
	s.jobs.Poll()
	if len(s.jobs.Table().Stopped()) == 0 {
		return false
	}
	fmt.Fprintln(w, "There are stopped jobs.")
	s.exitWarned = true
	return true
}

func (s *Shell) initializeBuiltins() {
	s.builtins.Register("exit", s.builtinExit)
	s.builtins.Register("cd", s.builtinCD)
	s.builtins.Register("pwd", s.builtinPWD)
	s.builtins.Register("echo", s.builtinEcho)
	s.builtins.Register("help", s.builtinHelp)
	s.builtins.Register("export", s.builtinExport)
	s.builtins.Register("unset", s.builtinUnset)
	s.builtins.Register("set", s.builtinSet)
	s.builtins.Register("source", s.builtinSource)
	s.builtins.Register(".", s.builtinSource)
	s.builtins.Register("jobs", s.builtinJobs)
	s.builtins.Register("fg", s.builtinFG)
	s.builtins.Register("bg", s.builtinBG)
	s.builtins.Register("wait", s.builtinWait)
	s.builtins.Register("kill", s.builtinKill)
	s.builtins.Register("[", s.builtinTest)
	s.builtins.Register("test", s.builtinTest)
}

func (s *Shell) cleanup() {
	s.jobs.HangupStopped()
	s.jobs.Close()
	if s.sigChan != nil {
		signal.Stop(s.sigChan)
	}
}
