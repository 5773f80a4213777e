package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/jobs"
)

func (s *Shell) resolve(stdio *builtin.IO, name, spec string, numberIsJob bool) *jobs.Job {
	j, err := s.jobs.Resolve(spec, numberIsJob)
	if err != nil {
		stdio.Errorf(name, "%v", err)
		return nil
	}
	return j
}

func (s *Shell) builtinJobs(stdio *builtin.IO, args []string) int {
	f := builtin.NewFlags("[-lprs] [jobspec ...]")
	long := f.Set().Bool('l', "also list process ids")
	pids := f.Set().Bool('p', "list process group leaders only")
	running := f.Set().Bool('r', "running jobs only")
	stopped := f.Set().Bool('s', "stopped jobs only")
	if !f.Parse(stdio, args) {
		return 2
	}

	s.jobs.Poll()

	status := 0
	var list []*jobs.Job
	if specs := f.Args(); len(specs) > 0 {
		for _, spec := range specs {
			j := s.resolve(stdio, "jobs", spec, true)
			if j == nil {
				status = 1
				continue
			}
			list = append(list, j)
		}
	} else {
		list = s.jobs.Table().List()
	}

	mode := jobs.FormatDefault
	switch {
	case *pids:
		mode = jobs.FormatPids
	case *long:
		mode = jobs.FormatLong
	}

	for _, j := range list {
		state := j.State()
		if *running && state != jobs.JobRunning || *stopped && state != jobs.JobStopped {
			continue
		}
		fmt.Fprintln(stdio.Stdout, s.jobs.Format(j, mode))
		if mode == jobs.FormatPids {
			continue
		}
		j.Changed = false
		if state == jobs.JobDone {
			j.Reported = true
			s.jobs.Table().Reap(j)
		}
	}
	return status
}

func (s *Shell) builtinFG(stdio *builtin.IO, args []string) int {
	if !s.jobs.JobControl() {
		return stdio.Errorf("fg", "no job control")
	}
	spec := "%+"
	if len(args) > 1 {
		spec = args[1]
	}

	s.jobs.Poll()
	j := s.resolve(stdio, "fg", spec, true)
	if j == nil {
		return 1
	}
	if j.State() == jobs.JobDone {
		stdio.Errorf("fg", "job has terminated")
		j.Reported = true
		s.jobs.Table().Reap(j)
		return 1
	}

	fmt.Fprintln(stdio.Stdout, j.Text)
	return s.jobs.Foreground(j, true)
}

func (s *Shell) builtinBG(stdio *builtin.IO, args []string) int {
	if !s.jobs.JobControl() {
		return stdio.Errorf("bg", "no job control")
	}
	specs := args[1:]
	if len(specs) == 0 {
		specs = []string{"%+"}
	}

	s.jobs.Poll()
	status := 0
	for _, spec := range specs {
		j := s.resolve(stdio, "bg", spec, true)
		switch {
		case j == nil:
			status = 1
		case j.State() == jobs.JobDone:
			status = stdio.Errorf("bg", "job has terminated")
		case j.State() == jobs.JobRunning:
			stdio.Errorf("bg", "job %d already in background", j.ID)
		default:
			s.jobs.Background(j, stdio.Stdout)
		}
	}
	return status
}

// builtinWait waits for every job, or for each job spec or pid named. An
// operand that is not a known child makes the status 127.
func (s *Shell) builtinWait(stdio *builtin.IO, args []string) int {
	f := builtin.NewFlags("[jobspec|pid ...]")
	if !f.Parse(stdio, args) {
		return 2
	}

	operands := f.Args()
	if len(operands) == 0 {
		return s.jobs.WaitAll()
	}

	status := 0
	for _, op := range operands {
		if strings.HasPrefix(op, "%") {
			j, err := s.jobs.Resolve(op, true)
			if err != nil {
				stdio.Errorf("wait", "%v", err)
				status = 127
				continue
			}
			status = s.jobs.Wait(j)
		} else {
			pid, err := strconv.Atoi(op)
			if err != nil || pid <= 0 {
				stdio.Errorf("wait", "`%s': not a pid or valid job spec", op)
				status = 2
				continue
			}
			status, err = s.jobs.WaitPid(pid)
			if errors.Is(err, jobs.ErrNotChild) {
				stdio.Errorf("wait", "pid %d is not a child of this shell", pid)
			}
		}
		if s.jobs.Interrupted() {
			break
		}
	}
	return status
}

func (s *Shell) builtinKill(stdio *builtin.IO, args []string) int {
	const usage = "[-s sigspec | -n signum | -sigspec] pid | jobspec ... or kill -l [sigspec]"
	if len(args) < 2 {
		builtin.PrintUsage(stdio.Stderr, "kill", usage)
		return 2
	}

	sig := unix.SIGTERM
	operands := args[1:]

	// -TERM and -9 are not getopt options.
	if first := operands[0]; len(first) > 1 && first[0] == '-' && !isKillFlag(first) {
		n, err := parseSignal(first[1:])
		if err != nil {
			return stdio.Errorf("kill", "%s: invalid signal specification", first[1:])
		}
		sig = n
		operands = operands[1:]
	} else {
		f := builtin.NewFlags(usage)
		name := f.Set().String('s', "", "signal name")
		num := f.Set().String('n', "", "signal number")
		list := f.Set().Bool('l', "list signal names")
		if !f.Parse(stdio, args) {
			return 2
		}
		operands = f.Args()
		if *list {
			return s.listSignals(stdio, operands)
		}
		spec := *name
		if spec == "" {
			spec = *num
		}
		if spec != "" {
			n, err := parseSignal(spec)
			if err != nil {
				return stdio.Errorf("kill", "%s: invalid signal specification", spec)
			}
			sig = n
		}
	}

	if len(operands) == 0 {
		builtin.PrintUsage(stdio.Stderr, "kill", usage)
		return 2
	}

	status := 0
	for _, op := range operands {
		if strings.HasPrefix(op, "%") {
			j := s.resolve(stdio, "kill", op, true)
			if j == nil {
				status = 1
				continue
			}
			if err := s.jobs.Signal(j, sig); err != nil {
				status = stdio.Errorf("kill", "%s: %s", op, describeErr(err))
			}
			continue
		}

		pid, err := strconv.Atoi(op)
		if err != nil {
			status = stdio.Errorf("kill", "%s: arguments must be process or job IDs", op)
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			status = stdio.Errorf("kill", "(%d) - %s", pid, describeErr(err))
		}
	}
	s.jobs.Poll()
	return status
}

func isKillFlag(arg string) bool {
	switch arg {
	case "-s", "-n", "-l", "--":
		return true
	}
	return strings.HasPrefix(arg, "-s") || strings.HasPrefix(arg, "-n")
}

// parseSignal accepts a number, a name such as TERM, or SIGTERM in any
// case.
func parseSignal(spec string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(spec); err == nil {
		if n < 0 || n > 64 {
			return 0, fmt.Errorf("%s: invalid signal", spec)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(spec)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("%s: invalid signal", spec)
}

func signalName(sig syscall.Signal) string {
	return strings.TrimPrefix(unix.SignalName(sig), "SIG")
}

// listSignals prints every signal name, or converts each operand between
// name and number. A status above 128 names the signal that caused it.
func (s *Shell) listSignals(stdio *builtin.IO, operands []string) int {
	if len(operands) == 0 {
		var names []string
		for sig := syscall.Signal(1); sig < 32; sig++ {
			if name := signalName(sig); name != "" {
				names = append(names, name)
			}
		}
		fmt.Fprintln(stdio.Stdout, strings.Join(names, " "))
		return 0
	}

	status := 0
	for _, op := range operands {
		if n, err := strconv.Atoi(op); err == nil {
			if n > 128 {
				n -= 128
			}
			name := signalName(syscall.Signal(n))
			if name == "" {
				status = stdio.Errorf("kill", "%s: invalid signal specification", op)
				continue
			}
			fmt.Fprintln(stdio.Stdout, name)
			continue
		}
		sig, err := parseSignal(op)
		if err != nil {
			status = stdio.Errorf("kill", "%s: invalid signal specification", op)
			continue
		}
		fmt.Fprintln(stdio.Stdout, int(sig))
	}
	return status
}
