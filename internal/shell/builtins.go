package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"

	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/process"
	"github.com/gosh-project/gosh/internal/variables"
)

func (s *Shell) builtinExit(stdio *builtin.IO, args []string) int {
	code := s.executor.LastExitCode()
	if len(args) > 1 {
		n, err := builtin.ParseIntArg(args[1])
		if err != nil {
			stdio.Errorf("exit", "%s: numeric argument required", args[1])
			n = 2
		}
		code = n & 0xff
	}
	if s.refuseExit(stdio.Stderr) {
		return 1
	}
	s.executor.RequestExit(code)
	return code
}

func (s *Shell) builtinCD(stdio *builtin.IO, args []string) int {
	var dir string

	if len(args) < 2 {
		dir = s.variables.Get("HOME")
		if dir == "" {
			return stdio.Errorf("cd", "HOME not set")
		}
	} else {
		dir = args[1]
	}

	if dir == "-" {
		prevDir := s.variables.Get("OLDPWD")
		if prevDir == "" {
			return stdio.Errorf("cd", "OLDPWD not set")
		}
		dir = prevDir
		fmt.Fprintln(stdio.Stdout, dir)
	}

	dir = expandTilde(dir, s.variables.Get("HOME"))

	oldPwd := s.variables.Get("PWD")
	if oldPwd == "" {
		oldPwd, _ = os.Getwd()
	}

	if err := os.Chdir(dir); err != nil {
		return stdio.Errorf("cd", "%s: %s", dir, describeErr(err))
	}

	newPwd := dir
	if !filepath.IsAbs(newPwd) {
		newPwd = filepath.Join(oldPwd, newPwd)
	}
	newPwd = filepath.Clean(newPwd)
	if !sameDir(newPwd, ".") {
		newPwd, _ = os.Getwd()
	}
	s.variables.Set("OLDPWD", oldPwd)
	s.variables.Set("PWD", newPwd)
	return 0
}

func expandTilde(dir, home string) string {
	if home != "" && (dir == "~" || strings.HasPrefix(dir, "~/")) {
		return filepath.Join(home, dir[1:])
	}
	return dir
}

func sameDir(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// describeErr renders the underlying errno of a path error the way shells
// print it.
func describeErr(err error) string {
	var perr *os.PathError
	if errors.As(err, &perr) {
		err = perr.Err
	}
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (s *Shell) builtinPWD(stdio *builtin.IO, args []string) int {
	if pwd := s.variables.Get("PWD"); pwd != "" && filepath.IsAbs(pwd) && sameDir(pwd, ".") {
		fmt.Fprintln(stdio.Stdout, pwd)
		return 0
	}
	pwd, err := os.Getwd()
	if err != nil {
		return stdio.Errorf("pwd", "%v", err)
	}
	fmt.Fprintln(stdio.Stdout, pwd)
	return 0
}

func (s *Shell) builtinEcho(stdio *builtin.IO, args []string) int {
	args = args[1:]
	newline := true
	if len(args) > 0 && args[0] == "-n" {
		newline = false
		args = args[1:]
	}
	output := strings.Join(args, " ")
	if newline {
		output += "\n"
	}
	fmt.Fprint(stdio.Stdout, output)
	return 0
}

var helpText = map[string]string{
	"cd":     "cd [dir] - Change the current directory; cd - returns to $OLDPWD",
	"pwd":    "pwd - Print the current working directory",
	"echo":   "echo [-n] [args...] - Display arguments",
	"exit":   "exit [n] - Exit the shell; refused once while jobs are stopped",
	"export": "export [-n] [name[=value] ...] - Export variables to child processes",
	"unset":  "unset name ... - Remove variables",
	"set":    "set [-fu] [-o option] [--] [args...] - Set options or positional parameters",
	"source": "source file [args...] - Run commands from file in this shell",
	"jobs":   "jobs [-lprs] [jobspec ...] - List jobs",
	"fg":     "fg [jobspec] - Run a job in the foreground",
	"bg":     "bg [jobspec ...] - Continue stopped jobs in the background",
	"wait":   "wait [jobspec|pid ...] - Wait for jobs to finish",
	"kill":   "kill [-s sig | -n num | -sig] pid|jobspec ... or kill -l [status] - Send signals",
	"test":   "test expr, [ expr ] - Evaluate a conditional expression",
}

func (s *Shell) builtinHelp(stdio *builtin.IO, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(stdio.Stdout, "gosh - Go Shell")
		fmt.Fprintln(stdio.Stdout)
		fmt.Fprintln(stdio.Stdout, "Builtin commands:")
		for _, name := range s.builtins.List() {
			if text, ok := helpText[name]; ok {
				fmt.Fprintf(stdio.Stdout, "  %s\n", text)
			}
		}
		fmt.Fprintln(stdio.Stdout)
		io.WriteString(stdio.Stdout, "Job specs: %n, %+, %%, %-, %prefix, %?substring\n")
		return 0
	}

	status := 0
	for _, name := range args[1:] {
		text, ok := helpText[strings.TrimPrefix(name, ".")]
		if name == "." {
			text, ok = helpText["source"]
		}
		if !ok {
			status = stdio.Errorf("help", "no help topics match `%s'", name)
			continue
		}
		fmt.Fprintln(stdio.Stdout, text)
	}
	return status
}

func (s *Shell) builtinExport(stdio *builtin.IO, args []string) int {
	f := builtin.NewFlags("[-np] [name[=value] ...]")
	remove := f.Set().Bool('n', "remove the export property")
	f.Set().Bool('p', "print exported variables")
	if !f.Parse(stdio, args) {
		return 2
	}

	names := f.Args()
	if len(names) == 0 {
		for _, v := range s.variables.All() {
			if v.Exported {
				fmt.Fprintf(stdio.Stdout, "export %s=%s\n", v.Name, quote(v.Value))
			}
		}
		return 0
	}

	status := 0
	for _, arg := range names {
		name, value, hasValue := strings.Cut(arg, "=")
		if !variables.ValidName(name) {
			status = stdio.Errorf("export", "`%s': not a valid identifier", arg)
			continue
		}
		if *remove {
			s.variables.Unexport(name)
			continue
		}
		if hasValue {
			if err := s.variables.Set(name, value); err != nil {
				status = stdio.Errorf("export", "%s: %v", name, err)
				continue
			}
		}
		if err := s.variables.Export(name); err != nil {
			status = stdio.Errorf("export", "%s: %v", name, err)
		}
	}
	return status
}

func quote(v string) string {
	q, err := syntax.Quote(v, syntax.LangBash)
	if err != nil {
		return strconv.Quote(v)
	}
	return q
}

func (s *Shell) builtinUnset(stdio *builtin.IO, args []string) int {
	status := 0
	for _, arg := range args[1:] {
		if arg == "-v" {
			continue
		}
		if err := s.variables.Unset(arg); err != nil {
			status = stdio.Errorf("unset", "%s: %v", arg, err)
		}
	}
	return status
}

var setFlags = map[byte]string{
	'f': "noglob",
	'u': "nounset",
}

// builtinSet handles -f, -u and -o name with their + forms by hand; the
// + prefix does not fit getopt.
func (s *Shell) builtinSet(stdio *builtin.IO, args []string) int {
	args = args[1:]
	if len(args) == 0 {
		for _, v := range s.variables.All() {
			fmt.Fprintf(stdio.Stdout, "%s=%s\n", v.Name, quote(v.Value))
		}
		return 0
	}

	for len(args) > 0 {
		arg := args[0]
		if arg == "--" {
			s.variables.SetArgs(args[1:])
			return 0
		}
		if len(arg) < 2 || (arg[0] != '-' && arg[0] != '+') {
			s.variables.SetArgs(args)
			return 0
		}
		on := arg[0] == '-'
		args = args[1:]

		if arg[1:] == "o" {
			if len(args) == 0 {
				s.printOptions(stdio, on)
				return 0
			}
			if err := s.executor.SetOption(args[0], on); err != nil {
				return stdio.Errorf("set", "%v", err)
			}
			args = args[1:]
			continue
		}
		for i := 1; i < len(arg); i++ {
			name, ok := setFlags[arg[i]]
			if !ok {
				stdio.Errorf("set", "%c%c: invalid option", arg[0], arg[i])
				builtin.PrintUsage(stdio.Stderr, "set", "[-fu] [-o option] [--] [arg ...]")
				return 2
			}
			s.executor.SetOption(name, on)
		}
	}
	return 0
}

func (s *Shell) printOptions(stdio *builtin.IO, human bool) {
	opts := s.executor.Options()
	values := []struct {
		name string
		on   bool
	}{
		{"noglob", opts.NoGlob},
		{"nounset", opts.NoUnset},
		{"pipefail", opts.Pipefail},
	}
	for _, v := range values {
		switch {
		case human && v.on:
			fmt.Fprintf(stdio.Stdout, "%-15s\ton\n", v.name)
		case human:
			fmt.Fprintf(stdio.Stdout, "%-15s\toff\n", v.name)
		case v.on:
			fmt.Fprintf(stdio.Stdout, "set -o %s\n", v.name)
		default:
			fmt.Fprintf(stdio.Stdout, "set +o %s\n", v.name)
		}
	}
}

func (s *Shell) builtinSource(stdio *builtin.IO, args []string) int {
	if len(args) < 2 {
		stdio.Errorf(args[0], "filename argument required")
		builtin.PrintUsage(stdio.Stderr, args[0], "filename [arguments]")
		return 2
	}

	filename := args[1]
	if !strings.Contains(filename, "/") {
		path := s.variables.Get("PATH")
		if path == "" {
			path = process.DefaultPath
		}
		for _, dir := range filepath.SplitList(path) {
			fullPath := filepath.Join(dir, filename)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				filename = fullPath
				break
			}
		}
	}

	file, err := os.Open(filename)
	if err != nil {
		return stdio.Errorf(args[0], "%s: %s", args[1], describeErr(err))
	}
	defer file.Close()

	var params []string
	if len(args) > 2 {
		params = args[2:]
	}
	return s.executor.Source(file, filename, params)
}

// builtinTest evaluates the small set of unary and binary expressions
// scripts use between [ and ].
func (s *Shell) builtinTest(stdio *builtin.IO, args []string) int {
	name := args[0]
	args = args[1:]
	if name == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			stdio.Errorf("[", "missing `]'")
			return 2
		}
		args = args[:len(args)-1]
	}

	negate := false
	if len(args) > 0 && args[0] == "!" {
		negate = true
		args = args[1:]
	}

	result, err := evalTest(args)
	if err != nil {
		stdio.Errorf(name, "%v", err)
		return 2
	}
	if result != negate {
		return 0
	}
	return 1
}

func evalTest(args []string) (bool, error) {
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		return testUnary(args[0], args[1])
	case 3:
		return testBinary(args[0], args[1], args[2])
	default:
		return false, errors.New("too many arguments")
	}
}

func testUnary(op, arg string) (bool, error) {
	switch op {
	case "-n":
		return arg != "", nil
	case "-z":
		return arg == "", nil
	}

	info, err := os.Stat(arg)
	switch op {
	case "-e":
		return err == nil, nil
	case "-f":
		return err == nil && info.Mode().IsRegular(), nil
	case "-d":
		return err == nil && info.IsDir(), nil
	case "-s":
		return err == nil && info.Size() > 0, nil
	case "-x":
		return err == nil && unix.Access(arg, unix.X_OK) == nil, nil
	default:
		return false, fmt.Errorf("%s: unary operator expected", op)
	}
}

func testBinary(left, op, right string) (bool, error) {
	switch op {
	case "=", "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}

	l, err := strconv.Atoi(left)
	if err != nil {
		return false, fmt.Errorf("%s: integer expression expected", left)
	}
	r, err := strconv.Atoi(right)
	if err != nil {
		return false, fmt.Errorf("%s: integer expression expected", right)
	}
	switch op {
	case "-eq":
		return l == r, nil
	case "-ne":
		return l != r, nil
	case "-lt":
		return l < r, nil
	case "-le":
		return l <= r, nil
	case "-gt":
		return l > r, nil
	case "-ge":
		return l >= r, nil
	default:
		return false, fmt.Errorf("%s: binary operator expected", op)
	}
}
