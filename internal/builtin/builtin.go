package builtin

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"
)

// IO is the standard streams a builtin runs with, taken from the
// descriptor table of the command that invoked it.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Errorf reports a diagnostic as "name: message" and returns status 1.
func (s *IO) Errorf(name, format string, a ...interface{}) int {
	fmt.Fprintf(s.Stderr, "%s: %s\n", name, fmt.Sprintf(format, a...))
	return 1
}

type BuiltinFunc func(stdio *IO, args []string) int

type Manager struct {
	builtins map[string]BuiltinFunc
}

func New() *Manager {
	return &Manager{
		builtins: make(map[string]BuiltinFunc),
	}
}

func (m *Manager) Register(name string, fn BuiltinFunc) {
	m.builtins[name] = fn
}

func (m *Manager) Get(name string) BuiltinFunc {
	return m.builtins[name]
}

// List returns the registered names in order.
func (m *Manager) List() []string {
	var names []string
	for name := range m.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Exists(name string) bool {
	_, exists := m.builtins[name]
	return exists
}

func (m *Manager) Remove(name string) {
	delete(m.builtins, name)
}

// Flags parses a builtin's options with getopt.
type Flags struct {
	// Use holds a one line usage string
	Use string

	set *getopt.Set
}

func NewFlags(use string) *Flags {
	return &Flags{Use: use, set: getopt.New()}
}

func (f *Flags) Set() *getopt.Set {
	return f.set
}

// Parse parses args, including the command name in args[0]. On a bad
// option it prints the error and usage and returns false.
func (f *Flags) Parse(stdio *IO, args []string) bool {
	if err := f.set.Getopt(args, nil); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s: %s\n", args[0], err)
		PrintUsage(stdio.Stderr, args[0], f.Use)
		return false
	}
	return true
}

// Args returns the operands left after parsing.
func (f *Flags) Args() []string {
	return f.set.Args()
}

func ParseIntArg(arg string) (int, error) {
	return strconv.Atoi(arg)
}

func JoinArgs(args []string) string {
	return strings.Join(args, " ")
}

func PrintUsage(w io.Writer, command string, usage string) {
	fmt.Fprintf(w, "Usage: %s %s\n", command, usage)
}
