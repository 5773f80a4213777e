// Package expander turns syntax words into strings and argument fields
// using the variables of a running shell.
package expander

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strconv"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"

	"github.com/gosh-project/gosh/internal/variables"
)

// Specials supplies the special parameters that are not plain variables.
type Specials interface {
	LastStatus() int
	LastBackgroundPid() int
	ShellPid() int
	ScriptName() string
}

type Expander struct {
	vars     *variables.Manager
	specials Specials
	subst    func(w io.Writer, source string) error

	noGlob  bool
	noUnset bool
}

func New(vars *variables.Manager, specials Specials) *Expander {
	return &Expander{
		vars:     vars,
		specials: specials,
	}
}

// SetCommandSubstitution installs the function that runs the source of
// "$(...)" with its standard output going to w.
func (x *Expander) SetCommandSubstitution(fn func(w io.Writer, source string) error) {
	x.subst = fn
}

func (x *Expander) SetNoGlob(enabled bool) {
	x.noGlob = enabled
}

func (x *Expander) SetNoUnset(enabled bool) {
	x.noUnset = enabled
}

func (x *Expander) config() *expand.Config {
	cfg := &expand.Config{
		Env:     environ{x},
		NoUnset: x.noUnset,
	}
	if !x.noGlob {
		cfg.ReadDir2 = os.ReadDir
	}
	if x.subst != nil {
		cfg.CmdSubst = func(w io.Writer, cs *syntax.CmdSubst) error {
			if len(cs.Stmts) == 0 {
				return nil
			}
			var src bytes.Buffer
			printer := syntax.NewPrinter()
			if err := printer.Print(&src, &syntax.File{Stmts: cs.Stmts}); err != nil {
				return err
			}
			return x.subst(w, src.String())
		}
	}
	return cfg
}

// Fields expands words into argument fields, with field splitting and
// pathname expansion.
func (x *Expander) Fields(words ...*syntax.Word) ([]string, error) {
	return expand.Fields(x.config(), words...)
}

// Literal expands a word into a single string, as for assignments and
// redirection targets.
func (x *Expander) Literal(word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	return expand.Literal(x.config(), word)
}

// Document expands the body of a here-document.
func (x *Expander) Document(word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	return expand.Document(x.config(), word)
}

// Pattern expands a word for use as a case pattern.
func (x *Expander) Pattern(word *syntax.Word) (string, error) {
	return expand.Pattern(x.config(), word)
}

// Match reports whether name matches the expanded pattern pat in full.
func Match(pat, name string) bool {
	expr, err := pattern.Regexp(pat, pattern.EntireString)
	if err != nil {
		return false
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return rx.MatchString(name)
}

// environ exposes the variable store to the expand package.
type environ struct {
	x *Expander
}

var _ expand.WriteEnviron = environ{}

func stringVar(s string) expand.Variable {
	return expand.Variable{Kind: expand.String, Str: s}
}

func (e environ) Get(name string) expand.Variable {
	sp := e.x.specials
	switch name {
	case "?":
		if sp != nil {
			return stringVar(strconv.Itoa(sp.LastStatus()))
		}
		return stringVar("0")
	case "$":
		pid := os.Getpid()
		if sp != nil {
			pid = sp.ShellPid()
		}
		return stringVar(strconv.Itoa(pid))
	case "!":
		if sp == nil || sp.LastBackgroundPid() == 0 {
			return expand.Variable{}
		}
		return stringVar(strconv.Itoa(sp.LastBackgroundPid()))
	case "0":
		if sp != nil {
			return stringVar(sp.ScriptName())
		}
		return stringVar("gosh")
	case "#":
		return stringVar(strconv.Itoa(len(e.x.vars.Args())))
	case "@", "*":
		return expand.Variable{Kind: expand.Indexed, List: e.x.vars.Args()}
	}

	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		args := e.x.vars.Args()
		if n > len(args) {
			return expand.Variable{}
		}
		return stringVar(args[n-1])
	}

	v, ok := e.x.vars.Lookup(name)
	if !ok {
		return expand.Variable{}
	}
	return expand.Variable{
		Kind:     expand.String,
		Exported: v.Exported,
		ReadOnly: v.ReadOnly,
		Str:      v.Value,
	}
}

func (e environ) Set(name string, vr expand.Variable) error {
	if !vr.IsSet() {
		return e.x.vars.Unset(name)
	}
	if err := e.x.vars.Set(name, vr.String()); err != nil {
		return err
	}
	if vr.Exported {
		return e.x.vars.Export(name)
	}
	return nil
}

func (e environ) Each(fn func(name string, vr expand.Variable) bool) {
	for _, v := range e.x.vars.All() {
		if !fn(v.Name, e.Get(v.Name)) {
			return
		}
	}
}
