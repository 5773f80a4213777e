package ast

import (
	"bytes"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

type CommandType int

const (
	CommandSimple CommandType = iota
	CommandPipeline
	CommandBackground
	CommandList
	CommandIf
	CommandFor
	CommandWhile
	CommandCase
	CommandFunction
	CommandSubshell
	CommandGroup
)

func (t CommandType) String() string {
	switch t {
	case CommandSimple:
		return "simple"
	case CommandPipeline:
		return "pipeline"
	case CommandBackground:
		return "background"
	case CommandList:
		return "list"
	case CommandIf:
		return "if"
	case CommandFor:
		return "for"
	case CommandWhile:
		return "while"
	case CommandCase:
		return "case"
	case CommandFunction:
		return "function"
	case CommandSubshell:
		return "subshell"
	case CommandGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Command is one node of the command tree. Exactly one of the kind
// pointers is set, matching Type. A parent owns its children; the tree is
// never modified after parsing.
type Command struct {
	Type       CommandType
	Simple     *SimpleCommand
	Pipeline   *Pipeline
	Background *BackgroundCommand
	List       *List
	If         *IfCommand
	For        *ForCommand
	While      *WhileCommand
	Case       *CaseCommand
	Function   *FunctionCommand
	Subshell   *SubshellCommand
	Group      *GroupCommand

	// Redirects apply around this node only.
	Redirects []*Redirect

	// Node is the syntax this command was built from. For statements it
	// is a *syntax.Stmt carrying the redirections but not the background
	// flag.
	Node syntax.Node
}

type SimpleCommand struct {
	Assigns []*Assign
	Args    []*syntax.Word
}

type Assign struct {
	Name   string
	Value  *syntax.Word
	Append bool
}

type Pipeline struct {
	Stages  []*Command
	Negated bool
}

type BackgroundCommand struct {
	Command *Command
}

// List is a chain of commands joined by ";", "&&" or "||". Operators[i]
// sits between Commands[i] and Commands[i+1].
type List struct {
	Commands  []*Command
	Operators []string
}

type IfCommand struct {
	Condition *Command
	Then      *Command
	Else      *Command
}

type ForCommand struct {
	Variable string
	Values   []*syntax.Word
	// UseArgs iterates over the positional parameters ("for x; do").
	UseArgs bool
	Body    *Command
}

type WhileCommand struct {
	Condition *Command
	Body      *Command
	Until     bool
}

type CaseCommand struct {
	Word  *syntax.Word
	Cases []*CaseItem
}

type CaseOperator int

const (
	CaseBreak       CaseOperator = iota // ;;
	CaseFallthrough                     // ;&
	CaseResume                          // ;;&
)

type CaseItem struct {
	Patterns []*syntax.Word
	Command  *Command
	Operator CaseOperator
}

type FunctionCommand struct {
	Name string
	Body *Command
}

type SubshellCommand struct {
	Command *Command
}

type GroupCommand struct {
	Commands []*Command
}

type RedirectType int

const (
	RedirectInput RedirectType = iota
	RedirectOutput
	RedirectAppend
	RedirectInputOutput
	RedirectDupInput
	RedirectDupOutput
	RedirectHereDoc
	RedirectHereString
	RedirectOutputAll
	RedirectAppendAll
)

func (t RedirectType) String() string {
	switch t {
	case RedirectInput:
		return "<"
	case RedirectOutput:
		return ">"
	case RedirectAppend:
		return ">>"
	case RedirectInputOutput:
		return "<>"
	case RedirectDupInput:
		return "<&"
	case RedirectDupOutput:
		return ">&"
	case RedirectHereDoc:
		return "<<"
	case RedirectHereString:
		return "<<<"
	case RedirectOutputAll:
		return "&>"
	case RedirectAppendAll:
		return "&>>"
	default:
		return "?"
	}
}

// Redirect points descriptor Fd at the source described by Target, or at
// the body in HereDoc.
type Redirect struct {
	Type      RedirectType
	Fd        int
	Target    *syntax.Word
	HereDoc   *syntax.Word
	StripTabs bool
}

// String renders the command on one line, without a trailing "&".
func (c *Command) String() string {
	if c == nil {
		return ""
	}
	switch {
	case c.Node != nil:
		return render(c.Node, true)
	case c.Type == CommandSimple && c.Simple != nil:
		return literal(c.Simple.Args)
	case c.Type == CommandPipeline && c.Pipeline != nil:
		parts := make([]string, len(c.Pipeline.Stages))
		for i, st := range c.Pipeline.Stages {
			parts[i] = st.String()
		}
		return strings.Join(parts, " | ")
	default:
		return c.Type.String()
	}
}

// Body returns shell source for the command without its own
// redirections, suitable for running in a child shell that already has
// those redirections installed. Subshells return their inner commands.
func (c *Command) Body() string {
	if c == nil {
		return ""
	}
	if c.Type == CommandSubshell && c.Subshell != nil {
		return c.Subshell.Command.Body()
	}
	switch n := c.Node.(type) {
	case nil:
		return c.String()
	case *syntax.Stmt:
		if n.Cmd == nil {
			return ""
		}
		return render(n.Cmd, false)
	default:
		return render(n, false)
	}
}

// Source prints a syntax node as shell source.
func Source(n syntax.Node) string {
	return render(n, false)
}

func render(n syntax.Node, singleLine bool) string {
	if st, ok := n.(*syntax.Stmt); ok && st.Background {
		cp := *st
		cp.Background = false
		n = &cp
	}
	var buf bytes.Buffer
	p := syntax.NewPrinter(syntax.SingleLine(singleLine))
	if err := p.Print(&buf, n); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

func literal(words []*syntax.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Lit())
	}
	return strings.Join(parts, " ")
}

// Lit builds a word holding a single literal.
func Lit(s string) *syntax.Word {
	return &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: s}}}
}

// Words builds literal words.
func Words(ss ...string) []*syntax.Word {
	out := make([]*syntax.Word, len(ss))
	for i, s := range ss {
		out[i] = Lit(s)
	}
	return out
}

// NewSimple builds a simple command from literal arguments.
func NewSimple(args ...string) *Command {
	return &Command{
		Type:   CommandSimple,
		Simple: &SimpleCommand{Args: Words(args...)},
	}
}

// NewPipeline joins commands into one pipeline node.
func NewPipeline(stages ...*Command) *Command {
	return &Command{
		Type:     CommandPipeline,
		Pipeline: &Pipeline{Stages: stages},
	}
}

// NewList joins commands with operators.
func NewList(commands []*Command, operators []string) *Command {
	return &Command{
		Type: CommandList,
		List: &List{Commands: commands, Operators: operators},
	}
}
