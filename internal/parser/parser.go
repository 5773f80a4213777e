package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gosh-project/gosh/internal/ast"
)

// UnsupportedError reports syntax the executor has no node kind for.
type UnsupportedError struct {
	Pos  syntax.Pos
	What string
}

func (e *UnsupportedError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s is not supported", e.Pos, e.What)
	}
	return fmt.Sprintf("%s is not supported", e.What)
}

type Parser struct {
	parser *syntax.Parser
	name   string
}

func New() *Parser {
	return &Parser{
		parser: syntax.NewParser(syntax.Variant(syntax.LangBash)),
	}
}

// SetName sets the source name used in error positions.
func (p *Parser) SetName(name string) {
	p.name = name
}

// Parse turns shell source into one command per top-level statement.
func (p *Parser) Parse(input string) ([]*ast.Command, error) {
	file, err := p.parser.Parse(strings.NewReader(input), p.name)
	if err != nil {
		return nil, err
	}

	commands := make([]*ast.Command, 0, len(file.Stmts))
	for _, st := range file.Stmts {
		cmd, err := convertStmt(st)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	return commands, nil
}

// Each parses statements from r one at a time and hands each converted
// command to fn, stopping early when fn returns false. Statements before a
// syntax error still run.
func (p *Parser) Each(r io.Reader, fn func(*ast.Command) bool) error {
	var convErr error
	err := p.parser.Stmts(r, func(st *syntax.Stmt) bool {
		cmd, err := convertStmt(st)
		if err != nil {
			convErr = err
			return false
		}
		return fn(cmd)
	})
	if err != nil {
		return err
	}
	return convErr
}

// ParseList parses input into a single list node.
func (p *Parser) ParseList(input string) (*ast.Command, error) {
	file, err := p.parser.Parse(strings.NewReader(input), p.name)
	if err != nil {
		return nil, err
	}
	return convertStmts(file.Stmts, file)
}

// IsIncomplete reports whether err means more input could complete the
// source, as with an open quote or a missing "fi".
func IsIncomplete(err error) bool {
	return syntax.IsIncomplete(err)
}

// Convert turns parsed statements into one list node.
func Convert(stmts []*syntax.Stmt) (*ast.Command, error) {
	return convertStmts(stmts, &syntax.File{Stmts: stmts})
}

func convertStmts(stmts []*syntax.Stmt, node syntax.Node) (*ast.Command, error) {
	if len(stmts) == 1 {
		return convertStmt(stmts[0])
	}

	list := &ast.List{}
	for i, st := range stmts {
		cmd, err := convertStmt(st)
		if err != nil {
			return nil, err
		}
		list.Commands = append(list.Commands, cmd)
		if i > 0 {
			list.Operators = append(list.Operators, ";")
		}
	}

	return &ast.Command{Type: ast.CommandList, List: list, Node: node}, nil
}

func convertStmt(st *syntax.Stmt) (*ast.Command, error) {
	var (
		cmd *ast.Command
		err error
	)
	if st.Cmd == nil {
		// A statement with only redirections, like "> file".
		cmd = &ast.Command{Type: ast.CommandSimple, Simple: &ast.SimpleCommand{}}
	} else {
		cmd, err = convertCommand(st.Cmd)
		if err != nil {
			return nil, err
		}
	}

	redirs, err := convertRedirects(st.Redirs)
	if err != nil {
		return nil, err
	}
	cmd.Redirects = append(cmd.Redirects, redirs...)
	cmd.Node = &syntax.Stmt{
		Position: st.Position,
		Cmd:      st.Cmd,
		Redirs:   st.Redirs,
	}

	if st.Negated {
		if cmd.Type != ast.CommandPipeline || len(cmd.Redirects) > 0 {
			cmd = &ast.Command{
				Type:     ast.CommandPipeline,
				Pipeline: &ast.Pipeline{Stages: []*ast.Command{cmd}},
			}
		}
		cmd.Pipeline.Negated = true
		cmd.Node = &syntax.Stmt{
			Position: st.Position,
			Cmd:      st.Cmd,
			Redirs:   st.Redirs,
			Negated:  true,
		}
	}

	if st.Background {
		cmd = &ast.Command{
			Type:       ast.CommandBackground,
			Background: &ast.BackgroundCommand{Command: cmd},
			Node:       st,
		}
	}

	return cmd, nil
}

func convertCommand(node syntax.Command) (*ast.Command, error) {
	switch n := node.(type) {
	case *syntax.CallExpr:
		return convertCall(n)
	case *syntax.DeclClause:
		return convertDecl(n)
	case *syntax.BinaryCmd:
		return convertBinary(n)
	case *syntax.IfClause:
		return convertIf(n)
	case *syntax.WhileClause:
		cond, err := convertStmts(n.Cond, nil)
		if err != nil {
			return nil, err
		}
		body, err := convertBody(n.Do)
		if err != nil {
			return nil, err
		}
		return &ast.Command{
			Type:  ast.CommandWhile,
			While: &ast.WhileCommand{Condition: cond, Body: body, Until: n.Until},
		}, nil
	case *syntax.ForClause:
		return convertFor(n)
	case *syntax.CaseClause:
		return convertCase(n)
	case *syntax.Block:
		group := &ast.GroupCommand{}
		for _, st := range n.Stmts {
			cmd, err := convertStmt(st)
			if err != nil {
				return nil, err
			}
			group.Commands = append(group.Commands, cmd)
		}
		return &ast.Command{Type: ast.CommandGroup, Group: group}, nil
	case *syntax.Subshell:
		inner, err := convertBody(n.Stmts)
		if err != nil {
			return nil, err
		}
		inner.Node = &syntax.File{Stmts: n.Stmts}
		return &ast.Command{
			Type:     ast.CommandSubshell,
			Subshell: &ast.SubshellCommand{Command: inner},
		}, nil
	case *syntax.FuncDecl:
		body, err := convertStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &ast.Command{
			Type:     ast.CommandFunction,
			Function: &ast.FunctionCommand{Name: n.Name.Value, Body: body},
		}, nil
	case *syntax.TimeClause:
		return nil, &UnsupportedError{Pos: n.Pos(), What: "time"}
	case *syntax.TestClause:
		return nil, &UnsupportedError{Pos: n.Pos(), What: "[["}
	case *syntax.ArithmCmd:
		return nil, &UnsupportedError{Pos: n.Pos(), What: "(("}
	case *syntax.LetClause:
		return nil, &UnsupportedError{Pos: n.Pos(), What: "let"}
	case *syntax.CoprocClause:
		return nil, &UnsupportedError{Pos: n.Pos(), What: "coproc"}
	default:
		return nil, &UnsupportedError{Pos: node.Pos(), What: fmt.Sprintf("%T", node)}
	}
}

// convertBody converts a statement list that may be empty.
func convertBody(stmts []*syntax.Stmt) (*ast.Command, error) {
	if len(stmts) == 0 {
		return &ast.Command{Type: ast.CommandList, List: &ast.List{}}, nil
	}
	return convertStmts(stmts, nil)
}

func convertCall(n *syntax.CallExpr) (*ast.Command, error) {
	simple := &ast.SimpleCommand{Args: n.Args}
	for _, as := range n.Assigns {
		if as.Array != nil || as.Index != nil {
			return nil, &UnsupportedError{Pos: as.Pos(), What: "array assignment"}
		}
		simple.Assigns = append(simple.Assigns, &ast.Assign{
			Name:   as.Name.Value,
			Value:  as.Value,
			Append: as.Append,
		})
	}
	return &ast.Command{Type: ast.CommandSimple, Simple: simple}, nil
}

// convertDecl rewrites "export a=b c" into a simple command whose
// arguments are the words "export", "a=b" and "c".
func convertDecl(n *syntax.DeclClause) (*ast.Command, error) {
	args := []*syntax.Word{ast.Lit(n.Variant.Value)}
	for _, as := range n.Args {
		switch {
		case as.Array != nil || as.Index != nil:
			return nil, &UnsupportedError{Pos: as.Pos(), What: "array declaration"}
		case as.Naked && as.Name != nil:
			args = append(args, ast.Lit(as.Name.Value))
		case as.Naked && as.Value != nil:
			args = append(args, as.Value)
		default:
			op := "="
			if as.Append {
				op = "+="
			}
			word := &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: as.Name.Value + op}}}
			if as.Value != nil {
				word.Parts = append(word.Parts, as.Value.Parts...)
			}
			args = append(args, word)
		}
	}
	return &ast.Command{Type: ast.CommandSimple, Simple: &ast.SimpleCommand{Args: args}}, nil
}

func convertBinary(n *syntax.BinaryCmd) (*ast.Command, error) {
	switch n.Op {
	case syntax.Pipe, syntax.PipeAll:
		stages, err := pipelineStages(n)
		if err != nil {
			return nil, err
		}
		return &ast.Command{Type: ast.CommandPipeline, Pipeline: &ast.Pipeline{Stages: stages}}, nil
	case syntax.AndStmt, syntax.OrStmt:
		list := &ast.List{}
		if err := flattenAndOr(n, list); err != nil {
			return nil, err
		}
		return &ast.Command{Type: ast.CommandList, List: list}, nil
	default:
		return nil, &UnsupportedError{Pos: n.OpPos, What: n.Op.String()}
	}
}

func pipelineStages(n *syntax.BinaryCmd) ([]*ast.Command, error) {
	left, err := sideStages(n.X)
	if err != nil {
		return nil, err
	}
	right, err := sideStages(n.Y)
	if err != nil {
		return nil, err
	}

	if n.Op == syntax.PipeAll {
		// "a |& b" also sends the stderr of the stage left of the
		// operator down the pipe.
		last := left[len(left)-1]
		last.Redirects = append(last.Redirects, &ast.Redirect{
			Type:   ast.RedirectDupOutput,
			Fd:     2,
			Target: ast.Lit("1"),
		})
	}

	return append(left, right...), nil
}

func sideStages(st *syntax.Stmt) ([]*ast.Command, error) {
	if inner, ok := st.Cmd.(*syntax.BinaryCmd); ok && isPipe(inner.Op) && plain(st) {
		return pipelineStages(inner)
	}
	stage, err := convertStmt(st)
	if err != nil {
		return nil, err
	}
	return []*ast.Command{stage}, nil
}

func isPipe(op syntax.BinCmdOperator) bool {
	return op == syntax.Pipe || op == syntax.PipeAll
}

func plain(st *syntax.Stmt) bool {
	return !st.Negated && !st.Background && len(st.Redirs) == 0
}

func flattenAndOr(n *syntax.BinaryCmd, list *ast.List) error {
	if inner, ok := n.X.Cmd.(*syntax.BinaryCmd); ok && plain(n.X) &&
		(inner.Op == syntax.AndStmt || inner.Op == syntax.OrStmt) {
		if err := flattenAndOr(inner, list); err != nil {
			return err
		}
	} else {
		left, err := convertStmt(n.X)
		if err != nil {
			return err
		}
		list.Commands = append(list.Commands, left)
	}

	right, err := convertStmt(n.Y)
	if err != nil {
		return err
	}
	list.Commands = append(list.Commands, right)
	if n.Op == syntax.AndStmt {
		list.Operators = append(list.Operators, "&&")
	} else {
		list.Operators = append(list.Operators, "||")
	}
	return nil
}

func convertIf(n *syntax.IfClause) (*ast.Command, error) {
	cond, err := convertStmts(n.Cond, nil)
	if err != nil {
		return nil, err
	}
	then, err := convertBody(n.Then)
	if err != nil {
		return nil, err
	}
	cmd := &ast.Command{
		Type: ast.CommandIf,
		If:   &ast.IfCommand{Condition: cond, Then: then},
	}

	switch {
	case n.Else == nil:
	case len(n.Else.Cond) == 0:
		// plain "else"
		cmd.If.Else, err = convertBody(n.Else.Then)
	default:
		cmd.If.Else, err = convertIf(n.Else)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func convertFor(n *syntax.ForClause) (*ast.Command, error) {
	if n.Select {
		return nil, &UnsupportedError{Pos: n.Pos(), What: "select"}
	}
	iter, ok := n.Loop.(*syntax.WordIter)
	if !ok {
		return nil, &UnsupportedError{Pos: n.Pos(), What: "C-style for"}
	}
	body, err := convertBody(n.Do)
	if err != nil {
		return nil, err
	}
	return &ast.Command{
		Type: ast.CommandFor,
		For: &ast.ForCommand{
			Variable: iter.Name.Value,
			Values:   iter.Items,
			UseArgs:  !iter.InPos.IsValid(),
			Body:     body,
		},
	}, nil
}

func convertCase(n *syntax.CaseClause) (*ast.Command, error) {
	cmd := &ast.Command{
		Type: ast.CommandCase,
		Case: &ast.CaseCommand{Word: n.Word},
	}
	for _, item := range n.Items {
		body, err := convertBody(item.Stmts)
		if err != nil {
			return nil, err
		}
		op := ast.CaseBreak
		switch item.Op {
		case syntax.Fallthrough:
			op = ast.CaseFallthrough
		case syntax.Resume, syntax.ResumeKorn:
			op = ast.CaseResume
		}
		cmd.Case.Cases = append(cmd.Case.Cases, &ast.CaseItem{
			Patterns: item.Patterns,
			Command:  body,
			Operator: op,
		})
	}
	return cmd, nil
}

func convertRedirects(redirs []*syntax.Redirect) ([]*ast.Redirect, error) {
	var out []*ast.Redirect
	for _, rd := range redirs {
		r, err := convertRedirect(rd)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func convertRedirect(rd *syntax.Redirect) (*ast.Redirect, error) {
	r := &ast.Redirect{Target: rd.Word, Fd: -1}
	switch rd.Op {
	case syntax.RdrOut, syntax.ClbOut:
		r.Type = ast.RedirectOutput
	case syntax.AppOut:
		r.Type = ast.RedirectAppend
	case syntax.RdrIn:
		r.Type = ast.RedirectInput
	case syntax.RdrInOut:
		r.Type = ast.RedirectInputOutput
	case syntax.DplIn:
		r.Type = ast.RedirectDupInput
	case syntax.DplOut:
		r.Type = ast.RedirectDupOutput
	case syntax.Hdoc, syntax.DashHdoc:
		r.Type = ast.RedirectHereDoc
		r.HereDoc = rd.Hdoc
		r.StripTabs = rd.Op == syntax.DashHdoc
	case syntax.WordHdoc:
		r.Type = ast.RedirectHereString
	case syntax.RdrAll:
		r.Type = ast.RedirectOutputAll
	case syntax.AppAll:
		r.Type = ast.RedirectAppendAll
	default:
		return nil, &UnsupportedError{Pos: rd.OpPos, What: "redirection " + rd.Op.String()}
	}

	if rd.N != nil {
		fd, err := strconv.Atoi(rd.N.Value)
		if err != nil || fd < 0 {
			return nil, &UnsupportedError{Pos: rd.N.Pos(), What: "descriptor " + rd.N.Value}
		}
		r.Fd = fd
	} else {
		switch r.Type {
		case ast.RedirectInput, ast.RedirectInputOutput, ast.RedirectDupInput,
			ast.RedirectHereDoc, ast.RedirectHereString:
			r.Fd = 0
		default:
			r.Fd = 1
		}
	}
	return r, nil
}
