// Package redirect keeps the shell's virtual descriptor table and applies
// redirections to it in reversible scopes.
package redirect

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gosh-project/gosh/internal/ast"
)

// Expander expands redirection targets and here-document bodies.
type Expander interface {
	Literal(word *syntax.Word) (string, error)
	Document(word *syntax.Word) (string, error)
}

// Error is a failed redirection. Err wraps the underlying cause, such as
// fs.ErrNotExist or syscall.EBADF.
type Error struct {
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, describe(e.Err))
}

func (e *Error) Unwrap() error {
	return e.Err
}

func describe(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		msg := errno.Error()
		return strings.ToUpper(msg[:1]) + msg[1:]
	}
	return err.Error()
}

// Table maps descriptor numbers to open files. A nil entry is closed.
// Children receive the table as their descriptor set; builtins read and
// write through it.
type Table struct {
	files []*os.File
}

func NewTable(stdin, stdout, stderr *os.File) *Table {
	return &Table{files: []*os.File{stdin, stdout, stderr}}
}

// Clone returns a table sharing the same files.
func (t *Table) Clone() *Table {
	return &Table{files: append([]*os.File(nil), t.files...)}
}

func (t *Table) Get(fd int) *os.File {
	if fd < 0 || fd >= len(t.files) {
		return nil
	}
	return t.files[fd]
}

func (t *Table) Set(fd int, f *os.File) {
	for fd >= len(t.files) {
		t.files = append(t.files, nil)
	}
	t.files[fd] = f
	for len(t.files) > 3 && t.files[len(t.files)-1] == nil {
		t.files = t.files[:len(t.files)-1]
	}
}

// Files returns the table trimmed of trailing closed descriptors, indexed
// by child descriptor number.
func (t *Table) Files() []*os.File {
	n := len(t.files)
	for n > 0 && t.files[n-1] == nil {
		n--
	}
	return append([]*os.File(nil), t.files[:n]...)
}

// Len is one past the highest open descriptor.
func (t *Table) Len() int {
	return len(t.Files())
}

func (t *Table) Stdin() io.Reader {
	if f := t.Get(0); f != nil {
		return f
	}
	return closedReader{}
}

func (t *Table) Stdout() io.Writer {
	if f := t.Get(1); f != nil {
		return f
	}
	return closedWriter{}
}

func (t *Table) Stderr() io.Writer {
	if f := t.Get(2); f != nil {
		return f
	}
	return closedWriter{}
}

type closedReader struct{}

func (closedReader) Read([]byte) (int, error) { return 0, syscall.EBADF }

type closedWriter struct{}

func (closedWriter) Write([]byte) (int, error) { return 0, syscall.EBADF }

type saved struct {
	fd   int
	file *os.File
}

// Scope records what one Apply call changed.
type Scope struct {
	table  *Table
	saved  []saved
	opened []*os.File
	done   bool
}

// Apply installs redirects into t in order. If any redirection fails, the
// ones already installed are undone before the error is returned, leaving
// t exactly as it was.
func Apply(t *Table, redirects []*ast.Redirect, x Expander) (*Scope, error) {
	s := &Scope{table: t}
	for _, rd := range redirects {
		if err := s.apply(rd, x); err != nil {
			s.Restore()
			return nil, err
		}
	}
	return s, nil
}

func (s *Scope) save(fd int) {
	for _, sv := range s.saved {
		if sv.fd == fd {
			return
		}
	}
	s.saved = append(s.saved, saved{fd: fd, file: s.table.Get(fd)})
}

func (s *Scope) install(fd int, f *os.File) {
	s.save(fd)
	s.table.Set(fd, f)
}

func (s *Scope) open(target string, flag int) (*os.File, error) {
	f, err := os.OpenFile(target, flag, 0o666)
	if err != nil {
		return nil, &Error{Target: target, Err: err}
	}
	s.opened = append(s.opened, f)
	return f, nil
}

func (s *Scope) apply(rd *ast.Redirect, x Expander) error {
	switch rd.Type {
	case ast.RedirectHereDoc:
		body, err := hereDocument(rd, x)
		if err != nil {
			return err
		}
		return s.pipeIn(rd.Fd, body)
	case ast.RedirectHereString:
		word, err := x.Literal(rd.Target)
		if err != nil {
			return err
		}
		return s.pipeIn(rd.Fd, word+"\n")
	}

	target, err := x.Literal(rd.Target)
	if err != nil {
		return err
	}

	switch rd.Type {
	case ast.RedirectInput:
		f, err := s.open(target, os.O_RDONLY)
		if err != nil {
			return err
		}
		s.install(rd.Fd, f)
	case ast.RedirectOutput:
		f, err := s.open(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		s.install(rd.Fd, f)
	case ast.RedirectAppend:
		f, err := s.open(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
		if err != nil {
			return err
		}
		s.install(rd.Fd, f)
	case ast.RedirectInputOutput:
		f, err := s.open(target, os.O_RDWR|os.O_CREATE)
		if err != nil {
			return err
		}
		s.install(rd.Fd, f)
	case ast.RedirectOutputAll, ast.RedirectAppendAll:
		flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if rd.Type == ast.RedirectAppendAll {
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := s.open(target, flag)
		if err != nil {
			return err
		}
		s.install(1, f)
		s.install(2, f)
	case ast.RedirectDupInput, ast.RedirectDupOutput:
		return s.dup(rd, target)
	default:
		return fmt.Errorf("unknown redirection %v", rd.Type)
	}
	return nil
}

func (s *Scope) dup(rd *ast.Redirect, target string) error {
	if target == "-" {
		s.install(rd.Fd, nil)
		return nil
	}
	src, err := strconv.Atoi(target)
	if err != nil {
		if rd.Type == ast.RedirectDupOutput && rd.Fd == 1 {
			// ">& file" is "&> file".
			return s.apply(&ast.Redirect{Type: ast.RedirectOutputAll, Target: rd.Target}, literalOnly(target))
		}
		return &Error{Target: target, Err: errors.New("ambiguous redirect")}
	}
	f := s.table.Get(src)
	if f == nil {
		return &Error{Target: target, Err: syscall.EBADF}
	}
	s.install(rd.Fd, f)
	return nil
}

type literalOnly string

func (l literalOnly) Literal(*syntax.Word) (string, error)  { return string(l), nil }
func (l literalOnly) Document(*syntax.Word) (string, error) { return string(l), nil }

// pipeIn feeds body to descriptor fd through a pipe. The writer runs in
// its own goroutine since the body may exceed the pipe buffer.
func (s *Scope) pipeIn(fd int, body string) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return &Error{Target: "pipe", Err: err}
	}
	go func() {
		pw.WriteString(body)
		pw.Close()
	}()
	s.opened = append(s.opened, pr)
	s.install(fd, pr)
	return nil
}

func hereDocument(rd *ast.Redirect, x Expander) (string, error) {
	if rd.HereDoc == nil {
		return "", nil
	}
	if !rd.StripTabs {
		return x.Document(rd.HereDoc)
	}

	// "<<-" strips leading tabs from each line of the literal text before
	// expansion.
	var (
		out strings.Builder
		cur []syntax.WordPart
	)
	flush := func() error {
		line, err := x.Document(&syntax.Word{Parts: cur})
		if err != nil {
			return err
		}
		out.WriteString(line)
		cur = nil
		return nil
	}
	for _, part := range rd.HereDoc.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			cur = append(cur, part)
			continue
		}
		lines := strings.Split(lit.Value, "\n")
		for i, line := range lines {
			if i > 0 {
				if err := flush(); err != nil {
					return "", err
				}
				out.WriteByte('\n')
				line = strings.TrimLeft(line, "\t")
			} else if len(cur) == 0 {
				line = strings.TrimLeft(line, "\t")
			}
			cur = append(cur, &syntax.Lit{Value: line})
		}
	}
	if err := flush(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Keep makes the changes of this scope permanent, as "exec >file" does.
// Files opened by the scope stay open.
func (s *Scope) Keep() {
	s.done = true
}

// Restore undoes exactly the descriptors this scope touched and closes the
// files it opened. It is safe to call more than once.
func (s *Scope) Restore() {
	if s == nil || s.done {
		return
	}
	s.done = true
	for i := len(s.saved) - 1; i >= 0; i-- {
		s.table.Set(s.saved[i].fd, s.saved[i].file)
	}
	for _, f := range s.opened {
		f.Close()
	}
}
