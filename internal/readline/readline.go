// Package readline reads command lines from the shell's input, giving up
// on the current line when an interrupt arrives.
package readline

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
)

// ErrInterrupted is returned by ReadLine when SIGINT arrived at the prompt.
var ErrInterrupted = errors.New("interrupted")

type result struct {
	line string
	err  error
}

type Manager struct {
	in         *bufio.Reader
	out        io.Writer
	interrupts <-chan os.Signal
	// pending is the read still in flight after an interrupted ReadLine.
	pending chan result
}

// New reads lines from in and writes prompts to out. When interrupts is
// non-nil ReadLine also watches it for SIGINT.
func New(in io.Reader, out io.Writer, interrupts <-chan os.Signal) *Manager {
	return &Manager{
		in:         bufio.NewReader(in),
		out:        out,
		interrupts: interrupts,
	}
}

// ReadLine prints prompt and returns the next line without its newline. A
// final line without a newline is returned before io.EOF.
func (m *Manager) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		io.WriteString(m.out, prompt)
	}
	if m.interrupts == nil {
		return m.read()
	}

	if m.pending == nil {
		ch := make(chan result, 1)
		go func() {
			line, err := m.read()
			ch <- result{line, err}
		}()
		m.pending = ch
	}

	for {
		select {
		case res := <-m.pending:
			m.pending = nil
			return res.line, res.err
		case sig := <-m.interrupts:
			if sig == syscall.SIGINT {
				return "", ErrInterrupted
			}
		}
	}
}

func (m *Manager) read() (string, error) {
	line, err := m.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// ResetLine clears the current terminal line.
func (m *Manager) ResetLine() {
	io.WriteString(m.out, "\r\033[K")
}

func (m *Manager) WriteString(s string) {
	io.WriteString(m.out, s)
}
