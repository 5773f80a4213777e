package prompt

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gosh-project/gosh/internal/variables"
)

const (
	defaultPS1 = "\\u@\\h:\\w\\$ "
	defaultPS2 = "> "
)

type Manager struct {
	variables *variables.Manager
	jobs      func() int
	commands  int
	now       func() time.Time
}

// New returns a prompt manager. jobs reports the number of jobs for \j
// and may be nil.
func New(vars *variables.Manager, jobs func() int) *Manager {
	return &Manager{
		variables: vars,
		jobs:      jobs,
		now:       time.Now,
	}
}

// Generate expands PS1 and counts one more command for \#.
func (m *Manager) Generate(exitCode int) string {
	m.commands++
	ps1 := m.variables.Get("PS1")
	if ps1 == "" {
		ps1 = defaultPS1
	}
	return m.Expand(ps1, exitCode)
}

func (m *Manager) GeneratePS2() string {
	ps2 := m.variables.Get("PS2")
	if ps2 == "" {
		ps2 = defaultPS2
	}
	return m.Expand(ps2, 0)
}

// Expand replaces backslash escapes in ps. \[ and \] only delimit
// non-printing sequences and are dropped.
func (m *Manager) Expand(ps string, exitCode int) string {
	var b strings.Builder
	for i := 0; i < len(ps); i++ {
		c := ps[i]
		if c != '\\' || i+1 == len(ps) {
			b.WriteByte(c)
			continue
		}
		i++
		switch esc := ps[i]; esc {
		case 'u':
			b.WriteString(m.username())
		case 'h':
			host := m.hostname()
			if dot := strings.IndexByte(host, '.'); dot > 0 {
				host = host[:dot]
			}
			b.WriteString(host)
		case 'H':
			b.WriteString(m.hostname())
		case 'w':
			b.WriteString(m.pwd())
		case 'W':
			pwd := m.pwd()
			if pwd != "~" && pwd != "/" {
				pwd = filepath.Base(pwd)
			}
			b.WriteString(pwd)
		case 'd':
			b.WriteString(m.now().Format("Mon Jan 02"))
		case 't':
			b.WriteString(m.now().Format("15:04:05"))
		case 'T':
			b.WriteString(m.now().Format("03:04:05"))
		case '@':
			b.WriteString(m.now().Format("03:04 PM"))
		case 'A':
			b.WriteString(m.now().Format("15:04"))
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'e':
			b.WriteByte(0x1b)
		case '$':
			if os.Geteuid() == 0 {
				b.WriteByte('#')
			} else {
				b.WriteByte('$')
			}
		case '#':
			b.WriteString(strconv.Itoa(m.commands))
		case 'j':
			n := 0
			if m.jobs != nil {
				n = m.jobs()
			}
			b.WriteString(strconv.Itoa(n))
		case '?':
			b.WriteString(strconv.Itoa(exitCode))
		case 's':
			b.WriteString("gosh")
		case '[', ']':
		case '\\':
			b.WriteByte('\\')
		case '0':
			// \033 and friends
			if i+2 < len(ps) && isOctal(ps[i+1]) && isOctal(ps[i+2]) {
				n, _ := strconv.ParseUint(ps[i:i+3], 8, 8)
				b.WriteByte(byte(n))
				i += 2
				continue
			}
			b.WriteString("\\0")
		default:
			b.WriteByte('\\')
			b.WriteByte(esc)
		}
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

func (m *Manager) username() string {
	if u := m.variables.Get("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func (m *Manager) hostname() string {
	if h := m.variables.Get("HOSTNAME"); h != "" {
		return h
	}
	h, _ := os.Hostname()
	return h
}

func (m *Manager) pwd() string {
	pwd := m.variables.Get("PWD")
	if pwd == "" {
		pwd, _ = os.Getwd()
	}
	home := m.variables.Get("HOME")
	if home != "" && (pwd == home || strings.HasPrefix(pwd, home+"/")) {
		pwd = "~" + pwd[len(home):]
	}
	return pwd
}

func (m *Manager) SetPS1(ps1 string) {
	m.variables.Set("PS1", ps1)
}

func (m *Manager) SetPS2(ps2 string) {
	m.variables.Set("PS2", ps2)
}
