package variables

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	ErrReadOnly    = errors.New("readonly variable")
	ErrInvalidName = errors.New("not a valid identifier")
	ErrShiftCount  = errors.New("shift count out of range")
)

type Variable struct {
	Name     string
	Value    string
	Exported bool
	ReadOnly bool
}

// Manager stores shell variables and the stack of positional-parameter
// scopes. The environment of the shell process itself is never modified;
// children receive Exported().
type Manager struct {
	vars   map[string]*Variable
	params [][]string
	mu     sync.RWMutex
}

// New returns a manager seeded from the process environment.
func New() *Manager {
	m := NewEmpty()
	m.loadEnvironment()
	return m
}

func NewEmpty() *Manager {
	return &Manager{
		vars:   make(map[string]*Variable),
		params: [][]string{nil},
	}
}

func (m *Manager) loadEnvironment() {
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && ValidName(parts[0]) {
			m.vars[parts[0]] = &Variable{
				Name:     parts[0],
				Value:    parts[1],
				Exported: true,
			}
		}
	}
}

// ValidName reports whether name can be assigned to.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func (m *Manager) Set(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ValidName(name) {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}

	if existing, exists := m.vars[name]; exists {
		if existing.ReadOnly {
			return fmt.Errorf("%s: %w", name, ErrReadOnly)
		}
		existing.Value = value
		return nil
	}

	m.vars[name] = &Variable{Name: name, Value: value}
	return nil
}

func (m *Manager) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, exists := m.vars[name]; exists {
		return v.Value
	}
	return ""
}

// Lookup returns a copy of the variable and whether it is set.
func (m *Manager) Lookup(name string) (Variable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.vars[name]
	if !exists {
		return Variable{}, false
	}
	return *v, true
}

// Export marks name for export, creating it empty if unset.
func (m *Manager) Export(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ValidName(name) {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}
	if v, exists := m.vars[name]; exists {
		v.Exported = true
		return nil
	}
	m.vars[name] = &Variable{Name: name, Exported: true}
	return nil
}

func (m *Manager) Unexport(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, exists := m.vars[name]; exists {
		v.Exported = false
	}
}

func (m *Manager) Unset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, exists := m.vars[name]; exists && v.ReadOnly {
		return fmt.Errorf("%s: %w", name, ErrReadOnly)
	}
	delete(m.vars, name)
	return nil
}

func (m *Manager) SetReadOnly(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ValidName(name) {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}
	if v, exists := m.vars[name]; exists {
		v.ReadOnly = true
		return nil
	}
	m.vars[name] = &Variable{Name: name, ReadOnly: true}
	return nil
}

func (m *Manager) IsExported(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, exists := m.vars[name]; exists {
		return v.Exported
	}
	return false
}

func (m *Manager) IsReadOnly(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, exists := m.vars[name]; exists {
		return v.ReadOnly
	}
	return false
}

// All returns copies of every variable, sorted by name.
func (m *Manager) All() []Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Variable, 0, len(m.vars))
	for _, v := range m.vars {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Replace drops every variable and installs vars instead.
func (m *Manager) Replace(vars []Variable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vars = make(map[string]*Variable, len(vars))
	for i := range vars {
		v := vars[i]
		m.vars[v.Name] = &v
	}
}

// Exported returns "name=value" pairs for the environment of children.
func (m *Manager) Exported() []string {
	return m.Environ(nil)
}

// Environ is Exported with overrides for a single command, such as the
// prefix assignments in "FOO=1 cmd".
func (m *Manager) Environ(overrides map[string]string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exported []string
	for _, v := range m.vars {
		if _, ok := overrides[v.Name]; ok {
			continue
		}
		if v.Exported {
			exported = append(exported, v.Name+"="+v.Value)
		}
	}
	for name, value := range overrides {
		exported = append(exported, name+"="+value)
	}

	sort.Strings(exported)
	return exported
}

// Args returns the positional parameters of the innermost scope.
func (m *Manager) Args() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.params[len(m.params)-1]...)
}

// SetArgs replaces the positional parameters of the innermost scope.
func (m *Manager) SetArgs(args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.params[len(m.params)-1] = append([]string(nil), args...)
}

// PushArgs opens a positional-parameter scope for a function call.
func (m *Manager) PushArgs(args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.params = append(m.params, append([]string(nil), args...))
}

// PopArgs closes the innermost scope opened by PushArgs.
func (m *Manager) PopArgs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.params) > 1 {
		m.params = m.params[:len(m.params)-1]
	}
}

// Depth is the number of open function scopes.
func (m *Manager) Depth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.params) - 1
}

func (m *Manager) Shift(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	top := m.params[len(m.params)-1]
	if n < 0 || n > len(top) {
		return ErrShiftCount
	}
	m.params[len(m.params)-1] = top[n:]
	return nil
}
