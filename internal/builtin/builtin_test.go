package builtin

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager(t *testing.T) {
	m := New()
	m.Register("true", func(*IO, []string) int { return 0 })
	m.Register("false", func(*IO, []string) int { return 1 })

	assert.True(t, m.Exists("true"))
	assert.Equal(t, []string{"false", "true"}, m.List())
	assert.Equal(t, 1, m.Get("false")(nil, nil))

	m.Remove("false")
	assert.False(t, m.Exists("false"))
	assert.Nil(t, m.Get("false"))
}

func TestFlags(t *testing.T) {
	var stderr bytes.Buffer
	stdio := &IO{Stdin: strings.NewReader(""), Stdout: &bytes.Buffer{}, Stderr: &stderr}

	f := NewFlags("[-lp] [jobspec ...]")
	long := f.Set().Bool('l', "list pids")
	pids := f.Set().Bool('p', "pids only")

	assert.True(t, f.Parse(stdio, []string{"jobs", "-l", "%1", "%2"}))
	assert.True(t, *long)
	assert.False(t, *pids)
	assert.Equal(t, []string{"%1", "%2"}, f.Args())

	f = NewFlags("[-lp] [jobspec ...]")
	f.Set().Bool('l', "list pids")
	assert.False(t, f.Parse(stdio, []string{"jobs", "-z"}))
	assert.Contains(t, stderr.String(), "jobs: ")
	assert.Contains(t, stderr.String(), "Usage: jobs [-lp] [jobspec ...]")
}

func TestErrorf(t *testing.T) {
	var stderr bytes.Buffer
	stdio := &IO{Stderr: &stderr}
	assert.Equal(t, 1, stdio.Errorf("fg", "%s: no such job", "%3"))
	assert.Equal(t, "fg: %3: no such job\n", stderr.String())
}
