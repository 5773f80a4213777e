package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gosh-project/gosh/internal/variables"
)

func newManager(jobs int) *Manager {
	vars := variables.NewEmpty()
	vars.Set("USER", "ann")
	vars.Set("HOSTNAME", "box.example.org")
	vars.Set("HOME", "/home/ann")
	vars.Set("PWD", "/home/ann/src/gosh")
	m := New(vars, func() int { return jobs })
	m.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC) }
	return m
}

func TestExpand(t *testing.T) {
	m := newManager(2)
	cases := map[string]string{
		`\u@\h:\w`:              "ann@box:~/src/gosh",
		`\H \W`:                 "box.example.org gosh",
		`[\j] \?`:               "[2] 7",
		`\t \A`:                 "14:05:06 14:05",
		`a\\b`:                  `a\b`,
		`\[\e[1m\]x\[\033[0m\]`: "\x1b[1mx\x1b[0m",
		`\q`:                    `\q`,
		`trailing\`:             `trailing\`,
	}
	for in, want := range cases {
		assert.Equal(t, want, m.Expand(in, 7), in)
	}
}

func TestJobCount(t *testing.T) {
	jobs := 0
	m := New(variables.NewEmpty(), func() int { return jobs })
	assert.Equal(t, "0", m.Expand(`\j`, 0))
	jobs = 3
	assert.Equal(t, "3", m.Expand(`\j`, 0))

	assert.Equal(t, "0", New(variables.NewEmpty(), nil).Expand(`\j`, 0))
}

func TestGenerate(t *testing.T) {
	m := newManager(0)
	m.SetPS1(`\# \$ `)
	first := m.Generate(0)
	assert.Contains(t, first, "1 ")
	assert.Contains(t, m.Generate(0), "2 ")

	assert.Equal(t, "> ", m.GeneratePS2())
	m.SetPS2("... ")
	assert.Equal(t, "... ", m.GeneratePS2())
}
