package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	c := New()
	require.NoError(t, c.Validate())
	assert.Equal(t, 200*time.Millisecond, c.Poll())
	assert.Equal(t, "auto", c.JobControl)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/gosh.yaml", []byte(`
job_control: "off"
pipefail: true
max_job_history: 10
poll_interval: 50ms
ps1: "$ "
colors: false
`), 0o644))

	c := New()
	require.NoError(t, c.Load(fs, "/etc/gosh.yaml"))
	assert.Equal(t, "off", c.JobControl)
	assert.True(t, c.Pipefail)
	assert.Equal(t, 10, c.MaxJobHistory)
	assert.Equal(t, 50*time.Millisecond, c.Poll())
	assert.Equal(t, "$ ", c.PS1)
	assert.Equal(t, "> ", c.PS2, "keys not in the file keep their defaults")
	assert.False(t, c.EnableColors)
}

func TestLoadMissingFile(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(afero.NewMemMapFs(), "/nope.yaml"))
	assert.Equal(t, New(), c)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"bad job control": "job_control: sometimes\n",
		"zero history":    "max_job_history: 0\n",
		"bad interval":    "poll_interval: soon\n",
		"unknown key":     "histsize: 5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "c.yaml", []byte(body), 0o644))
			err := New().Load(fs, "c.yaml")
			assert.Error(t, err)
		})
	}
}

func TestValidationNamesKeys(t *testing.T) {
	c := New()
	c.JobControl = "maybe"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_control")
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/u/.goshrc", ExpandHome("~/.goshrc", "/home/u"))
	assert.Equal(t, "/home/u", ExpandHome("~", "/home/u"))
	assert.Equal(t, "/etc/rc", ExpandHome("/etc/rc", "/home/u"))
	assert.Equal(t, "~/.goshrc", ExpandHome("~/.goshrc", ""))
}
