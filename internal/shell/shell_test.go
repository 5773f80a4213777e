package shell

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosh-project/gosh/internal/config"
)

func TestMain(m *testing.M) {
	MaybeRunSubshell()
	os.Exit(m.Run())
}

type result struct {
	status int
	stdout string
	stderr string
}

// run executes the shell with cfg, or a -c shell for script when cfg is
// nil, and with input as its standard input.
func run(t *testing.T, cfg *config.Config, script, input string) result {
	t.Helper()
	dir := t.TempDir()

	if cfg == nil {
		cfg = config.New()
		cfg.Command = script
	}
	cfg.NoRC = true
	cfg.PollInterval = "10ms"

	stdinPath := filepath.Join(dir, "stdin")
	require.NoError(t, os.WriteFile(stdinPath, []byte(input), 0o600))
	stdin, err := os.Open(stdinPath)
	require.NoError(t, err)
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	defer stdin.Close()
	defer stdout.Close()
	defer stderr.Close()

	s := New(cfg)
	s.SetStdio(stdin, stdout, stderr)
	status := s.Run()

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(data)
	}
	return result{status: status, stdout: read("stdout"), stderr: read("stderr")}
}

func TestExitStatus(t *testing.T) {
	r := run(t, nil, "echo hi; exit 3; echo unreachable", "")
	assert.Equal(t, 3, r.status)
	assert.Equal(t, "hi\n", r.stdout)

	r = run(t, nil, "false", "")
	assert.Equal(t, 1, r.status)
}

func TestScriptArgs(t *testing.T) {
	cfg := config.New()
	cfg.Command = `echo "$0 $# $2"`
	cfg.ScriptArgs = []string{"name", "a", "b"}
	r := run(t, cfg, "", "")
	assert.Equal(t, "name 2 b\n", r.stdout)
}

func TestJobsListing(t *testing.T) {
	r := run(t, nil, "sleep 5 &\njobs\njobs -p %1 >/dev/null\nkill %1\nwait", "")
	assert.Equal(t, "[1]+  Running                 sleep 5 &\n", r.stdout)
	assert.Equal(t, 143, r.status)

	r = run(t, nil, "sleep 5 &\njobs -s\njobs -r %1\nkill %1", "")
	assert.Equal(t, "[1]+  Running                 sleep 5 &\n", r.stdout)

	r = run(t, nil, "sleep 5 &\njobs $!\nkill %1", "")
	assert.Equal(t, "[1]+  Running                 sleep 5 &\n", r.stdout, r.stderr)

	r = run(t, nil, "jobs %2", "")
	assert.Equal(t, 1, r.status)
	assert.Contains(t, r.stderr, "jobs: %2: no such job")
}

func TestWaitPid(t *testing.T) {
	r := run(t, nil, `sh -c 'exit 7' &
wait $!
echo "status $?"
wait $!
echo "again $?"`, "")
	// A reaped pid still reports its remembered status.
	assert.Equal(t, "status 7\nagain 7\n", r.stdout)
}

func TestWaitUnknown(t *testing.T) {
	r := run(t, nil, "wait %5", "")
	assert.Equal(t, 127, r.status)
	assert.Contains(t, r.stderr, "wait: %5: no such job")

	r = run(t, nil, "wait 999999", "")
	assert.Equal(t, 127, r.status)
	assert.Contains(t, r.stderr, "pid 999999 is not a child of this shell")
}

func TestKill(t *testing.T) {
	tests := []struct {
		name   string
		script string
		out    string
		status int
	}{
		{"status to name", "kill -l 130", "INT\n", 0},
		{"name to number", "kill -l TERM", "15\n", 0},
		{"bad signal", "kill -FOO 1", "", 1},
		{"job spec", "sleep 5 &\nkill -s KILL %1\nwait %1", "", 137},
		{"number form", "sleep 5 &\nkill -9 $!\nwait $!", "", 137},
		{"no such job", "kill %3", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, nil, tt.script, "")
			assert.Equal(t, tt.out, r.stdout)
			assert.Equal(t, tt.status, r.status, r.stderr)
		})
	}
}

func TestSignalList(t *testing.T) {
	r := run(t, nil, "kill -l", "")
	names := strings.Fields(r.stdout)
	assert.Contains(t, names, "HUP")
	assert.Contains(t, names, "TSTP")
	assert.NotContains(t, names, "SIGHUP")
}

func TestNoJobControl(t *testing.T) {
	for _, cmd := range []string{"fg", "bg"} {
		r := run(t, nil, "sleep 1 &\n"+cmd+" %1", "")
		assert.Equal(t, 1, r.status)
		assert.Contains(t, r.stderr, cmd+": no job control")
	}
}

func TestSubshellDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)

	r := run(t, nil, "( cd "+dir+"; pwd ); pwd", "")
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, sameDir(lines[0], dir))
	assert.True(t, sameDir(lines[1], wd))
}

func TestStoppedJobsExit(t *testing.T) {
	cfg := config.New()
	cfg.Interactive = true
	cfg.EnableColors = false
	input := "sh -c 'kill -STOP $$' &\nwait %1\nexit\nexit\n"

	r := run(t, cfg, "", input)
	assert.Equal(t, 1, strings.Count(r.stderr, "There are stopped jobs."))
	assert.Equal(t, 1, r.status)
}

func TestSetOptions(t *testing.T) {
	r := run(t, nil, "set -o pipefail; false | true", "")
	assert.Equal(t, 1, r.status)

	r = run(t, nil, "set -u; echo $undefined", "")
	assert.NotEqual(t, 0, r.status)
	assert.Empty(t, r.stdout)

	r = run(t, nil, "set -- x y; echo $#; set +o pipefail; false | true", "")
	assert.Equal(t, "2\n", r.stdout)
	assert.Equal(t, 0, r.status)
}

func TestHelp(t *testing.T) {
	r := run(t, nil, "help", "")
	assert.Equal(t, 0, r.status)
	assert.Contains(t, r.stdout, "Job specs: %n, %+, %%, %-, %prefix, %?substring\n")
	assert.NotContains(t, r.stdout, "%!")
}

func TestTestBuiltin(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	r := run(t, nil, `[ -f `+file+` ] && echo file
test -n "" || echo empty
[ 3 -lt 4 ] && echo less
[ abc = abd ] || echo differ`, "")
	assert.Equal(t, "file\nempty\nless\ndiffer\n", r.stdout)

	r = run(t, nil, "[ 1 -lt", "")
	assert.Equal(t, 2, r.status)
}

func TestTranscripts(t *testing.T) {
	scripts := map[string]string{
		"job_lifecycle": `sh -c 'exit 3' &
wait %1
echo "status $?"
sleep 5 &
jobs
kill %1
wait
jobs
echo done
`,
		"builtins": `export GREETING=hi
sh -c 'echo "child $GREETING"'
unset GREETING
echo "unset [$GREETING]"
f() { return 4; }
f
echo "f $?"
`,
	}

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	)
	for name, src := range scripts {
		t.Run(name, func(t *testing.T) {
			r := run(t, nil, src, "")
			g.Assert(t, name, []byte(r.stdout))
		})
	}
}
