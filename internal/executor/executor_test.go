package executor

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosh-project/gosh/internal/builtin"
	"github.com/gosh-project/gosh/internal/jobs"
	"github.com/gosh-project/gosh/internal/variables"
)

// Stages that are not external commands re-execute the test binary.
func TestMain(m *testing.M) {
	RunSubshell(func() *Executor {
		e := New(Config{Vars: variables.NewEmpty(), Jobs: jobs.NewController()})
		installTestBuiltins(e)
		return e
	})
	os.Exit(m.Run())
}

func installTestBuiltins(e *Executor) {
	e.builtins.Register("echo", func(stdio *builtin.IO, args []string) int {
		io.WriteString(stdio.Stdout, strings.Join(args[1:], " ")+"\n")
		return 0
	})
	e.builtins.Register("cd", func(stdio *builtin.IO, args []string) int {
		if len(args) != 2 {
			return stdio.Errorf("cd", "usage: cd dir")
		}
		if err := os.Chdir(args[1]); err != nil {
			return stdio.Errorf("cd", "%v", err)
		}
		return 0
	})
	e.builtins.Register("exit", func(stdio *builtin.IO, args []string) int {
		code := e.LastExitCode()
		if len(args) > 1 {
			n, err := builtin.ParseIntArg(args[1])
			if err != nil {
				return stdio.Errorf("exit", "%s: numeric argument required", args[1])
			}
			code = n & 0xff
		}
		e.RequestExit(code)
		return code
	})
}

type harness struct {
	e      *Executor
	stdout *os.File
	stderr *os.File
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() {
		stdout.Close()
		stderr.Close()
		stdin.Close()
	})

	c := jobs.NewController(jobs.WithOutput(io.Discard), jobs.WithPollInterval(10*time.Millisecond))
	c.Start()
	t.Cleanup(c.Close)

	e := New(Config{
		Vars:   variables.New(),
		Jobs:   c,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
	installTestBuiltins(e)
	return &harness{e: e, stdout: stdout, stderr: stderr}
}

func (h *harness) out(t *testing.T) string {
	b, err := os.ReadFile(h.stdout.Name())
	require.NoError(t, err)
	return string(b)
}

func (h *harness) errs(t *testing.T) string {
	b, err := os.ReadFile(h.stderr.Name())
	require.NoError(t, err)
	return string(b)
}

func TestPipelineStatus(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.e.RunString("false | true"))
	assert.Equal(t, 1, h.e.RunString("true | false"))
	assert.Equal(t, 1, h.e.RunString("! true | true"))

	require.NoError(t, h.e.SetOption("pipefail", true))
	assert.Equal(t, 1, h.e.RunString("false | true"))
	assert.Equal(t, 0, h.e.Jobs().Table().Len())
}

func TestPipelineOutput(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.e.RunString("echo hello world | tr a-z A-Z"))
	assert.Equal(t, "HELLO WORLD\n", h.out(t))
}

func TestCommandNotFound(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 127, h.e.RunString("gosh-no-such-command arg"))
	assert.Contains(t, h.errs(t), "gosh-no-such-command: command not found")
	assert.Equal(t, 0, h.e.Jobs().Table().Len())

	assert.Equal(t, 127, h.e.RunString("/no/such/file"))
	assert.Contains(t, h.errs(t), "/no/such/file: No such file or directory")
}

func TestSubshellIsolation(t *testing.T) {
	h := newHarness(t)
	wd, err := os.Getwd()
	require.NoError(t, err)

	h.e.RunString("x=1; ( x=2; cd /; exit 3 )")
	assert.Equal(t, 3, h.e.LastExitCode())
	h.e.RunString("echo $x")
	assert.Equal(t, "1\n", h.out(t))

	now, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, now)
}

func TestRedirections(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	require.NoError(t, h.e.Vars().Set("dir", dir))

	assert.Equal(t, 0, h.e.RunString("echo one > $dir/f; echo two >> $dir/f; cat < $dir/f"))
	assert.Equal(t, "one\ntwo\n", h.out(t))

	assert.Equal(t, 1, h.e.RunString("echo lost > $dir/missing/f"))
	assert.Equal(t, 0, h.e.RunString("echo kept"))
	assert.Equal(t, "one\ntwo\nkept\n", h.out(t))
	assert.Equal(t, 3, h.e.Fds().Len())
}

func TestFunctions(t *testing.T) {
	h := newHarness(t)
	h.e.RunString(`f() { echo "in $1"; return 4; echo unreachable; }`)
	h.e.RunString("f arg; echo $?")
	assert.Equal(t, "in arg\n4\n", h.out(t))
	assert.Empty(t, h.e.Vars().Args())
}

func TestLoops(t *testing.T) {
	h := newHarness(t)
	h.e.RunString(`for i in 1 2 3; do for j in a b; do case $j in b) continue 2;; esac; echo $i$j; done; echo never; done`)
	h.e.RunString(`while true; do echo once; break; done`)
	assert.Equal(t, "1a\n2a\n3a\nonce\n", h.out(t))
}

func TestChildInterruptKeepsScriptRunning(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 130, h.e.RunString(`sh -c 'kill -INT $$'`))
	assert.False(t, h.e.Jobs().Interrupted())

	h.e.RunString(`sh -c 'kill -INT $$'; for i in 1 2 3; do echo $i; done; { echo a; echo b; }`)
	h.e.RunString(`for i in 1 2; do sh -c 'kill -INT $$'; echo $i; done`)
	assert.Equal(t, "1\n2\n3\na\nb\n1\n2\n", h.out(t))
}

func TestBreakOutsideLoop(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.e.RunString("break"))
	assert.Contains(t, h.errs(t), "only meaningful in a `for', `while', or `until' loop")
}

func TestCaseFallthrough(t *testing.T) {
	h := newHarness(t)
	h.e.RunString(`case a in a) echo one ;& b) echo two ;; c) echo three ;; esac`)
	assert.Equal(t, "one\ntwo\n", h.out(t))
}

func TestCommandSubstitution(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 3, h.e.RunString("x=$(echo sub; exit 3)"))
	h.e.RunString(`echo "$x $?"`)
	assert.Equal(t, "sub 3\n", h.out(t))
}

func TestPrefixAssignment(t *testing.T) {
	h := newHarness(t)
	h.e.RunString("GOSH_TEST_VAR=scoped printenv GOSH_TEST_VAR; echo \"[$GOSH_TEST_VAR]\"")
	assert.Equal(t, "scoped\n[]\n", h.out(t))
}

func TestBackgroundJob(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.e.RunString("sleep 0.2 &"))

	table := h.e.Jobs().Table()
	require.Equal(t, 1, table.Len())
	j := table.Get(1)
	require.NotNil(t, j)
	assert.Equal(t, "sleep 0.2", j.Text)
	assert.NotZero(t, h.e.LastBackgroundPid())
	assert.Equal(t, j.Leader(), h.e.LastBackgroundPid())

	assert.Equal(t, 0, h.e.Jobs().WaitAll())
}

func TestExecRedirectsOnly(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	require.NoError(t, h.e.Vars().Set("dir", dir))

	h.e.RunString("exec 3> $dir/three; echo via3 >&3")
	b, err := os.ReadFile(filepath.Join(dir, "three"))
	require.NoError(t, err)
	assert.Equal(t, "via3\n", string(b))
	assert.Equal(t, 4, h.e.Fds().Len())
}

func TestSyntaxError(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 2, h.e.RunString("if then fi"))
	assert.NotEmpty(t, h.errs(t))
}

func TestTranscripts(t *testing.T) {
	scripts := map[string]string{
		"functions_and_pipes": `greet() { echo "hello $1"; }
for name in ann bob; do greet $name; done
echo one two | tr ' ' '\n' | sort -r
x=$(greet sub)
echo "$x"
`,
		"control_flow": `if false; then echo no; elif true; then echo elif; fi
( echo inner; exit 2 ) || echo "status $?"
n=0
while [ $n -lt 3 ]; do n=$((n+1)); echo "n=$n"; done
`,
	}

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	)
	for name, src := range scripts {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.e.RunString(src)
			g.Assert(t, name, []byte(h.out(t)))
		})
	}
}
