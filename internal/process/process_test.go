package process

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func stdio() []*os.File {
	return []*os.File{os.Stdin, os.Stdout, os.Stderr}
}

func TestLookPath(t *testing.T) {
	path, err := LookPath("sh", os.Getenv("PATH"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	_, err = LookPath("gosh-no-such-command", os.Getenv("PATH"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 127, ExitCode(err))
}

func TestLookPathNotExecutable(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(script, []byte("echo hi\n"), 0o644))

	_, err := LookPath("script", dir)
	assert.True(t, errors.Is(err, ErrNotExecutable))
	assert.Equal(t, 126, ExitCode(err))

	_, err = LookPath(dir, "")
	assert.True(t, errors.Is(err, ErrNotExecutable), "directories are not executable")

	_, err = LookPath(filepath.Join(dir, "missing"), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStartAndWait(t *testing.T) {
	sh, err := LookPath("sh", os.Getenv("PATH"))
	require.NoError(t, err)

	pid, err := Start(sh, []string{"sh", "-c", "exit 3"}, &Attr{Files: stdio()})
	require.NoError(t, err)
	require.NotZero(t, pid)

	ws, err := Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 3, StatusCode(ws))
}

func TestStartNewProcessGroup(t *testing.T) {
	sleep, err := LookPath("sleep", os.Getenv("PATH"))
	require.NoError(t, err)

	pid, err := Start(sleep, []string{"sleep", "5"}, &Attr{Files: stdio(), Setpgid: true})
	require.NoError(t, err)

	pgid, err := unix.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid)

	require.NoError(t, unix.Kill(-pgid, unix.SIGTERM))
	ws, err := Wait(pid)
	require.NoError(t, err)
	assert.True(t, ws.Signaled())
	assert.Equal(t, 128+int(syscall.SIGTERM), StatusCode(ws))
}

func TestStartJoinsGroup(t *testing.T) {
	sleep, err := LookPath("sleep", os.Getenv("PATH"))
	require.NoError(t, err)

	leader, err := Start(sleep, []string{"sleep", "5"}, &Attr{Files: stdio(), Setpgid: true})
	require.NoError(t, err)
	member, err := Start(sleep, []string{"sleep", "5"}, &Attr{Files: stdio(), Setpgid: true, Pgid: leader})
	require.NoError(t, err)

	pgid, err := unix.Getpgid(member)
	require.NoError(t, err)
	assert.Equal(t, leader, pgid)

	require.NoError(t, unix.Kill(-leader, unix.SIGKILL))
	Wait(leader)
	Wait(member)
}

func TestStartExecFormat(t *testing.T) {
	script := filepath.Join(t.TempDir(), "noshebang")
	require.NoError(t, os.WriteFile(script, []byte("exit 0\n"), 0o755))

	_, err := Start(script, []string{script}, &Attr{Files: stdio()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoExec))
}

func TestStartClosedDescriptor(t *testing.T) {
	sh, err := LookPath("sh", os.Getenv("PATH"))
	require.NoError(t, err)

	pid, err := Start(sh, []string{"sh", "-c", "[ -e /proc/self/fd/1 ] && exit 0; exit 7"}, &Attr{
		Files: []*os.File{os.Stdin, nil, os.Stderr},
	})
	require.NoError(t, err)
	ws, err := Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 7, StatusCode(ws))
}
