// Package process starts external commands as raw child processes placed
// in a requested process group.
package process

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	ErrNotFound      = errors.New("command not found")
	ErrNotExecutable = errors.New("permission denied")
	// ErrNoExec means the file is executable but not in a format the
	// kernel can run, so it should be run as a shell script.
	ErrNoExec = errors.New("exec format error")
	// ErrResource is a fork failure caused by resource exhaustion.
	ErrResource = errors.New("resource temporarily unavailable")
)

const DefaultPath = "/usr/local/bin:/usr/bin:/bin"

var logger = log.New(io.Discard, "process: ", log.LstdFlags)

func SetLogger(l *log.Logger) {
	logger = l
}

// ExitCode maps a launch error to the status the shell reports for it.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return 127
	case errors.Is(err, ErrNotExecutable), errors.Is(err, ErrNoExec):
		return 126
	default:
		return 1
	}
}

// LookPath resolves name the way exec would. Names containing a slash are
// checked directly; others are searched in the colon-separated path.
func LookPath(name, path string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if strings.Contains(name, "/") {
		if err := executable(name); err != nil {
			return "", err
		}
		return name, nil
	}

	if path == "" {
		path = DefaultPath
	}

	denied := false
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		err := executable(candidate)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, ErrNotExecutable) {
			denied = true
		}
	}

	if denied {
		return "", fmt.Errorf("%s: %w", name, ErrNotExecutable)
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

func executable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", path, ErrNotExecutable)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory: %w", path, ErrNotExecutable)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("%s: %w", path, ErrNotExecutable)
	}
	return nil
}

// Attr describes the child to start.
type Attr struct {
	Dir string
	Env []string
	// Files is the child's descriptor table; nil entries are closed.
	Files []*os.File

	// Setpgid places the child in process group Pgid, or in a new group
	// led by the child when Pgid is 0.
	Setpgid bool
	Pgid    int

	// Foreground makes the child's group the foreground group of the
	// terminal Tty before it execs.
	Foreground bool
	Tty        int
}

// Start forks and execs path and returns the pid without waiting. Exec
// failures in the child are reported here, so a failed start never leaves a
// child running shell code.
func Start(path string, argv []string, attr *Attr) (int, error) {
	files := make([]uintptr, len(attr.Files))
	for i, f := range attr.Files {
		if f == nil {
			files[i] = ^uintptr(0)
			continue
		}
		files[i] = f.Fd()
	}

	sys := &syscall.SysProcAttr{
		Setpgid: attr.Setpgid,
		Pgid:    attr.Pgid,
	}
	if attr.Setpgid && attr.Foreground {
		sys.Foreground = true
		sys.Ctty = attr.Tty
	}

	procAttr := &syscall.ProcAttr{
		Dir:   attr.Dir,
		Env:   attr.Env,
		Files: files,
		Sys:   sys,
	}

	var (
		pid int
		err error
	)
	for {
		pid, err = syscall.ForkExec(path, argv, procAttr)
		if err != syscall.EINTR {
			break
		}
	}
	// The descriptors in files stay valid only while the files are
	// reachable.
	runtime.KeepAlive(attr.Files)
	if err != nil {
		return 0, classify(path, err)
	}

	if attr.Setpgid {
		pgid := attr.Pgid
		if pgid == 0 {
			pgid = pid
		}
		// The child already did this; repeating it in the parent means the
		// group exists before the next stage tries to join it.
		if err := unix.Setpgid(pid, pgid); err != nil && err != unix.EACCES && err != unix.ESRCH {
			logger.Printf("setpgid(%d, %d): %v", pid, pgid, err)
		}
	}

	logger.Printf("started pid=%d pgid=%d argv=%q", pid, attr.Pgid, argv)
	return pid, nil
}

func classify(path string, err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", path, err)
	}
	switch errno {
	case syscall.ENOENT:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case syscall.ENOEXEC:
		return fmt.Errorf("%s: %w", path, ErrNoExec)
	case syscall.EACCES, syscall.EPERM, syscall.EISDIR, syscall.ETXTBSY, syscall.E2BIG:
		return fmt.Errorf("%s: %v: %w", path, errno, ErrNotExecutable)
	case syscall.EAGAIN, syscall.ENOMEM:
		return fmt.Errorf("fork: %w", ErrResource)
	default:
		return fmt.Errorf("%s: %w", path, errno)
	}
}

// Exec replaces the current process with path. The descriptors in files
// are installed at their index first; nil entries are closed. It returns
// only on failure.
func Exec(path string, argv, env []string, files []*os.File) error {
	// Move every source above the target range so no dup2 overwrites a
	// descriptor that a later entry still needs.
	moved := make([]int, len(files))
	for i, f := range files {
		moved[i] = -1
		if f == nil {
			continue
		}
		fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, len(files))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		moved[i] = fd
	}
	for i, fd := range moved {
		if fd < 0 {
			unix.Close(i)
			continue
		}
		if err := unix.Dup2(fd, i); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	for {
		err := syscall.Exec(path, argv, env)
		if err == syscall.EINTR {
			continue
		}
		return classify(path, err)
	}
}

// Wait blocks until pid exits and returns its status, for children that
// are not tracked as jobs.
func Wait(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		return ws, err
	}
}

// StatusCode converts a terminated wait status into a shell status.
func StatusCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	case ws.Stopped():
		return 128 + int(ws.StopSignal())
	default:
		return 1
	}
}
