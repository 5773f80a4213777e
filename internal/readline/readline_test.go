package readline

import (
	"bytes"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine(t *testing.T) {
	var out bytes.Buffer
	m := New(strings.NewReader("echo one\necho two"), &out, nil)

	line, err := m.ReadLine("$ ")
	require.NoError(t, err)
	assert.Equal(t, "echo one", line)

	line, err = m.ReadLine("$ ")
	require.NoError(t, err)
	assert.Equal(t, "echo two", line)

	_, err = m.ReadLine("$ ")
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "$ $ $ ", out.String())
}

func TestInterruptKeepsPendingRead(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ints := make(chan os.Signal, 1)
	m := New(r, io.Discard, ints)

	ints <- syscall.SIGINT
	_, err = m.ReadLine("$ ")
	assert.ErrorIs(t, err, ErrInterrupted)

	// Other signals are ignored while waiting.
	ints <- syscall.SIGTSTP
	_, err = w.WriteString("sleep 1\n")
	require.NoError(t, err)
	line, err := m.ReadLine("$ ")
	require.NoError(t, err)
	assert.Equal(t, "sleep 1", line)
}
