package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func stubSuspend(t *testing.T, fn func(pgrp int) error) {
	t.Helper()
	orig := suspend
	suspend = fn
	t.Cleanup(func() { suspend = orig })
}

func TestWaitForegroundStopsUntilForeground(t *testing.T) {
	tty := &fakeTerm{pgrp: unix.Getpgrp() + 1}
	var stops []int
	stubSuspend(t, func(pgrp int) error {
		stops = append(stops, pgrp)
		if len(stops) == 2 {
			tty.pgrp = pgrp
		}
		return nil
	})

	require.NoError(t, waitForeground(tty))
	assert.Equal(t, []int{unix.Getpgrp(), unix.Getpgrp()}, stops)
	assert.Empty(t, tty.handoffs)
}

func TestWaitForegroundAlreadyForeground(t *testing.T) {
	stubSuspend(t, func(int) error {
		t.Fatal("suspended while in the foreground")
		return nil
	})
	assert.NoError(t, waitForeground(&fakeTerm{pgrp: unix.Getpgrp()}))
}

func TestWaitForegroundSuspendError(t *testing.T) {
	stubSuspend(t, func(int) error { return unix.EPERM })
	err := waitForeground(&fakeTerm{pgrp: unix.Getpgrp() + 1})
	assert.True(t, errors.Is(err, unix.EPERM))
}
