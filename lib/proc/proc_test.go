package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	s := NewSupervisor(nil)

	c, err := s.Start(RoleRun, "sleep", "60")
	require.NoError(t, err)
	assert.Greater(t, c.PID, 0)
	assert.True(t, s.Alive(RoleRun))

	require.NoError(t, s.Stop(RoleRun, 5*time.Second))
	assert.False(t, s.Alive(RoleRun))
}

func TestSecondStartRefused(t *testing.T) {
	s := NewSupervisor(nil)

	_, err := s.Start(RoleRun, "sleep", "60")
	require.NoError(t, err)
	defer s.StopAll(5 * time.Second)

	_, err = s.Start(RoleRun, "sleep", "60")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// A different role is fine.
	_, err = s.Start(RoleRamp, "sleep", "60")
	assert.NoError(t, err)
}

func TestExitedChildFreesRole(t *testing.T) {
	s := NewSupervisor(nil)

	c, err := s.Start(RoleRun, "true")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.Alive(RoleRun) },
		5*time.Second, 10*time.Millisecond)
	assert.NoError(t, c.Err())

	_, err = s.Start(RoleRun, "true")
	assert.NoError(t, err)
	s.StopAll(time.Second)
}

func TestStopWithoutChild(t *testing.T) {
	s := NewSupervisor(nil)
	assert.NoError(t, s.Stop(RoleRamp, time.Second))
}

func TestChildExitError(t *testing.T) {
	s := NewSupervisor(nil)
	c, err := s.Start(RoleRamp, "false")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.Alive(RoleRamp) },
		5*time.Second, 10*time.Millisecond)
	assert.Error(t, c.Err())
}
