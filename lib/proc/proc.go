// Package proc supervises the child processes the dashboard launches:
// the acquisition loop and the ramp controller. One child per role; a
// second start of a live role is refused.
package proc

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Roles managed by the dashboard.
const (
	RoleRun  = "run"
	RoleRamp = "ramp"
)

// Child is one supervised process.
type Child struct {
	Role string
	PID  int

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Err returns the exit error after the child has been waited for.
func (c *Child) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Supervisor tracks at most one child per role.
type Supervisor struct {
	mu       sync.Mutex
	children map[string]*Child
	log      *zap.Logger
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		children: map[string]*Child{},
		log:      log,
	}
}

// Start launches a child for the role. It fails when a live child
// already holds the role.
func (s *Supervisor) Start(role, name string, args ...string) (*Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.children[role]; c != nil && c.alive() {
		return nil, fmt.Errorf("%s already running (pid %d)", role, c.PID)
	}

	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", role, err)
	}
	c := &Child{
		Role: role,
		PID:  cmd.Process.Pid,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()
	s.children[role] = c
	s.log.Info("child started",
		zap.String("role", role),
		zap.Int("pid", c.PID),
		zap.Strings("args", args),
	)
	return c, nil
}

// Get returns the child holding the role, live or not.
func (s *Supervisor) Get(role string) *Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[role]
}

// Alive reports whether a live child holds the role.
func (s *Supervisor) Alive(role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.children[role]
	return c != nil && c.alive()
}

// Stop terminates the child holding the role with SIGTERM and waits for
// it to exit. When the grace period runs out the child is killed. A
// role with no live child is a no-op.
func (s *Supervisor) Stop(role string, grace time.Duration) error {
	s.mu.Lock()
	c := s.children[role]
	s.mu.Unlock()
	if c == nil || !c.alive() {
		return nil
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling %s (pid %d): %w", role, c.PID, err)
	}
	select {
	case <-c.done:
	case <-time.After(grace):
		s.log.Warn("child ignored SIGTERM, killing",
			zap.String("role", role), zap.Int("pid", c.PID))
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing %s (pid %d): %w", role, c.PID, err)
		}
		<-c.done
	}
	s.log.Info("child stopped", zap.String("role", role), zap.Int("pid", c.PID))
	return nil
}

// StopAll stops every live child.
func (s *Supervisor) StopAll(grace time.Duration) {
	for _, role := range []string{RoleRamp, RoleRun} {
		if err := s.Stop(role, grace); err != nil {
			s.log.Warn("stopping child", zap.String("role", role), zap.Error(err))
		}
	}
}

func (c *Child) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
