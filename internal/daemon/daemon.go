package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// childEnv marks a process as the detached daemon child.
const childEnv = "PLUGD_DAEMONIZED"

// WritePidFile records the current pid. An existing live pid is an
// error; a stale pidfile is replaced.
func WritePidFile(path string) error {
	if pid, ok := ReadPidFile(path); ok {
		if Alive(pid) {
			return fmt.Errorf("already running with pid %d", pid)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// ReadPidFile returns the recorded pid, if the file holds one.
func ReadPidFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// RemovePidFile deletes the pidfile, ignoring a missing file.
func RemovePidFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove pidfile", "path", path, "error", err)
	}
}

// Alive reports whether a process with the pid exists, using signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Running reports the live daemon pid from a pidfile, or 0.
func Running(pidPath string) int {
	pid, ok := ReadPidFile(pidPath)
	if !ok || !Alive(pid) {
		return 0
	}
	return pid
}

// IsChild reports whether this process was spawned as the detached
// daemon child.
func IsChild() bool { return os.Getenv(childEnv) == "1" }

// Detach re-executes the current binary in the background with output
// redirected to logPath, and returns the child pid.
func Detach(logPath string, args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), childEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// Reap the child from this short-lived parent.
	go cmd.Wait()
	return pid, nil
}

// Stop signals the daemon with SIGTERM, waits up to grace for it to
// exit, then falls back to SIGKILL.
func Stop(pidPath string, grace time.Duration) error {
	pid := Running(pidPath)
	if pid == 0 {
		return fmt.Errorf("not running")
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			RemovePidFile(pidPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && Alive(pid) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	RemovePidFile(pidPath)
	return nil
}

// Supervisor restarts a run function when it fails, up to maxRestarts
// within window. A run that outlives the window resets the budget.
type Supervisor struct {
	MaxRestarts int
	Window      time.Duration
	Log         *slog.Logger
}

// Run invokes fn until it returns nil, the restart budget is spent, or
// fn returns with the budget exhausted. The last error is returned.
func (s *Supervisor) Run(fn func() error) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	restarts := 0
	windowStart := time.Now()
	for {
		started := time.Now()
		err := fn()
		if err == nil {
			return nil
		}

		if time.Since(windowStart) > s.Window {
			restarts = 0
			windowStart = time.Now()
		}
		restarts++
		if restarts > s.MaxRestarts {
			log.Error("restart budget exhausted", "restarts", restarts-1, "window", s.Window)
			return err
		}

		log.Warn("daemon run failed, restarting",
			"error", err,
			"restart", restarts,
			"uptime", time.Since(started).Round(time.Second))
		time.Sleep(time.Second)
	}
}
