//go:build !windows

package broker

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// SpawnOptions configures a sub-agent process launch.
type SpawnOptions struct {
	// Path is the sub-agent binary to exec (usually the coordinator's own
	// executable, re-invoked with --broker-session).
	Path string
	// Args are passed to the sub-agent; the caller is responsible for
	// including --broker-session <session-id> and any one-shot flags.
	Args []string
	// Env is appended to the spawned process's environment in addition to
	// os.Environ().
	Env []string
	// LogPath is where the sub-agent's stdout/stderr are redirected. If
	// empty, they're discarded.
	LogPath string
}

// Spawn launches a sub-agent as a detached process: a new session via
// Setsid so it isn't killed when the coordinator's controlling terminal
// goes away, stdio redirected to its own log file rather than inherited
// (Stdin/Stdout/Stderr left nil read/write against the null device when
// LogPath is empty), so a raw-mode terminal descriptor is never passed
// down to the child. This is Go's equivalent of fork+detach; the
// runtime-safe API has no raw fork().
func (b *Broker) Spawn(opts SpawnOptions) (*os.Process, error) {
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if opts.LogPath != "" {
		logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("broker: open sub-agent log: %w", err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("broker: spawn sub-agent: %w", err)
	}
	return cmd.Process, nil
}
