// Package termcompat wraps the raw-terminal-mode syscalls the agent loop
// needs around interactive TTY reads, using golang.org/x/term's portable
// termios wrapper instead of shelling out to stty.
package termcompat

import (
	"errors"
	"fmt"

	"golang.org/x/term"
)

// ErrNotATerminal is returned when raw-mode entry is attempted on a file
// descriptor that isn't backed by a terminal.
var ErrNotATerminal = errors.New("termcompat: not a terminal")

// RestoreFunc restores a terminal to the mode it was in before MakeRaw was
// called. Calling it more than once is a no-op error from the underlying
// syscall and is safe to ignore.
type RestoreFunc func() error

// MakeRaw puts fd into raw mode and returns a function that restores it to
// cooked mode. Callers are expected to defer the returned function.
func MakeRaw(fd int) (RestoreFunc, error) {
	if !term.IsTerminal(fd) {
		return nil, ErrNotATerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("termcompat: make raw: %w", err)
	}
	return func() error {
		return term.Restore(fd, state)
	}, nil
}

// Size reports the terminal's current width and height in character cells.
func Size(fd int) (width, height int, err error) {
	if !term.IsTerminal(fd) {
		return 0, 0, ErrNotATerminal
	}
	return term.GetSize(fd)
}

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// WithRaw puts fd into raw mode for the duration of fn, always restoring
// cooked mode afterward regardless of how fn returns. This is the shape the
// Coordination Broker's spawn path uses around exec.Command.Start, so a
// sub-agent never inherits the parent's raw-mode file descriptors.
func WithRaw(fd int, fn func() error) error {
	restore, err := MakeRaw(fd)
	if err != nil {
		return err
	}
	defer restore()
	return fn()
}
