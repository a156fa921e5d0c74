//go:build windows

package broker

import (
	"errors"
	"os"
)

// SpawnOptions configures a sub-agent process launch.
type SpawnOptions struct {
	Path    string
	Args    []string
	Env     []string
	LogPath string
}

// ErrUnsupportedPlatform is returned by Spawn on platforms where the
// detached-process model the Coordination Broker relies on (Setsid) isn't
// available.
var ErrUnsupportedPlatform = errors.New("broker: sub-agent spawn is not supported on this platform")

// Spawn is unavailable on Windows: the Coordination Broker's detach model
// depends on POSIX session semantics (Setsid) that have no Windows
// equivalent in os/exec's SysProcAttr.
func (b *Broker) Spawn(opts SpawnOptions) (*os.Process, error) {
	return nil, ErrUnsupportedPlatform
}
