//go:build !linux

package procwatch

// stubProbe never sees the process, so the watcher never fires. Platforms
// without a probe implementation rely on the room-leave log line alone.
type stubProbe struct{}

// NewProbe returns the platform probe.
func NewProbe() Probe {
	return stubProbe{}
}

// Running implements Probe.
func (stubProbe) Running() (bool, error) {
	return false, nil
}
