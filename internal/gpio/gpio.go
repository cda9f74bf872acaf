// Package gpio drives the module's three output lines with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Outputs sets the module's physical outputs.
// Each setter is independent; the sequencer composes them into the
// per-state timing patterns.
type Outputs interface {
	// SetLED turns the status LED on or off.
	SetLED(on bool) error

	// SetShunt switches the passive balancing shunt load.
	SetShunt(on bool) error

	// SetLoopRelay closes (true) or opens (false) the galvanically
	// isolated loop relay. The head-end controller reads module health
	// from the loop current, so relay timing is part of the protocol.
	SetLoopRelay(closed bool) error

	// Close releases GPIO resources.
	Close() error
}

// Pin defaults (BCM numbering).
const (
	DefaultPinLED   = 17
	DefaultPinShunt = 27
	DefaultPinRelay = 22
)
