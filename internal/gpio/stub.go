//go:build !linux

package gpio

import "errors"

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(pinLED, pinShunt, pinRelay int) (*RealOutputs, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetLED is not implemented on non-Linux platforms.
func (o *RealOutputs) SetLED(on bool) error {
	return errors.New("gpio: not supported")
}

// SetShunt is not implemented on non-Linux platforms.
func (o *RealOutputs) SetShunt(on bool) error {
	return errors.New("gpio: not supported")
}

// SetLoopRelay is not implemented on non-Linux platforms.
func (o *RealOutputs) SetLoopRelay(closed bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutputs) Close() error {
	return nil
}
