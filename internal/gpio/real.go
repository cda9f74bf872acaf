//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutputs drives actual hardware using the Linux GPIO character device.
type RealOutputs struct {
	chip     *gpiocdev.Chip
	ledPin   *gpiocdev.Line
	shuntPin *gpiocdev.Line
	relayPin *gpiocdev.Line
}

// NewRealOutputs claims the three output lines, all initially low:
// LED off, shunt off, loop relay open. This matches the power-up state of
// the original cell module hardware.
func NewRealOutputs(pinLED, pinShunt, pinRelay int) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	ledLine, err := chip.RequestLine(pinLED, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request LED pin %d: %w", pinLED, err)
	}

	shuntLine, err := chip.RequestLine(pinShunt, gpiocdev.AsOutput(0))
	if err != nil {
		ledLine.Close()
		chip.Close()
		return nil, fmt.Errorf("request shunt pin %d: %w", pinShunt, err)
	}

	relayLine, err := chip.RequestLine(pinRelay, gpiocdev.AsOutput(0))
	if err != nil {
		shuntLine.Close()
		ledLine.Close()
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pinRelay, err)
	}

	return &RealOutputs{
		chip:     chip,
		ledPin:   ledLine,
		shuntPin: shuntLine,
		relayPin: relayLine,
	}, nil
}

// SetLED turns the status LED on or off.
func (o *RealOutputs) SetLED(on bool) error {
	if err := o.ledPin.SetValue(boolToValue(on)); err != nil {
		return fmt.Errorf("set LED pin: %w", err)
	}
	return nil
}

// SetShunt switches the balancing shunt load.
func (o *RealOutputs) SetShunt(on bool) error {
	if err := o.shuntPin.SetValue(boolToValue(on)); err != nil {
		return fmt.Errorf("set shunt pin: %w", err)
	}
	return nil
}

// SetLoopRelay closes or opens the loop relay.
func (o *RealOutputs) SetLoopRelay(closed bool) error {
	if err := o.relayPin.SetValue(boolToValue(closed)); err != nil {
		return fmt.Errorf("set relay pin: %w", err)
	}
	return nil
}

// Close drives all outputs low and releases the lines.
// All-low mirrors what the hardware shows when a module loses power: LED
// off, shunt off, loop open, so the head-end sees the module drop out
// rather than a stuck healthy signal.
func (o *RealOutputs) Close() error {
	var errs []error

	for _, line := range []*gpiocdev.Line{o.ledPin, o.shuntPin, o.relayPin} {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear line: %w", err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToValue(on bool) int {
	if on {
		return 1
	}
	return 0
}
