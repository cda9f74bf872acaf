package gpio

import "fmt"

// FakeOutputs is a test double that records every output change in order.
// The sequencer tests interleave wait entries into the same trace so the
// full timing pattern of a cycle can be asserted as a script.
type FakeOutputs struct {
	// Trace records output changes (and appended wait markers) in order.
	Trace []string

	// Current output values.
	LED   bool
	Shunt bool
	Relay bool

	// SetError, if set, is returned by every setter.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutputs creates a FakeOutputs with all outputs off.
func NewFakeOutputs() *FakeOutputs {
	return &FakeOutputs{}
}

// SetLED records the LED change.
func (f *FakeOutputs) SetLED(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.LED = on
	f.Trace = append(f.Trace, fmt.Sprintf("led=%s", onOff(on)))
	return nil
}

// SetShunt records the shunt change.
func (f *FakeOutputs) SetShunt(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Shunt = on
	f.Trace = append(f.Trace, fmt.Sprintf("shunt=%s", onOff(on)))
	return nil
}

// SetLoopRelay records the relay change.
func (f *FakeOutputs) SetLoopRelay(closed bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Relay = closed
	state := "open"
	if closed {
		state = "closed"
	}
	f.Trace = append(f.Trace, fmt.Sprintf("relay=%s", state))
	return nil
}

// Append adds an arbitrary marker to the trace (used for wait entries).
func (f *FakeOutputs) Append(entry string) {
	f.Trace = append(f.Trace, entry)
}

// Close marks the outputs as closed.
func (f *FakeOutputs) Close() error {
	f.Closed = true
	return nil
}

// Reset clears the trace and output values.
func (f *FakeOutputs) Reset() {
	f.Trace = nil
	f.LED = false
	f.Shunt = false
	f.Relay = false
	f.SetError = nil
	f.Closed = false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
