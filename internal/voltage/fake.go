package voltage

import "errors"

// FakeSource is a test double that returns scripted voltage samples.
type FakeSource struct {
	// Samples contains scripted millivolt readings.
	// Each call to ReadMillivolts consumes the next sample; when exhausted,
	// the last sample repeats.
	Samples []int

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadMillivolts()
	ReadError error
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples []int) *FakeSource {
	return &FakeSource{Samples: samples}
}

// ReadMillivolts returns the next scripted sample.
func (f *FakeSource) ReadMillivolts() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the source to the beginning of samples.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Closed = false
}
