// Package voltage provides the per-cycle cell voltage reading with hardware
// abstraction. The real implementation reads an INA219 monitor over I²C; the
// fake implementation returns scripted samples for tests.
package voltage

import "fmt"

// Source produces one raw cell voltage reading per call, in millivolts.
type Source interface {
	// ReadMillivolts returns the current cell voltage.
	ReadMillivolts() (int, error)

	// Close releases the underlying hardware resources.
	Close() error
}

// Calibration is the per-module two-point correction determined against a
// precise volt meter: a reading reported by the uncalibrated hardware and
// the value actually metered at the same moment. Calibration is per board
// and must be repeated for each deployed module.
type Calibration struct {
	MeteredMillivolts  int // volt-meter reading during calibration
	ReportedMillivolts int // uncalibrated reading at the same moment
}

// DefaultCalibration is the identity correction used before a module has
// been calibrated.
func DefaultCalibration() Calibration {
	return Calibration{MeteredMillivolts: 3200, ReportedMillivolts: 3200}
}

// Validate rejects calibration pairs that cannot form a scale factor.
func (c Calibration) Validate() error {
	if c.MeteredMillivolts <= 0 || c.ReportedMillivolts <= 0 {
		return fmt.Errorf("calibration values must be positive, got metered=%d reported=%d",
			c.MeteredMillivolts, c.ReportedMillivolts)
	}
	return nil
}

// Apply scales a raw reading by the calibration factor.
func (c Calibration) Apply(rawMV int) int {
	return rawMV * c.MeteredMillivolts / c.ReportedMillivolts
}

// CalibratedSource applies a Calibration to every reading of the wrapped
// source.
type CalibratedSource struct {
	Source
	Cal Calibration
}

// ReadMillivolts returns the calibrated cell voltage.
func (s *CalibratedSource) ReadMillivolts() (int, error) {
	raw, err := s.Source.ReadMillivolts()
	if err != nil {
		return 0, err
	}
	return s.Cal.Apply(raw), nil
}
