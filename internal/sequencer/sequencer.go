// Package sequencer translates a committed cell decision into the module's
// output timing patterns. The per-state duty cycles are a signaling protocol:
// the head-end controller infers module health purely from loop-current
// interruption timing, so the periods below must not be changed.
package sequencer

import (
	"time"

	"github.com/sweeney/cell-monitor/internal/cell"
	"github.com/sweeney/cell-monitor/internal/gpio"
)

// Timing constants of the output protocol.
const (
	// idle is the low-power pause that pads LVC and non-shunting Normal
	// cycles to the ~1.1 s cycle length.
	idle = 1000 * time.Millisecond

	// ledPulse is the short Normal-state LED blink.
	ledPulse = 20 * time.Millisecond

	// shuntPhase is each half of the shunting LED alternation; the shunt
	// stays on through both halves.
	shuntPhase = 500 * time.Millisecond

	// shuntRelease is the pause between switching the shunt off and
	// finishing the cycle.
	shuntRelease = 100 * time.Millisecond

	// HVC: rapid flash, 10 periods of 50 ms off / 50 ms on.
	hvcFlashHalf  = 50 * time.Millisecond
	hvcFlashCount = 10

	// Invalid: slow diagnostic flash, 3 periods of 166 ms on / 166 ms off.
	// Distinguishable from every valid-state pattern by period and count.
	invalidFlashHalf  = 166 * time.Millisecond
	invalidFlashCount = 3
)

// Sequencer drives the outputs for one cycle per committed decision.
type Sequencer struct {
	out  gpio.Outputs
	wait func(time.Duration)
}

// New creates a Sequencer. A nil wait falls back to time.Sleep; tests
// inject a recording wait instead.
func New(out gpio.Outputs, wait func(time.Duration)) *Sequencer {
	if wait == nil {
		wait = time.Sleep
	}
	return &Sequencer{out: out, wait: wait}
}

// PrepareMeasurement switches the LED and shunt off so the voltage sample
// is taken without local loads on the cell.
func (s *Sequencer) PrepareMeasurement() error {
	if err := s.out.SetLED(false); err != nil {
		return err
	}
	return s.out.SetShunt(false)
}

// Run executes the output pattern for the cycle's decision and consumes the
// corresponding wall-clock time. It returns on the first output error; the
// driver logs it and the next cycle starts from a clean slate.
func (s *Sequencer) Run(d cell.Decision) error {
	switch d.State {
	case cell.StateLVC:
		return s.runLVC()
	case cell.StateNormal:
		if d.Shunting {
			return s.runNormalShunting()
		}
		return s.runNormal(d.RecentCutoff)
	case cell.StateHVC:
		return s.runHVC()
	default:
		return s.runInvalid()
	}
}

// runLVC opens the loop and goes dark for the rest of the cycle.
func (s *Sequencer) runLVC() error {
	if err := s.out.SetLoopRelay(false); err != nil {
		return err
	}
	if err := s.out.SetLED(false); err != nil {
		return err
	}
	if err := s.out.SetShunt(false); err != nil {
		return err
	}
	s.wait(idle)
	return nil
}

// runNormal closes the loop and blinks the LED once. While a cutoff is
// recent the pulse is inverted: dark for 20 ms, then on.
func (s *Sequencer) runNormal(inverted bool) error {
	if err := s.out.SetLoopRelay(true); err != nil {
		return err
	}
	if err := s.out.SetShunt(false); err != nil {
		return err
	}
	if err := s.out.SetLED(!inverted); err != nil {
		return err
	}
	s.wait(ledPulse)
	if err := s.out.SetLED(inverted); err != nil {
		return err
	}
	s.wait(idle)
	return nil
}

// runNormalShunting keeps the loop closed and burns charge through the
// shunt for 1 s, alternating the LED at 500 ms. The sequence itself fills
// the cycle's timing budget; there is no trailing idle.
func (s *Sequencer) runNormalShunting() error {
	if err := s.out.SetLoopRelay(true); err != nil {
		return err
	}
	if err := s.out.SetShunt(true); err != nil {
		return err
	}
	if err := s.out.SetLED(false); err != nil {
		return err
	}
	s.wait(shuntPhase)
	if err := s.out.SetLED(true); err != nil {
		return err
	}
	s.wait(shuntPhase)
	if err := s.out.SetShunt(false); err != nil {
		return err
	}
	s.wait(shuntRelease)
	return s.out.SetLED(false)
}

// runHVC opens the loop, keeps shunting, and flashes the LED rapidly.
func (s *Sequencer) runHVC() error {
	if err := s.out.SetLoopRelay(false); err != nil {
		return err
	}
	if err := s.out.SetShunt(true); err != nil {
		return err
	}
	for i := 0; i < hvcFlashCount; i++ {
		if err := s.out.SetLED(false); err != nil {
			return err
		}
		s.wait(hvcFlashHalf)
		if err := s.out.SetLED(true); err != nil {
			return err
		}
		s.wait(hvcFlashHalf)
	}
	if err := s.out.SetShunt(false); err != nil {
		return err
	}
	s.wait(shuntRelease)
	return nil
}

// runInvalid keeps the loop closed (an indeterminate reading must not cut
// the main loop current) and shows the diagnostic flash.
func (s *Sequencer) runInvalid() error {
	if err := s.out.SetLoopRelay(true); err != nil {
		return err
	}
	if err := s.out.SetShunt(false); err != nil {
		return err
	}
	for i := 0; i < invalidFlashCount; i++ {
		if err := s.out.SetLED(true); err != nil {
			return err
		}
		s.wait(invalidFlashHalf)
		if err := s.out.SetLED(false); err != nil {
			return err
		}
		s.wait(invalidFlashHalf)
	}
	return nil
}
