// Package cell contains the pure decision logic for a single battery cell
// module: the hysteresis classifier, the settle-time debounce and the
// cutoff-recency tracking. This package has NO external dependencies
// (no GPIO, MQTT, OS, or time.Sleep); it is driven one cycle at a time
// with a fresh voltage sample.
package cell

import (
	"fmt"
	"time"
)

// State is the committed operating state of the cell.
type State byte

const (
	// StateInvalid is the power-up placeholder. It is never a committed
	// decision once a finite reading has been processed.
	StateInvalid State = iota
	StateNormal
	StateLVC
	StateHVC
)

// String returns the wire/status name of the state.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateLVC:
		return "LVC"
	case StateHVC:
		return "HVC"
	default:
		return "INVALID"
	}
}

// Config holds the classifier thresholds and timing constants.
// All voltages are in millivolts, all durations in cycles (~1.1 s each).
//
// The defaults follow the measured behavior of the original hardware rather
// than its documentation; the two disagree (e.g. LVC disengage documented as
// 3100 mV, measured near 2950 mV). Deployments that need the documented
// values can override every field.
type Config struct {
	LVCEngage    int // enter LVC at or below this
	LVCDisengage int // leave LVC above this
	HVCEngage    int // enter HVC at or above this
	HVCDisengage int // leave HVC below this

	ShuntEngage    int // start shunting above this
	ShuntDisengage int // stop shunting below this

	// AverageWindow is the moving-average window size in samples.
	AverageWindow int

	// NominalMillivolts pre-fills the averaging buffer so the first cycles
	// do not average against zero.
	NominalMillivolts int

	// SettleTime is the debounce threshold in cycles. A pending value must
	// survive strictly more than SettleTime matching cycles before commit.
	SettleTime int

	// RecentCutoffCycles is how long after an LVC/HVC event (or power-up)
	// the Normal LED pattern stays inverted.
	RecentCutoffCycles int
}

// DefaultConfig returns the measured-hardware defaults.
func DefaultConfig() Config {
	return Config{
		LVCEngage:          2900,
		LVCDisengage:       2950,
		HVCEngage:          3600,
		HVCDisengage:       3550,
		ShuntEngage:        3500,
		ShuntDisengage:     3450,
		AverageWindow:      5,
		NominalMillivolts:  3200,
		SettleTime:         3,
		RecentCutoffCycles: 1800, // ~30 min of ~1 s cycles
	}
}

// Validate rejects threshold orderings that would break the classifier.
// Misconfiguration is a startup error, never a runtime condition.
func (c Config) Validate() error {
	if c.LVCEngage >= c.LVCDisengage {
		return fmt.Errorf("LVC engage (%d) must be below LVC disengage (%d)", c.LVCEngage, c.LVCDisengage)
	}
	if c.LVCDisengage > c.HVCDisengage {
		return fmt.Errorf("LVC disengage (%d) must not exceed HVC disengage (%d): empty normal band", c.LVCDisengage, c.HVCDisengage)
	}
	if c.HVCDisengage >= c.HVCEngage {
		return fmt.Errorf("HVC disengage (%d) must be below HVC engage (%d)", c.HVCDisengage, c.HVCEngage)
	}
	if c.ShuntDisengage >= c.ShuntEngage {
		return fmt.Errorf("shunt disengage (%d) must be below shunt engage (%d)", c.ShuntDisengage, c.ShuntEngage)
	}
	if c.ShuntEngage <= c.LVCDisengage {
		return fmt.Errorf("shunt engage (%d) must be above LVC disengage (%d)", c.ShuntEngage, c.LVCDisengage)
	}
	if c.AverageWindow < 1 {
		return fmt.Errorf("average window must be at least 1, got %d", c.AverageWindow)
	}
	if c.NominalMillivolts <= 0 {
		return fmt.Errorf("nominal millivolts must be positive, got %d", c.NominalMillivolts)
	}
	if c.SettleTime < 0 {
		return fmt.Errorf("settle time must not be negative, got %d", c.SettleTime)
	}
	if c.RecentCutoffCycles < 1 {
		return fmt.Errorf("recent cutoff duration must be at least 1 cycle, got %d", c.RecentCutoffCycles)
	}
	return nil
}

// Decision is the per-cycle output of the classifier.
// It is a value type, safe to hand to the sequencer and telemetry.
type Decision struct {
	// Millivolts is the averaged cell voltage this cycle was judged on.
	Millivolts int

	// State is the committed cell state after debounce.
	State State

	// Shunting is the committed shunting flag after debounce.
	Shunting bool

	// RecentCutoff is true while the cell is Normal inside the recency
	// window after an LVC/HVC event or power-up. The Normal LED pattern
	// is inverted while it holds.
	RecentCutoff bool

	// StateChanged / ShuntingChanged mark commits that differ from the
	// previous cycle's committed values.
	StateChanged    bool
	ShuntingChanged bool

	// Inconsistent marks the defensive case of an Invalid tentative
	// classification. The cycle is treated as a no-op for the cell state;
	// the committed values carried here are the previous ones.
	Inconsistent bool
}

// EventType identifies a committed transition for telemetry.
type EventType string

const (
	EventNormal   EventType = "NORMAL"
	EventLVC      EventType = "LVC"
	EventHVC      EventType = "HVC"
	EventShuntOn  EventType = "SHUNT_ON"
	EventShuntOff EventType = "SHUNT_OFF"
)

// Event is a committed transition to be published.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	State      State
	Shunting   bool
	Millivolts int
}

// EventCounts tracks the number of committed transitions since startup.
type EventCounts struct {
	Normal   int
	LVC      int
	HVC      int
	ShuntOn  int
	ShuntOff int
}

// Events derives the telemetry events for a cycle's decision.
// State transitions are reported before shunting transitions.
func (d Decision) Events(now time.Time) []Event {
	var events []Event
	if d.StateChanged {
		var typ EventType
		switch d.State {
		case StateNormal:
			typ = EventNormal
		case StateLVC:
			typ = EventLVC
		case StateHVC:
			typ = EventHVC
		default:
			return events // Invalid never commits
		}
		events = append(events, Event{
			Timestamp:  now,
			Type:       typ,
			State:      d.State,
			Shunting:   d.Shunting,
			Millivolts: d.Millivolts,
		})
	}
	if d.ShuntingChanged {
		typ := EventShuntOff
		if d.Shunting {
			typ = EventShuntOn
		}
		events = append(events, Event{
			Timestamp:  now,
			Type:       typ,
			State:      d.State,
			Shunting:   d.Shunting,
			Millivolts: d.Millivolts,
		})
	}
	return events
}
