package cell

// cutoffAgeNone marks that no LVC/HVC event is within the recency window.
const cutoffAgeNone = -1

// Classifier turns noisy per-cycle voltage samples into a debounced cell
// state plus shunting flag. It owns all mutable core state: the averaging
// buffer, committed and pending values with their ages, and the
// cutoff-recency counter. One instance per cell module; call Process exactly
// once per measurement cycle.
type Classifier struct {
	cfg Config
	avg *movingAverage

	state      State
	pending    State
	pendingAge int

	shunting        bool
	shuntPending    bool
	shuntPendingAge int

	// cutoffAge counts cycles since the last committed LVC/HVC event.
	// Power-up counts as a cutoff event, so the first Normal stretch shows
	// the inverted LED pattern until the window expires.
	cutoffAge int

	counts EventCounts
}

// NewClassifier creates a classifier in the Invalid startup state.
// The config must have been validated.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg: cfg,
		avg: newMovingAverage(cfg.AverageWindow, cfg.NominalMillivolts),
	}
}

// Process consumes one raw voltage sample (millivolts) and returns the
// cycle's decision. The committed state and shunting flag only move through
// the settle-time debounce: a pending value must survive strictly more than
// SettleTime consecutive matching cycles before it is committed, and any
// change of the tentative value restarts the count.
func (c *Classifier) Process(rawMV int) Decision {
	if c.cutoffAge != cutoffAgeNone {
		c.cutoffAge++
	}

	mv := c.avg.add(rawMV)

	// Tentative values default to the committed ones (hysteresis persistence).
	tentative := c.state
	shuntNew := c.shunting

	if !c.shunting && mv > c.cfg.ShuntEngage {
		shuntNew = true
	}
	if c.shunting && mv < c.cfg.ShuntDisengage {
		shuntNew = false
	}

	// Cell state rules, in priority order: later rules override earlier ones.
	// Leaving HVC requires dropping below the HVC disengage threshold.
	if c.state == StateHVC && mv < c.cfg.HVCDisengage {
		tentative = StateNormal
	}
	// Leaving LVC requires rising above the LVC disengage threshold.
	if c.state == StateLVC && mv > c.cfg.LVCDisengage {
		tentative = StateNormal
	}
	// Startup escape: leave the Invalid placeholder once the reading is
	// inside the operating range.
	if c.state == StateInvalid && mv > c.cfg.LVCEngage && mv < c.cfg.HVCEngage {
		tentative = StateNormal
	}
	if mv > c.cfg.LVCDisengage && mv < c.cfg.HVCDisengage {
		tentative = StateNormal
	}
	if mv >= c.cfg.HVCEngage {
		tentative = StateHVC
	}
	if mv <= c.cfg.LVCEngage {
		tentative = StateLVC
	}

	shuntChanged := c.debounceShunt(shuntNew)

	dec := Decision{
		Millivolts:      mv,
		Shunting:        c.shunting,
		ShuntingChanged: shuntChanged,
	}

	// Defensive: with validated thresholds an Invalid tentative state is
	// unreachable. If it happens anyway, leave the committed state alone
	// and flag the cycle instead of adopting Invalid.
	if tentative == StateInvalid {
		dec.State = c.state
		dec.Inconsistent = true
		dec.RecentCutoff = c.updateRecency()
		return dec
	}

	dec.StateChanged = c.debounceState(tentative)
	dec.State = c.state
	dec.RecentCutoff = c.updateRecency()
	return dec
}

// debounceState applies the settle-time rule to the cell state.
// Returns true if the committed state changed this cycle.
func (c *Classifier) debounceState(tentative State) bool {
	if c.pending != tentative {
		c.pending = tentative
		c.pendingAge = 0
		return false
	}
	if c.pendingAge > c.cfg.SettleTime {
		if c.state != tentative {
			c.state = tentative
			c.countState(tentative)
			return true
		}
		return false
	}
	c.pendingAge++
	return false
}

// debounceShunt applies the identical settle-time rule to the shunting flag.
func (c *Classifier) debounceShunt(tentative bool) bool {
	if c.shuntPending != tentative {
		c.shuntPending = tentative
		c.shuntPendingAge = 0
		return false
	}
	if c.shuntPendingAge > c.cfg.SettleTime {
		if c.shunting != tentative {
			c.shunting = tentative
			if tentative {
				c.counts.ShuntOn++
			} else {
				c.counts.ShuntOff++
			}
			return true
		}
		return false
	}
	c.shuntPendingAge++
	return false
}

// updateRecency maintains the cutoff-recency counter for the committed state
// and reports whether the recency window is active this cycle.
func (c *Classifier) updateRecency() bool {
	switch c.state {
	case StateLVC, StateHVC:
		c.cutoffAge = 0
		return false
	case StateNormal:
		if c.cutoffAge != cutoffAgeNone && c.cutoffAge < c.cfg.RecentCutoffCycles {
			return true
		}
		c.cutoffAge = cutoffAgeNone
		return false
	default:
		return false
	}
}

func (c *Classifier) countState(s State) {
	switch s {
	case StateNormal:
		c.counts.Normal++
	case StateLVC:
		c.counts.LVC++
	case StateHVC:
		c.counts.HVC++
	}
}

// State returns the committed cell state.
func (c *Classifier) State() State {
	return c.state
}

// Shunting returns the committed shunting flag.
func (c *Classifier) Shunting() bool {
	return c.shunting
}

// Pending returns the tentative cell state and its age in cycles.
func (c *Classifier) Pending() (State, int) {
	return c.pending, c.pendingAge
}

// ShuntPending returns the tentative shunting flag and its age in cycles.
func (c *Classifier) ShuntPending() (bool, int) {
	return c.shuntPending, c.shuntPendingAge
}

// CutoffAge returns the cycles since the last LVC/HVC event (or power-up)
// and whether any cutoff is still within the recency window.
func (c *Classifier) CutoffAge() (age int, recent bool) {
	if c.cutoffAge == cutoffAgeNone {
		return 0, false
	}
	return c.cutoffAge, c.cutoffAge < c.cfg.RecentCutoffCycles
}

// Counts returns a snapshot of committed transition counts since startup.
func (c *Classifier) Counts() EventCounts {
	return c.counts
}
