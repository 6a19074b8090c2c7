package autoscale

import "time"

// State is the hysteresis FSM's current pressure state.
type State string

const (
	StateNormal   State = "Normal"
	StatePressure State = "Pressure"
	StateRelief   State = "Relief"
)

// Recommendation is the scale action suggested by the most recent sample.
type Recommendation string

const (
	RecommendationSteady   Recommendation = "steady"
	RecommendationScaleUp  Recommendation = "scale_up"
	RecommendationScaleDown Recommendation = "scale_down"
)

// Hysteresis snapshots the FSM's internal counters at decision time, for the
// agent.scale.hint:v1 event's `hysteresis` field.
type Hysteresis struct {
	CurrentState            State     `json:"currentState"`
	StateChangedAt           time.Time `json:"stateChangedAt"`
	ConsecutiveHighSignals   int       `json:"consecutiveHighSignals"`
	ConsecutiveLowSignals    int       `json:"consecutiveLowSignals"`
	MinSignalsForTransition int       `json:"minSignalsForTransition"`
}

// FSM is the per-tenant hysteresis state machine converting metric samples
// into scale recommendations, debounced against oscillation.
type FSM struct {
	thresholds Thresholds
	minSignals int
	clock      func() time.Time

	state           State
	stateChangedAt  time.Time
	consecutiveHigh int
	consecutiveLow  int

	firstSample    bool
	lastEmitted    Recommendation
	lastReason     string
}

// NewFSM constructs an FSM starting in Normal. minSignalsForTransition
// defaults to 3 when <= 0.
func NewFSM(thresholds Thresholds, minSignalsForTransition int, clock func() time.Time) *FSM {
	if minSignalsForTransition <= 0 {
		minSignalsForTransition = 3
	}
	if clock == nil {
		clock = time.Now
	}
	return &FSM{
		thresholds: thresholds,
		minSignals: minSignalsForTransition,
		clock:      clock,
		state:      StateNormal,
		firstSample: true,
	}
}

// Sample classifies m, updates the FSM's counters and state, and returns the
// resulting recommendation along with whether it should actually be
// published — only on a change from the previously emitted recommendation,
// or on the very first sample, to avoid flooding on steady-state noise.
func (f *FSM) Sample(m Metrics) (Recommendation, bool, string) {
	sig := f.thresholds.classify(m)
	switch sig {
	case signalHigh:
		f.consecutiveHigh++
		f.consecutiveLow = 0
	case signalLow:
		f.consecutiveLow++
		f.consecutiveHigh = 0
	default:
		f.consecutiveHigh = 0
		f.consecutiveLow = 0
	}

	rec := RecommendationSteady
	reason := "no state change"

	switch f.state {
	case StateNormal:
		if f.consecutiveHigh >= f.minSignals {
			f.transition(StatePressure)
			rec = RecommendationScaleUp
			reason = "entered pressure after consecutive high signals"
		}
	case StatePressure:
		if f.consecutiveLow >= 2*f.minSignals {
			f.transition(StateRelief)
			rec = RecommendationScaleDown
			reason = "entered relief after sustained low signals"
		}
	case StateRelief:
		// Relief is a one-shot marker: the ScaleDown recommendation for
		// leaving Pressure fires exactly once, then the FSM resumes
		// normal monitoring.
		f.transition(StateNormal)
		rec = RecommendationSteady
		reason = "relief complete, resuming normal monitoring"
	}

	emit := f.firstSample || rec != f.lastEmitted
	f.firstSample = false
	f.lastEmitted = rec
	f.lastReason = reason

	return rec, emit, reason
}

// Snapshot returns the FSM's current hysteresis counters for the event
// payload.
func (f *FSM) Snapshot() Hysteresis {
	return Hysteresis{
		CurrentState:            f.state,
		StateChangedAt:          f.stateChangedAt,
		ConsecutiveHighSignals:  f.consecutiveHigh,
		ConsecutiveLowSignals:   f.consecutiveLow,
		MinSignalsForTransition: f.minSignals,
	}
}

func (f *FSM) transition(to State) {
	f.state = to
	f.stateChangedAt = f.clock()
	f.consecutiveHigh = 0
	f.consecutiveLow = 0
}
