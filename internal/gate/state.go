// Package gate implements the Approval Gate: a bounded-TTL external
// grant/deny decision for a ritual step, replay-safe and idempotent under
// concurrent or repeated requests.
package gate

import (
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
)

// Phase is one of the gate's states. Granted, Denied, and Expired are
// terminal.
type Phase string

const (
	PhasePending Phase = "Pending"
	PhaseGranted Phase = "Granted"
	PhaseDenied  Phase = "Denied"
	PhaseExpired Phase = "Expired"
)

// Terminal reports whether phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseGranted || p == PhaseDenied || p == PhaseExpired
}

// State is the derived projection of a single gate, folded from its run's
// approval events.
type State struct {
	RunID               string
	RitualID            string
	GateID              string
	Phase               Phase
	Requester           string
	Approver            string
	Reason              string
	TTLSecondsRemaining int64
}

type approvalFields struct {
	GateID    string `json:"gateId"`
	Requester string `json:"requester,omitempty"`
	Approver  string `json:"approver,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TTL       int64  `json:"ttlSeconds,omitempty"`
}

// Fold replays events for one run and derives the State of gateID. Folding
// is deterministic: identical event lists always yield identical states.
// A gate with no events yet is reported back as Pending with an empty
// requester; callers treat that the same as "not yet requested".
func Fold(events []eventlog.Event, gateID string, now time.Time) State {
	state := State{GateID: gateID, Phase: PhasePending}

	var requestedAt time.Time
	var ttlSeconds int64

	for _, ev := range events {
		var fields approvalFields
		switch ev.Kind {
		case eventlog.KindApprovalRequested:
			if err := ev.StructFields(&fields); err != nil || fields.GateID != gateID {
				continue
			}
			state.RunID = ev.RunID
			state.RitualID = ev.RitualID
			state.Requester = fields.Requester
			requestedAt = ev.Ts
			ttlSeconds = fields.TTL
		case eventlog.KindApprovalGranted:
			if err := ev.StructFields(&fields); err != nil || fields.GateID != gateID {
				continue
			}
			if state.Phase.Terminal() {
				continue // first terminal wins
			}
			state.Phase = PhaseGranted
			state.Approver = fields.Approver
			state.Reason = fields.Reason
		case eventlog.KindApprovalDenied:
			if err := ev.StructFields(&fields); err != nil || fields.GateID != gateID {
				continue
			}
			if state.Phase.Terminal() {
				continue // first terminal wins
			}
			if fields.Approver == "system" && fields.Reason == "expired" {
				state.Phase = PhaseExpired
			} else {
				state.Phase = PhaseDenied
			}
			state.Approver = fields.Approver
			state.Reason = fields.Reason
		}
	}

	if state.Phase == PhasePending && !requestedAt.IsZero() {
		remaining := ttlSeconds - int64(now.Sub(requestedAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		state.TTLSecondsRemaining = remaining
	}

	return state
}
