// Package monitor runs one lifecycle loop per venue family: discovery of
// untracked positions, mark-price refresh, the exit state machine, and orphan
// reconciliation.
package monitor

import "github.com/alanyoungcy/venuebot/internal/domain"

// ExitDecision is the outcome of one risk evaluation. WaterMark carries the
// updated trailing mark to persist, nil when unchanged.
type ExitDecision struct {
	Close     bool
	Reason    domain.CloseReason
	WaterMark *float64
}

// EvaluateExit runs the exit state machine for one position at the given
// mark price. It is a pure function of its inputs.
//
// The hard stop-loss is evaluated first and bypasses trailing logic: a LONG
// closes when price falls to entry*(1-hardStopPct) or below, a SHORT when
// price rises to entry*(1+hardStopPct) or above, both inclusive.
//
// The trailing stop stays inactive until unrealized profit reaches the
// activation threshold. Once active, the water mark only ever moves in the
// favorable direction, and the position closes when price crosses back
// through the mark offset by the trail percentage.
func EvaluateExit(pos domain.Position, price float64, hardStopPct float64) ExitDecision {
	long := pos.Side == domain.SideLong

	// Hard stop-loss, checked unconditionally and first.
	if long && price <= pos.EntryPrice*(1-hardStopPct) {
		return ExitDecision{Close: true, Reason: domain.CloseReasonHardStop}
	}
	if !long && price >= pos.EntryPrice*(1+hardStopPct) {
		return ExitDecision{Close: true, Reason: domain.CloseReasonHardStop}
	}

	t := pos.Trailing
	if !t.Enabled || t.TrailPct <= 0 {
		return ExitDecision{}
	}

	var decision ExitDecision
	mark := t.WaterMark

	if mark == nil {
		// Activation: arm the stop once profit reaches the threshold.
		activated := (long && price >= pos.EntryPrice*(1+t.ActivationPct)) ||
			(!long && price <= pos.EntryPrice*(1-t.ActivationPct))
		if !activated {
			return ExitDecision{}
		}
		p := price
		mark = &p
		decision.WaterMark = mark
	} else if (long && price > *mark) || (!long && price < *mark) {
		// Favorable moves push the mark; adverse moves never pull it back.
		p := price
		mark = &p
		decision.WaterMark = mark
	}

	if long && price <= *mark*(1-t.TrailPct) {
		decision.Close = true
		decision.Reason = domain.CloseReasonTrailingStop
	}
	if !long && price >= *mark*(1+t.TrailPct) {
		decision.Close = true
		decision.Reason = domain.CloseReasonTrailingStop
	}
	return decision
}
