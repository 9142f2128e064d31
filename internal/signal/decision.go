package signal

import (
	"fmt"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Decide is the pure transition function. A ratio beyond the threshold in
// the direction opposite the current holding only flattens; reversing takes
// a second confirming cycle.
func Decide(ratio, threshold float64, state domain.PositionState) (domain.Action, domain.PositionState) {
	switch {
	case ratio > threshold:
		if state == domain.Short {
			return domain.CloseToFlat, domain.Flat
		}
		return domain.GoFullLong, domain.Long
	case ratio < -threshold:
		if state == domain.Long {
			return domain.CloseToFlat, domain.Flat
		}
		return domain.GoFullShort, domain.Short
	default:
		return domain.NoOp, state
	}
}

// Decider holds the position state of one instrument between cycles.
type Decider struct {
	threshold float64
	state     domain.PositionState
}

// NewDecider returns a Decider starting Flat.
func NewDecider(threshold float64) (*Decider, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("signal: threshold must be positive, got %g", threshold)
	}
	return &Decider{threshold: threshold, state: domain.Flat}, nil
}

// Threshold returns the configured imbalance threshold.
func (d *Decider) Threshold() float64 { return d.threshold }

// State returns the current position state.
func (d *Decider) State() domain.PositionState { return d.state }

// Seed overwrites the state with the holding reported by execution.
func (d *Decider) Seed(state domain.PositionState) { d.state = state }

// Decide applies ratio and advances the state.
func (d *Decider) Decide(ratio float64) (domain.Action, domain.PositionState) {
	action, next := Decide(ratio, d.threshold, d.state)
	d.state = next
	return action, next
}

// Reason describes a transition the way the strategy log reports it.
func Reason(action domain.Action, from domain.PositionState, ratio, threshold float64) string {
	switch {
	case action == domain.GoFullLong:
		return fmt.Sprintf("imbalance ratio %.4f exceeds threshold (%g), buying full position", ratio, threshold)
	case action == domain.GoFullShort:
		return fmt.Sprintf("imbalance ratio %.4f below negative threshold (%g), selling full position", ratio, -threshold)
	case action == domain.CloseToFlat && from == domain.Short:
		return fmt.Sprintf("imbalance ratio %.4f exceeds threshold but position is short, closing short", ratio)
	case action == domain.CloseToFlat && from == domain.Long:
		return fmt.Sprintf("imbalance ratio %.4f below threshold but position is long, closing long", ratio)
	default:
		return fmt.Sprintf("imbalance ratio %.4f within threshold range, no action taken", ratio)
	}
}
