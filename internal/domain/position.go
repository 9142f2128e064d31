package domain

import (
	"fmt"
	"strings"
	"time"
)

// PositionState is the sign of the current holding in an instrument.
type PositionState string

const (
	Flat  PositionState = "flat"
	Long  PositionState = "long"
	Short PositionState = "short"
)

// ParsePositionState parses "flat", "long" or "short" (case-insensitive).
func ParsePositionState(s string) (PositionState, error) {
	switch PositionState(strings.ToLower(strings.TrimSpace(s))) {
	case Flat:
		return Flat, nil
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	default:
		return Flat, fmt.Errorf("unknown position state %q", s)
	}
}

// Action is the target-position instruction handed to execution.
type Action string

const (
	GoFullLong  Action = "go_full_long"
	GoFullShort Action = "go_full_short"
	CloseToFlat Action = "close_to_flat"
	NoOp        Action = "no_op"
)

// TargetWeight returns the portfolio weight the action asks for. NoOp has no
// target and returns ok=false.
func (a Action) TargetWeight() (weight float64, ok bool) {
	switch a {
	case GoFullLong:
		return 1, true
	case GoFullShort:
		return -1, true
	case CloseToFlat:
		return 0, true
	default:
		return 0, false
	}
}

// Decision is the outcome of one evaluation cycle for one instrument.
type Decision struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	Action     Action          `json:"action"`
	From       PositionState   `json:"from"`
	To         PositionState   `json:"to"`
	Imbalance  ImbalanceResult `json:"imbalance"`
	Reason     string          `json:"reason"`
	DecidedAt  time.Time       `json:"decided_at"`
}
