package strategy

import (
	"context"
)

// Observer receives the side outputs of the engine: tick accounting, the
// per-cycle record and halts. Implementations must not block for long; they
// run on the feed and scheduler goroutines.
type Observer interface {
	OnTick(instrument string, outcome TickOutcome)
	OnEvaluation(ctx context.Context, ev Evaluation)
	OnHalt(ctx context.Context, instrument string, cause error)
}
