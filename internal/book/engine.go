package book

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// ApplyResult reports where the volume of one event went. Consumed plus
// Rested always equals the event volume.
type ApplyResult struct {
	Consumed decimal.Decimal
	Rested   decimal.Decimal
}

// Engine owns the bid and ask ledgers of one instrument. It is not safe for
// concurrent use; callers serialise Apply and Snapshot.
type Engine struct {
	instrument string
	bids       *Ledger
	asks       *Ledger
}

// NewEngine creates an empty book for instrument.
func NewEngine(instrument string) *Engine {
	return &Engine{
		instrument: instrument,
		bids:       NewLedger(domain.Bid),
		asks:       NewLedger(domain.Ask),
	}
}

// Instrument returns the instrument the book tracks.
func (e *Engine) Instrument() string { return e.instrument }

// Apply crosses ev against the opposite ledger and rests whatever volume is
// left on ev's own side at ev's price.
func (e *Engine) Apply(ev domain.OrderEvent) (ApplyResult, error) {
	res := ApplyResult{Consumed: decimal.Zero, Rested: decimal.Zero}
	if !ev.Volume.IsPositive() || !ev.Price.IsPositive() {
		return res, fmt.Errorf("book: apply %s %s@%s: %w", ev.Side, ev.Volume, ev.Price, domain.ErrMalformedTick)
	}

	own, opp := e.ledger(ev.Side), e.ledger(ev.Side.Opposite())
	remaining := ev.Volume

	for remaining.IsPositive() {
		best, ok := opp.PeekBest()
		if !ok || !crosses(ev.Side, ev.Price, best.Price) {
			break
		}
		opp.TakeBest()
		if !best.Volume.IsPositive() {
			return res, fmt.Errorf("book: %s level %s holds %s: %w", opp.Side(), best.Price, best.Volume, domain.ErrCrossingUnderflow)
		}
		if best.Volume.GreaterThan(remaining) {
			opp.Restore(best.Price, best.Volume.Sub(remaining))
			res.Consumed = res.Consumed.Add(remaining)
			remaining = decimal.Zero
		} else {
			res.Consumed = res.Consumed.Add(best.Volume)
			remaining = remaining.Sub(best.Volume)
		}
	}

	if remaining.IsNegative() {
		return res, fmt.Errorf("book: remaining volume %s: %w", remaining, domain.ErrCrossingUnderflow)
	}
	if remaining.IsPositive() {
		own.Upsert(ev.Price, remaining)
		res.Rested = remaining
	}
	if !res.Consumed.Add(res.Rested).Equal(ev.Volume) {
		return res, fmt.Errorf("book: consumed %s + rested %s != %s: %w", res.Consumed, res.Rested, ev.Volume, domain.ErrCrossingUnderflow)
	}
	return res, nil
}

// Snapshot returns the consolidated book stamped with ts.
func (e *Engine) Snapshot(ts time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		Instrument: e.instrument,
		Bids:       e.bids.Consolidated(),
		Asks:       e.asks.Consolidated(),
		Timestamp:  ts,
	}
}

// Reset clears both ledgers, e.g. on session rollover.
func (e *Engine) Reset() {
	e.bids.Reset()
	e.asks.Reset()
}

// Empty reports whether side has no resting levels.
func (e *Engine) Empty(side domain.Side) bool {
	return e.ledger(side).Len() == 0
}

// HasLevel reports whether side rests volume at exactly price.
func (e *Engine) HasLevel(side domain.Side, price decimal.Decimal) bool {
	return e.ledger(side).Has(price)
}

// Depth returns the level count of each side.
func (e *Engine) Depth() (bids, asks int) {
	return e.bids.Len(), e.asks.Len()
}

func (e *Engine) ledger(side domain.Side) *Ledger {
	if side == domain.Bid {
		return e.bids
	}
	return e.asks
}

// crosses reports whether an incoming order on side at price can take a
// resting opposite level at restingPrice.
func crosses(side domain.Side, price, restingPrice decimal.Decimal) bool {
	if side == domain.Bid {
		return restingPrice.LessThanOrEqual(price)
	}
	return restingPrice.GreaterThanOrEqual(price)
}
