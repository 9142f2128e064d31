package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// LevelView is the read-only part of the book the classifier needs.
type LevelView interface {
	Empty(side domain.Side) bool
	HasLevel(side domain.Side, price decimal.Decimal) bool
}

// Classifier turns raw ticks into order events.
type Classifier struct {
	minQuotePrice decimal.Decimal
}

// NewClassifier returns a Classifier that treats quote ask prices at or
// below minQuotePrice as absent.
func NewClassifier(minQuotePrice decimal.Decimal) *Classifier {
	return &Classifier{minQuotePrice: minQuotePrice}
}

// Classify maps t to at most one order event. ok is false when the tick
// carries no actionable information for the current book.
func (c *Classifier) Classify(t domain.Tick, view LevelView) (ev domain.OrderEvent, ok bool, err error) {
	switch t.Type {
	case domain.TickQuote:
		return c.classifyQuote(t)
	case domain.TickTrade:
		return c.classifyTrade(t, view)
	default:
		return domain.OrderEvent{}, false, fmt.Errorf("book: tick type %q: %w", t.Type, domain.ErrMalformedTick)
	}
}

// classifyQuote emits the ask side when the ask price is above the floor and
// the bid side otherwise. Only one side per quote is ever emitted.
func (c *Classifier) classifyQuote(t domain.Tick) (domain.OrderEvent, bool, error) {
	if t.AskPrice.GreaterThan(c.minQuotePrice) {
		if !t.AskSize.IsPositive() {
			return domain.OrderEvent{}, false, fmt.Errorf("book: quote ask size %s: %w", t.AskSize, domain.ErrMalformedTick)
		}
		return domain.OrderEvent{Price: t.AskPrice, Volume: t.AskSize, Side: domain.Ask}, true, nil
	}
	if !t.BidPrice.IsPositive() || !t.BidSize.IsPositive() {
		return domain.OrderEvent{}, false, fmt.Errorf("book: quote bid %s@%s: %w", t.BidSize, t.BidPrice, domain.ErrMalformedTick)
	}
	return domain.OrderEvent{Price: t.BidPrice, Volume: t.BidSize, Side: domain.Bid}, true, nil
}

// classifyTrade infers the aggressor from which side rests at the print
// price. A print at a resting bid removes bid liquidity and is applied as an
// ask; a print at a resting ask is applied as a bid. Prints between known
// levels are dropped.
func (c *Classifier) classifyTrade(t domain.Tick, view LevelView) (domain.OrderEvent, bool, error) {
	if !t.Price.IsPositive() || !t.Quantity.IsPositive() {
		return domain.OrderEvent{}, false, fmt.Errorf("book: trade %s@%s: %w", t.Quantity, t.Price, domain.ErrMalformedTick)
	}
	if view.Empty(domain.Bid) || view.Empty(domain.Ask) {
		return domain.OrderEvent{}, false, nil
	}
	switch {
	case view.HasLevel(domain.Bid, t.Price):
		return domain.OrderEvent{Price: t.Price, Volume: t.Quantity, Side: domain.Ask}, true, nil
	case view.HasLevel(domain.Ask, t.Price):
		return domain.OrderEvent{Price: t.Price, Volume: t.Quantity, Side: domain.Bid}, true, nil
	default:
		return domain.OrderEvent{}, false, nil
	}
}
