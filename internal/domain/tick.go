package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickType distinguishes trade prints from top-of-book quotes.
type TickType string

const (
	TickTrade TickType = "trade"
	TickQuote TickType = "quote"
)

// Tick is one raw record from the market data feed. Trade ticks carry Price
// and Quantity; quote ticks carry the bid and ask price/size pairs.
type Tick struct {
	Instrument string          `json:"instrument"`
	Type       TickType        `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	BidSize    decimal.Decimal `json:"bid_size"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	AskSize    decimal.Decimal `json:"ask_size"`
	Time       time.Time       `json:"time"`
}
