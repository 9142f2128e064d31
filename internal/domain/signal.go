package domain

import "time"

// ImbalanceResult is the depth-weighted order imbalance of one snapshot.
type ImbalanceResult struct {
	Ratio       float64 `json:"ratio"`
	BidWeighted float64 `json:"bid_weighted"`
	AskWeighted float64 `json:"ask_weighted"`
}

// BookMetrics is the per-cycle observability record: the two best levels per
// side, the mid price and the imbalance ratio.
type BookMetrics struct {
	Instrument string    `json:"instrument"`
	BidL1      float64   `json:"bid_l1"`
	BidL2      float64   `json:"bid_l2"`
	AskL1      float64   `json:"ask_l1"`
	AskL2      float64   `json:"ask_l2"`
	MidPrice   float64   `json:"mid_price"`
	Ratio      float64   `json:"ratio"`
	Timestamp  time.Time `json:"timestamp"`
}
