// Package signal turns a consolidated book into a depth-weighted imbalance
// ratio and maps that ratio onto a target position.
package signal

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// ExpWeights returns n weights w[i] = e^(-i*decay). With decay 1 this is the
// reference weighting 1, e^-1, e^-2, ...
func ExpWeights(n int, decay float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Exp(-float64(i) * decay)
	}
	return w
}

// Imbalance computes the weighted imbalance over the top levels of a book.
type Imbalance struct {
	weights []float64
}

// NewImbalance builds an Imbalance over levels levels with exponential decay.
func NewImbalance(levels int, decay float64) (*Imbalance, error) {
	if levels <= 0 {
		return nil, fmt.Errorf("signal: level count must be positive, got %d", levels)
	}
	if decay <= 0 {
		return nil, fmt.Errorf("signal: weight decay must be positive, got %g", decay)
	}
	return NewImbalanceWithWeights(ExpWeights(levels, decay))
}

// NewImbalanceWithWeights uses an explicit weight sequence. Weights must be
// positive and strictly decreasing.
func NewImbalanceWithWeights(weights []float64) (*Imbalance, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("signal: empty weight sequence")
	}
	for i, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("signal: weight[%d]=%g must be positive and finite", i, w)
		}
		if i > 0 && w >= weights[i-1] {
			return nil, fmt.Errorf("signal: weights must decrease, weight[%d]=%g >= weight[%d]=%g", i, w, i-1, weights[i-1])
		}
	}
	return &Imbalance{weights: append([]float64(nil), weights...)}, nil
}

// Levels returns how many levels per side contribute to the ratio.
func (im *Imbalance) Levels() int { return len(im.weights) }

// Compute returns (bid - ask) / (bid + ask) over the weighted top levels.
// A book with no weighted volume on either side yields ErrInvalidSignal.
func (im *Imbalance) Compute(snap domain.BookSnapshot) (domain.ImbalanceResult, error) {
	bid := im.weighted(snap.Bids)
	ask := im.weighted(snap.Asks)
	total := bid + ask
	if total <= 0 {
		return domain.ImbalanceResult{}, fmt.Errorf("signal: %s: %w", snap.Instrument, domain.ErrInvalidSignal)
	}
	ratio := (bid - ask) / total
	return domain.ImbalanceResult{
		Ratio:       max(-1, min(1, ratio)),
		BidWeighted: bid,
		AskWeighted: ask,
	}, nil
}

func (im *Imbalance) weighted(levels []domain.PriceLevel) float64 {
	var sum float64
	for i := 0; i < len(levels) && i < len(im.weights); i++ {
		sum += im.weights[i] * levels[i].Volume.InexactFloat64()
	}
	return sum
}
