package signal

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// BuildMetrics assembles the observability record for one evaluated cycle.
// Missing levels are reported as zero.
func BuildMetrics(snap domain.BookSnapshot, res domain.ImbalanceResult, at time.Time) domain.BookMetrics {
	m := domain.BookMetrics{
		Instrument: snap.Instrument,
		BidL1:      levelPrice(snap.Bids, 0),
		BidL2:      levelPrice(snap.Bids, 1),
		AskL1:      levelPrice(snap.Asks, 0),
		AskL2:      levelPrice(snap.Asks, 1),
		Ratio:      res.Ratio,
		Timestamp:  at,
	}
	if mid, ok := snap.MidPrice(); ok {
		m.MidPrice = mid.InexactFloat64()
	}
	return m
}

func levelPrice(levels []domain.PriceLevel, i int) float64 {
	if i >= len(levels) {
		return 0
	}
	return levels[i].Price.InexactFloat64()
}

// Summary renders the top n levels of each side as "[price size] ..." with
// prices in cents and sizes in whole units. Bids are listed worst-first so
// the line reads upward through the spread.
func Summary(snap domain.BookSnapshot, n int) string {
	bids := snap.Bids[:min(n, len(snap.Bids))]
	asks := snap.Asks[:min(n, len(snap.Asks))]

	rev := slices.Clone(bids)
	slices.Reverse(rev)
	return fmt.Sprintf("bids %s asks %s", formatLevels(rev), formatLevels(asks))
}

func formatLevels(levels []domain.PriceLevel) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		parts = append(parts, fmt.Sprintf("[%s %s]", l.Price.StringFixed(2), l.Volume.Round(0).String()))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
