package detector

import (
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// ClassifyImbalance compares total resting depth on the yes side against the
// no side. It emits an orderbook_imbalance signal when yes/no is at least
// ImbalanceRatio (direction "yes") or at most its inverse (direction "no").
// A book with an empty side yields nil.
func (c *Classifier) ClassifyImbalance(ticker string, yes, no []domain.BookLevel, at time.Time) *domain.Signal {
	yesDepth := domain.Depth(yes)
	noDepth := domain.Depth(no)
	if yesDepth <= 0 || noDepth <= 0 {
		return nil
	}

	ratio := yesDepth / noDepth
	var direction string
	switch {
	case ratio+epsilon >= c.th.ImbalanceRatio:
		direction = "yes"
	case ratio <= 1/c.th.ImbalanceRatio+epsilon:
		direction = "no"
	default:
		return nil
	}

	return &domain.Signal{
		ID:         uuid.NewString(),
		Kind:       domain.SignalKindOrderbookImbalance,
		Ticker:     ticker,
		DetectedAt: at,
		Imbalance: &domain.ImbalanceData{
			YesDepth:  yesDepth,
			NoDepth:   noDepth,
			Ratio:     ratio,
			Direction: direction,
		},
	}
}
