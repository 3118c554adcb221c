package detector

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

const (
	defaultSwingThreshold  = 0.10
	defaultSpikeMultiplier = 10.0
	defaultMinHistory      = 10
	defaultImbalanceRatio  = 3.0

	// epsilon absorbs float noise so a move of exactly the threshold fires.
	epsilon = 1e-9
)

// Thresholds configures the classifier. Zero values fall back to defaults.
type Thresholds struct {
	// SwingThreshold is the minimum |cur-prev|/prev fraction for a swing.
	SwingThreshold float64
	// SpikeMultiplier is the minimum newest/average(others) ratio for a spike.
	SpikeMultiplier float64
	// MinHistory is the number of prior trades required before a spike can fire.
	MinHistory int
	// ImbalanceRatio is the yes/no depth ratio (or its inverse) for an imbalance.
	ImbalanceRatio float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.SwingThreshold <= 0 {
		t.SwingThreshold = defaultSwingThreshold
	}
	if t.SpikeMultiplier <= 0 {
		t.SpikeMultiplier = defaultSpikeMultiplier
	}
	if t.MinHistory <= 0 {
		t.MinHistory = defaultMinHistory
	}
	if t.ImbalanceRatio <= 1 {
		t.ImbalanceRatio = defaultImbalanceRatio
	}
	return t
}

// Classifier applies fixed thresholds to tracker output. It holds no state.
type Classifier struct {
	th Thresholds
}

// NewClassifier creates a Classifier with th, filling in defaults.
func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{th: th.withDefaults()}
}

// Thresholds returns the effective thresholds.
func (c *Classifier) Thresholds() Thresholds { return c.th }

// ClassifySwing returns a price_swing signal when the move from prev to cur
// is at least the swing threshold relative to prev. The older value is always
// the denominator, so the measure is not symmetric between up and down moves.
func (c *Classifier) ClassifySwing(ticker string, prev, cur float64, at time.Time) *domain.Signal {
	if prev <= 0 || !finite(prev) || !finite(cur) {
		return nil
	}
	change := (cur - prev) / prev
	if math.Abs(change)+epsilon < c.th.SwingThreshold {
		return nil
	}

	direction := "up"
	if change < 0 {
		direction = "down"
	}
	return &domain.Signal{
		ID:         uuid.NewString(),
		Kind:       domain.SignalKindPriceSwing,
		Ticker:     ticker,
		DetectedAt: at,
		Swing: &domain.SwingData{
			PreviousPrice: prev,
			CurrentPrice:  cur,
			ChangePercent: change,
			Direction:     direction,
		},
	}
}

// ClassifySpike inspects a trade-size window (newest entry last) and returns a
// volume_spike signal when the newest size is at least SpikeMultiplier times
// the mean of every other entry. At least MinHistory prior entries are needed.
func (c *Classifier) ClassifySpike(ticker string, window []float64, at time.Time) *domain.Signal {
	prior := len(window) - 1
	if prior < c.th.MinHistory {
		return nil
	}

	newest := window[prior]
	var sum float64
	for _, v := range window[:prior] {
		sum += v
	}
	avg := sum / float64(prior)
	if avg <= 0 {
		return nil
	}

	multiplier := newest / avg
	if multiplier+epsilon < c.th.SpikeMultiplier {
		return nil
	}
	return &domain.Signal{
		ID:         uuid.NewString(),
		Kind:       domain.SignalKindVolumeSpike,
		Ticker:     ticker,
		DetectedAt: at,
		Spike: &domain.SpikeData{
			Volume:        newest,
			AverageVolume: avg,
			Multiplier:    multiplier,
			Samples:       prior,
		},
	}
}
