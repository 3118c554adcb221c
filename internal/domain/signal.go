package domain

import (
	"fmt"
	"time"
)

// SignalKind identifies which detector produced a signal.
type SignalKind string

const (
	SignalKindPriceSwing         SignalKind = "price_swing"
	SignalKindVolumeSpike        SignalKind = "volume_spike"
	SignalKindOrderbookImbalance SignalKind = "orderbook_imbalance"
)

// Signal describes a detected market condition. Exactly one of the payload
// pointers is set, matching Kind. Signals are immutable once emitted.
type Signal struct {
	ID         string     `json:"id"`
	Kind       SignalKind `json:"kind"`
	Ticker     string     `json:"ticker"`
	DetectedAt time.Time  `json:"detected_at"`

	Swing     *SwingData     `json:"swing,omitempty"`
	Spike     *SpikeData     `json:"spike,omitempty"`
	Imbalance *ImbalanceData `json:"imbalance,omitempty"`
}

// SwingData is the payload of a price_swing signal. ChangePercent is a signed
// fraction relative to PreviousPrice (0.15 means +15%).
type SwingData struct {
	PreviousPrice float64 `json:"previous_price"`
	CurrentPrice  float64 `json:"current_price"`
	ChangePercent float64 `json:"change_percent"`
	Direction     string  `json:"direction"` // "up" or "down"
}

// SpikeData is the payload of a volume_spike signal.
type SpikeData struct {
	Volume        float64 `json:"volume"`
	AverageVolume float64 `json:"average_volume"`
	Multiplier    float64 `json:"multiplier"`
	Samples       int     `json:"samples"`
}

// ImbalanceData is the payload of an orderbook_imbalance signal. Ratio is
// yes depth over no depth.
type ImbalanceData struct {
	YesDepth  float64 `json:"yes_depth"`
	NoDepth   float64 `json:"no_depth"`
	Ratio     float64 `json:"ratio"`
	Direction string  `json:"direction"` // "yes" or "no"
}

// Validate checks that the signal carries an id, a ticker and the payload
// matching its kind.
func (s Signal) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("%w: missing ticker", ErrInvalidSignal)
	}
	switch s.Kind {
	case SignalKindPriceSwing:
		if s.Swing == nil {
			return fmt.Errorf("%w: %s without swing payload", ErrInvalidSignal, s.Kind)
		}
	case SignalKindVolumeSpike:
		if s.Spike == nil {
			return fmt.Errorf("%w: %s without spike payload", ErrInvalidSignal, s.Kind)
		}
	case SignalKindOrderbookImbalance:
		if s.Imbalance == nil {
			return fmt.Errorf("%w: %s without imbalance payload", ErrInvalidSignal, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s.Kind)
	}
	return nil
}

// Summary renders a one-line human description used in notifications.
func (s Signal) Summary() string {
	switch {
	case s.Swing != nil:
		return fmt.Sprintf("%s price swing %s %.2f%% (%.4f -> %.4f)",
			s.Ticker, s.Swing.Direction, s.Swing.ChangePercent*100, s.Swing.PreviousPrice, s.Swing.CurrentPrice)
	case s.Spike != nil:
		return fmt.Sprintf("%s volume spike %.0f (%.1fx avg %.2f)",
			s.Ticker, s.Spike.Volume, s.Spike.Multiplier, s.Spike.AverageVolume)
	case s.Imbalance != nil:
		return fmt.Sprintf("%s orderbook imbalance toward %s (ratio %.2f)",
			s.Ticker, s.Imbalance.Direction, s.Imbalance.Ratio)
	default:
		return fmt.Sprintf("%s %s", s.Ticker, s.Kind)
	}
}
