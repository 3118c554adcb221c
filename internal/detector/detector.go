package detector

import (
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// Config configures a Detector.
type Config struct {
	WindowSize       int
	Thresholds       Thresholds
	ImbalanceEnabled bool
}

// Detector feeds updates through the Tracker and Classifier. Each update can
// yield at most one signal, of the type matching the update's kind.
type Detector struct {
	tracker          *Tracker
	classifier       *Classifier
	imbalanceEnabled bool
	now              func() time.Time
	logger           *slog.Logger
}

// New creates a Detector from cfg.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		tracker:          NewTracker(cfg.WindowSize),
		classifier:       NewClassifier(cfg.Thresholds),
		imbalanceEnabled: cfg.ImbalanceEnabled,
		now:              time.Now,
		logger:           logger.With(slog.String("component", "detector")),
	}
}

// Tracker exposes the underlying statistics tracker.
func (d *Detector) Tracker() *Tracker { return d.tracker }

// Process observes u and returns the signal it produced, or nil. Updates with
// no ticker or an unknown kind are dropped.
func (d *Detector) Process(u domain.MarketUpdate) *domain.Signal {
	ticker := strings.TrimSpace(u.Ticker)
	if ticker == "" {
		return nil
	}
	at := u.ReceivedAt
	if at.IsZero() {
		at = d.now()
	}

	var sig *domain.Signal
	switch u.Kind {
	case domain.UpdateKindPrice:
		prev, cur, ok := d.tracker.ObservePrice(ticker, u.YesBid, u.YesAsk)
		if !ok {
			return nil
		}
		sig = d.classifier.ClassifySwing(ticker, prev, cur, at)

	case domain.UpdateKindTrade:
		window := d.tracker.ObserveTrade(ticker, u.TradeSize)
		if window == nil {
			return nil
		}
		sig = d.classifier.ClassifySpike(ticker, window, at)

	case domain.UpdateKindOrderbook:
		if !d.imbalanceEnabled {
			return nil
		}
		sig = d.classifier.ClassifyImbalance(ticker, u.YesLevels, u.NoLevels, at)

	default:
		d.logger.Debug("dropping update with unknown kind",
			slog.String("kind", string(u.Kind)),
			slog.String("ticker", ticker),
		)
		return nil
	}

	if sig != nil {
		d.logger.Info("signal detected",
			slog.String("signal_id", sig.ID),
			slog.String("kind", string(sig.Kind)),
			slog.String("ticker", ticker),
		)
	}
	return sig
}
