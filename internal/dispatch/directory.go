package dispatch

import (
	"context"
	"strings"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// StaticDirectory is a RecipientDirectory built from configuration. Every
// listed recipient is treated as holding every ticker unless a per-ticker
// list is given.
type StaticDirectory struct {
	all      []string
	byTicker map[string][]string
}

// NewStaticDirectory creates a StaticDirectory. all is returned for tickers
// without an explicit entry in byTicker.
func NewStaticDirectory(all []string, byTicker map[string][]string) *StaticDirectory {
	m := make(map[string][]string, len(byTicker))
	for k, v := range byTicker {
		m[strings.ToUpper(k)] = append([]string(nil), v...)
	}
	return &StaticDirectory{all: append([]string(nil), all...), byTicker: m}
}

// HoldersOf returns the configured recipients for ticker.
func (s *StaticDirectory) HoldersOf(_ context.Context, ticker string) ([]string, error) {
	if ids, ok := s.byTicker[strings.ToUpper(ticker)]; ok {
		return append([]string(nil), ids...), nil
	}
	return append([]string(nil), s.all...), nil
}

var _ domain.RecipientDirectory = (*StaticDirectory)(nil)
