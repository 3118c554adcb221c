package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/server/handler"
)

type stubRelay struct{ signals int }

func (s *stubRelay) HandleSignal(_ context.Context, sig domain.Signal, _ []string) domain.DispatchResult {
	s.signals++
	return domain.DispatchResult{SignalID: sig.ID}
}

func (s *stubRelay) HandleUpdate(context.Context, domain.MarketUpdate) (*domain.Signal, *domain.DispatchResult) {
	return nil, nil
}

type stubStore struct{}

func (stubStore) List(context.Context) ([]domain.TriggerRecord, error) { return nil, nil }

func (stubStore) PollOnce(_ context.Context, token string) (domain.PollResult, error) {
	return domain.PollResult{Token: token, Status: domain.PollRunning}, nil
}

func newTestHandler(apiKey string) (http.Handler, *stubRelay) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := &stubRelay{}
	h := Handlers{
		Health:   handler.NewHealthHandler(),
		Status:   handler.NewStatusHandler("server", time.Now(), nil, stubStore{}, nil, logger),
		Signals:  handler.NewSignalHandler(rl, logger),
		Triggers: handler.NewTriggerHandler(stubStore{}, stubStore{}, logger),
		Updates:  handler.NewUpdateHandler(rl, logger),
	}
	return NewHandler(Config{APIKey: apiKey}, h, nil, logger), rl
}

func TestRoutes(t *testing.T) {
	h, rl := newTestHandler("k")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		auth   bool
		want   int
	}{
		{"health without auth", http.MethodGet, "/api/health", "", false, http.StatusOK},
		{"status requires auth", http.MethodGet, "/api/status", "", false, http.StatusUnauthorized},
		{"status", http.MethodGet, "/api/status", "", true, http.StatusOK},
		{"triggers", http.MethodGet, "/api/triggers", "", true, http.StatusOK},
		{"trigger status", http.MethodGet, "/api/triggers/agent-1/status", "", true, http.StatusOK},
		{"manual signal", http.MethodPost, "/api/signals/trigger", `{"signal":{"kind":"volume_spike","ticker":"T","spike":{"volume":100,"average_volume":5,"multiplier":20,"samples":10}}}`, true, http.StatusOK},
		{"update ingest", http.MethodPost, "/api/updates", `{}`, true, http.StatusAccepted},
		{"agent routes absent without postgres", http.MethodGet, "/api/audit", "", true, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/triggers", "", true, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.auth {
				req.Header.Set("Authorization", "Bearer k")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if rl.signals != 1 {
		t.Fatalf("relay saw %d signals, want 1", rl.signals)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{Port: 0}, Handlers{
		Health:   handler.NewHealthHandler(),
		Status:   handler.NewStatusHandler("server", time.Now(), nil, stubStore{}, nil, logger),
		Signals:  handler.NewSignalHandler(&stubRelay{}, logger),
		Triggers: handler.NewTriggerHandler(stubStore{}, stubStore{}, logger),
		Updates:  handler.NewUpdateHandler(&stubRelay{}, logger),
	}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
