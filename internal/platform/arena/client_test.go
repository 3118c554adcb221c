package arena

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/arenarelay/internal/crypto"
	"github.com/alanyoungcy/arenarelay/internal/domain"
)

func TestStartWorkSendsRequest(t *testing.T) {
	var got domain.TriggerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(Config{StartURL: srv.URL, Secret: "s3cret"})
	req := domain.TriggerRequest{
		Token:       domain.TriggerToken("agent-1"),
		RecipientID: "agent-1",
		Signal:      domain.Signal{ID: "sig-1", Kind: domain.SignalKindVolumeSpike, Ticker: "KX-A"},
	}
	if err := c.StartWork(context.Background(), req); err != nil {
		t.Fatalf("start work: %v", err)
	}
	if auth != "Bearer s3cret" {
		t.Errorf("auth = %q", auth)
	}
	if got.Token != "signals:agent-1" || got.Signal.ID != "sig-1" {
		t.Errorf("request = %+v", got)
	}
}

func TestStartWorkErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, nil},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewClient(Config{StartURL: srv.URL}).StartWork(context.Background(), domain.TriggerRequest{RecipientID: "a"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartWorkNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewClient(Config{StartURL: url, Timeout: time.Second}).StartWork(context.Background(), domain.TriggerRequest{}); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestHasResultSince(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("since") != since.Format(time.RFC3339Nano) {
			t.Errorf("since = %q", r.URL.Query().Get("since"))
		}
		switch r.URL.Query().Get("recipient_id") {
		case "done":
			_, _ = w.Write([]byte(`[{"id":1,"action":"buy"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{ResultsURL: srv.URL + "/decisions"})
	ok, err := c.HasResultSince(context.Background(), "done", since)
	if err != nil || !ok {
		t.Fatalf("done = %v, %v", ok, err)
	}
	ok, err = c.HasResultSince(context.Background(), "pending", since)
	if err != nil || ok {
		t.Fatalf("pending = %v, %v", ok, err)
	}
}

func TestHasResultSinceBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(Config{ResultsURL: srv.URL}).HasResultSince(context.Background(), "a", time.Now()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestStartWorkSignsRequest(t *testing.T) {
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified = crypto.Verify("hook-key",
			r.Header.Get(crypto.HeaderTimestamp), r.Method, r.URL.Path, body,
			r.Header.Get(crypto.HeaderSignature))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{StartURL: srv.URL + "/api/agents/start", SigningSecret: "hook-key"})
	req := domain.TriggerRequest{Token: domain.TriggerToken("a"), RecipientID: "a"}
	if err := c.StartWork(context.Background(), req); err != nil {
		t.Fatalf("start work: %v", err)
	}
	if !verified {
		t.Fatal("receiver could not verify the request signature")
	}
}

func TestCheckStatusTruncatesOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes then a 3-byte rune straddling the 200-byte cap.
	body := strings.Repeat("a", 199) + "€€"
	err := checkStatus(http.StatusBadGateway, []byte(body))
	if err == nil {
		t.Fatal("checkStatus(502) = nil")
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error is not valid UTF-8: %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), strings.Repeat("a", 199)) {
		t.Fatalf("error = %q, want body cut before the partial rune", err.Error())
	}

	if got := truncate("héllo", 2); got != "h" {
		t.Fatalf("truncate = %q, want %q", got, "h")
	}
	if got := truncate("short", 200); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
