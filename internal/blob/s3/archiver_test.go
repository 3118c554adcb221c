package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func newTestArchiver(w domain.BlobWriter, maxBuffer int) *Archiver {
	a := NewArchiver(w, time.Hour, maxBuffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC) }
	return a
}

func TestArchiverFlushWritesJSONL(t *testing.T) {
	w := &memWriter{}
	a := newTestArchiver(w, 0)

	a.AddSignal(domain.Signal{ID: "s1", Kind: domain.SignalKindPriceSwing, Ticker: "KX-A"})
	a.AddDispatch(domain.DispatchResult{SignalID: "s1", Started: 2})

	n, err := a.Flush(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("flush = %d, %v", n, err)
	}
	if len(w.objects) != 1 {
		t.Fatalf("objects = %d", len(w.objects))
	}

	pathRE := regexp.MustCompile(`^signals/2026/03/01/123045-[0-9a-f-]{36}\.jsonl$`)
	for path, body := range w.objects {
		if !pathRE.MatchString(path) {
			t.Errorf("path = %s", path)
		}
		if w.types[path] != "application/x-ndjson" {
			t.Errorf("content type = %s", w.types[path])
		}
		sc := bufio.NewScanner(bytes.NewReader(body))
		var kinds []string
		for sc.Scan() {
			var rec archiveRecord
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				t.Fatalf("line %q: %v", sc.Text(), err)
			}
			kinds = append(kinds, rec.Type)
		}
		if len(kinds) != 2 || kinds[0] != "signal" || kinds[1] != "dispatch" {
			t.Errorf("kinds = %v", kinds)
		}
	}

	if n, _ := a.Flush(context.Background()); n != 0 {
		t.Errorf("second flush wrote %d records", n)
	}
}

func TestArchiverKeepsRecordsOnFailure(t *testing.T) {
	w := &memWriter{err: errors.New("bucket gone")}
	a := newTestArchiver(w, 0)
	a.AddSignal(domain.Signal{ID: "s1"})

	if _, err := a.Flush(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if a.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.Pending())
	}

	w.err = nil
	if n, err := a.Flush(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry flush = %d, %v", n, err)
	}
}

func TestArchiverBufferIsBounded(t *testing.T) {
	a := newTestArchiver(&memWriter{}, 3)
	for i := 0; i < 5; i++ {
		a.AddSignal(domain.Signal{ID: string(rune('a' + i))})
	}
	if a.Pending() != 3 {
		t.Fatalf("pending = %d", a.Pending())
	}
}

func TestNilArchiverIsNoop(t *testing.T) {
	var a *Archiver
	a.AddSignal(domain.Signal{})
	if n, err := a.Flush(context.Background()); n != 0 || err != nil {
		t.Fatalf("flush = %d, %v", n, err)
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio.local", false, "http://minio.local"},
		{"minio.local:9000", false, "http://minio.local:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := withScheme(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("withScheme(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
