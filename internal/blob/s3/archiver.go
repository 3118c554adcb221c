package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

const (
	// DefaultFlushInterval is how often Run uploads buffered records.
	DefaultFlushInterval = 5 * time.Minute
	// DefaultMaxBuffer caps buffered records; the oldest are dropped beyond it.
	DefaultMaxBuffer = 10000

	archiveContentType = "application/x-ndjson"
)

// archiveRecord is one JSONL line.
type archiveRecord struct {
	Type     string                 `json:"type"`
	At       time.Time              `json:"at"`
	Signal   *domain.Signal         `json:"signal,omitempty"`
	Dispatch *domain.DispatchResult `json:"dispatch,omitempty"`
}

// Archiver buffers signals and dispatch results and writes them as JSONL
// batches under signals/YYYY/MM/DD/. A nil *Archiver ignores everything.
type Archiver struct {
	writer    domain.BlobWriter
	interval  time.Duration
	maxBuffer int
	now       func() time.Time
	logger    *slog.Logger

	mu  sync.Mutex
	buf []archiveRecord
}

// NewArchiver creates an Archiver that uploads through writer.
func NewArchiver(writer domain.BlobWriter, interval time.Duration, maxBuffer int, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Archiver{
		writer:    writer,
		interval:  interval,
		maxBuffer: maxBuffer,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// AddSignal buffers a detected signal.
func (a *Archiver) AddSignal(sig domain.Signal) {
	if a == nil {
		return
	}
	a.add(archiveRecord{Type: "signal", At: a.now().UTC(), Signal: &sig})
}

// AddDispatch buffers a dispatch result.
func (a *Archiver) AddDispatch(res domain.DispatchResult) {
	if a == nil {
		return
	}
	a.add(archiveRecord{Type: "dispatch", At: a.now().UTC(), Dispatch: &res})
}

func (a *Archiver) add(rec archiveRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, rec)
	if over := len(a.buf) - a.maxBuffer; over > 0 {
		a.buf = append(a.buf[:0:0], a.buf[over:]...)
	}
}

// Pending returns the number of buffered records.
func (a *Archiver) Pending() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Flush uploads every buffered record as one object and returns the count.
// On failure the records are kept for the next flush.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	if a == nil {
		return 0, nil
	}
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	data, err := marshalJSONL(batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal archive batch: %w", err)
	}
	path := archivePath(a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), archiveContentType); err != nil {
		a.mu.Lock()
		a.buf = append(batch, a.buf...)
		if over := len(a.buf) - a.maxBuffer; over > 0 {
			a.buf = a.buf[over:]
		}
		a.mu.Unlock()
		return 0, fmt.Errorf("s3blob: archive batch: %w", err)
	}

	a.logger.Info("archive flushed", slog.String("path", path), slog.Int("records", len(batch)))
	return len(batch), nil
}

// Run flushes on every interval and once more on shutdown.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath returns the object key for a batch written at t, for example
// signals/2026/03/01/120000-<uuid>.jsonl.
func archivePath(t time.Time) string {
	return fmt.Sprintf("signals/%s-%s.jsonl", t.Format("2006/01/02/150405"), uuid.NewString())
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
