// Package archive periodically exports newly appended events as JSONL to an
// object store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// DefaultBatchSize bounds the events written to one object.
const DefaultBatchSize = 1000

// Source lists events in id order.
type Source interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)
}

// Destination is the interface for an archive target.
type Destination interface {
	// Write stores the JSONL payload under key.
	Write(ctx context.Context, key string, data []byte) error
}

// header is the first JSONL record of every archived object.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	FirstID    int64     `json:"first_id"`
	LastID     int64     `json:"last_id"`
	EventCount int       `json:"event_count"`
}

type record struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// EncodeJSONL writes a header followed by one record per event to buf.
func EncodeJSONL(buf *bytes.Buffer, events []*model.Event, now time.Time) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	h := header{Version: "1", Type: "header", Timestamp: now.UTC(), EventCount: len(events)}
	if len(events) > 0 {
		h.FirstID, h.LastID = events[0].ID, events[len(events)-1].ID
	}
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}
	}
	return nil
}

// ObjectKey names the object holding events first..last. Keys sort in id
// order, and re-exporting the same range overwrites the same object.
func ObjectKey(prefix string, first, last int64) string {
	return path.Join(prefix, fmt.Sprintf("%020d-%020d.jsonl", first, last))
}

// ParseObjectKey returns the id range encoded in an object key produced by
// ObjectKey.
func ParseObjectKey(key string) (first, last int64, ok bool) {
	base := strings.TrimSuffix(path.Base(key), ".jsonl")
	lo, hi, found := strings.Cut(base, "-")
	if !found || base == path.Base(key) {
		return 0, 0, false
	}
	first, err1 := strconv.ParseInt(lo, 10, 64)
	last, err2 := strconv.ParseInt(hi, 10, 64)
	if err1 != nil || err2 != nil || first > last {
		return 0, 0, false
	}
	return first, last, true
}

// Config configures a Scheduler.
type Config struct {
	Interval  time.Duration
	Prefix    string
	BatchSize int // default DefaultBatchSize
	// After is the id of the last event already archived.
	After  int64
	Logger *slog.Logger
	Now    func() time.Time
}

// Scheduler runs periodic exports of events appended since the last run.
// The cursor only moves forward once every destination accepted a batch.
type Scheduler struct {
	src          Source
	destinations []Destination
	cfg          Config
	logger       *slog.Logger

	mu     sync.Mutex
	cursor int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations.
func NewScheduler(src Source, destinations []Destination, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		src:          src,
		destinations: destinations,
		cfg:          cfg,
		logger:       logger.With("component", "archive"),
		cursor:       cfg.After,
	}
}

// Cursor returns the id of the last archived event.
func (s *Scheduler) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.exportLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exportLogged(ctx)
		}
	}
}

func (s *Scheduler) exportLogged(ctx context.Context) {
	n, err := s.ExportOnce(ctx)
	if err != nil {
		s.logger.Error("archive export failed", "cursor", s.Cursor(), "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("archive completed", "events", n, "cursor", s.Cursor())
	}
}

// ExportOnce drains every event after the cursor in batches and returns the
// number archived. It stops at the first failing batch, leaving the cursor
// at the last fully written one.
func (s *Scheduler) ExportOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for {
		events, err := s.src.ListAfter(ctx, s.cursor, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list events after %d: %w", s.cursor, err)
		}
		if len(events) == 0 {
			return total, nil
		}

		var buf bytes.Buffer
		if err := EncodeJSONL(&buf, events, s.cfg.Now()); err != nil {
			return total, err
		}
		first, last := events[0].ID, events[len(events)-1].ID
		key := ObjectKey(s.cfg.Prefix, first, last)
		for i, dest := range s.destinations {
			if err := dest.Write(ctx, key, buf.Bytes()); err != nil {
				return total, fmt.Errorf("destination %d write %s: %w", i, key, err)
			}
		}

		s.cursor = last
		total += len(events)
		if len(events) < s.cfg.BatchSize {
			return total, nil
		}
	}
}
