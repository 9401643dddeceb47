package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/shared/logger"
)

// CSVSink appends one row per listing. Rows are flushed on every emit so a
// killed process still leaves a readable file.
type CSVSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csv sink: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv sink: header: %w", err)
	}
	w.Flush()
	return &CSVSink{path: path, f: f, w: w}, nil
}

func (s *CSVSink) Emit(_ context.Context, l model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("csv sink: closed")
	}
	if err := s.w.Write(row(l)); err != nil {
		return fmt.Errorf("csv sink: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Finalize(_ context.Context, sum crawl.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.Flush()
	}
	l := logger.WithComponent("Sink/CSV")
	l.Info().
		Str("path", s.path).
		Str("keyword", sum.Keyword).
		Int("collected", sum.Collected).
		Msg("Run written to CSV.")
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.f, s.w = nil, nil
	return err
}
