package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/shared/logger"
)

var errXLSXClosed = errors.New("xlsx sink: closed")

const (
	listingSheet = "Listings"
	runSheet     = "Runs"
)

// XLSXSink keeps a workbook in memory and saves it after every finished
// run: one sheet of listings, one row per run on the summary sheet.
type XLSXSink struct {
	mu      sync.Mutex
	path    string
	file    *excelize.File
	nextRow int
	nextRun int
}

func NewXLSXSink(path string) (*XLSXSink, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", listingSheet); err != nil {
		return nil, fmt.Errorf("xlsx sink: %w", err)
	}
	if _, err := f.NewSheet(runSheet); err != nil {
		return nil, fmt.Errorf("xlsx sink: %w", err)
	}
	s := &XLSXSink{path: path, file: f, nextRow: 2, nextRun: 2}
	if err := s.writeRow(listingSheet, 1, Header); err != nil {
		return nil, err
	}
	runHeader := []string{"Run ID", "Keyword", "Status", "Reason", "Collected", "Target", "Pages", "Started", "Finished"}
	if err := s.writeRow(runSheet, 1, runHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *XLSXSink) writeRow(sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := s.file.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("xlsx sink: %w", err)
	}
	return nil
}

func (s *XLSXSink) Emit(_ context.Context, l model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errXLSXClosed
	}
	if err := s.writeRow(listingSheet, s.nextRow, row(l)); err != nil {
		return err
	}
	s.nextRow++
	return nil
}

func (s *XLSXSink) Finalize(_ context.Context, sum crawl.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errXLSXClosed
	}

	cell, err := excelize.CoordinatesToCellName(1, s.nextRun)
	if err != nil {
		return err
	}
	runRow := []any{
		sum.RunID, sum.Keyword, string(sum.Status), string(sum.Reason),
		sum.Collected, sum.Target, sum.PagesVisited,
		sum.StartedAt.Format("2006-01-02 15:04:05"), sum.FinishedAt.Format("2006-01-02 15:04:05"),
	}
	if err := s.file.SetSheetRow(runSheet, cell, &runRow); err != nil {
		return fmt.Errorf("xlsx sink: %w", err)
	}
	s.nextRun++

	if err := s.save(); err != nil {
		return err
	}
	l := logger.WithComponent("Sink/XLSX")
	l.Info().Str("path", s.path).Int("rows", s.nextRow-2).Msg("Workbook saved.")
	return nil
}

func (s *XLSXSink) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("xlsx sink: %w", err)
		}
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("xlsx sink: save: %w", err)
	}
	return nil
}

func (s *XLSXSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.save()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
