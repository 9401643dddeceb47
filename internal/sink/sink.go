// Package sink delivers collected listings and run summaries to files,
// Kafka and Redis.
package sink

import (
	"context"
	"errors"
	"io"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
)

// Header is the column order of the flat outputs (CSV, XLSX).
var Header = []string{
	"Job Title", "Company", "Experience", "Location", "Salary",
	"Skills", "Job Description", "Posted Date", "Job URL", "Job ID",
}

func row(l model.Listing) []string {
	return []string{
		l.Title.String(),
		l.Company.String(),
		l.ExperienceRange.String(),
		l.Location.String(),
		l.Salary.String(),
		l.SkillsText(),
		l.Description.String(),
		l.PostedDate.String(),
		l.SourceURL,
		l.JobID.String(),
	}
}

// Multi fans out to every sink. One failing sink does not stop the others.
type Multi []crawl.Sink

func (m Multi) Emit(ctx context.Context, l model.Listing) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Finalize(ctx context.Context, s crawl.Summary) error {
	var errs []error
	for _, sk := range m {
		if err := sk.Finalize(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
