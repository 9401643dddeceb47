package extract

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/logger"
)

// Sleeper paces detail fetches.
type Sleeper interface {
	Sleep(ctx context.Context, min, max time.Duration) error
}

// DetailEnricher wraps a strategy and fills fields the listing page does
// not show (skills, description, posted date) from each job's detail page.
// A failed detail fetch leaves that record as it was.
type DetailEnricher struct {
	inner      Strategy
	rules      FieldRules
	pacer      Sleeper
	delayMin   time.Duration
	delayMax   time.Duration
	maxFetches int
}

func NewDetailEnricher(inner Strategy, rules FieldRules, pacer Sleeper, delayMin, delayMax time.Duration, maxFetches int) *DetailEnricher {
	return &DetailEnricher{
		inner:      inner,
		rules:      rules,
		pacer:      pacer,
		delayMin:   delayMin,
		delayMax:   delayMax,
		maxFetches: maxFetches,
	}
}

func (d *DetailEnricher) Name() string { return d.inner.Name() }

func (d *DetailEnricher) Extract(ctx context.Context, sc *session.Context, page Page) (*Batch, error) {
	batch, err := d.inner.Extract(ctx, sc, page)
	if err != nil || batch == nil || sc == nil || len(d.rules.Fields) == 0 {
		return batch, err
	}

	l := logger.WithComponent("Extract/Detail")
	fetched := 0
	for i, rec := range batch.Records {
		if d.maxFetches > 0 && fetched >= d.maxFetches {
			break
		}
		if ctx.Err() != nil {
			break
		}
		u, ok := rec.Get("url")
		if !ok || !d.missingAny(rec) {
			continue
		}
		if fetched > 0 && d.pacer != nil {
			if err := d.pacer.Sleep(ctx, d.delayMin, d.delayMax); err != nil {
				break
			}
		}
		fetched++
		if err := d.enrich(ctx, sc, rec, u); err != nil {
			l.Warn().Err(err).Int("record", i).Str("url", u).Msg("Detail enrichment failed, keeping listing fields only.")
		}
	}
	return batch, nil
}

func (d *DetailEnricher) missingAny(rec RawRecord) bool {
	for field := range d.rules.Fields {
		if !rec.Has(field) {
			return true
		}
	}
	return false
}

func (d *DetailEnricher) enrich(ctx context.Context, sc *session.Context, rec RawRecord, u string) error {
	resp, err := sc.Fetch(ctx, session.Request{URL: u})
	if err != nil {
		return err
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("parse detail page: %w", err)
	}

	found := make(RawRecord)
	applyFieldRules(doc.Selection, d.rules, found)
	for k, v := range found {
		if !rec.Has(k) {
			rec[k] = v
		}
	}
	return nil
}
