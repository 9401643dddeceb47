package extract

import (
	"context"
	"fmt"
	"strings"

	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/logger"
)

// Attempt records how one strategy fared on one page.
type Attempt struct {
	Strategy string
	Records  int
	Titled   int
	Err      error
}

// Outcome is the chain result for one page. Used is empty when every
// strategy came up short.
type Outcome struct {
	Records  []RawRecord
	Used     string
	Hint     *PaginationHint
	Attempts []Attempt
}

// Chain runs strategies in a fixed priority order and stops at the first
// one that yields at least one titled record.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Names lists strategies in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run never returns an error: failures of individual strategies fall
// through to the next one and are reported in Attempts.
func (c *Chain) Run(ctx context.Context, sc *session.Context, page Page) Outcome {
	l := logger.WithComponent("Extract/Chain")
	var out Outcome

	batch, winner, ok := FirstMatch(c.strategies, func(s Strategy) (*Batch, bool) {
		if ctx.Err() != nil {
			return nil, false
		}
		b, err := s.Extract(ctx, sc, page)
		a := Attempt{Strategy: s.Name(), Err: err}
		if b != nil {
			a.Records = len(b.Records)
			for _, r := range b.Records {
				if r.Titled() {
					a.Titled++
				}
			}
		}
		out.Attempts = append(out.Attempts, a)

		if err != nil {
			l.Debug().Err(err).Str("strategy", s.Name()).Int("page", page.Index).Msg("Strategy failed, falling back.")
			return nil, false
		}
		if a.Titled == 0 {
			l.Debug().Str("strategy", s.Name()).Int("page", page.Index).Int("records", a.Records).Msg("Strategy produced no titled records, falling back.")
			return nil, false
		}
		return b, true
	})
	if !ok {
		return out
	}

	out.Records = batch.Records
	out.Hint = batch.Hint
	out.Used = winner.Name()
	return out
}

// Select orders the available strategies by name. Unknown names are an
// error so a typo in configuration does not silently disable a strategy.
func Select(order []string, available ...Strategy) ([]Strategy, error) {
	byName := make(map[string]Strategy, len(available))
	for _, s := range available {
		byName[s.Name()] = s
	}
	var out []Strategy
	seen := make(map[string]bool)
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown extraction strategy %q", name)
		}
		seen[name] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no extraction strategy selected")
	}
	return out, nil
}
