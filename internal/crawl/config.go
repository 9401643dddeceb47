package crawl

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jobcrawl_nexus/internal/extract"
)

// Config drives one orchestrator run.
type Config struct {
	Query             extract.Query
	SearchURLTemplate string

	TargetResultCount        int
	MaxProxyRetriesPerPage   int
	MaxConsecutiveEmptyPages int
	CaptchaWaitCeiling       time.Duration
	StrategyPriorityOrder    []string

	// RequireProxy aborts the run when the pool has nothing to hand out;
	// otherwise the session is opened without a proxy.
	RequireProxy bool
	// MaxPages stops the run after that many pages. 0 means no cap.
	MaxPages           int
	RotateProxyPerPage bool

	PageDelayMin   time.Duration
	PageDelayMax   time.Duration
	ActionDelayMin time.Duration
	ActionDelayMax time.Duration
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.TargetResultCount <= 0 {
		errs = append(errs, fmt.Errorf("target result count must be > 0, got %d", c.TargetResultCount))
	}
	if c.MaxProxyRetriesPerPage < 0 {
		errs = append(errs, fmt.Errorf("max proxy retries per page must be >= 0, got %d", c.MaxProxyRetriesPerPage))
	}
	if c.MaxConsecutiveEmptyPages < 1 {
		errs = append(errs, fmt.Errorf("max consecutive empty pages must be >= 1, got %d", c.MaxConsecutiveEmptyPages))
	}
	if c.CaptchaWaitCeiling < 0 {
		errs = append(errs, fmt.Errorf("captcha wait ceiling must not be negative"))
	}
	if len(c.StrategyPriorityOrder) == 0 {
		errs = append(errs, errors.New("strategy priority order is empty"))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max pages must be >= 0, got %d", c.MaxPages))
	}
	if strings.TrimSpace(c.SearchURLTemplate) == "" {
		errs = append(errs, errors.New("search url template is empty"))
	}
	if strings.TrimSpace(c.Query.Keyword) == "" {
		errs = append(errs, errors.New("keyword is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid crawl config: %w", err)
	}
	return nil
}
