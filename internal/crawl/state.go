package crawl

import (
	"context"
	"time"

	"jobcrawl_nexus/internal/model"
)

// Phase is where the state machine currently is.
type Phase string

const (
	PhaseInit        Phase = "Init"
	PhaseAcquiring   Phase = "Acquiring"
	PhaseFetching    Phase = "Fetching"
	PhaseClassifying Phase = "Classifying"
	PhaseExtracting  Phase = "Extracting"
	PhasePaginating  Phase = "Paginating"
	PhaseCompleted   Phase = "Completed"
	PhaseAborted     Phase = "Aborted"
)

type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusAborted   Status = "Aborted"
)

// Reason explains why a run ended.
type Reason string

const (
	ReasonTargetReached     Reason = "TargetReached"
	ReasonEmptyPageLimit    Reason = "EmptyPageLimit"
	ReasonPageLimit         Reason = "PageLimit"
	ReasonResourceExhausted Reason = "ResourceExhausted"
	ReasonPersistentBlock   Reason = "PersistentBlock"
	ReasonCancelled         Reason = "Cancelled"
)

// State is owned by the orchestrator. Collected only grows and never
// exceeds TargetCount.
type State struct {
	TargetCount         int
	Collected           []model.Listing
	CurrentPageIndex    int
	StrategyInUse       string
	ConsecutiveFailures int
	PagesVisited        int
	Phase               Phase
}

// Progress is a point-in-time copy of State for observers.
type Progress struct {
	RunID               string `json:"run_id"`
	Keyword             string `json:"keyword"`
	Phase               Phase  `json:"phase"`
	Collected           int    `json:"collected"`
	Target              int    `json:"target"`
	CurrentPage         int    `json:"current_page"`
	PagesVisited        int    `json:"pages_visited"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Strategy            string `json:"strategy"`
}

// Summary is handed to Sink.Finalize once per run.
type Summary struct {
	RunID          string         `json:"run_id"`
	Keyword        string         `json:"keyword"`
	Status         Status         `json:"status"`
	Reason         Reason         `json:"reason"`
	Collected      int            `json:"collected"`
	Target         int            `json:"target"`
	PagesVisited   int            `json:"pages_visited"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	StrategyCounts map[string]int `json:"strategy_counts"`
}

func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Result is what Run returns, always non-nil.
type Result struct {
	Summary  Summary
	Listings []model.Listing
}

// Sink receives accepted listings as they are collected, then the summary.
type Sink interface {
	Emit(ctx context.Context, l model.Listing) error
	Finalize(ctx context.Context, s Summary) error
}
