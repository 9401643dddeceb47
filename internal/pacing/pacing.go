// Package pacing produces human-like delays and interaction plans. It is the
// only place the crawler decides how long to wait.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StepKind distinguishes plan steps.
type StepKind int

const (
	StepScroll StepKind = iota
	StepMove
)

// Step is one simulated user action.
type Step struct {
	Kind   StepKind
	DeltaY float64 // scroll distance, negative scrolls back up
	X, Y   float64 // pointer target
	Pause  time.Duration
}

// Viewport bounds the plan.
type Viewport struct {
	Width  int
	Height int
}

// Plan is an ordered list of steps for a session to replay.
type Plan []Step

const (
	minScrollSteps  = 3
	maxScrollSteps  = 7
	scrollJitter    = 50.0
	scrollBackProb  = 0.3
	minPointerMoves = 2
	maxPointerMoves = 5
	minStepPause    = 100 * time.Millisecond
	maxStepPause    = 500 * time.Millisecond
)

// Policy is safe for concurrent use; orchestrators may share one to share
// the request budget.
type Policy struct {
	mu      sync.Mutex
	rng     *rand.Rand
	limiter *rate.Limiter
}

// Option configures a Policy.
type Option func(*Policy)

// WithSeed makes delays and plans reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Policy) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRequestBudget limits navigations to perMinute with the given burst.
// perMinute <= 0 leaves requests unlimited.
func WithRequestBudget(perMinute, burst int) Option {
	return func(p *Policy) {
		if perMinute <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5851f42d4c957f2d)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Delay returns a duration uniformly drawn from [min, max]. Swapped bounds
// are tolerated; equal bounds return min.
func (p *Policy) Delay(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int64N(int64(max-min)+1))
}

// Sleep waits for Delay(min, max) or until ctx is done.
func (p *Policy) Sleep(ctx context.Context, min, max time.Duration) error {
	return SleepContext(ctx, p.Delay(min, max))
}

// Wait blocks until the shared request budget allows one more navigation.
func (p *Policy) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// InteractionPlan builds a scroll-and-pointer plan for one page view.
func (p *Policy) InteractionPlan(vp Viewport) Plan {
	if vp.Width <= 0 {
		vp.Width = 1366
	}
	if vp.Height <= 0 {
		vp.Height = 768
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var plan Plan
	steps := minScrollSteps + p.rng.IntN(maxScrollSteps-minScrollSteps+1)
	base := float64(vp.Height) / float64(steps)
	var forward float64
	for i := 0; i < steps; i++ {
		delta := base + (p.rng.Float64()*2-1)*scrollJitter
		if delta < 1 {
			delta = 1
		}
		forward += delta
		plan = append(plan, Step{
			Kind:   StepScroll,
			DeltaY: delta,
			Pause:  p.pauseLocked(),
		})
	}
	// 回滚最多 steps-1 段，页面始终停在起点以下
	if steps > 1 && p.rng.Float64() < scrollBackProb {
		back := forward * float64(1+p.rng.IntN(steps-1)) / float64(steps)
		plan = append(plan, Step{
			Kind:   StepScroll,
			DeltaY: -back,
			Pause:  p.pauseLocked(),
		})
	}

	moves := minPointerMoves + p.rng.IntN(maxPointerMoves-minPointerMoves+1)
	for i := 0; i < moves; i++ {
		plan = append(plan, Step{
			Kind:  StepMove,
			X:     p.rng.Float64() * float64(vp.Width),
			Y:     p.rng.Float64() * float64(vp.Height),
			Pause: p.pauseLocked(),
		})
	}
	return plan
}

func (p *Policy) pauseLocked() time.Duration {
	return minStepPause + time.Duration(p.rng.Int64N(int64(maxStepPause-minStepPause)+1))
}

// SleepContext waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Counts summarises a plan, mostly for logs and tests.
func (pl Plan) Counts() (scrolls, backScrolls, moves int) {
	for _, s := range pl {
		switch {
		case s.Kind == StepMove:
			moves++
		case s.DeltaY < 0:
			backScrolls++
		default:
			scrolls++
		}
	}
	return
}
