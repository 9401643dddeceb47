package pacing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay_WithinBounds(t *testing.T) {
	p := New(WithSeed(42))
	min, max := 200*time.Millisecond, 900*time.Millisecond
	for i := 0; i < 1000; i++ {
		d := p.Delay(min, max)
		if d < min || d > max {
			t.Fatalf("delay %v outside [%v, %v]", d, min, max)
		}
	}
}

func TestDelay_DegenerateBounds(t *testing.T) {
	p := New(WithSeed(1))
	if d := p.Delay(time.Second, time.Second); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := p.Delay(0, 0); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
	d := p.Delay(2*time.Second, time.Second)
	if d < time.Second || d > 2*time.Second {
		t.Errorf("swapped bounds not tolerated: %v", d)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Sleep(ctx, time.Hour, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancellation")
	}
}

func TestInteractionPlan_Shape(t *testing.T) {
	p := New(WithSeed(7))
	vp := Viewport{Width: 1280, Height: 720}
	sawBack := false
	for i := 0; i < 200; i++ {
		plan := p.InteractionPlan(vp)
		scrolls, back, moves := plan.Counts()
		if scrolls < minScrollSteps || scrolls > maxScrollSteps {
			t.Fatalf("scroll steps %d outside [3, 7]", scrolls)
		}
		if back > 1 {
			t.Fatalf("expected at most one scroll-back, got %d", back)
		}
		if back == 1 {
			sawBack = true
		}
		if moves < minPointerMoves || moves > maxPointerMoves {
			t.Fatalf("pointer moves %d outside [2, 5]", moves)
		}
		for _, s := range plan {
			if s.Kind == StepMove && (s.X < 0 || s.X > 1280 || s.Y < 0 || s.Y > 720) {
				t.Fatalf("pointer move outside viewport: %+v", s)
			}
		}
	}
	if !sawBack {
		t.Error("expected at least one scroll-back across 200 plans")
	}
}

func TestInteractionPlan_NeverScrollsAboveStart(t *testing.T) {
	for _, h := range []int{720, 40, 5} {
		p := New(WithSeed(uint64(h)))
		vp := Viewport{Width: 800, Height: h}
		for i := 0; i < 500; i++ {
			var forward, back float64
			for _, s := range p.InteractionPlan(vp) {
				if s.Kind != StepScroll {
					continue
				}
				if s.DeltaY > 0 {
					forward += s.DeltaY
				} else {
					back -= s.DeltaY
				}
			}
			if back >= forward {
				t.Fatalf("height %d: scrolled back %.1f of %.1f forward", h, back, forward)
			}
		}
	}
}

func TestWait_RequestBudget(t *testing.T) {
	p := New(WithRequestBudget(60, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := p.Wait(ctx); err == nil {
		t.Fatal("second request within a second should exceed the deadline")
	}
}
