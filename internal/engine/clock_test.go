// ABOUTME: Tests for the shared playback clock
// ABOUTME: Tests start, stop, reset, scheduled starts and rate changes
package engine

import (
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClockAdvancesAtRate(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(ft.Now)

	if c.Running() || c.Position() != 0 {
		t.Fatal("expected stopped clock at 0")
	}

	c.Start(ft.Now())
	ft.Advance(time.Second)
	if !approx(c.Position(), 1) {
		t.Errorf("expected 1s, got %v", c.Position())
	}

	c.SetRate(2)
	ft.Advance(time.Second)
	if !approx(c.Position(), 3) {
		t.Errorf("expected 3s after rate change, got %v", c.Position())
	}

	c.Stop()
	ft.Advance(time.Second)
	if !approx(c.Position(), 3) {
		t.Errorf("expected frozen at 3s, got %v", c.Position())
	}

	c.Reset()
	if c.Position() != 0 {
		t.Errorf("expected reset to 0, got %v", c.Position())
	}
}

func TestClockScheduledStart(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(ft.Now)

	start := ft.Now().Add(100 * time.Millisecond)
	c.Start(start)

	if c.Position() != 0 {
		t.Errorf("expected 0 before the start instant, got %v", c.Position())
	}

	c.SetRate(0.5)
	if !approx(c.PositionAt(start.Add(time.Second)), 0.5) {
		t.Errorf("expected 0.5 one second after start, got %v", c.PositionAt(start.Add(time.Second)))
	}

	ft.Advance(300 * time.Millisecond)
	if !approx(c.Position(), 0.1) {
		t.Errorf("expected 0.1, got %v", c.Position())
	}
}
