package timer_test

import (
	"testing"

	"github.com/ucip/netstack/timer"
)

type fakeClock struct{ now timer.Jiffy }

func TestScheduleInFiresInOrder(t *testing.T) {
	clk := &fakeClock{}
	w := timer.NewWheel(func() timer.Jiffy { return clk.now }, 8)

	var order []string
	w.ScheduleIn(30, func() { order = append(order, "c") })
	w.ScheduleIn(10, func() { order = append(order, "a") })
	w.ScheduleIn(20, func() { order = append(order, "b") })

	clk.now = 25
	w.Poll(clk.now)
	if got := len(order); got != 2 {
		t.Fatalf("fired %d timers at t=25, want 2: %v", got, order)
	}
	if order[0] != "a" || order[1] != "b" {
		t.Fatalf("fired out of order: %v", order)
	}

	clk.now = 30
	w.Poll(clk.now)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("final order = %v", order)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	clk := &fakeClock{}
	w := timer.NewWheel(func() timer.Jiffy { return clk.now }, 4)

	fired := false
	ti := w.ScheduleIn(10, func() { fired = true })
	w.Cancel(ti)

	clk.now = 100
	w.Poll(clk.now)
	if fired {
		t.Fatal("cancelled timer fired")
	}
}

func TestPermanentTimerRearm(t *testing.T) {
	clk := &fakeClock{}
	w := timer.NewWheel(func() timer.Jiffy { return clk.now }, 4)

	perm := timer.NewPermanent()
	calls := 0
	var rearm func()
	rearm = func() {
		calls++
		if calls < 3 {
			w.Schedule(perm, clk.now+5, rearm)
		}
	}
	w.Schedule(perm, 5, rearm)

	for clk.now = 5; clk.now <= 20; clk.now += 5 {
		w.Poll(clk.now)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTemporaryFreeListExhaustion(t *testing.T) {
	clk := &fakeClock{}
	w := timer.NewWheel(func() timer.Jiffy { return clk.now }, 2)

	a := w.ScheduleIn(10, func() {})
	b := w.ScheduleIn(10, func() {})
	if a == nil || b == nil {
		t.Fatal("expected two successful schedules")
	}
	if c := w.ScheduleIn(10, func() {}); c != nil {
		t.Fatal("expected free list exhaustion to return nil")
	}
	w.Cancel(a)
	if c := w.ScheduleIn(10, func() {}); c == nil {
		t.Fatal("expected a freed temporary timer to be reusable")
	}
}

func TestHandlerCanRescheduleDuringPoll(t *testing.T) {
	clk := &fakeClock{}
	w := timer.NewWheel(func() timer.Jiffy { return clk.now }, 4)

	calls := 0
	var h func()
	h = func() {
		calls++
		if calls == 1 {
			// Reschedule from inside the handler: Poll must not be holding
			// the wheel mutex here or this deadlocks.
			w.ScheduleIn(0, h)
		}
	}
	w.ScheduleIn(0, h)
	w.Poll(0)
	w.Poll(0)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
