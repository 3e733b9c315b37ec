package clock

import (
	"testing"
	"time"
)

func TestVirtualAfterFiresInOrder(t *testing.T) {
	t.Parallel()
	v := NewVirtual(time.Unix(0, 0))

	ch1 := v.After(10 * time.Millisecond)
	ch2 := v.After(20 * time.Millisecond)

	v.Advance(5 * time.Millisecond)
	select {
	case <-ch1:
		t.Fatal("timer fired before its deadline")
	default:
	}

	v.Advance(5 * time.Millisecond)
	select {
	case <-ch1:
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	select {
	case <-ch2:
		t.Fatal("later timer fired early")
	default:
	}

	v.Advance(10 * time.Millisecond)
	select {
	case <-ch2:
	default:
		t.Fatal("second timer did not fire")
	}
	if v.PendingTimers() != 0 {
		t.Fatalf("pending timers = %d, want 0", v.PendingTimers())
	}
}

func TestVirtualZeroDelayFiresImmediately(t *testing.T) {
	t.Parallel()
	v := NewVirtual(time.Unix(0, 0))
	select {
	case <-v.After(0):
	default:
		t.Fatal("zero-delay timer must be immediately ready")
	}
}

func TestVirtualNowAdvances(t *testing.T) {
	t.Parallel()
	start := time.Unix(100, 0)
	v := NewVirtual(start)
	v.Advance(3 * time.Second)
	if got := v.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(3*time.Second))
	}
	// Negative advance is a no-op.
	v.Advance(-time.Second)
	if got := v.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Fatal("negative Advance must not move time")
	}
}

func TestRealClockAfter(t *testing.T) {
	t.Parallel()
	c := Real()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real clock timer never fired")
	}
}
