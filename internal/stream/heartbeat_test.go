package stream

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartbeat_TimeoutFiresWithoutTraffic(t *testing.T) {
	var pings, timeouts atomic.Int32

	hb := NewHeartbeat(10*time.Millisecond, 30*time.Millisecond,
		func() error { pings.Add(1); return nil },
		func() { timeouts.Add(1) })
	hb.Start()
	defer hb.Stop()

	deadline := time.After(2 * time.Second)
	for timeouts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout never fired without inbound traffic")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if pings.Load() == 0 {
		t.Error("expected at least one ping before the timeout")
	}
}

func TestHeartbeat_TouchDisarmsTimeout(t *testing.T) {
	var timeouts atomic.Int32

	hb := NewHeartbeat(10*time.Millisecond, 40*time.Millisecond,
		func() error { return nil },
		func() { timeouts.Add(1) })
	hb.Start()
	defer hb.Stop()

	// Simulate steady inbound traffic faster than the timeout.
	stop := time.After(200 * time.Millisecond)
	for {
		select {
		case <-stop:
			if got := timeouts.Load(); got != 0 {
				t.Fatalf("timeout fired %d times despite traffic", got)
			}
			return
		case <-time.After(5 * time.Millisecond):
			hb.Touch()
		}
	}
}

func TestHeartbeat_SecondPingDoesNotExtendDeadline(t *testing.T) {
	var timeouts atomic.Int32
	start := time.Now()
	var fired atomic.Value

	hb := NewHeartbeat(20*time.Millisecond, 100*time.Millisecond,
		func() error { return nil },
		func() {
			if timeouts.Load() == 0 {
				fired.Store(time.Since(start))
			}
			timeouts.Add(1)
		})
	hb.Start()
	defer hb.Stop()

	deadline := time.After(2 * time.Second)
	for timeouts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// First ping at ~20ms arms a 100ms deadline. Later pings must not
	// push it out; allow generous slack for the race scheduler.
	elapsed := fired.Load().(time.Duration)
	if elapsed > 250*time.Millisecond {
		t.Errorf("timeout fired after %v, deadline appears extended", elapsed)
	}
}

func TestHeartbeat_StopPreventsTimeout(t *testing.T) {
	var timeouts atomic.Int32

	hb := NewHeartbeat(5*time.Millisecond, 20*time.Millisecond,
		func() error { return nil },
		func() { timeouts.Add(1) })
	hb.Start()
	time.Sleep(10 * time.Millisecond)
	hb.Stop()
	hb.Stop() // idempotent

	time.Sleep(50 * time.Millisecond)
	if got := timeouts.Load(); got != 0 {
		t.Errorf("timeout fired %d times after Stop", got)
	}
}
