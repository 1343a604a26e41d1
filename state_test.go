package apns

import (
	"sync"
	"testing"
)

func TestConnState(t *testing.T) {
	for state, want := range map[ConnState]string{
		Disconnected:  "disconnected",
		Connected:     "connected",
		Failed:        "failed",
		ConnState(42): "unknown",
	} {
		if state.String() != want {
			t.Errorf("%d: %q, want %q", state, state.String(), want)
		}
	}
}

func TestStats(t *testing.T) {
	var (
		stats Stats
		wg    sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.incSent()
			stats.incSent()
			stats.incFailed()
			stats.incRetried()
			stats.incReconnect()
		}()
	}
	wg.Wait()
	if got := stats.Snapshot(); got != (StatsSnapshot{Sent: 20, Failed: 10, Retried: 10, Reconnects: 10}) {
		t.Errorf("bad snapshot: %+v", got)
	}
}

func TestDeliveryPolicyString(t *testing.T) {
	for policy, want := range map[DeliveryPolicy]string{
		Sequential:        "sequential",
		Synchronous:       "synchronous",
		FireThenJoin:      "fire-then-join",
		DeliveryPolicy(7): "DeliveryPolicy(7)",
	} {
		if policy.String() != want {
			t.Errorf("%q, want %q", policy.String(), want)
		}
	}
}
