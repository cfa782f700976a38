package subscription

import (
	"testing"
	"time"
)

func TestResolveTransition(t *testing.T) {
	tests := []struct {
		name      string
		from      State
		eventType string
		wantTo    State
		wantOK    bool
	}{
		{"activated moves pending to active", StatePending, "subscription.activated", StateActive, true},
		{"activated rejected from active", StateActive, "subscription.activated", "", false},
		{"charged refreshes an already-active subscription", StateActive, "subscription.charged", StateActive, true},
		{"charged rejected from pending", StatePending, "subscription.charged", "", false},
		{"completed expires from any non-terminal state", StateActive, "subscription.completed", StateExpired, true},
		{"completed expires from past_due too", StatePastDue, "subscription.completed", StateExpired, true},
		{"cancelled is terminal and wins from any state", StatePastDue, "subscription.cancelled", StateCancelled, true},
		{"pending (provider event) demotes active to past_due", StateActive, "subscription.pending", StatePastDue, true},
		{"halted demotes active to past_due", StateActive, "subscription.halted", StatePastDue, true},
		{"paused demotes active to past_due", StateActive, "subscription.paused", StatePastDue, true},
		{"resumed restores past_due to active", StatePastDue, "subscription.resumed", StateActive, true},
		{"resumed rejected from active", StateActive, "subscription.resumed", "", false},
		{"payment.failed never changes state", StateActive, "payment.failed", "", false},
		{"unknown event type is rejected", StateActive, "subscription.made_up", "", false},
		{"cancelled is sticky against activated", StateCancelled, "subscription.activated", "", false},
		{"cancelled is sticky against resumed", StateCancelled, "subscription.resumed", "", false},
		{"expired is sticky against charged", StateExpired, "subscription.charged", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, _, ok := resolveTransition(tt.from, tt.eventType)
			if ok != tt.wantOK {
				t.Fatalf("resolveTransition(%s, %s) ok = %v, want %v", tt.from, tt.eventType, ok, tt.wantOK)
			}
			if ok && to != tt.wantTo {
				t.Errorf("resolveTransition(%s, %s) to = %s, want %s", tt.from, tt.eventType, to, tt.wantTo)
			}
		})
	}
}

func TestIsTerminalEvent(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"subscription.cancelled", true},
		{"subscription.completed", true},
		{"subscription.activated", false},
		{"subscription.charged", false},
		{"payment.failed", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		if got := isTerminalEvent(tt.eventType); got != tt.want {
			t.Errorf("isTerminalEvent(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateActive, false},
		{StatePastDue, false},
		{StateCancelled, true},
		{StateExpired, true},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.state); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestSubscriptionEntitled(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active with future period end is entitled", Subscription{State: StateActive, PeriodEnd: &future}, true},
		{"active with past period end is not entitled", Subscription{State: StateActive, PeriodEnd: &past}, false},
		{"active with nil period end is not entitled", Subscription{State: StateActive, PeriodEnd: nil}, false},
		{"past_due is never entitled", Subscription{State: StatePastDue, PeriodEnd: &future}, false},
		{"cancelled is never entitled", Subscription{State: StateCancelled, PeriodEnd: &future}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Entitled(now); got != tt.want {
				t.Errorf("Entitled() = %v, want %v", got, tt.want)
			}
		})
	}
}
