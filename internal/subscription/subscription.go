// Package subscription implements the event-sourced subscription state
// machine (spec §4.6): an idempotent, transactionally consistent consumer
// of signed payment-provider webhook events that authoritatively gates
// workspace creation and container runtime.
package subscription

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a subscription.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StatePastDue   State = "past_due"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// IsTerminal reports whether state can never transition again.
func IsTerminal(state State) bool {
	return state == StateCancelled || state == StateExpired
}

// Subscription is a user's relationship with the payment provider.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	ProviderSubscriptionID *string
	State                  State
	PlanID                 string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelledAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Entitled reports whether this subscription currently grants access, per
// spec §3: state is active AND period_end is in the future.
func (s Subscription) Entitled(now time.Time) bool {
	return s.State == StateActive && s.PeriodEnd != nil && s.PeriodEnd.After(now)
}

// PaymentEvent is one row of the append-only webhook ledger — both the
// idempotency key store (unique provider_event_id) and the audit trail.
type PaymentEvent struct {
	ID                uuid.UUID
	SubscriptionID    *uuid.UUID
	ProviderEventID   string
	EventType         string
	ProviderPaymentID *string
	AmountMinorUnits  *int64
	Currency          *string
	RawPayload        []byte
	CreatedAt         time.Time
}

// eventRules maps each known webhook event type to the transition it
// attempts. A rule with an empty to leaves state unchanged but the event is
// still recorded (payment.failed).
type transitionRule struct {
	allowedFrom []State // nil means "any state"
	to          State   // zero value means "no state change"
	refreshPeriod bool
	terminal      bool
}

var eventRules = map[string]transitionRule{
	"subscription.activated": {allowedFrom: []State{StatePending}, to: StateActive, refreshPeriod: true},
	"subscription.charged":   {allowedFrom: []State{StateActive}, to: StateActive, refreshPeriod: true},
	"subscription.completed": {allowedFrom: nil, to: StateExpired, terminal: true},
	"subscription.cancelled": {allowedFrom: nil, to: StateCancelled, terminal: true},
	"subscription.pending":   {allowedFrom: []State{StateActive}, to: StatePastDue},
	"subscription.halted":    {allowedFrom: []State{StateActive}, to: StatePastDue},
	"subscription.paused":    {allowedFrom: []State{StateActive}, to: StatePastDue},
	"subscription.resumed":   {allowedFrom: []State{StatePastDue}, to: StateActive},
	"payment.failed":         {},
}

// resolveTransition reports the transition eventType attempts from the
// subscription's current state. ok is false for unknown event types or
// attempts to leave a terminal state, in which case the caller still
// records the event but makes no state change (spec §4.6 step 4).
func resolveTransition(current State, eventType string) (to State, refreshPeriod bool, ok bool) {
	rule, known := eventRules[eventType]
	if !known {
		return "", false, false
	}
	if rule.to == "" {
		return "", false, false
	}
	if IsTerminal(current) {
		// Terminal states are sticky: no transition out, regardless of
		// what the event requests (spec §4.6 Ordering).
		return "", false, false
	}
	if rule.allowedFrom != nil {
		allowed := false
		for _, s := range rule.allowedFrom {
			if s == current {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", false, false
		}
	}
	return rule.to, rule.refreshPeriod, true
}

// isTerminalEvent reports whether eventType's transition, when applied,
// ends the subscription in a terminal state — used to decide whether the
// post-commit container-stop fan-out fires.
func isTerminalEvent(eventType string) bool {
	rule, ok := eventRules[eventType]
	return ok && rule.terminal
}
