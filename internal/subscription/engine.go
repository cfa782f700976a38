package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/dbx"
	"github.com/forgehost/controlplane/internal/telemetry"
)

// WebhookPayload is the subset of an inbound provider webhook body the
// engine needs. Providers vary in exact field names; this shape is what
// the control plane requires regardless of provider.
type WebhookPayload struct {
	EventID                string          `json:"event_id"`
	EventType              string          `json:"event_type"`
	ProviderSubscriptionID string          `json:"subscription_id"`
	ProviderPaymentID      *string         `json:"payment_id"`
	AmountMinorUnits       *int64          `json:"amount_minor_units"`
	Currency               *string         `json:"currency"`
	PeriodStart            *time.Time      `json:"period_start"`
	PeriodEnd              *time.Time      `json:"period_end"`
	Raw                    json.RawMessage `json:"-"`
}

// Engine implements the webhook processing algorithm in spec §4.6: verify
// signature, lock the subscription row, insert the ledger row
// idempotently, validate and apply the transition, commit, then fan out
// side effects outside the transaction.
type Engine struct {
	store         *Store
	db            *dbx.Gateway
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	webhookSecret []byte
	sideEffects   *SideEffectWorker
	provider      ProviderClient
}

// NewEngine builds a subscription Engine.
func NewEngine(store *Store, db *dbx.Gateway, logger *slog.Logger, metrics *telemetry.Metrics, webhookSecret []byte, sideEffects *SideEffectWorker, provider ProviderClient) *Engine {
	return &Engine{store: store, db: db, logger: logger, metrics: metrics, webhookSecret: webhookSecret, sideEffects: sideEffects, provider: provider}
}

// HandleWebhook runs the full processing algorithm for one inbound
// request. rawBody must be the exact bytes the signature was computed
// over. A non-nil error means the caller should respond with a non-2xx
// status so the provider retries; a nil error (including the duplicate
// and unknown-subscription cases, which are still "success" per spec)
// means 200.
func (e *Engine) HandleWebhook(ctx context.Context, rawBody []byte, signatureHex string) error {
	if !VerifySignature(e.webhookSecret, rawBody, signatureHex) {
		return apperr.New(apperr.KindAuthFailed, "invalid webhook signature")
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid webhook payload", err)
	}
	if payload.EventID == "" {
		return apperr.New(apperr.KindValidation, "webhook payload missing event id")
	}
	payload.Raw = rawBody

	var terminalOwnerID *uuid.UUID

	err := e.db.WithTx(ctx, func(ctx context.Context, tx *dbx.Tx) error {
		sub, found, err := GetByProviderSubscriptionIDForUpdate(ctx, tx, payload.ProviderSubscriptionID)
		if err != nil {
			return err
		}

		var subIDPtr *uuid.UUID
		if found {
			subIDPtr = &sub.ID
		}

		insertErr := InsertEvent(ctx, tx, PaymentEvent{
			SubscriptionID:    subIDPtr,
			ProviderEventID:   payload.EventID,
			EventType:         payload.EventType,
			ProviderPaymentID: payload.ProviderPaymentID,
			AmountMinorUnits:  payload.AmountMinorUnits,
			Currency:          payload.Currency,
			RawPayload:        rawBody,
		})
		if insertErr != nil {
			if insertErr == ErrDuplicateEvent {
				// Spec §4.6 step 2: a duplicate commits (nothing else
				// changed) and the webhook still returns success.
				return nil
			}
			return insertErr
		}

		if !found {
			// Spec §4.6 step 3: unknown subscription — record and commit.
			e.logger.Warn("webhook for unknown subscription", "event_type", payload.EventType, "provider_subscription_id", payload.ProviderSubscriptionID)
			return nil
		}

		to, refreshPeriod, ok := resolveTransition(sub.State, payload.EventType)
		if !ok {
			// Spec §4.6 step 4: transition not allowed — record and commit.
			return nil
		}

		var periodStart, periodEnd, cancelledAt *time.Time
		if refreshPeriod {
			periodStart, periodEnd = payload.PeriodStart, payload.PeriodEnd
		}
		if to == StateCancelled {
			now := time.Now()
			cancelledAt = &now
		}

		if err := ApplyTransition(ctx, tx, sub.ID, to, periodStart, periodEnd, cancelledAt); err != nil {
			return err
		}

		e.metrics.SubscriptionTransitions.WithLabelValues(string(sub.State), string(to)).Inc()

		if isTerminalEvent(payload.EventType) {
			owner := sub.UserID
			terminalOwnerID = &owner
		}
		return nil
	})
	if err != nil {
		return err
	}

	if terminalOwnerID != nil && e.sideEffects != nil {
		e.sideEffects.Enqueue(terminalOwnerID.String())
	}

	return nil
}

// CreatePendingSubscription is called at checkout (spec §4.2/§6): it
// enforces "at most one non-terminal subscription per user" and inserts a
// pending row the webhook flow will later activate.
func (e *Engine) CreatePendingSubscription(ctx context.Context, userID uuid.UUID, planID string) (Subscription, error) {
	existing, found, err := e.store.GetActiveForUser(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	if found {
		return Subscription{}, apperr.New(apperr.KindConflict, "user already has a subscription in progress").
			WithDetails(map[string]any{"current_state": string(existing.State)})
	}
	return e.store.CreatePending(ctx, userID, planID)
}

// CheckoutResult carries the hosted checkout URL the caller redirects the
// user to, alongside the pending subscription it belongs to.
type CheckoutResult struct {
	Subscription Subscription
	ShortURL     string
}

// Checkout creates a pending subscription and a hosted checkout session for
// it. The subscription stays pending until the provider's first webhook
// (subscription.activated) arrives and is verified.
func (e *Engine) Checkout(ctx context.Context, userID uuid.UUID, planID string) (CheckoutResult, error) {
	sub, err := e.CreatePendingSubscription(ctx, userID, planID)
	if err != nil {
		return CheckoutResult{}, err
	}

	shortURL, err := e.provider.CreateCheckoutSession(ctx, userID.String(), planID, sub.ID.String())
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Subscription: sub, ShortURL: shortURL}, nil
}

// LinkProviderSubscription records the provider-issued subscription id
// once checkout completes.
func (e *Engine) LinkProviderSubscription(ctx context.Context, subscriptionID uuid.UUID, providerSubscriptionID string) error {
	return e.store.SetProviderSubscriptionID(ctx, subscriptionID, providerSubscriptionID)
}

// GetEntitlement returns the user's current subscription and whether it
// entitles them, per spec §3's definition.
func (e *Engine) GetEntitlement(ctx context.Context, userID uuid.UUID) (Subscription, bool, error) {
	sub, found, err := e.store.GetActiveForUser(ctx, userID)
	if err != nil {
		return Subscription{}, false, err
	}
	if !found {
		return Subscription{}, false, nil
	}
	return sub, sub.Entitled(time.Now()), nil
}

// GetCurrentForUser returns the user's current non-terminal subscription
// row, regardless of whether it currently entitles them (e.g. past_due is
// returned, unlike GetEntitlement which only reports the boolean gate).
func (e *Engine) GetCurrentForUser(ctx context.Context, userID uuid.UUID) (Subscription, bool, error) {
	return e.store.GetActiveForUser(ctx, userID)
}

// RequestCancellation asks the provider to cancel the caller's current
// subscription at period end. It does not change local state; the local
// row only moves to cancelled once the provider's subscription.cancelled
// webhook arrives and is verified, per spec §4.2.
func (e *Engine) RequestCancellation(ctx context.Context, userID uuid.UUID, reason string) (Subscription, error) {
	sub, found, err := e.store.GetActiveForUser(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	if !found {
		return Subscription{}, apperr.New(apperr.KindNotFound, "no subscription in progress")
	}
	if sub.ProviderSubscriptionID == nil {
		return Subscription{}, apperr.New(apperr.KindConflict, "subscription has not completed checkout yet")
	}
	if err := e.provider.RequestCancellation(ctx, *sub.ProviderSubscriptionID, reason); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}
