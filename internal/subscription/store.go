package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/dbx"
)

const subscriptionColumns = `id, user_id, provider_subscription_id, state, plan_id, period_start, period_end, cancelled_at, created_at, updated_at`

// Store provides raw-SQL persistence for subscriptions and the payment
// event ledger.
type Store struct {
	db *dbx.Gateway
}

// NewStore builds a Store backed by the shared persistence gateway.
func NewStore(db *dbx.Gateway) *Store {
	return &Store{db: db}
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProviderSubscriptionID, &s.State, &s.PlanID,
		&s.PeriodStart, &s.PeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// CreatePending inserts a new subscription in StatePending at checkout
// time, before the provider has issued a provider_subscription_id.
func (s *Store) CreatePending(ctx context.Context, userID uuid.UUID, planID string) (Subscription, error) {
	query := `INSERT INTO subscriptions (user_id, state, plan_id) VALUES ($1, $2, $3) RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.db.QueryRow(ctx, query, userID, StatePending, planID))
	if err != nil {
		return Subscription{}, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

// SetProviderSubscriptionID links a pending subscription to the provider's
// identifier once checkout completes and the provider issues one.
func (s *Store) SetProviderSubscriptionID(ctx context.Context, id uuid.UUID, providerSubscriptionID string) error {
	query := `UPDATE subscriptions SET provider_subscription_id = $1, updated_at = now() WHERE id = $2`
	_, err := s.db.Exec(ctx, query, providerSubscriptionID, id)
	if err != nil {
		return fmt.Errorf("linking provider subscription id: %w", err)
	}
	return nil
}

// GetActiveForUser returns the caller's current non-terminal subscription,
// if any — used to enforce "at most one non-terminal per user".
func (s *Store) GetActiveForUser(ctx context.Context, userID uuid.UUID) (Subscription, bool, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND state NOT IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`
	sub, err := scanSubscription(s.db.QueryRow(ctx, query, userID, StateCancelled, StateExpired))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, fmt.Errorf("fetching subscription: %w", err)
	}
	return sub, true, nil
}

// GetActiveForUserForUpdate locks and returns the caller's current
// non-terminal subscription within tx. Used to re-read entitlement inside
// any transaction that mutates a workspace record (spec §9 cross-row
// consistency): the subscription row's state at the moment of that
// transaction is the definitive gate, not whatever an earlier,
// outside-the-transaction check observed.
func GetActiveForUserForUpdate(ctx context.Context, tx *dbx.Tx, userID uuid.UUID) (Subscription, bool, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND state NOT IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
	sub, err := scanSubscription(tx.QueryRow(ctx, query, userID, StateCancelled, StateExpired))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, fmt.Errorf("locking subscription row: %w", err)
	}
	return sub, true, nil
}

// GetByProviderSubscriptionIDForUpdate locks and returns the subscription
// matching providerSubscriptionID within tx, for serialized webhook
// processing (spec §4.6 step 3).
func GetByProviderSubscriptionIDForUpdate(ctx context.Context, tx *dbx.Tx, providerSubscriptionID string) (Subscription, bool, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE provider_subscription_id = $1 FOR UPDATE`
	sub, err := scanSubscription(tx.QueryRow(ctx, query, providerSubscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, fmt.Errorf("locking subscription row: %w", err)
	}
	return sub, true, nil
}

// ApplyTransition updates a subscription's state within tx. periodStart,
// periodEnd, and cancelledAt are applied only when non-nil — a nil pointer
// leaves the corresponding column untouched via COALESCE, so a transition
// that doesn't carry new period dates (e.g. a pause) cannot clobber them.
func ApplyTransition(ctx context.Context, tx *dbx.Tx, id uuid.UUID, to State, periodStart, periodEnd, cancelledAt *time.Time) error {
	query := `UPDATE subscriptions SET
		state = $1,
		period_start = COALESCE($2, period_start),
		period_end = COALESCE($3, period_end),
		cancelled_at = COALESCE($4, cancelled_at),
		updated_at = now()
		WHERE id = $5`
	_, err := tx.Exec(ctx, query, to, periodStart, periodEnd, cancelledAt, id)
	if err != nil {
		return fmt.Errorf("applying subscription transition: %w", err)
	}
	return nil
}

// InsertEvent appends a row to the payment event ledger keyed by the
// provider's event id, which carries a unique constraint. ErrDuplicateEvent
// is returned when a row with that id already exists, which is the signal
// the webhook processing algorithm uses to short-circuit on a retry (spec
// §4.6 step 2). The insert uses ON CONFLICT DO NOTHING, so a duplicate
// leaves tx usable and the caller can still commit it.
func InsertEvent(ctx context.Context, tx *dbx.Tx, ev PaymentEvent) error {
	query := `INSERT INTO payment_events
		(subscription_id, provider_event_id, event_type, provider_payment_id, amount_minor_units, currency, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_event_id) DO NOTHING`
	tag, err := tx.Exec(ctx, query, ev.SubscriptionID, ev.ProviderEventID, ev.EventType, ev.ProviderPaymentID, ev.AmountMinorUnits, ev.Currency, ev.RawPayload)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("inserting payment event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// ErrDuplicateEvent signals that an event with the same provider_event_id
// has already been recorded.
var ErrDuplicateEvent = apperr.New(apperr.KindConflict, "duplicate payment event")

// pgUniqueViolation is the Postgres error code for a unique constraint
// violation (23505).
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
