package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forgehost/controlplane/internal/apperr"
)

// ProviderClient is the outbound half of the payment provider integration:
// creating a hosted checkout session and requesting cancellation. State
// changes themselves never flow back through this interface — they arrive
// exclusively as verified webhooks, handled by Engine.HandleWebhook.
type ProviderClient interface {
	CreateCheckoutSession(ctx context.Context, userID, planID, subscriptionID string) (shortURL string, err error)
	RequestCancellation(ctx context.Context, providerSubscriptionID, reason string) error
}

// HTTPProviderClient is a small REST client for the payment provider's
// hosted-checkout API. There is no payment-provider SDK anywhere in this
// codebase's dependency set, so this talks plain JSON-over-HTTP with the
// configured key id/secret, the same way the rest of the codebase reaches
// outbound services it has no generated client for.
type HTTPProviderClient struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	secret     string
}

// NewHTTPProviderClient builds a provider client with a bounded dial/response
// timeout, matching the 5s recommended upstream dial budget.
func NewHTTPProviderClient(baseURL, keyID, secret string) *HTTPProviderClient {
	return &HTTPProviderClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		keyID:      keyID,
		secret:     secret,
	}
}

type checkoutRequest struct {
	KeyID          string `json:"key_id"`
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	SubscriptionID string `json:"subscription_id"`
}

type checkoutResponse struct {
	ShortURL string `json:"short_url"`
}

// CreateCheckoutSession asks the provider for a hosted checkout URL the
// caller redirects the user to. subscriptionID is passed through so the
// provider can echo it back as provider_subscription_id once checkout
// completes and the first webhook arrives.
func (c *HTTPProviderClient) CreateCheckoutSession(ctx context.Context, userID, planID, subscriptionID string) (string, error) {
	body, err := json.Marshal(checkoutRequest{
		KeyID:          c.keyID,
		UserID:         userID,
		PlanID:         planID,
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "encoding checkout request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout-sessions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "building checkout request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProviderDown, "payment provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", apperr.New(apperr.KindProviderDown, "payment provider returned a server error")
	}
	if resp.StatusCode >= 400 {
		return "", apperr.New(apperr.KindUpstreamUnreachable, fmt.Sprintf("payment provider rejected checkout request (status %d)", resp.StatusCode))
	}

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.KindProviderDown, "decoding checkout response", err)
	}
	return out.ShortURL, nil
}

type cancelRequest struct {
	KeyID  string `json:"key_id"`
	Reason string `json:"reason,omitempty"`
}

// RequestCancellation tells the provider to cancel providerSubscriptionID
// at the end of the current billing period. The local subscription row is
// not mutated here; it changes only once the provider's
// subscription.cancelled webhook arrives and is verified.
func (c *HTTPProviderClient) RequestCancellation(ctx context.Context, providerSubscriptionID, reason string) error {
	body, err := json.Marshal(cancelRequest{KeyID: c.keyID, Reason: reason})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding cancel request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/subscriptions/"+providerSubscriptionID+"/cancel", bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "building cancel request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindProviderDown, "payment provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperr.New(apperr.KindProviderDown, "payment provider returned a server error")
	}
	if resp.StatusCode >= 400 {
		return apperr.New(apperr.KindUpstreamUnreachable, fmt.Sprintf("payment provider rejected cancel request (status %d)", resp.StatusCode))
	}
	return nil
}
