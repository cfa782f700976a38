package subscription

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/httpserver"
)

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, apperr.New(apperr.KindAuthRequired, "authentication required")
	}
	return id, nil
}

// webhookBodyLimit bounds a raw webhook body read; the payment provider
// does not send large payloads and this caps the cost of a malicious one.
const webhookBodyLimit = 1 << 20

// webhookSignatureHeader is the header the payment provider sends the
// request's HMAC signature in.
const webhookSignatureHeader = "X-Webhook-Signature"

// Handlers exposes the payments route group and the webhook route over
// HTTP. The webhook handler is mounted separately (see MountWebhook) since
// it must read the raw body before any JSON body parser runs.
type Handlers struct {
	engine *Engine
}

// NewHandlers builds the subscription HTTP handlers.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Mount registers the authenticated /api/payments routes on r. r is
// expected to already carry RequireBearer.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/subscription", h.status)
	r.Post("/cancel", h.cancel)
}

// MountWebhook registers the signature-gated webhook route on r, under the
// given provider path segment. It must not sit behind httpserver's JSON
// body limit middleware group, since the handler reads and signs the raw
// body itself (spec §4.4's critical ordering rule).
func (h *Handlers) MountWebhook(r chi.Router) {
	r.Post("/{provider}", h.webhook)
}

func callerID(r *http.Request) (string, error) {
	claims := credential.FromContext(r.Context())
	if claims == nil {
		return "", apperr.New(apperr.KindAuthRequired, "authentication required")
	}
	return claims.UserID, nil
}

type checkoutRequestBody struct {
	PlanID string `json:"plan_id"`
}

type checkoutResponseBody struct {
	SubscriptionID string `json:"subscription_id"`
	ShortURL       string `json:"short_url"`
}

func (h *Handlers) checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	var req checkoutRequestBody
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if req.PlanID == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindValidation, "plan_id is required"))
		return
	}

	uid, err := parseUUID(userID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	result, err := h.engine.Checkout(r.Context(), uid, req.PlanID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, checkoutResponseBody{
		SubscriptionID: result.Subscription.ID.String(),
		ShortURL:       result.ShortURL,
	})
}

type statusResponseBody struct {
	State         string     `json:"state"`
	Plan          string     `json:"plan"`
	PeriodStart   *time.Time `json:"period_start"`
	PeriodEnd     *time.Time `json:"period_end"`
	IsActive      bool       `json:"is_active"`
	DaysRemaining int        `json:"days_remaining"`
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	uid, err := parseUUID(userID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	sub, found, err := h.engine.GetCurrentForUser(r.Context(), uid)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if !found {
		httpserver.RespondError(w, apperr.New(apperr.KindNotFound, "no subscription found"))
		return
	}
	entitled := sub.Entitled(time.Now())

	days := 0
	if sub.PeriodEnd != nil {
		remaining := time.Until(*sub.PeriodEnd)
		if remaining > 0 {
			days = int(remaining.Hours() / 24)
		}
	}

	httpserver.Respond(w, http.StatusOK, statusResponseBody{
		State:         string(sub.State),
		Plan:          sub.PlanID,
		PeriodStart:   sub.PeriodStart,
		PeriodEnd:     sub.PeriodEnd,
		IsActive:      entitled,
		DaysRemaining: days,
	})
}

type cancelRequestBody struct {
	Reason string `json:"reason"`
}

type cancelResponseBody struct {
	EndDate *time.Time `json:"end_date"`
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	uid, err := parseUUID(userID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	var req cancelRequestBody
	_ = httpserver.DecodeJSON(r, &req) // reason is optional; a missing/empty body is fine

	sub, err := h.engine.RequestCancellation(r.Context(), uid, req.Reason)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, cancelResponseBody{EndDate: sub.PeriodEnd})
}

type webhookResponseBody struct {
	Status string `json:"status"`
}

// webhook is mounted outside the generic JSON body-limit middleware group:
// it reads the raw body itself, verifies the signature over those exact
// bytes, and only then parses it as JSON inside Engine.HandleWebhook.
func (h *Handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := httpserver.ReadRawBody(r, webhookBodyLimit)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	signature := r.Header.Get(webhookSignatureHeader)
	if err := h.engine.HandleWebhook(r.Context(), body, signature); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, webhookResponseBody{Status: "ok"})
}
