package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/payment"
)

const maxWebhookBody = 64 << 10

// PaymentApplier applies contribution and penalty confirmations.
type PaymentApplier interface {
	Apply(ctx context.Context, ev gateway.Event) (*payment.Result, error)
}

// CallbackHandler applies transfer outcome callbacks.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, ev gateway.Event) (*models.Payout, error)
}

// WebhookHandler receives gateway events. Events are verified, decoded and
// routed by target: payout callbacks to the dispatcher, everything else to
// the payment applier. Redelivered events are acknowledged with 200.
type WebhookHandler struct {
	applier   PaymentApplier
	callbacks CallbackHandler
	secret    string
	tolerance time.Duration
	nowFn     func() time.Time
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables
// signature verification.
func NewWebhookHandler(applier PaymentApplier, callbacks CallbackHandler, secret string, tolerance time.Duration) *WebhookHandler {
	if secret == "" {
		slog.Warn("Webhook signature verification disabled")
	}
	return &WebhookHandler{
		applier:   applier,
		callbacks: callbacks,
		secret:    secret,
		tolerance: tolerance,
		nowFn:     time.Now,
	}
}

type webhookResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeWebhook(w, http.StatusBadRequest, webhookResponse{Result: "rejected", Error: "unreadable body"})
		return
	}
	if len(body) > maxWebhookBody {
		writeWebhook(w, http.StatusRequestEntityTooLarge, webhookResponse{Result: "rejected", Error: "body too large"})
		return
	}

	if h.secret != "" {
		header := r.Header.Get(gateway.SignatureHeader)
		if err := gateway.VerifySignature(header, body, h.secret, h.tolerance, h.nowFn()); err != nil {
			slog.Warn("Webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
			writeWebhook(w, http.StatusUnauthorized, webhookResponse{Result: "rejected", Error: err.Error()})
			return
		}
	}

	var ev gateway.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeWebhook(w, http.StatusBadRequest, webhookResponse{
			Result: "rejected",
			Error:  fmt.Errorf("%w: %v", models.ErrInvalidInput, err).Error(),
		})
		return
	}

	result, err := h.route(r.Context(), ev)
	if err != nil {
		status := httpStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Webhook processing failed", "reference", ev.Reference, "error", err)
		}
		writeWebhook(w, status, webhookResponse{Result: "rejected", Error: err.Error()})
		return
	}
	writeWebhook(w, http.StatusOK, webhookResponse{Result: result})
}

func (h *WebhookHandler) route(ctx context.Context, ev gateway.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}

	if ev.PayoutID != "" {
		p, err := h.callbacks.HandleCallback(ctx, ev)
		if err != nil {
			return "", err
		}
		return string(p.Status), nil
	}

	res, err := h.applier.Apply(ctx, ev)
	switch {
	case errors.Is(err, models.ErrDuplicateOperation):
		return "duplicate", nil
	case err != nil:
		return "", err
	case res.Duplicate:
		return "duplicate", nil
	case res.Declined:
		return "declined", nil
	}
	return "applied", nil
}

func writeWebhook(w http.ResponseWriter, status int, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
