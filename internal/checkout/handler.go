package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
)

// maxWebhookBody bounds the Stripe payload we are willing to read.
const maxWebhookBody = 1 << 16

type Handler struct {
	service       *Service
	webhookSecret string
	logger        *slog.Logger
}

func NewHandler(service *Service, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

type createSessionRequest struct {
	UserID     string            `json:"user_id"`
	Lines      []domain.CartLine `json:"lines"`
	CouponCode string            `json:"coupon_code,omitempty"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.CreateSession(r.Context(), CreateSessionRequest{
		UserID:     req.UserID,
		Lines:      req.Lines,
		CouponCode: req.CouponCode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrCouponRejected):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("failed to create checkout session", "error", err, "user_id", req.UserID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// HandleStripeWebhook verifies the signature and dispatches
// checkout.session.completed events to the orchestrator. Other event
// types are acknowledged and dropped.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	event, err := payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("rejected webhook with bad signature", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if event.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var session struct {
		ID            string `json:"id"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), session.ID, session.PaymentIntent)
	if err != nil {
		if errors.Is(err, ErrUnknownSession) {
			// Not ours to process; acknowledging would hide a
			// misrouted event, so report it.
			h.writeError(w, http.StatusNotFound, "unknown payment session")
			return
		}
		// Signal Stripe to redeliver.
		h.logger.Error("failed to confirm payment", "error", err, "session_id", session.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
