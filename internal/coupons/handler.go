package coupons

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/commercekit/storefront/internal/cart"
	"github.com/commercekit/storefront/internal/domain"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

type createCouponRequest struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ExpiresAt       time.Time `json:"expires_at"`
	UserID          *string   `json:"user_id,omitempty"`
	MaxUses         *int      `json:"max_uses,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "missing code")
		return
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		h.writeError(w, http.StatusBadRequest, "discount_percent must be between 0 and 100")
		return
	}
	if req.MaxUses != nil && *req.MaxUses <= 0 {
		h.writeError(w, http.StatusBadRequest, "max_uses must be positive")
		return
	}

	coupon := &domain.Coupon{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		ExpiresAt:       req.ExpiresAt,
		Active:          true,
		UserID:          req.UserID,
		MaxUses:         req.MaxUses,
	}

	if err := h.repo.Create(r.Context(), coupon); err != nil {
		h.logger.Error("failed to create coupon", "error", err, "code", req.Code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("coupon created", "code", coupon.Code)
	h.writeJSON(w, http.StatusCreated, coupon)
}

// HandleGet returns the coupon along with its current validity for the
// requesting user, so storefront clients can surface the rejection
// reason before checkout.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing coupon code")
		return
	}

	coupon, err := h.repo.GetByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		h.logger.Error("failed to get coupon", "error", err, "code", code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	validity := cart.ValidateCoupon(coupon, r.URL.Query().Get("user_id"), time.Now().UTC())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"coupon":   coupon,
		"validity": validity,
	})
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing coupon code")
		return
	}

	if err := h.repo.Deactivate(r.Context(), code); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		h.logger.Error("failed to deactivate coupon", "error", err, "code", code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleRelease removes the per-user scoping from a coupon.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing coupon code")
		return
	}

	if err := h.repo.Release(r.Context(), code); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		h.logger.Error("failed to release coupon", "error", err, "code", code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
