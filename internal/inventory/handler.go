package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/commercekit/storefront/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}
	variantID := optionalQuery(r, "variant_id")

	available, err := h.service.Available(r.Context(), productID, variantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to get stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"variant_id": variantID,
		"available":  available,
	})
}

type adjustRequest struct {
	Delta    int                     `json:"delta"`
	Reason   domain.AdjustmentReason `json:"reason"`
	ActorID  string                  `json:"actor_id"`
	Metadata map[string]string       `json:"metadata,omitempty"`
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		h.writeError(w, http.StatusBadRequest, "missing actor_id")
		return
	}

	entry, err := h.service.Adjust(r.Context(), AdjustmentRequest{
		ProductID: productID,
		VariantID: optionalQuery(r, "variant_id"),
		Delta:     req.Delta,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.writeAdjustError(w, err, productID)
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

type bulkAdjustRequest struct {
	Adjustments []AdjustmentRequest `json:"adjustments"`
}

type bulkItemResult struct {
	ProductID string                        `json:"product_id"`
	VariantID *string                       `json:"variant_id,omitempty"`
	Entry     *domain.InventoryHistoryEntry `json:"entry,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

func (h *Handler) HandleBulkAdjust(w http.ResponseWriter, r *http.Request) {
	var req bulkAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Adjustments) == 0 {
		h.writeError(w, http.StatusBadRequest, "no adjustments given")
		return
	}

	results := h.service.BulkAdjust(r.Context(), req.Adjustments)

	out := make([]bulkItemResult, 0, len(results))
	for _, res := range results {
		item := bulkItemResult{
			ProductID: res.Request.ProductID,
			VariantID: res.Request.VariantID,
			Entry:     res.Entry,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.History(r.Context(), productID, optionalQuery(r, "variant_id"), limit, offset)
	if err != nil {
		h.logger.Error("failed to load history", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if entries == nil {
		entries = []domain.InventoryHistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.Metrics(r.Context())
	if err != nil {
		h.logger.Error("failed to compute inventory metrics", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, metrics)
}

func (h *Handler) HandleTurnover(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid or missing from date")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid or missing to date")
		return
	}

	report, err := h.service.Turnover(r.Context(), productID, optionalQuery(r, "variant_id"), from, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to compute turnover", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) writeAdjustError(w http.ResponseWriter, err error, productID string) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidReason):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to adjust inventory", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func optionalQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
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
