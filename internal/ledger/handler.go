package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// ReadPort exposes the read side of the ledger for HTTP handlers.
type ReadPort interface {
	GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetLocationStocks(ctx context.Context, variantID int64) ([]LocationStock, error)
	GetVariantStock(ctx context.Context, variantID int64) (VariantStock, error)
}

// Handler wires the read-only ledger endpoints.
type Handler struct {
	logger *slog.Logger
	reads  ReadPort
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, reads ReadPort) *Handler {
	return &Handler{logger: logger, reads: reads}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.handleMovements)
	r.Get("/stocks/{variantID}", h.handleVariantStock)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	variantID, err := strconv.ParseInt(query.Get("variant_id"), 10, 64)
	if err != nil || variantID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "variant_id required")
		return
	}
	locationID, err := strconv.ParseInt(query.Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "location_id required")
		return
	}
	filter := MovementFilter{ProductVariantID: variantID, LocationID: locationID}
	if raw := query.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from timestamp")
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to timestamp")
			return
		}
	}
	if raw := query.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	movements, err := h.reads.GetMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "query failed")
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleVariantStock(w http.ResponseWriter, r *http.Request) {
	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil || variantID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid variant id")
		return
	}
	total, err := h.reads.GetVariantStock(r.Context(), variantID)
	if err != nil && !errors.Is(err, ErrStockNotFound) {
		h.logger.Error("variant stock", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "query failed")
		return
	}
	locations, err := h.reads.GetLocationStocks(r.Context(), variantID)
	if err != nil {
		h.logger.Error("location stocks", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "query failed")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"variant_id": variantID,
		"quantity":   total.Quantity,
		"locations":  locations,
	})
}
