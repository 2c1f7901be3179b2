package channels

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler wires the webhook intake endpoints.
type Handler struct {
	logger    *slog.Logger
	lifecycle *LifecycleHandler
}

// NewHandler constructs the webhook handler.
func NewHandler(logger *slog.Logger, lifecycle *LifecycleHandler) *Handler {
	return &Handler{logger: logger, lifecycle: lifecycle}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/webhooks/{channel}/orders/placed", h.handleEvent(h.lifecycle.OrderPlaced))
	r.Post("/webhooks/{channel}/orders/cancelled", h.handleEvent(h.lifecycle.OrderCancelled))
	r.Post("/webhooks/{channel}/returns/completed", h.handleEvent(h.lifecycle.ReturnCompleted))
	r.Post("/purchasing/receipts", h.handlePurchaseReceipt)
}

type lifecycleFunc func(ctx context.Context, channel Channel, evt OrderEvent) (LifecycleResult, error)

type eventResponse struct {
	Appended   int `json:"appended"`
	Suppressed int `json:"suppressed"`
}

func (h *Handler) handleEvent(process lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, err := ParseChannel(chi.URLParam(r, "channel"))
		if err != nil {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown channel")
			return
		}
		var evt OrderEvent
		if err := httpx.DecodeJSON(r, &evt); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
			return
		}
		result, err := process(r.Context(), channel, evt)
		if err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
				return
			}
			h.logger.Error("webhook processing failed",
				slog.String("channel", string(channel)),
				slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "processing failed")
			return
		}
		httpx.JSON(w, http.StatusOK, eventResponse{Appended: result.Appended, Suppressed: result.Suppressed})
	}
}

func (h *Handler) handlePurchaseReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt PurchaseReceipt
	if err := httpx.DecodeJSON(r, &receipt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	movement, err := h.lifecycle.PurchaseReceived(r.Context(), receipt)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("purchase receipt failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "processing failed")
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}
