package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procure/internal/platform/httpx"
)

// Reader is the read side of the stock store.
type Reader interface {
	GetStock(ctx context.Context, productID int64) (StockLevel, error)
	ListStockLevels(ctx context.Context, branchID int64) ([]StockLevel, error)
}

// Handler exposes read-only stock endpoints. Stock only changes through
// posted goods receipts.
type Handler struct {
	logger *slog.Logger
	reader Reader
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, reader Reader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reader: reader}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.listStock)
	r.Get("/stock/{productID}", h.getStock)
}

var errorRules = []httpx.Rule{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var branchID int64
	if raw := q.Get("branch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id must be a non-negative integer")
			return
		}
		branchID = id
	}
	levels, err := h.reader.ListStockLevels(r.Context(), branchID)
	if err != nil {
		h.logger.Error("list stock levels", slog.Any("error", err), slog.Int64("branch_id", branchID))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if q.Get("below_reorder") == "true" {
		filtered := levels[:0]
		for _, level := range levels {
			if level.BelowReorderLevel() {
				filtered = append(filtered, level)
			}
		}
		levels = filtered
	}
	if levels == nil {
		levels = []StockLevel{}
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be a positive integer")
		return
	}
	level, err := h.reader.GetStock(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("get stock", slog.Any("error", err), slog.Int64("product_id", id))
		}
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}
