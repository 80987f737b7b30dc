package procurement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/platform/db"
	"github.com/odyssey-erp/procure/internal/platform/httpx"
	"github.com/odyssey-erp/procure/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.listRequests)
		r.Post("/", h.createRequest)
		r.Get("/{id}", h.getRequest)
		r.Delete("/{id}", h.deleteRequest)
		r.Post("/{id}/submit", h.submitRequest)
		r.Post("/{id}/resubmit", h.resubmitRequest)
		r.Post("/{id}/approve", h.decideRequest(PRActionApprove))
		r.Post("/{id}/reject", h.decideRequest(PRActionReject))
		r.Post("/{id}/clarify", h.decideRequest(PRActionClarify))
		r.Post("/{id}/items", h.addRequestItem)
		r.Put("/{id}/items/{itemID}", h.updateRequestItem)
		r.Delete("/{id}/items/{itemID}", h.removeRequestItem)
	})
	r.Get("/suggestions", h.listSuggestions)
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
	})
	r.Route("/receipts", func(r chi.Router) {
		r.Get("/", h.listReceipts)
		r.Post("/", h.receiveGoods)
		r.Post("/drafts", h.draftReceipt)
		r.Get("/{id}", h.getReceipt)
		r.Post("/{id}/post", h.postReceipt)
		r.Post("/{id}/discrepancy", h.annotateReceipt)
	})
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.matchInvoice)
		r.Get("/aging", h.aging)
		r.Get("/{id}", h.getInvoice)
		r.Get("/{id}/payments", h.listPayments)
		r.Post("/{id}/payments", h.recordPayment)
	})
	r.Post("/payments/{id}/reverse", h.reversePayment)
}

var errorRules = []httpx.Rule{
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrInvalidState, Status: http.StatusConflict, Title: "Invalid State Transition"},
	{Target: ErrDuplicateRequest, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Target: ErrQuantityExceedsRequest, Status: http.StatusUnprocessableEntity, Title: "Quantity Exceeds Request"},
	{Target: ErrQuantityExceedsOrder, Status: http.StatusUnprocessableEntity, Title: "Quantity Exceeds Order"},
	{Target: ErrOverReceipt, Status: http.StatusUnprocessableEntity, Title: "Over Receipt"},
	{Target: ErrOverpayment, Status: http.StatusUnprocessableEntity, Title: "Overpayment"},
	{Target: numbering.ErrConflict, Status: http.StatusServiceUnavailable, Title: "Number Generation Conflict"},
	{Target: numbering.ErrSequenceExhausted, Status: http.StatusInternalServerError, Title: "Document Sequence Exhausted", Expose: true},
	{Match: db.IsSerializationFailure, Status: http.StatusServiceUnavailable, Title: "Concurrent Update"},
	{Target: shared.ErrActorRequired, Status: http.StatusUnauthorized, Title: "Unauthorized"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.StatusOf(err, errorRules...)
	if status >= http.StatusInternalServerError {
		h.logger.Error("procurement request failed", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	} else {
		h.logger.Debug("procurement request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid(name, "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func listFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	return ListFilters{
		Status:     q.Get("status"),
		SupplierID: queryInt(r, "supplier_id"),
		BranchID:   queryInt(r, "branch_id"),
		Search:     q.Get("search"),
		Limit:      int(queryInt(r, "limit")),
		Offset:     int(queryInt(r, "offset")),
	}
}

func actorOf(r *http.Request) int64 {
	return shared.ActorFromContext(r.Context())
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListPurchaseRequests(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": prs})
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var input CreatePRInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.RequestedBy = actorOf(r)
	pr, err := h.service.CreatePurchaseRequest(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeletePurchaseRequest(r.Context(), id, actorOf(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.SubmitPurchaseRequest(r.Context(), id, actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) resubmitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input ResubmitPRInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.ResubmitPurchaseRequest(r.Context(), id, actorOf(r), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) decideRequest(action PRAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var input DecisionInput
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &input); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		input.ActorID = actorOf(r)
		pr, err := h.service.decide(r.Context(), id, action, input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, pr)
	}
}

func (h *Handler) addRequestItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var line PRLineInput
	if err := httpx.DecodeJSON(r, &line); err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.AddRequestItem(r.Context(), id, line)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) updateRequestItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input UpdatePRItemInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.UpdateRequestItem(r.Context(), id, itemID, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) removeRequestItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.RemoveRequestItem(r.Context(), id, itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.service.ReorderSuggestions(r.Context(), queryInt(r, "branch_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": suggestions})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.ListPurchaseOrders(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": pos})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var input CreatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.CreatedBy = actorOf(r)
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	grns, err := h.service.ListGoodsReceipts(r.Context(), queryInt(r, "po_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": grns})
}

func (h *Handler) receiveGoods(w http.ResponseWriter, r *http.Request) {
	var input ReceiveGoodsInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ReceivedBy = actorOf(r)
	grn, err := h.service.ReceiveGoods(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) draftReceipt(w http.ResponseWriter, r *http.Request) {
	var input ReceiveGoodsInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ReceivedBy = actorOf(r)
	grn, err := h.service.DraftGoodsReceipt(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	grn, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	grn, err := h.service.PostGoodsReceipt(r.Context(), id, actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) annotateReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	grn, err := h.service.AnnotateDiscrepancy(r.Context(), id, actorOf(r), body.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": invoices})
}

func (h *Handler) matchInvoice(w http.ResponseWriter, r *http.Request) {
	var input MatchInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.CreatedBy = actorOf(r)
	inv, err := h.service.MatchInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.fail(w, r, invalid("as_of", "expected YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}
	bucket, err := h.service.CalculateAging(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"buckets": bucket, "total": bucket.Total()})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input RecordPaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.InvoiceID = id
	input.ProcessedBy = actorOf(r)
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	result, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.ReversePayment(r.Context(), ReversePaymentInput{PaymentID: id, ProcessedBy: actorOf(r), Reason: body.Reason})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
