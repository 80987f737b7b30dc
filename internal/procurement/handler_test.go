package procurement

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/platform/httpx"
	"github.com/odyssey-erp/procure/internal/shared"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64); err == nil {
				r = r.WithContext(shared.ContextWithActor(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path string, actor int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor > 0 {
		req.Header.Set("X-Actor-ID", strconv.FormatInt(actor, 10))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHandlerRequestFlow(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)

	rec := call(t, h, http.MethodPost, "/requests", requester, `{"priority":"Urgent","lines":[{"product_id":1,"qty":3,"estimated_unit_price":"10"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pr PurchaseRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	require.Equal(t, "PR-250115-0001", pr.Number)
	require.True(t, dec("30").Equal(pr.TotalEstimatedCost))

	rec = call(t, h, http.MethodPost, fmt.Sprintf("/requests/%d/submit", pr.ID), requester, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, fmt.Sprintf("/requests/%d/approve", pr.ID), approver, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	require.Equal(t, PRStatusApproved, pr.Status)
	require.Equal(t, approver, pr.DecidedBy)

	rec = call(t, h, http.MethodPost, fmt.Sprintf("/requests/%d/submit", pr.ID), requester, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Invalid State Transition", decodeProblem(t, rec).Title)

	rec = call(t, h, http.MethodGet, "/requests?status=Approved", requester, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), pr.Number)
}

func TestHandlerErrorMapping(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)
	inv := openInvoice(t, f)

	cases := []struct {
		name   string
		method string
		path   string
		actor  int64
		body   string
		status int
		detail string
	}{
		{"overpayment", http.MethodPost, fmt.Sprintf("/invoices/%d/payments", inv.ID), requester, `{"amount":"150","method":"cash"}`, http.StatusUnprocessableEntity, "by 50.00"},
		{"missing actor", http.MethodPost, "/requests", 0, `{"lines":[{"product_id":1,"qty":1}]}`, http.StatusUnauthorized, ""},
		{"malformed json", http.MethodPost, "/requests", requester, `{"lines":`, http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, "/requests", requester, `{"lines":[{"product_id":1,"qty":1}],"colour":"red"}`, http.StatusBadRequest, ""},
		{"validation", http.MethodPost, "/requests", requester, `{"lines":[]}`, http.StatusBadRequest, "lines"},
		{"not found", http.MethodGet, "/orders/404", requester, "", http.StatusNotFound, ""},
		{"bad id", http.MethodGet, "/orders/abc", requester, "", http.StatusBadRequest, ""},
		{"bad as_of", http.MethodGet, "/invoices/aging?as_of=yesterday", requester, "", http.StatusBadRequest, "as_of"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := call(t, h, tc.method, tc.path, tc.actor, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			p := decodeProblem(t, rec)
			require.Equal(t, tc.status, p.Status)
			if tc.detail != "" {
				require.Contains(t, p.Detail, tc.detail)
			}
		})
	}
}

func TestHandlerReportsExhaustedSequence(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)
	f.repo.mu.Lock()
	f.repo.state.counters[fmt.Sprintf("%s|%s", numbering.PurchaseRequest, f.now.Format(time.DateOnly))] = numbering.MaxSequence
	f.repo.mu.Unlock()

	rec := call(t, h, http.MethodPost, "/requests", requester, `{"lines":[{"product_id":1,"qty":1}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	p := decodeProblem(t, rec)
	require.Equal(t, "Document Sequence Exhausted", p.Title)
	require.Contains(t, p.Detail, "daily sequence exhausted")
	require.Contains(t, p.Detail, "PR on 2025-01-15")
	require.Empty(t, f.repo.snapshot().prs)
}

func TestHandlerReceiptOverOrder(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)
	po := openOrder(t, f)

	body := fmt.Sprintf(`{"purchase_order_id":%d,"lines":[{"purchase_order_item_id":%d,"received_qty":11}]}`, po.ID, po.Items[0].ID)
	rec := call(t, h, http.MethodPost, "/receipts", requester, body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "Quantity Exceeds Order", decodeProblem(t, rec).Title)

	body = fmt.Sprintf(`{"purchase_order_id":%d,"lines":[{"purchase_order_item_id":%d,"received_qty":10}]}`, po.ID, po.Items[0].ID)
	rec = call(t, h, http.MethodPost, "/receipts", requester, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, int64(10), f.repo.stockOf(1))

	rec = call(t, h, http.MethodGet, fmt.Sprintf("/receipts?po_id=%d", po.ID), requester, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "GRN-250115-0001")
}

func TestHandlerPaymentIdempotencyHeader(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)
	inv := openInvoice(t, f)
	path := fmt.Sprintf("/invoices/%d/payments", inv.ID)

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amount":"10","method":"bank_transfer"}`))
		r.Header.Set("X-Actor-ID", "7")
		r.Header.Set("Idempotency-Key", "remit-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}
	require.Equal(t, http.StatusCreated, req().Code)
	second := req()
	require.Equal(t, http.StatusConflict, second.Code)
	require.Equal(t, "Duplicate Request", decodeProblem(t, second).Title)
}
