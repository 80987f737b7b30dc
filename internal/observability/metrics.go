package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	documents       *prometheus.CounterVec
	txRetries       prometheus.Counter
	receipts        *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	payments        *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik pengadaan.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procure_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procure_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	documents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procure_documents_issued_total",
		Help: "Nomor dokumen yang diterbitkan per jenis dokumen.",
	}, []string{"doc_type"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procure_tx_retries_total",
		Help: "Transaksi yang diulang karena konflik penomoran atau serialisasi.",
	})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procure_receipts_posted_total",
		Help: "GRN yang diposting, dipisah menurut ada tidaknya selisih.",
	}, []string{"discrepancy"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procure_invoices_matched_total",
		Help: "Faktur pemasok yang dicocokkan, dipisah menurut ada tidaknya selisih.",
	}, []string{"discrepancy"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procure_payments_total",
		Help: "Entri pembayaran per metode dan jenis (payment/reversal).",
	}, []string{"method", "kind"})
	registry.MustRegister(requests, duration, documents, retries, receipts, invoices, payments)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		documents:       documents,
		txRetries:       retries,
		receipts:        receipts,
		invoices:        invoices,
		payments:        payments,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// DocumentIssued menghitung nomor dokumen yang berhasil diterbitkan.
func (m *Metrics) DocumentIssued(docType string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(docType).Inc()
}

// TxRetried menghitung percobaan ulang transaksi.
func (m *Metrics) TxRetried() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// ReceiptPosted menghitung GRN yang diposting.
func (m *Metrics) ReceiptPosted(hasDiscrepancy bool) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(strconv.FormatBool(hasDiscrepancy)).Inc()
}

// InvoiceMatched menghitung faktur yang dicocokkan terhadap GRN.
func (m *Metrics) InvoiceMatched(hasDiscrepancy bool) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(strconv.FormatBool(hasDiscrepancy)).Inc()
}

// PaymentRecorded menghitung entri buku pembayaran.
func (m *Metrics) PaymentRecorded(method string, reversal bool) {
	if m == nil {
		return
	}
	kind := "payment"
	if reversal {
		kind = "reversal"
	}
	m.payments.WithLabelValues(method, kind).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
