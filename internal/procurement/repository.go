package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool     *pgxpool.Pool
	gen      *numbering.Generator
	attempts int
	logger   *slog.Logger
	onRetry  func()
}

// NewRepository constructs a repository. attempts bounds how often a
// transaction is replayed after a serialization or numbering conflict.
func NewRepository(pool *pgxpool.Pool, gen *numbering.Generator, attempts int, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{pool: pool, gen: gen, attempts: attempts, logger: logger}
}

// OnRetry registers a callback invoked before each replayed transaction.
func (r *Repository) OnRetry(fn func()) {
	r.onRetry = fn
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx    pgx.Tx
	gen   *numbering.Generator
	stock *inventory.TxStore
}

// WithTx wraps callback in a repeatable-read transaction, replaying it on
// serialization failures and numbering conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	attempt := 0
	return db.Retry(ctx, r.attempts, retryableTx, func(ctx context.Context) error {
		if attempt > 0 {
			r.logger.Debug("procurement tx retry", slog.Int("attempt", attempt+1))
			if r.onRetry != nil {
				r.onRetry()
			}
		}
		attempt++
		return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			return fn(ctx, &txRepo{tx: tx, gen: r.gen, stock: inventory.NewTxStore(tx)})
		})
	})
}

func retryableTx(err error) bool {
	return numbering.IsRetryable(err) || db.IsSerializationFailure(err)
}

const (
	prColumns = `id, number, branch_id, requested_by, priority, status, remarks, total_estimated_cost,
	total_items, COALESCE(decided_by, 0), decided_at, decision_remarks, submitted_at, created_at`
	prItemColumns = `id, purchase_request_id, product_id, COALESCE(supplier_id, 0), requested_qty, ordered_qty,
	estimated_unit_price, line_total, is_suggested, suggestion_reason`
	poColumns = `id, number, COALESCE(purchase_request_id, 0), supplier_id, branch_id, status, order_date,
	expected_delivery_date, actual_delivery_date, subtotal, tax_amount, discount_amount, final_amount, notes, created_by`
	poItemColumns = `id, purchase_order_id, COALESCE(purchase_request_item_id, 0), product_id, ordered_qty,
	received_qty, unit_price, line_total`
	grnColumns = `id, number, purchase_order_id, status, received_by, received_at, delivery_note_ref,
	supplier_invoice_ref, has_discrepancies, discrepancy_notes, total_received_value, posted_at`
	grnItemColumns = `id, grn_id, purchase_order_item_id, product_id, ordered_qty, received_qty, rejected_qty,
	damaged_qty, batch_number, manufacture_date, expiry_date, unit_price, line_total, quality_status, rejection_reason`
	invoiceColumns = `id, number, supplier_invoice_ref, purchase_order_id, COALESCE(grn_id, 0), supplier_id, branch_id,
	invoice_date, due_date, invoice_amount, tax_amount, discount_amount, total_amount, paid_amount, balance_amount,
	payment_status, has_discrepancy, discrepancy_notes, created_by`
	paymentColumns = `id, invoice_id, payment_reference, external_reference, amount, method, paid_at, processed_by,
	COALESCE(reversal_of, 0), notes`
)

// Fetch helpers

// GetPR returns a purchase request with items.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return loadPR(ctx, r.pool, id, false)
}

// ListPRs returns request headers.
func (r *Repository) ListPRs(ctx context.Context, filters ListFilters) ([]PurchaseRequest, error) {
	var w where
	if filters.Status != "" {
		w.add("status = ?", filters.Status)
	}
	if filters.BranchID > 0 {
		w.add("branch_id = ?", filters.BranchID)
	}
	if filters.Search != "" {
		w.add("number ILIKE ?", "%"+filters.Search+"%")
	}
	return queryAll(ctx, r.pool, `SELECT `+prColumns+` FROM purchase_requests`+w.sql()+` ORDER BY id DESC`+w.page(filters), w.args, scanPR)
}

// GetPO returns a purchase order with items.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, id, false)
}

// ListPOs returns order headers.
func (r *Repository) ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	var w where
	if filters.Status != "" {
		w.add("status = ?", filters.Status)
	}
	if filters.SupplierID > 0 {
		w.add("supplier_id = ?", filters.SupplierID)
	}
	if filters.BranchID > 0 {
		w.add("branch_id = ?", filters.BranchID)
	}
	if filters.Search != "" {
		w.add("number ILIKE ?", "%"+filters.Search+"%")
	}
	return queryAll(ctx, r.pool, `SELECT `+poColumns+` FROM purchase_orders`+w.sql()+` ORDER BY id DESC`+w.page(filters), w.args, scanPO)
}

// GetGRN returns a goods receipt with items.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadGRN(ctx, r.pool, id, false)
}

// ListGRNs returns receipts of an order; poID 0 lists all.
func (r *Repository) ListGRNs(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	return queryAll(ctx, r.pool, `SELECT `+grnColumns+` FROM goods_receiving_notes
WHERE ($1::bigint = 0 OR purchase_order_id = $1) ORDER BY id`, []any{poID}, scanGRN)
}

// GetInvoice returns a supplier invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error) {
	return loadInvoice(ctx, r.pool, id, false)
}

// ListInvoices returns invoices matching filters. Status filters payment status.
func (r *Repository) ListInvoices(ctx context.Context, filters ListFilters) ([]SupplierInvoice, error) {
	var w where
	if filters.Status != "" {
		w.add("payment_status = ?", filters.Status)
	}
	if filters.SupplierID > 0 {
		w.add("supplier_id = ?", filters.SupplierID)
	}
	if filters.BranchID > 0 {
		w.add("branch_id = ?", filters.BranchID)
	}
	if filters.Search != "" {
		w.add("(number ILIKE ? OR supplier_invoice_ref ILIKE $"+strconv.Itoa(len(w.args)+1)+")", "%"+filters.Search+"%")
	}
	return queryAll(ctx, r.pool, `SELECT `+invoiceColumns+` FROM supplier_invoices`+w.sql()+` ORDER BY due_date, id`+w.page(filters), w.args, scanInvoice)
}

// ListOutstandingInvoices returns invoices with an open balance.
func (r *Repository) ListOutstandingInvoices(ctx context.Context) ([]SupplierInvoice, error) {
	return queryAll(ctx, r.pool, `SELECT `+invoiceColumns+` FROM supplier_invoices
WHERE payment_status <> 'paid' AND balance_amount > 0 ORDER BY due_date`, nil, scanInvoice)
}

// ListPayments returns ledger entries for an invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error) {
	return queryAll(ctx, r.pool, `SELECT `+paymentColumns+` FROM invoice_payments WHERE invoice_id = $1 ORDER BY id`, []any{invoiceID}, scanPayment)
}

// PendingOnOrder sums ordered minus received quantities on open orders per product.
func (r *Repository) PendingOnOrder(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT i.product_id, SUM(i.ordered_qty - i.received_qty)::bigint
FROM purchase_order_items i
JOIN purchase_orders o ON o.id = i.purchase_order_id
WHERE o.status IN ('Open', 'PartiallyReceived') AND i.product_id = ANY($1)
GROUP BY i.product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var productID, pending int64
		if err := rows.Scan(&productID, &pending); err != nil {
			return nil, err
		}
		out[productID] = pending
	}
	return out, rows.Err()
}

// Transactional operations

func (tx *txRepo) NextNumber(ctx context.Context, docType numbering.DocType, at time.Time) (string, error) {
	return tx.gen.Next(ctx, numbering.NewPGSequencer(tx.tx), docType, at)
}

func (tx *txRepo) LockPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return loadPR(ctx, tx.tx, id, true)
}

func (tx *txRepo) CreatePR(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_requests
(number, branch_id, requested_by, priority, status, remarks, total_estimated_cost, total_items, submitted_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		pr.Number, pr.BranchID, pr.RequestedBy, string(pr.Priority), string(pr.Status), pr.Remarks,
		pr.TotalEstimatedCost, pr.TotalItems, nullTime(pr.SubmittedAt), pr.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePR(ctx context.Context, pr PurchaseRequest) error {
	return execOne(ctx, tx.tx, `UPDATE purchase_requests SET status=$2, remarks=$3, total_estimated_cost=$4,
total_items=$5, decided_by=NULLIF($6, 0), decided_at=$7, decision_remarks=$8, submitted_at=$9, updated_at=NOW()
WHERE id=$1`, pr.ID, string(pr.Status), pr.Remarks, pr.TotalEstimatedCost, pr.TotalItems, pr.DecidedBy,
		nullTime(pr.DecidedAt), pr.DecisionRemarks, nullTime(pr.SubmittedAt))
}

func (tx *txRepo) DeletePR(ctx context.Context, id int64) error {
	return execOne(ctx, tx.tx, `DELETE FROM purchase_requests WHERE id=$1`, id)
}

func (tx *txRepo) InsertPRItem(ctx context.Context, item PRItem) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_request_items
(purchase_request_id, product_id, supplier_id, requested_qty, ordered_qty, estimated_unit_price, line_total, is_suggested, suggestion_reason)
VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8, $9) RETURNING id`,
		item.PRID, item.ProductID, item.SupplierID, item.RequestedQty, item.OrderedQty, item.EstimatedUnitPrice,
		item.LineTotal, item.IsSuggested, item.SuggestionReason).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePRItem(ctx context.Context, item PRItem) error {
	return execOne(ctx, tx.tx, `UPDATE purchase_request_items SET requested_qty=$2, estimated_unit_price=$3, line_total=$4
WHERE id=$1`, item.ID, item.RequestedQty, item.EstimatedUnitPrice, item.LineTotal)
}

func (tx *txRepo) DeletePRItem(ctx context.Context, prID, itemID int64) error {
	return execOne(ctx, tx.tx, `DELETE FROM purchase_request_items WHERE id=$1 AND purchase_request_id=$2`, itemID, prID)
}

func (tx *txRepo) AddPRItemOrdered(ctx context.Context, itemID, qty int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_request_items SET ordered_qty = ordered_qty + $2
WHERE id = $1 AND ordered_qty + $2 <= requested_qty`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var requested, ordered int64
	err = tx.tx.QueryRow(ctx, `SELECT requested_qty, ordered_qty FROM purchase_request_items WHERE id=$1`, itemID).Scan(&requested, &ordered)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &QuantityError{Kind: ErrQuantityExceedsRequest, ItemID: itemID, Requested: qty, Available: requested - ordered}
}

func (tx *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, tx.tx, id, true)
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(number, purchase_request_id, supplier_id, branch_id, status, order_date, expected_delivery_date,
 subtotal, tax_amount, discount_amount, final_amount, notes, created_by)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		po.Number, po.PurchaseRequestID, po.SupplierID, po.BranchID, string(po.Status), po.OrderDate,
		nullTime(po.ExpectedDeliveryDate), po.Subtotal, po.TaxAmount, po.DiscountAmount, po.FinalAmount,
		po.Notes, po.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPOItem(ctx context.Context, item POItem) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_items
(purchase_order_id, purchase_request_item_id, product_id, ordered_qty, received_qty, unit_price, line_total)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7) RETURNING id`,
		item.POID, item.PRItemID, item.ProductID, item.OrderedQty, item.ReceivedQty, item.UnitPrice, item.LineTotal).Scan(&id)
	return id, err
}

// AddPOItemReceived relies on a conditional update so the bound holds even
// without the order lock.
func (tx *txRepo) AddPOItemReceived(ctx context.Context, itemID, delta int64) (POItem, error) {
	row := tx.tx.QueryRow(ctx, `UPDATE purchase_order_items SET received_qty = received_qty + $2
WHERE id = $1 AND received_qty + $2 <= ordered_qty RETURNING `+poItemColumns, itemID, delta)
	item, err := scanPOItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return POItem{}, err
	}
	var ordered, received int64
	err = tx.tx.QueryRow(ctx, `SELECT ordered_qty, received_qty FROM purchase_order_items WHERE id=$1`, itemID).Scan(&ordered, &received)
	if errors.Is(err, pgx.ErrNoRows) {
		return POItem{}, ErrNotFound
	}
	if err != nil {
		return POItem{}, err
	}
	return POItem{}, &QuantityError{Kind: ErrOverReceipt, ItemID: itemID, Requested: delta, Available: ordered - received}
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus, deliveredAt time.Time) error {
	return execOne(ctx, tx.tx, `UPDATE purchase_orders SET status=$2, actual_delivery_date=$3 WHERE id=$1`,
		id, string(status), nullTime(deliveredAt))
}

func (tx *txRepo) LockGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadGRN(ctx, tx.tx, id, true)
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO goods_receiving_notes
(number, purchase_order_id, status, received_by, received_at, delivery_note_ref, supplier_invoice_ref,
 has_discrepancies, discrepancy_notes, total_received_value, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		grn.Number, grn.POID, string(grn.Status), grn.ReceivedBy, grn.ReceivedAt, grn.DeliveryNoteRef,
		grn.SupplierInvoiceRef, grn.HasDiscrepancies, grn.DiscrepancyNotes, grn.TotalReceivedValue,
		nullTime(grn.PostedAt)).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertGRNItem(ctx context.Context, item GRNItem) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grn_items
(grn_id, purchase_order_item_id, product_id, ordered_qty, received_qty, rejected_qty, damaged_qty, batch_number,
 manufacture_date, expiry_date, unit_price, line_total, quality_status, rejection_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		item.GRNID, item.POItemID, item.ProductID, item.OrderedQty, item.ReceivedQty, item.RejectedQty,
		item.DamagedQty, item.BatchNumber, nullTime(item.ManufactureDate), nullTime(item.ExpiryDate),
		item.UnitPrice, item.LineTotal, string(item.QualityStatus), item.RejectionReason).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateGRN(ctx context.Context, grn GoodsReceipt) error {
	if err := execOne(ctx, tx.tx, `UPDATE goods_receiving_notes SET status=$2, has_discrepancies=$3,
discrepancy_notes=$4, total_received_value=$5, posted_at=$6 WHERE id=$1`,
		grn.ID, string(grn.Status), grn.HasDiscrepancies, grn.DiscrepancyNotes, grn.TotalReceivedValue,
		nullTime(grn.PostedAt)); err != nil {
		return err
	}
	for _, item := range grn.Items {
		if err := execOne(ctx, tx.tx, `UPDATE grn_items SET ordered_qty=$2, line_total=$3, quality_status=$4
WHERE id=$1`, item.ID, item.OrderedQty, item.LineTotal, string(item.QualityStatus)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *txRepo) IncrementStock(ctx context.Context, in inventory.Inbound) error {
	return tx.stock.IncrementStock(ctx, in)
}

func (tx *txRepo) CreateInvoice(ctx context.Context, inv SupplierInvoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO supplier_invoices
(number, supplier_invoice_ref, purchase_order_id, grn_id, supplier_id, branch_id, invoice_date, due_date,
 invoice_amount, tax_amount, discount_amount, total_amount, paid_amount, balance_amount, payment_status,
 has_discrepancy, discrepancy_notes, created_by)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) RETURNING id`,
		inv.Number, inv.SupplierInvoiceRef, inv.POID, inv.GRNID, inv.SupplierID, inv.BranchID, inv.InvoiceDate,
		inv.DueDate, inv.InvoiceAmount, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.PaidAmount,
		inv.BalanceAmount, string(inv.PaymentStatus), inv.HasDiscrepancy, inv.DiscrepancyNotes, inv.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) LockInvoice(ctx context.Context, id int64) (SupplierInvoice, error) {
	return loadInvoice(ctx, tx.tx, id, true)
}

func (tx *txRepo) UpdateInvoiceBalance(ctx context.Context, inv SupplierInvoice) error {
	return execOne(ctx, tx.tx, `UPDATE supplier_invoices SET paid_amount=$2, balance_amount=$3, payment_status=$4
WHERE id=$1`, inv.ID, inv.PaidAmount, inv.BalanceAmount, string(inv.PaymentStatus))
}

func (tx *txRepo) GetPayment(ctx context.Context, id int64) (InvoicePayment, error) {
	p, err := scanPayment(tx.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM invoice_payments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoicePayment{}, ErrNotFound
	}
	return p, err
}

func (tx *txRepo) HasReversal(ctx context.Context, paymentID int64) (bool, error) {
	var exists bool
	err := tx.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoice_payments WHERE reversal_of=$1)`, paymentID).Scan(&exists)
	return exists, err
}

func (tx *txRepo) InsertPayment(ctx context.Context, p InvoicePayment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO invoice_payments
(invoice_id, payment_reference, external_reference, amount, method, paid_at, processed_by, reversal_of, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), $9) RETURNING id`,
		p.InvoiceID, p.Reference, p.ExternalReference, p.Amount, string(p.Method), p.PaidAt, p.ProcessedBy,
		p.ReversalOf, p.Notes).Scan(&id)
	if db.IsUniqueViolation(err) && p.ReversalOf != 0 {
		return 0, &TransitionError{Entity: "payment", From: "reversed", Action: "reverse"}
	}
	return id, err
}

// Loaders

func lockClause(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func loadPR(ctx context.Context, q querier, id int64, lock bool) (PurchaseRequest, error) {
	pr, err := scanPR(q.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE id=$1`+lockClause(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, ErrNotFound
		}
		return PurchaseRequest{}, err
	}
	pr.Items, err = queryAll(ctx, q, `SELECT `+prItemColumns+` FROM purchase_request_items
WHERE purchase_request_id=$1 ORDER BY id`+lockClause(lock), []any{id}, scanPRItem)
	if err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

func loadPO(ctx context.Context, q querier, id int64, lock bool) (PurchaseOrder, error) {
	po, err := scanPO(q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`+lockClause(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Items, err = queryAll(ctx, q, `SELECT `+poItemColumns+` FROM purchase_order_items
WHERE purchase_order_id=$1 ORDER BY id`+lockClause(lock), []any{id}, scanPOItem)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func loadGRN(ctx context.Context, q querier, id int64, lock bool) (GoodsReceipt, error) {
	grn, err := scanGRN(q.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receiving_notes WHERE id=$1`+lockClause(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrNotFound
		}
		return GoodsReceipt{}, err
	}
	grn.Items, err = queryAll(ctx, q, `SELECT `+grnItemColumns+` FROM grn_items WHERE grn_id=$1 ORDER BY id`, []any{id}, scanGRNItem)
	if err != nil {
		return GoodsReceipt{}, err
	}
	return grn, nil
}

func loadInvoice(ctx context.Context, q querier, id int64, lock bool) (SupplierInvoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM supplier_invoices WHERE id=$1`+lockClause(lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierInvoice{}, ErrNotFound
	}
	return inv, err
}

func queryAll[T any](ctx context.Context, q querier, sql string, args []any, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func execOne(ctx context.Context, q querier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Scanners

func scanPR(row pgx.Row) (PurchaseRequest, error) {
	var pr PurchaseRequest
	var decidedAt, submittedAt *time.Time
	err := row.Scan(&pr.ID, &pr.Number, &pr.BranchID, &pr.RequestedBy, &pr.Priority, &pr.Status, &pr.Remarks,
		&pr.TotalEstimatedCost, &pr.TotalItems, &pr.DecidedBy, &decidedAt, &pr.DecisionRemarks, &submittedAt, &pr.CreatedAt)
	pr.DecidedAt, pr.SubmittedAt = timeOf(decidedAt), timeOf(submittedAt)
	return pr, err
}

func scanPRItem(row pgx.Row) (PRItem, error) {
	var item PRItem
	err := row.Scan(&item.ID, &item.PRID, &item.ProductID, &item.SupplierID, &item.RequestedQty, &item.OrderedQty,
		&item.EstimatedUnitPrice, &item.LineTotal, &item.IsSuggested, &item.SuggestionReason)
	return item, err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var expected, actual *time.Time
	err := row.Scan(&po.ID, &po.Number, &po.PurchaseRequestID, &po.SupplierID, &po.BranchID, &po.Status, &po.OrderDate,
		&expected, &actual, &po.Subtotal, &po.TaxAmount, &po.DiscountAmount, &po.FinalAmount, &po.Notes, &po.CreatedBy)
	po.ExpectedDeliveryDate, po.ActualDeliveryDate = timeOf(expected), timeOf(actual)
	return po, err
}

func scanPOItem(row pgx.Row) (POItem, error) {
	var item POItem
	err := row.Scan(&item.ID, &item.POID, &item.PRItemID, &item.ProductID, &item.OrderedQty, &item.ReceivedQty,
		&item.UnitPrice, &item.LineTotal)
	return item, err
}

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var grn GoodsReceipt
	var postedAt *time.Time
	err := row.Scan(&grn.ID, &grn.Number, &grn.POID, &grn.Status, &grn.ReceivedBy, &grn.ReceivedAt, &grn.DeliveryNoteRef,
		&grn.SupplierInvoiceRef, &grn.HasDiscrepancies, &grn.DiscrepancyNotes, &grn.TotalReceivedValue, &postedAt)
	grn.PostedAt = timeOf(postedAt)
	return grn, err
}

func scanGRNItem(row pgx.Row) (GRNItem, error) {
	var item GRNItem
	var mfg, expiry *time.Time
	err := row.Scan(&item.ID, &item.GRNID, &item.POItemID, &item.ProductID, &item.OrderedQty, &item.ReceivedQty,
		&item.RejectedQty, &item.DamagedQty, &item.BatchNumber, &mfg, &expiry, &item.UnitPrice, &item.LineTotal,
		&item.QualityStatus, &item.RejectionReason)
	item.ManufactureDate, item.ExpiryDate = timeOf(mfg), timeOf(expiry)
	return item, err
}

func scanInvoice(row pgx.Row) (SupplierInvoice, error) {
	var inv SupplierInvoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.SupplierInvoiceRef, &inv.POID, &inv.GRNID, &inv.SupplierID, &inv.BranchID,
		&inv.InvoiceDate, &inv.DueDate, &inv.InvoiceAmount, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount,
		&inv.PaidAmount, &inv.BalanceAmount, &inv.PaymentStatus, &inv.HasDiscrepancy, &inv.DiscrepancyNotes, &inv.CreatedBy)
	return inv, err
}

func scanPayment(row pgx.Row) (InvoicePayment, error) {
	var p InvoicePayment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Reference, &p.ExternalReference, &p.Amount, &p.Method, &p.PaidAt,
		&p.ProcessedBy, &p.ReversalOf, &p.Notes)
	return p, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

// add appends clause, replacing the first ? with the next placeholder.
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(clause, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) page(filters ListFilters) string {
	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
