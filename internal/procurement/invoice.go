package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/numbering"
)

// MatchInvoiceInput registers a supplier invoice against an order and,
// optionally, the GRN it bills.
type MatchInvoiceInput struct {
	POID               int64           `json:"purchase_order_id" validate:"required,gt=0"`
	GRNID              int64           `json:"grn_id" validate:"gte=0"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref" validate:"max=64"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	DueDate            time.Time       `json:"due_date"`
	InvoiceAmount      decimal.Decimal `json:"invoice_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	CreatedBy          int64           `json:"created_by" validate:"gte=0"`
}

// MatchInvoice records a supplier invoice. When a GRN is given the invoice
// total is compared with the GRN's received value; a gap beyond the
// configured tolerance flags the invoice without blocking it.
func (s *Service) MatchInvoice(ctx context.Context, input MatchInvoiceInput) (SupplierInvoice, error) {
	if err := s.check(input); err != nil {
		return SupplierInvoice{}, err
	}
	creator, err := s.actor(ctx, input.CreatedBy)
	if err != nil {
		return SupplierInvoice{}, err
	}
	if err := decimalField("invoice_amount", input.InvoiceAmount); err != nil {
		return SupplierInvoice{}, err
	}
	if err := decimalField("tax_amount", input.TaxAmount); err != nil {
		return SupplierInvoice{}, err
	}
	if err := decimalField("discount_amount", input.DiscountAmount); err != nil {
		return SupplierInvoice{}, err
	}
	total := input.InvoiceAmount.Add(input.TaxAmount).Sub(input.DiscountAmount)
	if !total.IsPositive() {
		return SupplierInvoice{}, invalid("invoice_amount", "total must be positive")
	}
	now := s.clock()
	invoiceDate := input.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}
	invoiceDate = dateOnly(invoiceDate.In(s.cfg.Location))
	dueDate := input.DueDate
	if dueDate.IsZero() {
		dueDate = invoiceDate.AddDate(0, 0, s.cfg.DefaultDueDays)
	}
	dueDate = dateOnly(dueDate.In(s.cfg.Location))
	if dueDate.Before(invoiceDate) {
		return SupplierInvoice{}, invalid("due_date", "before invoice date")
	}

	po, err := s.repo.GetPO(ctx, input.POID)
	if err != nil {
		return SupplierInvoice{}, err
	}
	inv := SupplierInvoice{
		SupplierInvoiceRef: strings.TrimSpace(input.SupplierInvoiceRef),
		POID:               po.ID,
		GRNID:              input.GRNID,
		SupplierID:         po.SupplierID,
		BranchID:           po.BranchID,
		InvoiceDate:        invoiceDate,
		DueDate:            dueDate,
		InvoiceAmount:      input.InvoiceAmount,
		TaxAmount:          input.TaxAmount,
		DiscountAmount:     input.DiscountAmount,
		TotalAmount:        total,
		PaidAmount:         decimal.Zero,
		BalanceAmount:      total,
		PaymentStatus:      PaymentUnpaid,
		CreatedBy:          creator,
	}
	if input.GRNID > 0 {
		grn, err := s.repo.GetGRN(ctx, input.GRNID)
		if err != nil {
			return SupplierInvoice{}, err
		}
		if grn.POID != po.ID {
			return SupplierInvoice{}, invalid("grn_id", "belongs to another purchase order")
		}
		if grn.Status != GRNStatusPosted {
			return SupplierInvoice{}, &TransitionError{Entity: "goods receipt", From: string(grn.Status), Action: "invoice"}
		}
		inv.HasDiscrepancy, inv.DiscrepancyNotes = compareToReceipt(total, grn, s.cfg.InvoiceTolerance)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.SupplierInvoice, now)
		if err != nil {
			return err
		}
		inv.Number = number
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return nil
	})
	if err != nil {
		return SupplierInvoice{}, err
	}
	s.issued(numbering.SupplierInvoice)
	if s.metrics != nil {
		s.metrics.InvoiceMatched(inv.HasDiscrepancy)
	}
	s.recordAudit(ctx, creator, "INVOICE_CREATE", "supplier_invoice", inv.ID, map[string]any{
		"number":      inv.Number,
		"total":       inv.TotalAmount.StringFixed(2),
		"discrepancy": inv.HasDiscrepancy,
	})
	return inv, nil
}

// compareToReceipt flags totals that differ from the GRN value by more than tolerance.
func compareToReceipt(total decimal.Decimal, grn GoodsReceipt, tolerance decimal.Decimal) (bool, string) {
	diff := total.Sub(grn.TotalReceivedValue)
	if diff.Abs().LessThanOrEqual(tolerance) {
		return false, ""
	}
	direction := "over-billed"
	if diff.IsNegative() {
		direction = "under-billed"
	}
	return true, fmt.Sprintf("%s by %s against %s (invoice %s, received %s)",
		direction, diff.Abs().StringFixed(2), grn.Number, total.StringFixed(2), grn.TotalReceivedValue.StringFixed(2))
}

// GetInvoice loads an invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices matching filters.
func (s *Service) ListInvoices(ctx context.Context, filters ListFilters) ([]SupplierInvoice, error) {
	return s.repo.ListInvoices(ctx, filters)
}

// AgingBucket summarises open balances by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_1_30"`
	Bucket60  decimal.Decimal `json:"bucket_31_60"`
	Bucket90  decimal.Decimal `json:"bucket_61_90"`
	Bucket120 decimal.Decimal `json:"bucket_over_90"`
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

// CalculateAging groups open invoice balances by due date buckets.
func (s *Service) CalculateAging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	invoices, err := s.repo.ListOutstandingInvoices(ctx)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.clock()
	}
	asOf = dateOnly(asOf.In(s.cfg.Location))
	var bucket AgingBucket
	for _, inv := range invoices {
		if inv.PaymentStatus == PaymentPaid || !inv.BalanceAmount.IsPositive() {
			continue
		}
		days := int(asOf.Sub(dateOnly(inv.DueDate.In(s.cfg.Location))).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current = bucket.Current.Add(inv.BalanceAmount)
		case days <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(inv.BalanceAmount)
		case days <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(inv.BalanceAmount)
		case days <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(inv.BalanceAmount)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(inv.BalanceAmount)
		}
	}
	return bucket, nil
}
