package procurement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/shared"
)

// RecordPaymentInput describes a payment against an invoice.
type RecordPaymentInput struct {
	InvoiceID         int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount            decimal.Decimal `json:"amount"`
	Method            PaymentMethod   `json:"method" validate:"required,oneof=cash bank_transfer cheque card"`
	ExternalReference string          `json:"external_reference" validate:"max=64"`
	PaidAt            time.Time       `json:"paid_at"`
	ProcessedBy       int64           `json:"processed_by" validate:"gte=0"`
	Notes             string          `json:"notes" validate:"max=500"`
	IdempotencyKey    string          `json:"-" validate:"max=128"`
}

// ReversePaymentInput describes a reversal of a recorded payment.
type ReversePaymentInput struct {
	PaymentID   int64  `json:"payment_id" validate:"required,gt=0"`
	ProcessedBy int64  `json:"processed_by" validate:"gte=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

// PaymentResult returns the ledger entry with the invoice it changed.
type PaymentResult struct {
	Payment InvoicePayment  `json:"payment"`
	Invoice SupplierInvoice `json:"invoice"`
}

// RecordPayment appends a payment and updates the invoice balance in the
// same transaction. Payments larger than the open balance are rejected.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if err := s.check(input); err != nil {
		return PaymentResult{}, err
	}
	processor, err := s.actor(ctx, input.ProcessedBy)
	if err != nil {
		return PaymentResult{}, err
	}
	if err := decimalField("amount", input.Amount); err != nil {
		return PaymentResult{}, err
	}
	if !input.Amount.IsPositive() {
		return PaymentResult{}, invalid("amount", "must be positive")
	}
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = "PAY:" + input.IdempotencyKey
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.payment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentResult{}, ErrDuplicateRequest
			}
			return PaymentResult{}, err
		}
	}
	now := s.clock()
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(inv.BalanceAmount) {
			return &OverpaymentError{InvoiceID: inv.ID, Amount: input.Amount, Balance: inv.BalanceAmount}
		}
		if err := inv.applyPayment(input.Amount); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, numbering.Payment, now)
		if err != nil {
			return err
		}
		payment := InvoicePayment{
			InvoiceID:         inv.ID,
			Reference:         number,
			ExternalReference: strings.TrimSpace(input.ExternalReference),
			Amount:            input.Amount,
			Method:            input.Method,
			PaidAt:            paidAt,
			ProcessedBy:       processor,
			Notes:             strings.TrimSpace(input.Notes),
		}
		if payment.ID, err = tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceBalance(ctx, inv); err != nil {
			return err
		}
		result = PaymentResult{Payment: payment, Invoice: inv}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return PaymentResult{}, err
	}
	s.issued(numbering.Payment)
	if s.metrics != nil {
		s.metrics.PaymentRecorded(string(input.Method), false)
	}
	s.recordAudit(ctx, processor, "PAYMENT_RECORD", "supplier_invoice", result.Invoice.ID, map[string]any{
		"reference": result.Payment.Reference,
		"amount":    result.Payment.Amount.StringFixed(2),
		"balance":   result.Invoice.BalanceAmount.StringFixed(2),
	})
	return result, nil
}

// ReversePayment appends a negating entry for a payment and restores the
// invoice balance. A payment can be reversed once; reversals cannot be reversed.
func (s *Service) ReversePayment(ctx context.Context, input ReversePaymentInput) (PaymentResult, error) {
	if err := s.check(input); err != nil {
		return PaymentResult{}, err
	}
	processor, err := s.actor(ctx, input.ProcessedBy)
	if err != nil {
		return PaymentResult{}, err
	}
	now := s.clock()
	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if original.ReversalOf != 0 {
			return &TransitionError{Entity: "payment", From: "reversal", Action: "reverse"}
		}
		inv, err := tx.LockInvoice(ctx, original.InvoiceID)
		if err != nil {
			return err
		}
		reversed, err := tx.HasReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return &TransitionError{Entity: "payment", From: "reversed", Action: "reverse"}
		}
		if err := inv.applyPayment(original.Amount.Neg()); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, numbering.Payment, now)
		if err != nil {
			return err
		}
		entry := InvoicePayment{
			InvoiceID:   inv.ID,
			Reference:   number,
			Amount:      original.Amount.Neg(),
			Method:      original.Method,
			PaidAt:      now,
			ProcessedBy: processor,
			ReversalOf:  original.ID,
			Notes:       strings.TrimSpace(input.Reason),
		}
		if entry.ID, err = tx.InsertPayment(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceBalance(ctx, inv); err != nil {
			return err
		}
		result = PaymentResult{Payment: entry, Invoice: inv}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.issued(numbering.Payment)
	if s.metrics != nil {
		s.metrics.PaymentRecorded(string(result.Payment.Method), true)
	}
	s.recordAudit(ctx, processor, "PAYMENT_REVERSE", "supplier_invoice", result.Invoice.ID, map[string]any{
		"reference":   result.Payment.Reference,
		"reversal_of": result.Payment.ReversalOf,
		"balance":     result.Invoice.BalanceAmount.StringFixed(2),
	})
	return result, nil
}

// ListPayments returns the ledger entries of an invoice in posting order.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}
