package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Priority of a purchase request.
type Priority string

const (
	PriorityNormal    Priority = "Normal"
	PriorityUrgent    Priority = "Urgent"
	PriorityEmergency Priority = "Emergency"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// Purchase request lifecycle statuses.
type PRStatus string

const (
	PRStatusDraft                  PRStatus = "Draft"
	PRStatusPendingApproval        PRStatus = "PendingApproval"
	PRStatusApproved               PRStatus = "Approved"
	PRStatusRejected               PRStatus = "Rejected"
	PRStatusClarificationRequested PRStatus = "ClarificationRequested"
	PRStatusConverted              PRStatus = "Converted"
)

// PRAction is anything that may be attempted against a purchase request.
type PRAction string

const (
	PRActionSubmit   PRAction = "submit"
	PRActionResubmit PRAction = "resubmit"
	PRActionApprove  PRAction = "approve"
	PRActionReject   PRAction = "reject"
	PRActionClarify  PRAction = "request_clarification"
	PRActionEdit     PRAction = "edit"
	PRActionDelete   PRAction = "delete"
	PRActionOrder    PRAction = "order"
	PRActionConvert  PRAction = "convert"
)

// Next returns the status reached by applying action, or a TransitionError.
// Actions that are legal but keep the status (edit, delete, order) return s.
func (s PRStatus) Next(action PRAction) (PRStatus, error) {
	next, ok := s.next(action)
	if !ok {
		return s, &TransitionError{Entity: "purchase request", From: string(s), Action: string(action)}
	}
	return next, nil
}

func (s PRStatus) next(action PRAction) (PRStatus, bool) {
	switch s {
	case PRStatusDraft:
		switch action {
		case PRActionSubmit:
			return PRStatusPendingApproval, true
		case PRActionEdit, PRActionDelete:
			return s, true
		}
	case PRStatusClarificationRequested:
		switch action {
		case PRActionSubmit, PRActionResubmit:
			return PRStatusPendingApproval, true
		case PRActionEdit:
			return s, true
		}
	case PRStatusPendingApproval:
		switch action {
		case PRActionApprove:
			return PRStatusApproved, true
		case PRActionReject:
			return PRStatusRejected, true
		case PRActionClarify:
			return PRStatusClarificationRequested, true
		}
	case PRStatusApproved:
		switch action {
		case PRActionOrder:
			return s, true
		case PRActionConvert:
			return PRStatusConverted, true
		}
	case PRStatusRejected, PRStatusConverted:
	}
	return s, false
}

// Purchase order statuses, derived from received quantities.
type POStatus string

const (
	POStatusOpen              POStatus = "Open"
	POStatusPartiallyReceived POStatus = "PartiallyReceived"
	POStatusReceived          POStatus = "Received"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft  GRNStatus = "Draft"
	GRNStatusPosted GRNStatus = "Posted"
)

// QualityStatus summarises inspection of a GRN line.
type QualityStatus string

const (
	QualityAccepted QualityStatus = "accepted"
	QualityPartial  QualityStatus = "partial"
	QualityRejected QualityStatus = "rejected"
)

// PaymentStatus of a supplier invoice.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentMethod used to settle an invoice.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheque       PaymentMethod = "cheque"
	MethodCard         PaymentMethod = "card"
)

// PurchaseRequest domain model.
type PurchaseRequest struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"pr_number"`
	BranchID           int64           `json:"branch_id"`
	RequestedBy        int64           `json:"requested_by"`
	Priority           Priority        `json:"priority"`
	Status             PRStatus        `json:"status"`
	Remarks            string          `json:"remarks"`
	TotalEstimatedCost decimal.Decimal `json:"total_estimated_cost"`
	TotalItems         int             `json:"total_items"`
	DecidedBy          int64           `json:"decided_by,omitempty"`
	DecidedAt          time.Time       `json:"decided_at,omitempty"`
	DecisionRemarks    string          `json:"decision_remarks,omitempty"`
	SubmittedAt        time.Time       `json:"submitted_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	Items              []PRItem        `json:"items"`
}

// PRItem is a requested product line.
type PRItem struct {
	ID                 int64           `json:"id"`
	PRID               int64           `json:"purchase_request_id"`
	ProductID          int64           `json:"product_id"`
	SupplierID         int64           `json:"supplier_id,omitempty"`
	RequestedQty       int64           `json:"requested_qty"`
	OrderedQty         int64           `json:"ordered_qty"`
	EstimatedUnitPrice decimal.Decimal `json:"estimated_unit_price"`
	LineTotal          decimal.Decimal `json:"line_total"`
	IsSuggested        bool            `json:"is_suggested"`
	SuggestionReason   string          `json:"suggestion_reason,omitempty"`
}

// Outstanding is the quantity not yet placed on a purchase order.
func (i PRItem) Outstanding() int64 {
	return i.RequestedQty - i.OrderedQty
}

// recalculate refreshes line totals and the derived header totals.
func (pr *PurchaseRequest) recalculate() {
	total := decimal.Zero
	for idx := range pr.Items {
		item := &pr.Items[idx]
		item.LineTotal = lineTotal(item.RequestedQty, item.EstimatedUnitPrice)
		total = total.Add(item.LineTotal)
	}
	pr.TotalEstimatedCost = total
	pr.TotalItems = len(pr.Items)
}

// checkTotals asserts the stored totals match the items.
func (pr PurchaseRequest) checkTotals() error {
	total := decimal.Zero
	for _, item := range pr.Items {
		if !item.LineTotal.Equal(lineTotal(item.RequestedQty, item.EstimatedUnitPrice)) {
			return fmt.Errorf("procurement: request %s item %d line total drifted", pr.Number, item.ID)
		}
		total = total.Add(item.LineTotal)
	}
	if !total.Equal(pr.TotalEstimatedCost) || pr.TotalItems != len(pr.Items) {
		return fmt.Errorf("procurement: request %s totals drifted", pr.Number)
	}
	return nil
}

func (pr PurchaseRequest) fullyOrdered() bool {
	if len(pr.Items) == 0 {
		return false
	}
	for _, item := range pr.Items {
		if item.Outstanding() > 0 {
			return false
		}
	}
	return true
}

func (pr PurchaseRequest) item(id int64) (PRItem, int, bool) {
	for idx, item := range pr.Items {
		if item.ID == id {
			return item, idx, true
		}
	}
	return PRItem{}, -1, false
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"po_number"`
	PurchaseRequestID    int64           `json:"purchase_request_id,omitempty"`
	SupplierID           int64           `json:"supplier_id"`
	BranchID             int64           `json:"branch_id"`
	Status               POStatus        `json:"status"`
	OrderDate            time.Time       `json:"order_date"`
	ExpectedDeliveryDate time.Time       `json:"expected_delivery_date,omitempty"`
	ActualDeliveryDate   time.Time       `json:"actual_delivery_date,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	FinalAmount          decimal.Decimal `json:"final_amount"`
	Notes                string          `json:"notes,omitempty"`
	CreatedBy            int64           `json:"created_by"`
	Items                []POItem        `json:"items"`
}

// POItem represents an ordered line.
type POItem struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"purchase_order_id"`
	PRItemID    int64           `json:"purchase_request_item_id,omitempty"`
	ProductID   int64           `json:"product_id"`
	OrderedQty  int64           `json:"ordered_qty"`
	ReceivedQty int64           `json:"received_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Pending is ordered minus cumulative received quantity.
func (i POItem) Pending() int64 {
	return i.OrderedQty - i.ReceivedQty
}

func (po PurchaseOrder) item(id int64) (POItem, int, bool) {
	for idx, item := range po.Items {
		if item.ID == id {
			return item, idx, true
		}
	}
	return POItem{}, -1, false
}

func derivePOStatus(items []POItem) POStatus {
	var received, pending int64
	for _, item := range items {
		received += item.ReceivedQty
		pending += item.Pending()
	}
	switch {
	case received == 0:
		return POStatusOpen
	case pending == 0:
		return POStatusReceived
	default:
		return POStatusPartiallyReceived
	}
}

// GoodsReceipt (GRN) domain model.
type GoodsReceipt struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"grn_number"`
	POID               int64           `json:"purchase_order_id"`
	Status             GRNStatus       `json:"status"`
	ReceivedBy         int64           `json:"received_by"`
	ReceivedAt         time.Time       `json:"received_at"`
	DeliveryNoteRef    string          `json:"delivery_note_ref,omitempty"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref,omitempty"`
	HasDiscrepancies   bool            `json:"has_discrepancies"`
	DiscrepancyNotes   string          `json:"discrepancy_notes,omitempty"`
	TotalReceivedValue decimal.Decimal `json:"total_received_value"`
	PostedAt           time.Time       `json:"posted_at,omitempty"`
	Items              []GRNItem       `json:"items"`
}

// GRNItem describes a received line.
type GRNItem struct {
	ID              int64           `json:"id"`
	GRNID           int64           `json:"grn_id"`
	POItemID        int64           `json:"purchase_order_item_id"`
	ProductID       int64           `json:"product_id"`
	OrderedQty      int64           `json:"ordered_qty"`
	ReceivedQty     int64           `json:"received_qty"`
	RejectedQty     int64           `json:"rejected_qty"`
	DamagedQty      int64           `json:"damaged_qty"`
	BatchNumber     string          `json:"batch_number,omitempty"`
	ManufactureDate time.Time       `json:"manufacture_date,omitempty"`
	ExpiryDate      time.Time       `json:"expiry_date,omitempty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
	QualityStatus   QualityStatus   `json:"quality_status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

// Handled is the total quantity this line accounts for.
func (i GRNItem) Handled() int64 {
	return i.ReceivedQty + i.RejectedQty + i.DamagedQty
}

func qualityOf(received, rejected, damaged int64) QualityStatus {
	switch {
	case rejected+damaged == 0:
		return QualityAccepted
	case received == 0:
		return QualityRejected
	default:
		return QualityPartial
	}
}

// SupplierInvoice domain model.
type SupplierInvoice struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"invoice_number"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref,omitempty"`
	POID               int64           `json:"purchase_order_id"`
	GRNID              int64           `json:"grn_id,omitempty"`
	SupplierID         int64           `json:"supplier_id"`
	BranchID           int64           `json:"branch_id"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	DueDate            time.Time       `json:"due_date"`
	InvoiceAmount      decimal.Decimal `json:"invoice_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	BalanceAmount      decimal.Decimal `json:"balance_amount"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	HasDiscrepancy     bool            `json:"has_discrepancy"`
	DiscrepancyNotes   string          `json:"discrepancy_notes,omitempty"`
	CreatedBy          int64           `json:"created_by"`
}

// applyPayment moves amount (negative for reversals) from balance to paid,
// keeping 0 <= paid <= total and balance = total - paid.
func (inv *SupplierInvoice) applyPayment(amount decimal.Decimal) error {
	paid := inv.PaidAmount.Add(amount)
	if paid.IsNegative() || paid.GreaterThan(inv.TotalAmount) {
		return fmt.Errorf("procurement: invoice %s paid amount %s out of range [0, %s]", inv.Number, paid.StringFixed(2), inv.TotalAmount.StringFixed(2))
	}
	inv.PaidAmount = paid
	inv.BalanceAmount = inv.TotalAmount.Sub(paid)
	switch {
	case paid.IsZero():
		inv.PaymentStatus = PaymentUnpaid
	case inv.BalanceAmount.IsZero():
		inv.PaymentStatus = PaymentPaid
	default:
		inv.PaymentStatus = PaymentPartial
	}
	return nil
}

// InvoicePayment is an append-only ledger entry against an invoice.
type InvoicePayment struct {
	ID                int64           `json:"id"`
	InvoiceID         int64           `json:"invoice_id"`
	Reference         string          `json:"payment_reference"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Method            PaymentMethod   `json:"method"`
	PaidAt            time.Time       `json:"paid_at"`
	ProcessedBy       int64           `json:"processed_by"`
	ReversalOf        int64           `json:"reversal_of,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

func lineTotal(qty int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty)).Round(2)
}

// ListFilters narrows list queries.
type ListFilters struct {
	Status     string
	SupplierID int64
	BranchID   int64
	Search     string
	Limit      int
	Offset     int
}
