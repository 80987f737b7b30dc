package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procure/internal/numbering"
)

// POLineInput describes an order line. PRItemID links the line to a request
// item; manual orders set ProductID and UnitPrice instead.
type POLineInput struct {
	PRItemID  int64            `json:"purchase_request_item_id" validate:"gte=0"`
	ProductID int64            `json:"product_id" validate:"gte=0"`
	Qty       int64            `json:"qty" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// CreatePOInput defines data to create a purchase order. With a PRID and no
// lines every outstanding request item is ordered in full.
type CreatePOInput struct {
	PRID                 int64           `json:"purchase_request_id" validate:"gte=0"`
	SupplierID           int64           `json:"supplier_id" validate:"required,gt=0"`
	BranchID             int64           `json:"branch_id" validate:"gte=0"`
	CreatedBy            int64           `json:"created_by" validate:"gte=0"`
	OrderDate            time.Time       `json:"order_date"`
	ExpectedDeliveryDate time.Time       `json:"expected_delivery_date"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	Notes                string          `json:"notes" validate:"max=2000"`
	Lines                []POLineInput   `json:"lines" validate:"omitempty,dive"`
}

// CreatePurchaseOrder issues an order, either from an approved request or manually.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := s.check(input); err != nil {
		return PurchaseOrder{}, err
	}
	creator, err := s.actor(ctx, input.CreatedBy)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := decimalField("tax_amount", input.TaxAmount); err != nil {
		return PurchaseOrder{}, err
	}
	if err := decimalField("discount_amount", input.DiscountAmount); err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.checkSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}
	if input.PRID == 0 {
		if err := s.checkManualLines(ctx, input.Lines); err != nil {
			return PurchaseOrder{}, err
		}
	}
	now := s.clock()
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	orderDate = dateOnly(orderDate.In(s.cfg.Location))
	if !input.ExpectedDeliveryDate.IsZero() && dateOnly(input.ExpectedDeliveryDate.In(s.cfg.Location)).Before(orderDate) {
		return PurchaseOrder{}, invalid("expected_delivery_date", "before order date")
	}

	var created PurchaseOrder
	var converted bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po := PurchaseOrder{
			PurchaseRequestID:    input.PRID,
			SupplierID:           input.SupplierID,
			BranchID:             input.BranchID,
			Status:               POStatusOpen,
			OrderDate:            orderDate,
			ExpectedDeliveryDate: input.ExpectedDeliveryDate,
			TaxAmount:            input.TaxAmount,
			DiscountAmount:       input.DiscountAmount,
			Notes:                strings.TrimSpace(input.Notes),
			CreatedBy:            creator,
		}
		converted = false
		if input.PRID > 0 {
			items, done, err := s.orderFromRequest(ctx, tx, input)
			if err != nil {
				return err
			}
			po.Items, converted = items, done
		} else {
			po.Items = manualItems(input.Lines)
		}
		if err := po.price(); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, numbering.PurchaseOrder, now)
		if err != nil {
			return err
		}
		po.Number = number
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for idx := range po.Items {
			po.Items[idx].POID = poID
			itemID, err := tx.InsertPOItem(ctx, po.Items[idx])
			if err != nil {
				return err
			}
			po.Items[idx].ID = itemID
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.issued(numbering.PurchaseOrder)
	s.refreshSuggestions(ctx, created.Number)
	s.recordAudit(ctx, creator, "PO_CREATE", "purchase_order", created.ID, map[string]any{
		"number":  created.Number,
		"from_pr": input.PRID,
		"total":   created.FinalAmount.StringFixed(2),
	})
	if converted {
		s.recordAudit(ctx, creator, "PR_CONVERT", "purchase_request", input.PRID, map[string]any{"po": created.Number})
	}
	return created, nil
}

// orderFromRequest consumes outstanding request quantities and reports
// whether the request became fully ordered.
func (s *Service) orderFromRequest(ctx context.Context, tx TxRepository, input CreatePOInput) ([]POItem, bool, error) {
	pr, err := tx.LockPR(ctx, input.PRID)
	if err != nil {
		return nil, false, err
	}
	if _, err := pr.Status.Next(PRActionOrder); err != nil {
		return nil, false, err
	}
	lines := input.Lines
	if len(lines) == 0 {
		for _, item := range pr.Items {
			if item.Outstanding() > 0 {
				lines = append(lines, POLineInput{PRItemID: item.ID, Qty: item.Outstanding()})
			}
		}
	}
	if len(lines) == 0 {
		return nil, false, invalid("lines", "request has nothing left to order")
	}
	items := make([]POItem, 0, len(lines))
	for idx, line := range lines {
		if line.PRItemID == 0 {
			return nil, false, invalid(fmt.Sprintf("lines[%d].purchase_request_item_id", idx), "required when ordering from a request")
		}
		prItem, pos, ok := pr.item(line.PRItemID)
		if !ok {
			return nil, false, invalid(fmt.Sprintf("lines[%d].purchase_request_item_id", idx), "not on request")
		}
		if line.Qty > prItem.Outstanding() {
			return nil, false, &QuantityError{Kind: ErrQuantityExceedsRequest, ItemID: prItem.ID, Requested: line.Qty, Available: prItem.Outstanding()}
		}
		price := prItem.EstimatedUnitPrice
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		if err := decimalField(fmt.Sprintf("lines[%d].unit_price", idx), price); err != nil {
			return nil, false, err
		}
		if err := tx.AddPRItemOrdered(ctx, prItem.ID, line.Qty); err != nil {
			return nil, false, err
		}
		pr.Items[pos].OrderedQty += line.Qty
		items = append(items, POItem{PRItemID: prItem.ID, ProductID: prItem.ProductID, OrderedQty: line.Qty, UnitPrice: price})
	}
	if !pr.fullyOrdered() {
		return items, false, nil
	}
	next, err := pr.Status.Next(PRActionConvert)
	if err != nil {
		return nil, false, err
	}
	pr.Status = next
	if err := tx.UpdatePR(ctx, pr); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (s *Service) checkManualLines(ctx context.Context, lines []POLineInput) error {
	if len(lines) == 0 {
		return invalid("lines", "at least one line required")
	}
	seen := make(map[int64]struct{}, len(lines))
	for idx, line := range lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.PRItemID != 0 {
			return invalid(field+".purchase_request_item_id", "manual orders cannot reference request items")
		}
		if line.ProductID == 0 {
			return invalid(field+".product_id", "required")
		}
		if _, dup := seen[line.ProductID]; dup {
			return invalid(field+".product_id", "duplicate product")
		}
		seen[line.ProductID] = struct{}{}
		if line.UnitPrice == nil {
			return invalid(field+".unit_price", "required")
		}
		if err := decimalField(field+".unit_price", *line.UnitPrice); err != nil {
			return err
		}
		if s.stock == nil {
			continue
		}
		if _, err := s.stock.GetStock(ctx, line.ProductID); err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				return invalid(field+".product_id", "unknown product")
			}
			return err
		}
	}
	return nil
}

func manualItems(lines []POLineInput) []POItem {
	items := make([]POItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, POItem{ProductID: line.ProductID, OrderedQty: line.Qty, UnitPrice: *line.UnitPrice})
	}
	return items
}

func (s *Service) checkSupplier(ctx context.Context, supplierID int64) error {
	if s.suppliers == nil {
		return nil
	}
	_, err := s.suppliers.GetSupplier(ctx, supplierID)
	switch {
	case errors.Is(err, suppliers.ErrNotFound):
		return invalid("supplier_id", "unknown supplier")
	case errors.Is(err, suppliers.ErrInactive):
		return invalid("supplier_id", "supplier inactive")
	}
	return err
}

// price fills line totals and header amounts.
func (po *PurchaseOrder) price() error {
	subtotal := decimal.Zero
	for idx := range po.Items {
		item := &po.Items[idx]
		item.LineTotal = lineTotal(item.OrderedQty, item.UnitPrice)
		subtotal = subtotal.Add(item.LineTotal)
	}
	po.Subtotal = subtotal
	gross := subtotal.Add(po.TaxAmount)
	if po.DiscountAmount.GreaterThan(gross) {
		return invalid("discount_amount", "exceeds subtotal plus tax")
	}
	po.FinalAmount = gross.Sub(po.DiscountAmount)
	return nil
}

// GetPurchaseOrder loads an order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPurchaseOrders returns order headers matching filters.
func (s *Service) ListPurchaseOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	return s.repo.ListPOs(ctx, filters)
}

// recordReceipt atomically adds delta to an item's received quantity. The
// repository rejects the update when it would exceed the ordered quantity.
func (s *Service) recordReceipt(ctx context.Context, tx TxRepository, poItemID, delta int64) (POItem, error) {
	if delta < 0 {
		return POItem{}, invalid("received_qty", "must not be negative")
	}
	return tx.AddPOItemReceived(ctx, poItemID, delta)
}

// refreshOrderStatus re-derives the order status from its items.
func (s *Service) refreshOrderStatus(ctx context.Context, tx TxRepository, po *PurchaseOrder, at time.Time) error {
	status := derivePOStatus(po.Items)
	if status == po.Status {
		return nil
	}
	delivered := time.Time{}
	if status == POStatusReceived {
		delivered = dateOnly(at)
	}
	if err := tx.UpdatePOStatus(ctx, po.ID, status, delivered); err != nil {
		return err
	}
	po.Status = status
	po.ActualDeliveryDate = delivered
	return nil
}
