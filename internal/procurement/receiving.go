package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/shared"
)

// GRNLineInput describes one received order line.
type GRNLineInput struct {
	POItemID        int64            `json:"purchase_order_item_id" validate:"required,gt=0"`
	ReceivedQty     int64            `json:"received_qty" validate:"gte=0"`
	RejectedQty     int64            `json:"rejected_qty" validate:"gte=0"`
	DamagedQty      int64            `json:"damaged_qty" validate:"gte=0"`
	BatchNumber     string           `json:"batch_number" validate:"max=64"`
	ManufactureDate time.Time        `json:"manufacture_date"`
	ExpiryDate      time.Time        `json:"expiry_date"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	RejectionReason string           `json:"rejection_reason" validate:"max=500"`
}

// ReceiveGoodsInput describes a delivery against a purchase order.
type ReceiveGoodsInput struct {
	POID               int64          `json:"purchase_order_id" validate:"required,gt=0"`
	ReceivedBy         int64          `json:"received_by" validate:"gte=0"`
	ReceivedAt         time.Time      `json:"received_at"`
	DeliveryNoteRef    string         `json:"delivery_note_ref" validate:"max=64"`
	SupplierInvoiceRef string         `json:"supplier_invoice_ref" validate:"max=64"`
	Lines              []GRNLineInput `json:"lines" validate:"min=1,dive"`
}

// ReceiveGoods records and posts a delivery in one transaction: the GRN is
// created, order items advance, and stock increases.
func (s *Service) ReceiveGoods(ctx context.Context, input ReceiveGoodsInput) (GoodsReceipt, error) {
	receiver, err := s.prepareReceipt(ctx, &input)
	if err != nil {
		return GoodsReceipt{}, err
	}
	var posted GoodsReceipt
	var branchID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		grn, err := buildReceipt(po, input.Lines)
		if err != nil {
			return err
		}
		grn.ReceivedBy = receiver
		grn.ReceivedAt = input.ReceivedAt
		grn.DeliveryNoteRef = input.DeliveryNoteRef
		grn.SupplierInvoiceRef = input.SupplierInvoiceRef
		if grn.Number, err = tx.NextNumber(ctx, numbering.GoodsReceipt, input.ReceivedAt); err != nil {
			return err
		}
		grn.Status = GRNStatusPosted
		grn.PostedAt = s.clock()
		if err := insertReceipt(ctx, tx, &grn); err != nil {
			return err
		}
		if err := s.postLines(ctx, tx, &po, grn); err != nil {
			return err
		}
		posted, branchID = grn, po.BranchID
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.issued(numbering.GoodsReceipt)
	s.afterPost(ctx, receiver, posted, branchID)
	return posted, nil
}

// DraftGoodsReceipt records a delivery without touching order quantities or stock.
func (s *Service) DraftGoodsReceipt(ctx context.Context, input ReceiveGoodsInput) (GoodsReceipt, error) {
	receiver, err := s.prepareReceipt(ctx, &input)
	if err != nil {
		return GoodsReceipt{}, err
	}
	var draft GoodsReceipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		grn, err := buildReceipt(po, input.Lines)
		if err != nil {
			return err
		}
		grn.ReceivedBy = receiver
		grn.ReceivedAt = input.ReceivedAt
		grn.DeliveryNoteRef = input.DeliveryNoteRef
		grn.SupplierInvoiceRef = input.SupplierInvoiceRef
		grn.Status = GRNStatusDraft
		if grn.Number, err = tx.NextNumber(ctx, numbering.GoodsReceipt, input.ReceivedAt); err != nil {
			return err
		}
		if err := insertReceipt(ctx, tx, &grn); err != nil {
			return err
		}
		draft = grn
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.issued(numbering.GoodsReceipt)
	s.recordAudit(ctx, receiver, "GRN_DRAFT", "goods_receipt", draft.ID, map[string]any{"number": draft.Number, "po_id": draft.POID})
	return draft, nil
}

// PostGoodsReceipt posts a draft GRN, re-checking every line against the
// order's current pending quantities.
func (s *Service) PostGoodsReceipt(ctx context.Context, grnID, actorID int64) (GoodsReceipt, error) {
	actorID, err := s.actor(ctx, actorID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	draft, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if draft.Status != GRNStatusDraft {
		return GoodsReceipt{}, &TransitionError{Entity: "goods receipt", From: string(draft.Status), Action: "post"}
	}
	key := "GRN:" + draft.Number
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.grn"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return GoodsReceipt{}, ErrDuplicateRequest
			}
			return GoodsReceipt{}, err
		}
	}
	var posted GoodsReceipt
	var branchID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, err := tx.LockGRN(ctx, grnID)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return &TransitionError{Entity: "goods receipt", From: string(grn.Status), Action: "post"}
		}
		po, err := tx.LockPO(ctx, grn.POID)
		if err != nil {
			return err
		}
		fresh, err := buildReceipt(po, linesOf(grn))
		if err != nil {
			return err
		}
		for idx := range fresh.Items {
			fresh.Items[idx].ID = grn.Items[idx].ID
			fresh.Items[idx].GRNID = grn.ID
		}
		notes := fresh.DiscrepancyNotes
		if grn.DiscrepancyNotes != "" && !strings.Contains(notes, grn.DiscrepancyNotes) {
			notes = strings.TrimSpace(grn.DiscrepancyNotes + "\n" + notes)
		}
		grn.Items = fresh.Items
		grn.HasDiscrepancies = fresh.HasDiscrepancies || grn.HasDiscrepancies
		grn.DiscrepancyNotes = notes
		grn.TotalReceivedValue = fresh.TotalReceivedValue
		grn.Status = GRNStatusPosted
		grn.PostedAt = s.clock()
		if err := tx.UpdateGRN(ctx, grn); err != nil {
			return err
		}
		if err := s.postLines(ctx, tx, &po, grn); err != nil {
			return err
		}
		posted, branchID = grn, po.BranchID
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return GoodsReceipt{}, err
	}
	s.afterPost(ctx, actorID, posted, branchID)
	return posted, nil
}

// AnnotateDiscrepancy appends a free-text discrepancy note to a GRN.
func (s *Service) AnnotateDiscrepancy(ctx context.Context, grnID, actorID int64, note string) (GoodsReceipt, error) {
	actorID, err := s.actor(ctx, actorID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return GoodsReceipt{}, invalid("note", "required")
	}
	var out GoodsReceipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, err := tx.LockGRN(ctx, grnID)
		if err != nil {
			return err
		}
		grn.HasDiscrepancies = true
		grn.DiscrepancyNotes = strings.TrimSpace(grn.DiscrepancyNotes + "\n" + note)
		if err := tx.UpdateGRN(ctx, grn); err != nil {
			return err
		}
		out = grn
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, actorID, "GRN_DISCREPANCY", "goods_receipt", out.ID, map[string]any{"number": out.Number, "note": note})
	return out, nil
}

// GetGoodsReceipt loads a GRN with its items.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListGoodsReceipts returns GRNs recorded against an order.
func (s *Service) ListGoodsReceipts(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	return s.repo.ListGRNs(ctx, poID)
}

func (s *Service) prepareReceipt(ctx context.Context, input *ReceiveGoodsInput) (int64, error) {
	if err := s.check(*input); err != nil {
		return 0, err
	}
	receiver, err := s.actor(ctx, input.ReceivedBy)
	if err != nil {
		return 0, err
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = s.clock()
	}
	input.ReceivedAt = input.ReceivedAt.In(s.cfg.Location)
	seen := make(map[int64]struct{}, len(input.Lines))
	for idx, line := range input.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if _, dup := seen[line.POItemID]; dup {
			return 0, invalid(field+".purchase_order_item_id", "duplicate line")
		}
		seen[line.POItemID] = struct{}{}
		if line.ReceivedQty+line.RejectedQty+line.DamagedQty == 0 {
			return 0, invalid(field, "no quantity")
		}
		if !line.ManufactureDate.IsZero() && !line.ExpiryDate.IsZero() && !line.ExpiryDate.After(line.ManufactureDate) {
			return 0, invalid(field+".expiry_date", "not after manufacture date")
		}
		if line.UnitPrice != nil {
			if err := decimalField(field+".unit_price", *line.UnitPrice); err != nil {
				return 0, err
			}
		}
	}
	return receiver, nil
}

// buildReceipt checks lines against the order's pending quantities and
// derives quality, discrepancy and value fields.
func buildReceipt(po PurchaseOrder, lines []GRNLineInput) (GoodsReceipt, error) {
	grn := GoodsReceipt{POID: po.ID, TotalReceivedValue: decimal.Zero}
	var notes []string
	for idx, line := range lines {
		item, _, ok := po.item(line.POItemID)
		if !ok {
			return GoodsReceipt{}, invalid(fmt.Sprintf("lines[%d].purchase_order_item_id", idx), "not on purchase order")
		}
		handled := line.ReceivedQty + line.RejectedQty + line.DamagedQty
		if handled > item.Pending() {
			return GoodsReceipt{}, &QuantityError{Kind: ErrQuantityExceedsOrder, ItemID: item.ID, Requested: handled, Available: item.Pending()}
		}
		price := item.UnitPrice
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		gi := GRNItem{
			POItemID:        item.ID,
			ProductID:       item.ProductID,
			OrderedQty:      item.OrderedQty,
			ReceivedQty:     line.ReceivedQty,
			RejectedQty:     line.RejectedQty,
			DamagedQty:      line.DamagedQty,
			BatchNumber:     strings.TrimSpace(line.BatchNumber),
			ManufactureDate: line.ManufactureDate,
			ExpiryDate:      line.ExpiryDate,
			UnitPrice:       price,
			LineTotal:       lineTotal(line.ReceivedQty, price),
			QualityStatus:   qualityOf(line.ReceivedQty, line.RejectedQty, line.DamagedQty),
			RejectionReason: strings.TrimSpace(line.RejectionReason),
		}
		if gi.RejectedQty+gi.DamagedQty > 0 {
			notes = append(notes, fmt.Sprintf("product %d: %d rejected, %d damaged", gi.ProductID, gi.RejectedQty, gi.DamagedQty))
		}
		if gi.ReceivedQty != gi.OrderedQty {
			notes = append(notes, fmt.Sprintf("product %d: received %d of %d ordered", gi.ProductID, gi.ReceivedQty, gi.OrderedQty))
		}
		grn.TotalReceivedValue = grn.TotalReceivedValue.Add(gi.LineTotal)
		grn.Items = append(grn.Items, gi)
	}
	grn.HasDiscrepancies = len(notes) > 0
	grn.DiscrepancyNotes = strings.Join(notes, "\n")
	return grn, nil
}

func linesOf(grn GoodsReceipt) []GRNLineInput {
	lines := make([]GRNLineInput, 0, len(grn.Items))
	for _, item := range grn.Items {
		price := item.UnitPrice
		lines = append(lines, GRNLineInput{
			POItemID:        item.POItemID,
			ReceivedQty:     item.ReceivedQty,
			RejectedQty:     item.RejectedQty,
			DamagedQty:      item.DamagedQty,
			BatchNumber:     item.BatchNumber,
			ManufactureDate: item.ManufactureDate,
			ExpiryDate:      item.ExpiryDate,
			UnitPrice:       &price,
			RejectionReason: item.RejectionReason,
		})
	}
	return lines
}

func insertReceipt(ctx context.Context, tx TxRepository, grn *GoodsReceipt) error {
	grnID, err := tx.CreateGRN(ctx, *grn)
	if err != nil {
		return err
	}
	grn.ID = grnID
	for idx := range grn.Items {
		grn.Items[idx].GRNID = grnID
		itemID, err := tx.InsertGRNItem(ctx, grn.Items[idx])
		if err != nil {
			return err
		}
		grn.Items[idx].ID = itemID
	}
	return nil
}

// postLines advances order items by the accepted quantity, increments stock
// and refreshes the order status.
func (s *Service) postLines(ctx context.Context, tx TxRepository, po *PurchaseOrder, grn GoodsReceipt) error {
	for _, line := range grn.Items {
		if line.ReceivedQty == 0 {
			continue
		}
		updated, err := s.recordReceipt(ctx, tx, line.POItemID, line.ReceivedQty)
		if err != nil {
			return err
		}
		if _, idx, ok := po.item(updated.ID); ok {
			po.Items[idx] = updated
		}
		err = tx.IncrementStock(ctx, inventory.Inbound{
			ProductID: line.ProductID,
			Qty:       line.ReceivedQty,
			RefModule: "procurement.grn",
			RefID:     refID("GRN", grn.ID),
			Note:      fmt.Sprintf("%s batch %s", grn.Number, line.BatchNumber),
		})
		if err != nil {
			return err
		}
	}
	return s.refreshOrderStatus(ctx, tx, po, grn.ReceivedAt)
}

func (s *Service) afterPost(ctx context.Context, actorID int64, grn GoodsReceipt, branchID int64) {
	if s.metrics != nil {
		s.metrics.ReceiptPosted(grn.HasDiscrepancies)
	}
	s.recordAudit(ctx, actorID, "GRN_POST", "goods_receipt", grn.ID, map[string]any{
		"number":        grn.Number,
		"po_id":         grn.POID,
		"value":         grn.TotalReceivedValue.StringFixed(2),
		"discrepancies": grn.HasDiscrepancies,
	})
	s.refreshSuggestions(ctx, grn.Number)
	if s.events == nil {
		return
	}
	ids := make([]int64, 0, len(grn.Items))
	for _, item := range grn.Items {
		if item.ReceivedQty > 0 {
			ids = append(ids, item.ProductID)
		}
	}
	evt := StockChangedEvent{GRNID: grn.ID, GRNNumber: grn.Number, BranchID: branchID, ProductIDs: ids, PostedAt: grn.PostedAt}
	if err := s.events.PublishStockChanged(ctx, evt); err != nil {
		s.logger.Warn("publish stock changed", slog.String("grn", grn.Number), slog.Any("error", err))
	}
}
