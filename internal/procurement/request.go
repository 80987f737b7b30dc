package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/shared"
)

// PRLineInput describes a requested product line.
type PRLineInput struct {
	ProductID          int64           `json:"product_id" validate:"required,gt=0"`
	SupplierID         int64           `json:"supplier_id" validate:"gte=0"`
	Qty                int64           `json:"qty" validate:"gt=0"`
	EstimatedUnitPrice decimal.Decimal `json:"estimated_unit_price"`
}

// CreatePRInput describes creation payload.
type CreatePRInput struct {
	BranchID    int64         `json:"branch_id" validate:"gte=0"`
	RequestedBy int64         `json:"requested_by" validate:"gte=0"`
	Priority    Priority      `json:"priority" validate:"omitempty,oneof=Normal Urgent Emergency"`
	Remarks     string        `json:"remarks" validate:"max=2000"`
	Submit      bool          `json:"submit"`
	Lines       []PRLineInput `json:"lines" validate:"min=1,dive"`
}

// ResubmitPRInput answers a clarification request, optionally replacing the items.
type ResubmitPRInput struct {
	Remarks string        `json:"remarks" validate:"max=2000"`
	Lines   []PRLineInput `json:"lines" validate:"omitempty,dive"`
}

// UpdatePRItemInput edits an existing line.
type UpdatePRItemInput struct {
	Qty                int64            `json:"qty" validate:"gt=0"`
	EstimatedUnitPrice *decimal.Decimal `json:"estimated_unit_price"`
}

// DecisionInput carries an approver's decision.
type DecisionInput struct {
	ActorID int64  `json:"-"`
	Remarks string `json:"remarks" validate:"max=2000"`
}

// CreatePurchaseRequest persists a request with its items, optionally submitting it.
func (s *Service) CreatePurchaseRequest(ctx context.Context, input CreatePRInput) (PurchaseRequest, error) {
	if err := s.check(input); err != nil {
		return PurchaseRequest{}, err
	}
	requester, err := s.actor(ctx, input.RequestedBy)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	items, err := s.resolveLines(ctx, input.Lines)
	if err != nil {
		return PurchaseRequest{}, err
	}
	now := s.clock()
	var created PurchaseRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.PurchaseRequest, now)
		if err != nil {
			return err
		}
		pr := PurchaseRequest{
			Number:      number,
			BranchID:    input.BranchID,
			RequestedBy: requester,
			Priority:    input.Priority,
			Status:      PRStatusDraft,
			Remarks:     strings.TrimSpace(input.Remarks),
			CreatedAt:   now,
			Items:       append([]PRItem(nil), items...),
		}
		if input.Submit {
			if pr.Status, err = pr.Status.Next(PRActionSubmit); err != nil {
				return err
			}
			pr.SubmittedAt = now
		}
		pr.recalculate()
		prID, err := tx.CreatePR(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = prID
		for idx := range pr.Items {
			pr.Items[idx].PRID = prID
			itemID, err := tx.InsertPRItem(ctx, pr.Items[idx])
			if err != nil {
				return err
			}
			pr.Items[idx].ID = itemID
		}
		created = pr
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.issued(numbering.PurchaseRequest)
	s.recordAudit(ctx, requester, "PR_CREATE", "purchase_request", created.ID, map[string]any{"number": created.Number, "total": created.TotalEstimatedCost.StringFixed(2)})
	if created.Status == PRStatusPendingApproval {
		s.recordApproval(ctx, created.ID, requester, shared.ApprovalSubmit, created.Remarks)
	}
	return created, nil
}

// GetPurchaseRequest loads a request with its items.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetPR(ctx, id)
}

// ListPurchaseRequests returns request headers matching filters.
func (s *Service) ListPurchaseRequests(ctx context.Context, filters ListFilters) ([]PurchaseRequest, error) {
	return s.repo.ListPRs(ctx, filters)
}

// SubmitPurchaseRequest sends a draft (or clarified) request for approval.
func (s *Service) SubmitPurchaseRequest(ctx context.Context, prID, actorID int64) (PurchaseRequest, error) {
	actorID, err := s.actor(ctx, actorID)
	if err != nil {
		return PurchaseRequest{}, err
	}
	var from PRStatus
	pr, err := s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		next, err := pr.Status.Next(PRActionSubmit)
		if err != nil {
			return err
		}
		if len(pr.Items) == 0 {
			return invalid("items", "request has no items")
		}
		from = pr.Status
		pr.Status = next
		pr.SubmittedAt = s.clock()
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	action := shared.ApprovalSubmit
	if from == PRStatusClarificationRequested {
		action = shared.ApprovalResubmit
	}
	s.recordAudit(ctx, actorID, "PR_SUBMIT", "purchase_request", pr.ID, map[string]any{"number": pr.Number})
	s.recordApproval(ctx, pr.ID, actorID, action, "")
	return pr, nil
}

// ResubmitPurchaseRequest answers a clarification request and returns the request to approval.
func (s *Service) ResubmitPurchaseRequest(ctx context.Context, prID, actorID int64, input ResubmitPRInput) (PurchaseRequest, error) {
	if err := s.check(input); err != nil {
		return PurchaseRequest{}, err
	}
	actorID, err := s.actor(ctx, actorID)
	if err != nil {
		return PurchaseRequest{}, err
	}
	var replacement []PRItem
	if len(input.Lines) > 0 {
		if replacement, err = s.resolveLines(ctx, input.Lines); err != nil {
			return PurchaseRequest{}, err
		}
	}
	pr, err := s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		next, err := pr.Status.Next(PRActionResubmit)
		if err != nil {
			return err
		}
		if replacement != nil {
			for _, item := range pr.Items {
				if err := tx.DeletePRItem(ctx, pr.ID, item.ID); err != nil {
					return err
				}
			}
			pr.Items = pr.Items[:0]
			for _, item := range replacement {
				item.PRID = pr.ID
				item.LineTotal = lineTotal(item.RequestedQty, item.EstimatedUnitPrice)
				if item.ID, err = tx.InsertPRItem(ctx, item); err != nil {
					return err
				}
				pr.Items = append(pr.Items, item)
			}
		}
		if remarks := strings.TrimSpace(input.Remarks); remarks != "" {
			pr.Remarks = remarks
		}
		pr.Status = next
		pr.SubmittedAt = s.clock()
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actorID, "PR_RESUBMIT", "purchase_request", pr.ID, map[string]any{"number": pr.Number, "replaced_items": replacement != nil})
	s.recordApproval(ctx, pr.ID, actorID, shared.ApprovalResubmit, input.Remarks)
	return pr, nil
}

// ApprovePurchaseRequest approves a pending request.
func (s *Service) ApprovePurchaseRequest(ctx context.Context, prID int64, input DecisionInput) (PurchaseRequest, error) {
	return s.decide(ctx, prID, PRActionApprove, input)
}

// RejectPurchaseRequest rejects a pending request. A reason is required.
func (s *Service) RejectPurchaseRequest(ctx context.Context, prID int64, input DecisionInput) (PurchaseRequest, error) {
	return s.decide(ctx, prID, PRActionReject, input)
}

// RequestClarification sends a pending request back to the requester. A reason is required.
func (s *Service) RequestClarification(ctx context.Context, prID int64, input DecisionInput) (PurchaseRequest, error) {
	return s.decide(ctx, prID, PRActionClarify, input)
}

func (s *Service) decide(ctx context.Context, prID int64, action PRAction, input DecisionInput) (PurchaseRequest, error) {
	if err := s.check(input); err != nil {
		return PurchaseRequest{}, err
	}
	actorID, err := s.actor(ctx, input.ActorID)
	if err != nil {
		return PurchaseRequest{}, err
	}
	remarks := strings.TrimSpace(input.Remarks)
	if action != PRActionApprove && remarks == "" {
		return PurchaseRequest{}, invalid("remarks", "reason required")
	}
	pr, err := s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		next, err := pr.Status.Next(action)
		if err != nil {
			return err
		}
		pr.Status = next
		pr.DecidedBy = actorID
		pr.DecidedAt = s.clock()
		pr.DecisionRemarks = remarks
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	var approval shared.ApprovalAction
	switch action {
	case PRActionApprove:
		approval = shared.ApprovalApprove
	case PRActionReject:
		approval = shared.ApprovalReject
	default:
		approval = shared.ApprovalClarify
	}
	s.recordAudit(ctx, actorID, "PR_"+string(approval), "purchase_request", pr.ID, map[string]any{"number": pr.Number, "status": string(pr.Status)})
	s.recordApproval(ctx, pr.ID, actorID, approval, remarks)
	return pr, nil
}

// AddRequestItem appends a line to an editable request.
func (s *Service) AddRequestItem(ctx context.Context, prID int64, line PRLineInput) (PurchaseRequest, error) {
	if err := s.check(line); err != nil {
		return PurchaseRequest{}, err
	}
	resolved, err := s.resolveLines(ctx, []PRLineInput{line})
	if err != nil {
		return PurchaseRequest{}, err
	}
	item := resolved[0]
	return s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		if _, err := pr.Status.Next(PRActionEdit); err != nil {
			return err
		}
		for _, existing := range pr.Items {
			if existing.ProductID == item.ProductID {
				return invalid("product_id", "product already requested")
			}
		}
		item.PRID = pr.ID
		item.LineTotal = lineTotal(item.RequestedQty, item.EstimatedUnitPrice)
		if item.ID, err = tx.InsertPRItem(ctx, item); err != nil {
			return err
		}
		pr.Items = append(pr.Items, item)
		return nil
	})
}

// UpdateRequestItem changes quantity and price of a line on an editable request.
func (s *Service) UpdateRequestItem(ctx context.Context, prID, itemID int64, input UpdatePRItemInput) (PurchaseRequest, error) {
	if err := s.check(input); err != nil {
		return PurchaseRequest{}, err
	}
	if input.EstimatedUnitPrice != nil {
		if err := decimalField("estimated_unit_price", *input.EstimatedUnitPrice); err != nil {
			return PurchaseRequest{}, err
		}
	}
	return s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		if _, err := pr.Status.Next(PRActionEdit); err != nil {
			return err
		}
		item, idx, ok := pr.item(itemID)
		if !ok {
			return ErrNotFound
		}
		item.RequestedQty = input.Qty
		if input.EstimatedUnitPrice != nil {
			item.EstimatedUnitPrice = *input.EstimatedUnitPrice
		}
		item.LineTotal = lineTotal(item.RequestedQty, item.EstimatedUnitPrice)
		if err := tx.UpdatePRItem(ctx, item); err != nil {
			return err
		}
		pr.Items[idx] = item
		return nil
	})
}

// RemoveRequestItem deletes a line; the last line cannot be removed.
func (s *Service) RemoveRequestItem(ctx context.Context, prID, itemID int64) (PurchaseRequest, error) {
	return s.mutatePR(ctx, prID, func(ctx context.Context, tx TxRepository, pr *PurchaseRequest) error {
		if _, err := pr.Status.Next(PRActionEdit); err != nil {
			return err
		}
		_, idx, ok := pr.item(itemID)
		if !ok {
			return ErrNotFound
		}
		if len(pr.Items) == 1 {
			return invalid("items", "request must keep at least one item")
		}
		if err := tx.DeletePRItem(ctx, pr.ID, itemID); err != nil {
			return err
		}
		pr.Items = append(pr.Items[:idx], pr.Items[idx+1:]...)
		return nil
	})
}

// DeletePurchaseRequest removes a draft request.
func (s *Service) DeletePurchaseRequest(ctx context.Context, prID, actorID int64) error {
	actorID, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	var number string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockPR(ctx, prID)
		if err != nil {
			return err
		}
		if _, err := pr.Status.Next(PRActionDelete); err != nil {
			return err
		}
		number = pr.Number
		return tx.DeletePR(ctx, prID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PR_DELETE", "purchase_request", prID, map[string]any{"number": number})
	return nil
}

// CreateSuggestedRequest drafts a request from current reorder suggestions.
// It reports false when nothing needs reordering.
func (s *Service) CreateSuggestedRequest(ctx context.Context, branchID, requester int64) (PurchaseRequest, bool, error) {
	suggestions, err := s.computeSuggestions(ctx, branchID)
	if err != nil {
		return PurchaseRequest{}, false, err
	}
	if len(suggestions) == 0 {
		return PurchaseRequest{}, false, nil
	}
	lines := make([]PRLineInput, 0, len(suggestions))
	for _, sg := range suggestions {
		lines = append(lines, PRLineInput{ProductID: sg.ProductID, SupplierID: sg.SupplierID, Qty: sg.SuggestedQty, EstimatedUnitPrice: sg.UnitCost})
	}
	pr, err := s.CreatePurchaseRequest(ctx, CreatePRInput{
		BranchID:    branchID,
		RequestedBy: requester,
		Priority:    PriorityNormal,
		Remarks:     fmt.Sprintf("Generated from %d reorder suggestions", len(lines)),
		Lines:       lines,
	})
	if err != nil {
		return PurchaseRequest{}, false, err
	}
	return pr, true, nil
}

func (s *Service) mutatePR(ctx context.Context, prID int64, fn func(context.Context, TxRepository, *PurchaseRequest) error) (PurchaseRequest, error) {
	var out PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockPR(ctx, prID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &pr); err != nil {
			return err
		}
		pr.recalculate()
		if err := pr.checkTotals(); err != nil {
			return err
		}
		if err := tx.UpdatePR(ctx, pr); err != nil {
			return err
		}
		out = pr
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	return out, nil
}

// resolveLines validates products and annotates lines flagged by the reorder engine.
func (s *Service) resolveLines(ctx context.Context, lines []PRLineInput) ([]PRItem, error) {
	seen := make(map[int64]struct{}, len(lines))
	items := make([]PRItem, 0, len(lines))
	for idx, line := range lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if _, dup := seen[line.ProductID]; dup {
			return nil, invalid(field+".product_id", "duplicate product")
		}
		seen[line.ProductID] = struct{}{}
		item := PRItem{ProductID: line.ProductID, SupplierID: line.SupplierID, RequestedQty: line.Qty, EstimatedUnitPrice: line.EstimatedUnitPrice}
		if s.stock != nil {
			level, err := s.stock.GetStock(ctx, line.ProductID)
			if errors.Is(err, inventory.ErrNotFound) {
				return nil, invalid(field+".product_id", "unknown product")
			}
			if err != nil {
				return nil, err
			}
			if item.EstimatedUnitPrice.IsZero() {
				item.EstimatedUnitPrice = level.UnitCost
			}
			if item.SupplierID == 0 {
				item.SupplierID = level.SupplierID
			}
			if reason, ok := s.engine.Classify(level.QuantityInStock, level.ReorderLevel, level.MonthlyConsumption); ok {
				item.IsSuggested = true
				item.SuggestionReason = string(reason)
			}
		}
		if err := decimalField(field+".estimated_unit_price", item.EstimatedUnitPrice); err != nil {
			return nil, err
		}
		item.LineTotal = lineTotal(item.RequestedQty, item.EstimatedUnitPrice)
		items = append(items, item)
	}
	return items, nil
}
