package procurement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procure/internal/shared"
)

func createRequest(t *testing.T, f *fixture, submit bool) PurchaseRequest {
	t.Helper()
	pr, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{
		Priority: PriorityUrgent,
		Submit:   submit,
		Lines: []PRLineInput{
			{ProductID: 1, Qty: 3, EstimatedUnitPrice: dec("10")},
			{ProductID: 2, Qty: 2, EstimatedUnitPrice: dec("5")},
		},
	})
	require.NoError(t, err)
	return pr
}

func TestCreatePurchaseRequestTotalsRoundTrip(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, false)

	require.Equal(t, "PR-250115-0001", pr.Number)
	require.Equal(t, PRStatusDraft, pr.Status)
	require.Equal(t, requester, pr.RequestedBy)
	require.True(t, dec("40").Equal(pr.TotalEstimatedCost))
	require.Equal(t, 2, pr.TotalItems)
	require.True(t, pr.Items[0].IsSuggested)
	require.Equal(t, "Zero Stock", pr.Items[0].SuggestionReason)
	require.False(t, pr.Items[1].IsSuggested)

	updated, err := f.svc.RemoveRequestItem(f.ctx, pr.ID, pr.Items[1].ID)
	require.NoError(t, err)
	require.True(t, dec("30").Equal(updated.TotalEstimatedCost))
	require.Equal(t, 1, updated.TotalItems)

	stored, err := f.svc.GetPurchaseRequest(f.ctx, pr.ID)
	require.NoError(t, err)
	require.True(t, dec("30").Equal(stored.TotalEstimatedCost))
	require.Len(t, stored.Items, 1)

	_, err = f.svc.RemoveRequestItem(f.ctx, pr.ID, pr.Items[0].ID)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreatePurchaseRequestDefaultsPriceFromStock(t *testing.T) {
	f := newFixture()
	pr, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 3, Qty: 4}}})
	require.NoError(t, err)
	require.Equal(t, PriorityNormal, pr.Priority)
	require.True(t, dec("2.50").Equal(pr.Items[0].EstimatedUnitPrice))
	require.True(t, dec("10").Equal(pr.TotalEstimatedCost))
	require.Equal(t, supplierA, pr.Items[0].SupplierID)
	require.Equal(t, "Fast Moving", pr.Items[0].SuggestionReason)
}

func TestCreatePurchaseRequestValidation(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name  string
		input CreatePRInput
		field string
	}{
		{"no lines", CreatePRInput{}, "lines"},
		{"zero qty", CreatePRInput{Lines: []PRLineInput{{ProductID: 1, Qty: 0}}}, "lines[0].qty"},
		{"unknown product", CreatePRInput{Lines: []PRLineInput{{ProductID: 99, Qty: 1}}}, "lines[0].product_id"},
		{"negative price", CreatePRInput{Lines: []PRLineInput{{ProductID: 1, Qty: 1, EstimatedUnitPrice: dec("-1")}}}, "lines[0].estimated_unit_price"},
		{"duplicate product", CreatePRInput{Lines: []PRLineInput{{ProductID: 1, Qty: 1}, {ProductID: 1, Qty: 2}}}, "lines[1].product_id"},
		{"bad priority", CreatePRInput{Priority: "Whenever", Lines: []PRLineInput{{ProductID: 1, Qty: 1}}}, "priority"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreatePurchaseRequest(f.ctx, tc.input)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)
		})
	}
	require.Empty(t, f.repo.snapshot().prs)
}

func TestCreatePurchaseRequestRequiresActor(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreatePurchaseRequest(context.Background(), CreatePRInput{Lines: []PRLineInput{{ProductID: 1, Qty: 1}}})
	require.ErrorIs(t, err, shared.ErrActorRequired)
}

func TestRequestApprovalLifecycle(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, false)

	submitted, err := f.svc.SubmitPurchaseRequest(f.ctx, pr.ID, 0)
	require.NoError(t, err)
	require.Equal(t, PRStatusPendingApproval, submitted.Status)
	require.Equal(t, f.now, submitted.SubmittedAt)

	approved, err := f.svc.ApprovePurchaseRequest(f.as(approver), pr.ID, DecisionInput{Remarks: "ok"})
	require.NoError(t, err)
	require.Equal(t, PRStatusApproved, approved.Status)
	require.Equal(t, approver, approved.DecidedBy)
	require.Equal(t, "ok", approved.DecisionRemarks)

	_, err = f.svc.SubmitPurchaseRequest(f.ctx, pr.ID, 0)
	require.ErrorIs(t, err, ErrInvalidState)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, string(PRStatusApproved), terr.From)

	require.Len(t, f.approvals.logs, 2)
	require.Equal(t, shared.ApprovalSubmit, f.approvals.logs[0].Action)
	require.Equal(t, shared.ApprovalApprove, f.approvals.logs[1].Action)
	require.Equal(t, approver, f.approvals.logs[1].ActorID)
	require.Contains(t, f.audit.actions(), "PR_APPROVE")
}

func TestClarificationAndResubmit(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, true)
	require.Equal(t, PRStatusPendingApproval, pr.Status)

	_, err := f.svc.RequestClarification(f.as(approver), pr.ID, DecisionInput{})
	require.ErrorIs(t, err, ErrValidation)

	clarify, err := f.svc.RequestClarification(f.as(approver), pr.ID, DecisionInput{Remarks: "why so much amoxicillin?"})
	require.NoError(t, err)
	require.Equal(t, PRStatusClarificationRequested, clarify.Status)

	_, err = f.svc.ApprovePurchaseRequest(f.as(approver), pr.ID, DecisionInput{})
	require.ErrorIs(t, err, ErrInvalidState)

	resubmitted, err := f.svc.ResubmitPurchaseRequest(f.ctx, pr.ID, 0, ResubmitPRInput{
		Remarks: "reduced",
		Lines:   []PRLineInput{{ProductID: 1, Qty: 1, EstimatedUnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, PRStatusPendingApproval, resubmitted.Status)
	require.Equal(t, "reduced", resubmitted.Remarks)
	require.Len(t, resubmitted.Items, 1)
	require.True(t, dec("10").Equal(resubmitted.TotalEstimatedCost))

	stored, err := f.svc.GetPurchaseRequest(f.ctx, pr.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)

	actions := make([]shared.ApprovalAction, 0, len(f.approvals.logs))
	for _, l := range f.approvals.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalClarify, shared.ApprovalResubmit}, actions)
}

func TestRejectedRequestIsTerminal(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, true)

	_, err := f.svc.RejectPurchaseRequest(f.as(approver), pr.ID, DecisionInput{})
	require.ErrorIs(t, err, ErrValidation)
	rejected, err := f.svc.RejectPurchaseRequest(f.as(approver), pr.ID, DecisionInput{Remarks: "budget"})
	require.NoError(t, err)
	require.Equal(t, PRStatusRejected, rejected.Status)

	_, err = f.svc.ApprovePurchaseRequest(f.as(approver), pr.ID, DecisionInput{})
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.AddRequestItem(f.ctx, pr.ID, PRLineInput{ProductID: 3, Qty: 1})
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, f.svc.DeletePurchaseRequest(f.ctx, pr.ID, 0), ErrInvalidState)
}

func TestEditingDraftItems(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, false)

	added, err := f.svc.AddRequestItem(f.ctx, pr.ID, PRLineInput{ProductID: 3, Qty: 4, EstimatedUnitPrice: dec("2.50")})
	require.NoError(t, err)
	require.Equal(t, 3, added.TotalItems)
	require.True(t, dec("50").Equal(added.TotalEstimatedCost))

	_, err = f.svc.AddRequestItem(f.ctx, pr.ID, PRLineInput{ProductID: 3, Qty: 1})
	require.ErrorIs(t, err, ErrValidation)

	updated, err := f.svc.UpdateRequestItem(f.ctx, pr.ID, pr.Items[0].ID, UpdatePRItemInput{Qty: 5, EstimatedUnitPrice: decPtr("12.40")})
	require.NoError(t, err)
	require.True(t, dec("62").Equal(updated.Items[0].LineTotal))
	require.True(t, dec("82").Equal(updated.TotalEstimatedCost))

	_, err = f.svc.UpdateRequestItem(f.ctx, pr.ID, 9999, UpdatePRItemInput{Qty: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnlyDraftRequests(t *testing.T) {
	f := newFixture()
	draft := createRequest(t, f, false)
	require.NoError(t, f.svc.DeletePurchaseRequest(f.ctx, draft.ID, 0))
	_, err := f.svc.GetPurchaseRequest(f.ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, f.repo.snapshot().prItems)

	submitted := createRequest(t, f, true)
	require.ErrorIs(t, f.svc.DeletePurchaseRequest(f.ctx, submitted.ID, 0), ErrInvalidState)
}

func TestFailedMutationLeavesStateUnchanged(t *testing.T) {
	f := newFixture()
	pr := createRequest(t, f, false)
	before := f.repo.snapshot()

	_, err := f.svc.AddRequestItem(f.ctx, pr.ID, PRLineInput{ProductID: 1, Qty: 9})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, before, f.repo.snapshot())
}

func TestRequestTransitionTable(t *testing.T) {
	actions := []PRAction{PRActionSubmit, PRActionResubmit, PRActionApprove, PRActionReject, PRActionClarify, PRActionEdit, PRActionDelete, PRActionOrder, PRActionConvert}
	allowed := map[PRStatus]map[PRAction]PRStatus{
		PRStatusDraft: {
			PRActionSubmit: PRStatusPendingApproval,
			PRActionEdit:   PRStatusDraft,
			PRActionDelete: PRStatusDraft,
		},
		PRStatusPendingApproval: {
			PRActionApprove: PRStatusApproved,
			PRActionReject:  PRStatusRejected,
			PRActionClarify: PRStatusClarificationRequested,
		},
		PRStatusClarificationRequested: {
			PRActionSubmit:   PRStatusPendingApproval,
			PRActionResubmit: PRStatusPendingApproval,
			PRActionEdit:     PRStatusClarificationRequested,
		},
		PRStatusApproved: {
			PRActionOrder:   PRStatusApproved,
			PRActionConvert: PRStatusConverted,
		},
		PRStatusRejected:  {},
		PRStatusConverted: {},
	}
	for status, legal := range allowed {
		for _, action := range actions {
			next, err := status.Next(action)
			want, ok := legal[action]
			if ok {
				require.NoError(t, err, "%s/%s", status, action)
				require.Equal(t, want, next, "%s/%s", status, action)
				continue
			}
			require.ErrorIs(t, err, ErrInvalidState, "%s/%s", status, action)
			require.Equal(t, status, next)
		}
	}
	_, err := PRStatus("Archived").Next(PRActionSubmit)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateSuggestedRequest(t *testing.T) {
	f := newFixture()
	pr, created, err := f.svc.CreateSuggestedRequest(f.ctx, 0, requester)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, PRStatusDraft, pr.Status)
	require.Len(t, pr.Items, 2)
	require.Equal(t, int64(1), pr.Items[0].ProductID)
	require.Equal(t, int64(12), pr.Items[0].RequestedQty)
	require.Equal(t, int64(3), pr.Items[1].ProductID)
	require.Equal(t, int64(5), pr.Items[1].RequestedQty)
	require.True(t, pr.Items[0].IsSuggested)
}
