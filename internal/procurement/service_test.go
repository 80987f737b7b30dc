package procurement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/shared"
)

func TestNumberConflictsAreRetried(t *testing.T) {
	f := newFixture()
	f.repo.conflicts = 2

	pr, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 2, Qty: 1}}})
	require.NoError(t, err)
	require.Equal(t, "PR-250115-0001", pr.Number)
	require.Equal(t, 3, f.repo.txCount)
	require.Len(t, f.repo.snapshot().prs, 1)
}

func TestNumberConflictsExhaustRetries(t *testing.T) {
	f := newFixture()
	f.repo.conflicts = 5

	_, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 2, Qty: 1}}})
	require.ErrorIs(t, err, numbering.ErrConflict)
	require.Equal(t, 3, f.repo.txCount)
	require.Empty(t, f.repo.snapshot().prs)
	require.Empty(t, f.audit.actions())
}

func TestConcurrentRequestsGetDistinctNumbers(t *testing.T) {
	f := newFixture()
	const n = 20
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pr, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 2, Qty: 1}}})
			if err == nil {
				numbers <- pr.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		require.False(t, seen[number], number)
		seen[number] = true
	}
	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		require.True(t, seen[fmt.Sprintf("PR-250115-%04d", i)])
	}
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, shared.AuditLog) error {
	return errors.New("audit store down")
}

func TestAuditFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture()
	f.svc.audit = failingAudit{}
	pr, err := f.svc.CreatePurchaseRequest(f.ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 2, Qty: 1}}})
	require.NoError(t, err)
	require.NotZero(t, pr.ID)
}

func TestRefIDIsStable(t *testing.T) {
	require.Equal(t, refID("PR", 4), refID("PR", 4))
	require.NotEqual(t, refID("PR", 4), refID("PO", 4))
}

func TestFieldName(t *testing.T) {
	require.Equal(t, "lines[0].qty", fieldName("CreatePRInput.lines[0].qty"))
	require.Equal(t, "supplier_id", fieldName("CreatePOInput.supplier_id"))
}
