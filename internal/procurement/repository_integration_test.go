package procurement

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/platform/db"
	"github.com/odyssey-erp/procure/internal/shared"
	"github.com/odyssey-erp/procure/migrations"
)

// setupTestDB migrates and resets a dedicated database. Tests skip unless
// TEST_DATABASE_URL is set so a live database is never truncated.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	migrator, err := db.NewMigrator(migrations.FS, dsn, nil)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE invoice_payments, supplier_invoices, grn_items, goods_receiving_notes,
			purchase_order_items, purchase_orders, purchase_request_items, purchase_requests,
			document_counters, stock_movements, pharmacy_inventory, suppliers,
			idempotency_keys, approvals, audit_logs RESTART IDENTITY CASCADE;

		INSERT INTO suppliers (id, code, name) VALUES (1, 'SUP-1', 'Medisupply');

		INSERT INTO pharmacy_inventory (product_id, name, supplier_id, quantity_in_stock, reorder_level, monthly_consumption, unit_cost)
		VALUES (1, 'Amoxicillin 500mg', 1, 0, 10, 20, 10),
		       (2, 'Paracetamol 500mg', 1, 200, 20, 10, 5);
	`)
	require.NoError(t, err)
	return pool
}

func newPostgresService(t *testing.T, pool *pgxpool.Pool) *Service {
	t.Helper()
	gen := numbering.NewGenerator(numbering.Config{})
	repo := NewRepository(pool, gen, 50, nil)
	now := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	return NewService(repo, Config{InvoiceTolerance: dec("1.00")}, Deps{
		Stock:       inventory.NewStore(pool),
		Suppliers:   suppliers.NewDirectory(suppliers.NewRepository(pool)),
		Idempotency: shared.NewIdempotencyStore(pool),
		Now:         func() time.Time { return now },
	})
}

func runConcurrently(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errs
}

func TestPostgresConcurrentPaymentsNeverOverpay(t *testing.T) {
	pool := setupTestDB(t)
	svc := newPostgresService(t, pool)
	ctx := shared.ContextWithActor(context.Background(), requester)

	po, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 1, Lines: []POLineInput{{ProductID: 1, Qty: 10, UnitPrice: decPtr("10")}}})
	require.NoError(t, err)
	grn, err := svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Lines: []GRNLineInput{{POItemID: po.Items[0].ID, ReceivedQty: 10}}})
	require.NoError(t, err)
	inv, err := svc.MatchInvoice(ctx, MatchInvoiceInput{POID: po.ID, GRNID: grn.ID, InvoiceAmount: dec("100")})
	require.NoError(t, err)

	// eight payments of 30 against 100: only three fit
	errs := runConcurrently(8, func(int) error {
		_, err := svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("30"), Method: MethodBankTransfer})
		return err
	})
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrOverpayment)
	}
	require.Equal(t, 3, succeeded)

	stored, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, dec("90").Equal(stored.PaidAmount), stored.PaidAmount.String())
	require.True(t, dec("10").Equal(stored.BalanceAmount), stored.BalanceAmount.String())
	requireBalanced(t, stored)

	payments, err := svc.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
}

func TestPostgresConcurrentReceiptsStayWithinOrder(t *testing.T) {
	pool := setupTestDB(t)
	svc := newPostgresService(t, pool)
	ctx := shared.ContextWithActor(context.Background(), requester)

	po, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 1, Lines: []POLineInput{{ProductID: 1, Qty: 10, UnitPrice: decPtr("10")}}})
	require.NoError(t, err)
	itemID := po.Items[0].ID

	errs := runConcurrently(8, func(int) error {
		_, err := svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Lines: []GRNLineInput{{POItemID: itemID, ReceivedQty: 3}}})
		return err
	})
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, ErrQuantityExceedsOrder) || errors.Is(err, ErrOverReceipt), err.Error())
	}
	require.Equal(t, 3, succeeded)

	stored, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9), stored.Items[0].ReceivedQty)
	require.LessOrEqual(t, stored.Items[0].ReceivedQty, stored.Items[0].OrderedQty)
	require.Equal(t, POStatusPartiallyReceived, stored.Status)

	level, err := inventory.NewStore(pool).GetStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(9), level.QuantityInStock)
}

func TestPostgresConcurrentRequestNumbersAreGapless(t *testing.T) {
	pool := setupTestDB(t)
	svc := newPostgresService(t, pool)
	ctx := shared.ContextWithActor(context.Background(), requester)

	const n = 12
	numbers := make([]string, n)
	errs := runConcurrently(n, func(i int) error {
		pr, err := svc.CreatePurchaseRequest(ctx, CreatePRInput{Lines: []PRLineInput{{ProductID: 2, Qty: 1}}})
		numbers[i] = pr.Number
		return err
	})
	for _, err := range errs {
		require.NoError(t, err)
	}

	seqs := make([]int, 0, n)
	for _, number := range numbers {
		prefix, day, seq, err := numbering.Parse(number)
		require.NoError(t, err)
		require.Equal(t, "PR", prefix)
		require.Equal(t, "2025-01-15", day.Format(time.DateOnly))
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		require.Equal(t, i+1, seq)
	}

	var last int
	require.NoError(t, pool.QueryRow(ctx, `SELECT last_seq FROM document_counters WHERE doc_type = 'PR' AND day = '2025-01-15'`).Scan(&last))
	require.Equal(t, n, last)
}
