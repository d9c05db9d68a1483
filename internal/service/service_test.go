package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"raankha/backoffice/internal/cache"
	"raankha/backoffice/internal/domain"
	"raankha/backoffice/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSummaryCache{}, 0), repo
}

func adminPrincipal() domain.Principal {
	return domain.Principal{ID: "adm-wanchai", Name: "Wanchai Srisuk", Role: domain.RoleAdmin, PriceTier: domain.TierNormal}
}

func somchaiPrincipal() domain.Principal {
	return domain.Principal{ID: "emp-somchai", Name: "Somchai Jaidee", Role: domain.RoleEmployee, PriceTier: domain.TierNormal}
}

func maleePrincipal() domain.Principal {
	return domain.Principal{ID: "emp-malee", Name: "Malee Suksan", Role: domain.RoleEmployee, PriceTier: domain.TierWholesale}
}

func stockOf(t *testing.T, svc *Service, productID string) int64 {
	t.Helper()
	records, err := svc.ListStock(context.Background(), adminPrincipal(), []string{productID})
	if err != nil {
		t.Fatalf("ListStock(%s): %v", productID, err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one stock record for %s, got %d", productID, len(records))
	}
	return records[0].CurrentStock
}

func withdrawal(productID string, qty int64) []domain.SaleItemInput {
	return []domain.SaleItemInput{{ProductID: productID, Withdrawal: qty}}
}

func ptrInt64(v int64) *int64 { return &v }

func ptrString(v string) *string { return &v }

func ptrBool(v bool) *bool { return &v }

func ptrItems(items []domain.SaleItemInput) *[]domain.SaleItemInput { return &items }

func TestCreateSaleWalksStockDown(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	first, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}
	if first.TotalAmount != 250 {
		t.Fatalf("expected total 250, got %d", first.TotalAmount)
	}
	if len(first.Items) != 1 || first.Items[0].TotalPrice != 250 {
		t.Fatalf("expected one line totalling 250, got %+v", first.Items)
	}
	if first.Items[0].PricePerUnit != 50 {
		t.Fatalf("expected normal tier price 50, got %d", first.Items[0].PricePerUnit)
	}
	if first.Items[0].ProductName != "Nam Duem Crystal 600ml x12" {
		t.Fatalf("expected product name snapshot, got %q", first.Items[0].ProductName)
	}
	if first.EmployeeName != "Somchai Jaidee" {
		t.Fatalf("expected employee name snapshot, got %q", first.EmployeeName)
	}
	if first.PendingAmount == nil || *first.PendingAmount != 250 {
		t.Fatalf("expected pending 250, got %v", first.PendingAmount)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 15 {
		t.Fatalf("expected stock 15 after withdrawing 5, got %d", got)
	}

	if _, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 15),
	}); err != nil {
		t.Fatalf("withdrawal to zero: %v", err)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}

	_, err = svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 1),
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.ProductName != "Nam Duem Crystal 600ml x12" {
		t.Fatalf("expected product name in error, got %q", stockErr.ProductName)
	}
	if stockErr.Available != 0 || stockErr.Requested != 1 {
		t.Fatalf("expected available 0 requested 1, got available %d requested %d", stockErr.Available, stockErr.Requested)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 0 {
		t.Fatalf("failed withdrawal must not move stock, got %d", got)
	}

	sales, err := svc.ListSales(ctx, adminPrincipal(), domain.SaleQuery{})
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("failed withdrawal must not leave a sale behind, got %d sales", len(sales))
	}
}

func TestConcurrentWithdrawalsNeverOversellStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	// 30 concurrent single-pack withdrawals against 20 packs of water:
	// exactly 20 may succeed, the rest must fail cleanly.
	const attempts = 30
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
				EmployeeID: "emp-somchai",
				Type:       domain.SaleTypeWithdrawal,
				Items:      withdrawal("prd-water-12", 1),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 20 || rejected != 10 {
		t.Fatalf("expected 20 successes and 10 rejections, got %d/%d", succeeded, rejected)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 0 {
		t.Fatalf("expected stock drained to exactly 0, got %d", got)
	}

	sales, err := svc.ListSales(ctx, adminPrincipal(), domain.SaleQuery{Limit: 100})
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(sales) != 20 {
		t.Fatalf("expected one sale per successful withdrawal, got %d", len(sales))
	}
}

func TestCreateSaleBillsDefectiveWithoutRestocking(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      []domain.SaleItemInput{{ProductID: "prd-rice-5kg", Withdrawal: 10, Return: 2, Defective: 1}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// Billed quantity is 10-2-1 = 7 at the normal price of 210, but stock
	// only moves by return minus withdrawal: the defective unit is neither
	// billed nor put back on the shelf.
	if sale.Items[0].TotalPrice != 1470 {
		t.Fatalf("expected line total 1470, got %d", sale.Items[0].TotalPrice)
	}
	if sale.TotalAmount != 1470 {
		t.Fatalf("expected total 1470, got %d", sale.TotalAmount)
	}
	if got := stockOf(t, svc, "prd-rice-5kg"); got != 32 {
		t.Fatalf("expected stock 32 after net movement of -8, got %d", got)
	}

	movements, err := svc.ListStockMovements(ctx, adminPrincipal(), "prd-rice-5kg", 10)
	if err != nil {
		t.Fatalf("ListStockMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	if movements[0].Delta != -8 || movements[0].StockAfter != 32 {
		t.Fatalf("expected delta -8 stock-after 32, got %+v", movements[0])
	}
	if movements[0].Reason != domain.MovementSaleCreate {
		t.Fatalf("expected reason %q, got %q", domain.MovementSaleCreate, movements[0].Reason)
	}
	if movements[0].SaleID != sale.ID {
		t.Fatalf("expected movement tied to sale %s, got %s", sale.ID, movements[0].SaleID)
	}
}

func TestCreateReturnSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeReturn,
		Items:      []domain.SaleItemInput{{ProductID: "prd-water-12", Return: 5}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.TotalAmount != -250 {
		t.Fatalf("expected credit of -250 on a return bill, got %d", sale.TotalAmount)
	}
	if sale.PendingAmount == nil || *sale.PendingAmount != 0 {
		t.Fatalf("pending clamps at zero, got %v", sale.PendingAmount)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 25 {
		t.Fatalf("expected returns back on the shelf (25), got %d", got)
	}
}

func TestCreateSaleRejections(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name      string
		principal domain.Principal
		req       domain.SaleCreateRequest
		sentinel  error
	}{
		{
			name:      "no items",
			principal: somchaiPrincipal(),
			req:       domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal},
			sentinel:  domain.ErrValidation,
		},
		{
			name:      "negative withdrawal",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: []domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: -1}}},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "negative return",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: []domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: 2, Return: -1}}},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "negative defective",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: []domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: 2, Defective: -3}}},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "blank product id",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: []domain.SaleItemInput{{ProductID: "  ", Withdrawal: 2}}},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "unknown type",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: "loan",
				Items: withdrawal("prd-water-12", 1)},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "bad sale date",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				SaleDate: "21-08-2026", Items: withdrawal("prd-water-12", 1)},
			sentinel: domain.ErrValidation,
		},
		{
			name:      "unknown employee",
			principal: adminPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-ghost", Type: domain.SaleTypeWithdrawal,
				Items: withdrawal("prd-water-12", 1)},
			sentinel: domain.ErrNotFound,
		},
		{
			name:      "inactive employee",
			principal: adminPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-prasert", Type: domain.SaleTypeWithdrawal,
				Items: withdrawal("prd-water-12", 1)},
			sentinel: domain.ErrNotFound,
		},
		{
			name:      "unknown product",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: withdrawal("prd-ghost", 1)},
			sentinel: domain.ErrNotFound,
		},
		{
			name:      "inactive product",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal,
				Items: withdrawal("prd-syrup-710", 1)},
			sentinel: domain.ErrNotFound,
		},
		{
			name:      "employee billing a colleague",
			principal: somchaiPrincipal(),
			req: domain.SaleCreateRequest{EmployeeID: "emp-malee", Type: domain.SaleTypeWithdrawal,
				Items: withdrawal("prd-water-12", 1)},
			sentinel: domain.ErrNotAuthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, tc.principal, tc.req)
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
		})
	}

	if got := stockOf(t, svc, "prd-water-12"); got != 20 {
		t.Fatalf("rejected sales must not move stock, got %d", got)
	}
}

func TestCreateSaleAbortsWholeBillOnMissingPrice(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	anong := domain.Principal{ID: "emp-anong", Name: "Anong Thongdee", Role: domain.RoleEmployee, PriceTier: domain.TierVIP}

	// Palm oil has no VIP price. The water line alone would be fine, but a
	// single unpriceable line aborts the entire bill.
	_, err := svc.CreateSale(ctx, anong, domain.SaleCreateRequest{
		EmployeeID: "emp-anong",
		Type:       domain.SaleTypeWithdrawal,
		Items: []domain.SaleItemInput{
			{ProductID: "prd-water-12", Withdrawal: 3},
			{ProductID: "prd-palmoil-1l", Withdrawal: 2},
		},
	})
	if !errors.Is(err, domain.ErrPriceNotConfigured) {
		t.Fatalf("expected price-not-configured, got %v", err)
	}
	var priceErr *domain.PriceNotConfiguredError
	if !errors.As(err, &priceErr) {
		t.Fatalf("expected PriceNotConfiguredError, got %T", err)
	}
	if priceErr.ProductName != "Palm Oil Morakot 1L" || priceErr.Tier != domain.TierVIP {
		t.Fatalf("expected palm oil at vip tier, got %+v", priceErr)
	}

	if got := stockOf(t, svc, "prd-water-12"); got != 20 {
		t.Fatalf("aborted bill must not move water stock, got %d", got)
	}
	if got := stockOf(t, svc, "prd-palmoil-1l"); got != 60 {
		t.Fatalf("aborted bill must not move palm oil stock, got %d", got)
	}
}

func TestCreateSaleMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items: []domain.SaleItemInput{
			{ProductID: "prd-water-12", Withdrawal: 2},
			{ProductID: "prd-water-12", Withdrawal: 3},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected duplicate lines merged into one, got %d", len(sale.Items))
	}
	if sale.Items[0].Withdrawal != 5 || sale.TotalAmount != 250 {
		t.Fatalf("expected merged withdrawal 5 totalling 250, got %+v", sale.Items[0])
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 15 {
		t.Fatalf("expected stock 15, got %d", got)
	}
}

func TestCreateSalePricesByEmployeeTierNotCaller(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// Admin (normal tier) creates the bill, but prices follow Malee's
	// wholesale tier.
	sale, err := svc.CreateSale(ctx, adminPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-malee",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 4),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.Items[0].PricePerUnit != 45 {
		t.Fatalf("expected wholesale price 45, got %d", sale.Items[0].PricePerUnit)
	}
	if sale.TotalAmount != 180 {
		t.Fatalf("expected total 180, got %d", sale.TotalAmount)
	}
}

func TestUpdateSaleRepricesAndAdjustsStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	sale, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 15 {
		t.Fatalf("expected stock 15, got %d", got)
	}

	updated, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Items: ptrItems([]domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: 3, Return: 1}}),
	})
	if err != nil {
		t.Fatalf("UpdateSale: %v", err)
	}
	// Old contribution -5, new contribution -2: stock moves +3.
	if got := stockOf(t, svc, "prd-water-12"); got != 18 {
		t.Fatalf("expected stock 18 after shrinking the bill, got %d", got)
	}
	if updated.TotalAmount != 100 {
		t.Fatalf("expected total 100 for billed quantity 2, got %d", updated.TotalAmount)
	}
	if updated.PendingAmount == nil || *updated.PendingAmount != 100 {
		t.Fatalf("expected pending 100, got %v", updated.PendingAmount)
	}

	// Submitting the same items again is a no-op for stock.
	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Items: ptrItems([]domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: 3, Return: 1}}),
	}); err != nil {
		t.Fatalf("idempotent update: %v", err)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 18 {
		t.Fatalf("identical items must not move stock, got %d", got)
	}
}

func TestUpdateSaleInsufficientStockLeavesSaleUntouched(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	sale, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// Growing the bill from 5 to 30 needs 25 more packs; only 15 remain.
	_, err = svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Items: ptrItems(withdrawal("prd-water-12", 30)),
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 15 || stockErr.Requested != 25 {
		t.Fatalf("expected available 15 requested 25, got %+v", stockErr)
	}

	if got := stockOf(t, svc, "prd-water-12"); got != 15 {
		t.Fatalf("failed update must not move stock, got %d", got)
	}
	current, err := svc.GetSale(ctx, somchai, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if current.Items[0].Withdrawal != 5 || current.TotalAmount != 250 {
		t.Fatalf("failed update must leave the sale untouched, got %+v", current)
	}
}

func TestUpdateSalePaymentRecomputesPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	sale, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	updated, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{
			CashAmount:     ptrInt64(100),
			TransferAmount: ptrInt64(50),
			PaymentMethod:  ptrString(domain.PaymentCash),
		},
	})
	if err != nil {
		t.Fatalf("payment update: %v", err)
	}
	if updated.PaidAmount != 150 {
		t.Fatalf("paid defaults to cash+transfer, got %d", updated.PaidAmount)
	}
	if updated.PendingAmount == nil || *updated.PendingAmount != 100 {
		t.Fatalf("expected pending 100, got %v", updated.PendingAmount)
	}

	// An explicit paid amount overrides the derivation, and overpayment
	// clamps pending at zero.
	updated, err = svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{PaidAmount: ptrInt64(300)},
	})
	if err != nil {
		t.Fatalf("explicit paid update: %v", err)
	}
	if updated.PaidAmount != 300 {
		t.Fatalf("expected paid 300, got %d", updated.PaidAmount)
	}
	if updated.PendingAmount == nil || *updated.PendingAmount != 0 {
		t.Fatalf("expected pending clamped to 0, got %v", updated.PendingAmount)
	}

	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{PaymentMethod: ptrString("iou")},
	}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown method, got %v", err)
	}
	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{CashAmount: ptrInt64(-5)},
	}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative cash, got %v", err)
	}
}

func TestUpdateSaleAuthorization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 2),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	if _, err := svc.UpdateSale(ctx, maleePrincipal(), sale.ID, domain.SaleUpdateRequest{
		Notes: ptrString("mine now"),
	}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected not authorized for another employee, got %v", err)
	}

	if _, err := svc.UpdateSale(ctx, adminPrincipal(), sale.ID, domain.SaleUpdateRequest{
		Notes: ptrString("checked by admin"),
	}); err != nil {
		t.Fatalf("admin update: %v", err)
	}

	if _, err := svc.UpdateSale(ctx, somchaiPrincipal(), sale.ID, domain.SaleUpdateRequest{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}

	if _, err := svc.GetSale(ctx, maleePrincipal(), sale.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected not authorized reading another employee's bill, got %v", err)
	}
}

func TestSettleSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	if _, err := svc.SettleSale(ctx, somchaiPrincipal(), sale.ID, domain.SettleRequest{}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected settlement to require admin, got %v", err)
	}

	settled, err := svc.SettleSale(ctx, admin, sale.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{
			CashAmount:     ptrInt64(200),
			TransferAmount: ptrInt64(50),
			PaymentMethod:  ptrString(domain.PaymentTransfer),
		},
	})
	if err != nil {
		t.Fatalf("SettleSale: %v", err)
	}
	if !settled.Settled {
		t.Fatalf("expected sale marked settled")
	}
	if settled.PaidAmount != 250 {
		t.Fatalf("paid defaults to cash+transfer at settlement, got %d", settled.PaidAmount)
	}
	if settled.PendingAmount == nil || *settled.PendingAmount != 0 {
		t.Fatalf("expected pending 0 after full payment, got %v", settled.PendingAmount)
	}
	if settled.SettledAt == nil || settled.SettledBy != admin.ID {
		t.Fatalf("expected settlement stamp by %s, got %+v", admin.ID, settled)
	}
}

func TestSettleSaleWithFinalItemAdjustment(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// End-of-day count: one pack came back, so the bill settles at 4.
	settled, err := svc.SettleSale(ctx, adminPrincipal(), sale.ID, domain.SettleRequest{
		Items:   ptrItems([]domain.SaleItemInput{{ProductID: "prd-water-12", Withdrawal: 5, Return: 1}}),
		Payment: domain.PaymentUpdate{CashAmount: ptrInt64(200), PaymentMethod: ptrString(domain.PaymentCash)},
	})
	if err != nil {
		t.Fatalf("SettleSale: %v", err)
	}
	if settled.TotalAmount != 200 {
		t.Fatalf("expected settled total 200, got %d", settled.TotalAmount)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 16 {
		t.Fatalf("expected stock 16 after the returned pack, got %d", got)
	}
	if settled.PendingAmount == nil || *settled.PendingAmount != 0 {
		t.Fatalf("expected pending 0, got %v", settled.PendingAmount)
	}
}

func TestSettledSaleLocksDown(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()
	somchai := somchaiPrincipal()

	sale, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := svc.SettleSale(ctx, admin, sale.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{CashAmount: ptrInt64(250), PaymentMethod: ptrString(domain.PaymentCash)},
	}); err != nil {
		t.Fatalf("SettleSale: %v", err)
	}

	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Items: ptrItems(withdrawal("prd-water-12", 2)),
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict editing settled items, got %v", err)
	}
	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Notes: ptrString("late note"),
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict editing settled sale, got %v", err)
	}
	if _, err := svc.SettleSale(ctx, admin, sale.ID, domain.SettleRequest{
		Items: ptrItems(withdrawal("prd-water-12", 2)),
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict re-settling with items, got %v", err)
	}
	if err := svc.DeleteSale(ctx, admin, sale.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict deleting settled sale, got %v", err)
	}
	if got := stockOf(t, svc, "prd-water-12"); got != 15 {
		t.Fatalf("locked sale must not move stock, got %d", got)
	}

	// Payment corrections on a settled bill go through settlement again.
	resettled, err := svc.SettleSale(ctx, admin, sale.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{
			CashAmount:     ptrInt64(100),
			TransferAmount: ptrInt64(150),
			PaymentMethod:  ptrString(domain.PaymentTransfer),
		},
	})
	if err != nil {
		t.Fatalf("re-settle: %v", err)
	}
	if resettled.PaidAmount != 250 || resettled.PaymentMethod != domain.PaymentTransfer {
		t.Fatalf("expected corrected payment split, got %+v", resettled)
	}
}

func TestStaleSnapshotCannotReopenSettledSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 5),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// A second writer reads the open sale, then the admin settles it.
	stale, err := repo.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("snapshot read: %v", err)
	}
	if _, err := svc.SettleSale(ctx, admin, sale.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{CashAmount: ptrInt64(250), PaymentMethod: ptrString(domain.PaymentCash)},
	}); err != nil {
		t.Fatalf("SettleSale: %v", err)
	}

	// Committing the stale header (still Settled=false, payment-only change)
	// must fail at the store; the settled gate is one-way.
	stale.PaidAmount = 100
	if _, err := repo.UpdateSale(ctx, *stale, "emp-somchai"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict committing stale unsettled header, got %v", err)
	}

	current, err := svc.GetSale(ctx, admin, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if !current.Settled || current.SettledBy != admin.ID || current.SettledAt == nil {
		t.Fatalf("settlement stamp must survive the stale write, got %+v", current)
	}
	if current.PaidAmount != 250 {
		t.Fatalf("expected settled payment 250 intact, got %d", current.PaidAmount)
	}
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      []domain.SaleItemInput{{ProductID: "prd-rice-5kg", Withdrawal: 10, Return: 2, Defective: 1}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if got := stockOf(t, svc, "prd-rice-5kg"); got != 32 {
		t.Fatalf("expected stock 32, got %d", got)
	}

	if err := svc.DeleteSale(ctx, somchaiPrincipal(), sale.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected delete to require admin, got %v", err)
	}

	if err := svc.DeleteSale(ctx, admin, sale.ID); err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}
	if got := stockOf(t, svc, "prd-rice-5kg"); got != 40 {
		t.Fatalf("expected stock restored to 40, got %d", got)
	}
	if _, err := svc.GetSale(ctx, admin, sale.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted sale gone, got %v", err)
	}
	if err := svc.DeleteSale(ctx, admin, "sale-ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown sale, got %v", err)
	}

	movements, err := svc.ListStockMovements(ctx, admin, "prd-rice-5kg", 10)
	if err != nil {
		t.Fatalf("ListStockMovements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected create+delete movements, got %d", len(movements))
	}
	if movements[0].Reason != domain.MovementSaleDelete || movements[0].Delta != 8 {
		t.Fatalf("expected compensating delta +8, got %+v", movements[0])
	}
}

func TestCreditSummaryAggregatesOpenWithdrawals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()
	somchai := somchaiPrincipal()

	// Bill one: rice for 2100, 900 already paid, leaving 1200 pending.
	first, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-rice-5kg", 10),
	})
	if err != nil {
		t.Fatalf("first bill: %v", err)
	}
	if _, err := svc.UpdateSale(ctx, somchai, first.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{PaidAmount: ptrInt64(900)},
	}); err != nil {
		t.Fatalf("partial payment: %v", err)
	}

	// Bill two: 16 packs of water, 800 pending.
	second, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 16),
	})
	if err != nil {
		t.Fatalf("second bill: %v", err)
	}

	// Return bills never count toward credit usage.
	if _, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeReturn,
		Items:      []domain.SaleItemInput{{ProductID: "prd-fishsauce-700", Return: 2}},
	}); err != nil {
		t.Fatalf("return bill: %v", err)
	}

	summary, err := svc.CreditSummary(ctx, somchai, "emp-somchai")
	if err != nil {
		t.Fatalf("CreditSummary: %v", err)
	}
	if summary.CreditLimit != 5000 || summary.CreditUsed != 2000 || summary.CreditRemaining != 3000 {
		t.Fatalf("expected 5000/2000/3000, got %d/%d/%d", summary.CreditLimit, summary.CreditUsed, summary.CreditRemaining)
	}
	if summary.EmployeeID != "emp-somchai" || summary.EmployeeName != "Somchai Jaidee" {
		t.Fatalf("expected employee identity on summary, got %+v", summary)
	}

	// Settling a bill releases its pending amount.
	if _, err := svc.SettleSale(ctx, admin, second.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{CashAmount: ptrInt64(800), PaymentMethod: ptrString(domain.PaymentCash)},
	}); err != nil {
		t.Fatalf("SettleSale: %v", err)
	}
	summary, err = svc.CreditSummary(ctx, somchai, "emp-somchai")
	if err != nil {
		t.Fatalf("CreditSummary after settle: %v", err)
	}
	if summary.CreditUsed != 1200 || summary.CreditRemaining != 3800 {
		t.Fatalf("expected used 1200 remaining 3800, got %d/%d", summary.CreditUsed, summary.CreditRemaining)
	}
}

func TestCreditSummaryFallsBackToTotalForLegacyBills(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Rows written before pending_amount existed have no pending value;
	// their full total counts as open usage.
	legacy := domain.Sale{
		EmployeeID:   "emp-somchai",
		EmployeeName: "Somchai Jaidee",
		SaleDate:     time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Type:         domain.SaleTypeWithdrawal,
		Items: []domain.SaleItem{{
			ProductID: "prd-water-12", ProductName: "Nam Duem Crystal 600ml x12",
			PricePerUnit: 50, Withdrawal: 10, TotalPrice: 500,
		}},
		TotalAmount: 500,
	}
	if _, err := repo.CreateSale(ctx, legacy, "migration"); err != nil {
		t.Fatalf("seed legacy sale: %v", err)
	}

	summary, err := svc.CreditSummary(ctx, somchaiPrincipal(), "emp-somchai")
	if err != nil {
		t.Fatalf("CreditSummary: %v", err)
	}
	if summary.CreditUsed != 500 {
		t.Fatalf("expected legacy bill to count its full total, got %d", summary.CreditUsed)
	}
}

func TestCreditSummaryAuthorization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreditSummary(ctx, somchaiPrincipal(), "emp-malee"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected not authorized for another employee's credit, got %v", err)
	}
	if _, err := svc.CreditSummary(ctx, adminPrincipal(), "emp-malee"); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := svc.CreditSummary(ctx, adminPrincipal(), "emp-ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CreditSummary(ctx, adminPrincipal(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestCreditSummaryBatch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	if _, err := svc.CreditSummaryBatch(ctx, somchaiPrincipal(), nil); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected batch to require admin, got %v", err)
	}

	// Empty filter covers every active employee; Prasert is inactive.
	all, err := svc.CreditSummaryBatch(ctx, admin, nil)
	if err != nil {
		t.Fatalf("CreditSummaryBatch: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 active employees, got %d", len(all))
	}
	if _, ok := all["emp-prasert"]; ok {
		t.Fatalf("inactive employee must not appear in the default batch")
	}
	if got := all["emp-malee"]; got.CreditLimit != 20000 || got.CreditUsed != 0 || got.CreditRemaining != 20000 {
		t.Fatalf("expected untouched limit 20000, got %+v", got)
	}

	// Explicitly named employees are included even when inactive; unknown
	// IDs are simply absent.
	some, err := svc.CreditSummaryBatch(ctx, admin, []string{"emp-somchai", "emp-prasert", "emp-ghost"})
	if err != nil {
		t.Fatalf("CreditSummaryBatch subset: %v", err)
	}
	if len(some) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(some))
	}
	if _, ok := some["emp-prasert"]; !ok {
		t.Fatalf("explicitly requested employee missing from batch")
	}
	if _, ok := some["emp-ghost"]; ok {
		t.Fatalf("unknown employee must not appear in batch")
	}
}

type fakeSummaryCache struct {
	mu          sync.Mutex
	entries     map[string]domain.CreditSummary
	invalidated []string
}

func (f *fakeSummaryCache) Get(_ context.Context, employeeID string) (*domain.CreditSummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.entries[employeeID]; ok {
		copied := s
		return &copied, true, nil
	}
	return nil, false, nil
}

func (f *fakeSummaryCache) Set(_ context.Context, employeeID string, summary *domain.CreditSummary, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string]domain.CreditSummary)
	}
	f.entries[employeeID] = *summary
	return nil
}

func (f *fakeSummaryCache) Invalidate(_ context.Context, employeeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, employeeID)
	f.invalidated = append(f.invalidated, employeeID)
	return nil
}

func TestCreditSummaryUsesCacheAndInvalidatesOnMutation(t *testing.T) {
	repo := memory.NewSeeded()
	fake := &fakeSummaryCache{}
	svc := New(repo, fake, time.Minute)
	ctx := context.Background()
	somchai := somchaiPrincipal()

	first, err := svc.CreditSummary(ctx, somchai, "emp-somchai")
	if err != nil {
		t.Fatalf("CreditSummary: %v", err)
	}
	if first.CreditUsed != 0 {
		t.Fatalf("expected no usage yet, got %d", first.CreditUsed)
	}
	if _, ok := fake.entries["emp-somchai"]; !ok {
		t.Fatalf("expected summary cached after miss")
	}

	// Poison the cached entry to prove the next read is served from cache.
	fake.entries["emp-somchai"] = domain.CreditSummary{
		EmployeeID: "emp-somchai", EmployeeName: "Somchai Jaidee",
		CreditLimit: 5000, CreditUsed: 4321, CreditRemaining: 679,
	}
	cached, err := svc.CreditSummary(ctx, somchai, "emp-somchai")
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if cached.CreditUsed != 4321 {
		t.Fatalf("expected cached value 4321, got %d", cached.CreditUsed)
	}

	// Any sale mutation drops the entry, so the next read recomputes.
	if _, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 4),
	}); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if len(fake.invalidated) == 0 || fake.invalidated[len(fake.invalidated)-1] != "emp-somchai" {
		t.Fatalf("expected invalidation for emp-somchai, got %v", fake.invalidated)
	}
	fresh, err := svc.CreditSummary(ctx, somchai, "emp-somchai")
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if fresh.CreditUsed != 200 {
		t.Fatalf("expected recomputed usage 200, got %d", fresh.CreditUsed)
	}
}

func TestListSalesScopesEmployeesToTheirOwnBills(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	if _, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal, Items: withdrawal("prd-water-12", 1),
	}); err != nil {
		t.Fatalf("somchai bill: %v", err)
	}
	maleeSale, err := svc.CreateSale(ctx, maleePrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-malee", Type: domain.SaleTypeWithdrawal, Items: withdrawal("prd-rice-5kg", 2),
	})
	if err != nil {
		t.Fatalf("malee bill: %v", err)
	}

	mine, err := svc.ListSales(ctx, somchaiPrincipal(), domain.SaleQuery{})
	if err != nil {
		t.Fatalf("ListSales as employee: %v", err)
	}
	if len(mine) != 1 || mine[0].EmployeeID != "emp-somchai" {
		t.Fatalf("employee must only see their own bills, got %+v", mine)
	}

	// Employees cannot widen the filter to someone else's bills.
	mine, err = svc.ListSales(ctx, somchaiPrincipal(), domain.SaleQuery{EmployeeID: "emp-malee"})
	if err != nil {
		t.Fatalf("ListSales with foreign filter: %v", err)
	}
	if len(mine) != 1 || mine[0].EmployeeID != "emp-somchai" {
		t.Fatalf("foreign filter must be overridden, got %+v", mine)
	}

	everything, err := svc.ListSales(ctx, admin, domain.SaleQuery{})
	if err != nil {
		t.Fatalf("ListSales as admin: %v", err)
	}
	if len(everything) != 2 {
		t.Fatalf("admin sees all bills, got %d", len(everything))
	}

	if _, err := svc.ListSales(ctx, admin, domain.SaleQuery{Type: "loan"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown type filter, got %v", err)
	}

	if _, err := svc.SettleSale(ctx, admin, maleeSale.ID, domain.SettleRequest{
		Payment: domain.PaymentUpdate{CashAmount: ptrInt64(390), PaymentMethod: ptrString(domain.PaymentCash)},
	}); err != nil {
		t.Fatalf("SettleSale: %v", err)
	}
	open, err := svc.ListSales(ctx, admin, domain.SaleQuery{Settled: ptrBool(false)})
	if err != nil {
		t.Fatalf("ListSales settled filter: %v", err)
	}
	if len(open) != 1 || open[0].EmployeeID != "emp-somchai" {
		t.Fatalf("expected one open bill for somchai, got %+v", open)
	}
}

func TestAdjustStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()

	if _, err := svc.AdjustStock(ctx, somchaiPrincipal(), domain.StockAdjustRequest{
		ProductID: "prd-water-12", Delta: 5,
	}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected adjustment to require admin, got %v", err)
	}

	record, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{
		ProductID: "prd-water-12", Delta: 5, Reason: "supplier delivery",
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if record.CurrentStock != 25 {
		t.Fatalf("expected stock 25, got %d", record.CurrentStock)
	}

	_, err = svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-water-12", Delta: -100})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 25 || stockErr.Requested != 100 {
		t.Fatalf("expected available 25 requested 100, got %+v", stockErr)
	}

	if _, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-water-12"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero delta, got %v", err)
	}
	if _, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{Delta: 3}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank product, got %v", err)
	}
	if _, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-ghost", Delta: 3}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}

	movements, err := svc.ListStockMovements(ctx, admin, "prd-water-12", 10)
	if err != nil {
		t.Fatalf("ListStockMovements: %v", err)
	}
	if len(movements) != 1 || movements[0].Reason != "supplier delivery" {
		t.Fatalf("expected one movement with the given reason, got %+v", movements)
	}
}

func TestAuditTrailRecordsSaleLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	admin := adminPrincipal()
	somchai := somchaiPrincipal()

	sale, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai", Type: domain.SaleTypeWithdrawal, Items: withdrawal("prd-water-12", 3),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := svc.UpdateSale(ctx, somchai, sale.ID, domain.SaleUpdateRequest{
		Payment: &domain.PaymentUpdate{CashAmount: ptrInt64(100)},
	}); err != nil {
		t.Fatalf("UpdateSale: %v", err)
	}
	if err := svc.DeleteSale(ctx, admin, sale.ID); err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}

	if _, err := svc.ListAuditLogs(ctx, somchai, time.Time{}, time.Now().UTC().Add(time.Hour), 50); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected audit trail to require admin, got %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, admin, time.Time{}, time.Now().UTC().Add(time.Hour), 50)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	seen := make(map[string]string, len(logs))
	for _, entry := range logs {
		seen[entry.Action] = entry.ActorID
	}
	if seen["sale.create"] != "emp-somchai" {
		t.Fatalf("expected create recorded for somchai, got %q", seen["sale.create"])
	}
	if seen["sale.update"] != "emp-somchai" {
		t.Fatalf("expected update recorded for somchai, got %q", seen["sale.update"])
	}
	if seen["sale.delete"] != admin.ID {
		t.Fatalf("expected delete recorded for admin, got %q", seen["sale.delete"])
	}
}

func TestSaleDateHandling(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	somchai := somchaiPrincipal()

	dated, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		SaleDate:   "2026-08-20",
		Items:      withdrawal("prd-water-12", 1),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if !dated.SaleDate.Equal(want) {
		t.Fatalf("expected sale date %v, got %v", want, dated.SaleDate)
	}

	defaulted, err := svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Items:      withdrawal("prd-water-12", 1),
	})
	if err != nil {
		t.Fatalf("CreateSale without date: %v", err)
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !defaulted.SaleDate.Equal(today) {
		t.Fatalf("expected sale date to default to today, got %v", defaulted.SaleDate)
	}

	_, err = svc.CreateSale(ctx, somchai, domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		SaleDate:   "next tuesday",
		Items:      withdrawal("prd-water-12", 1),
	})
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "sale_date" {
		t.Fatalf("expected sale_date validation error, got %v", err)
	}
}

func TestNotesAreTrimmed(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, somchaiPrincipal(), domain.SaleCreateRequest{
		EmployeeID: "emp-somchai",
		Type:       domain.SaleTypeWithdrawal,
		Notes:      "  front of market stall  ",
		Items:      withdrawal("prd-water-12", 1),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.Notes != "front of market stall" {
		t.Fatalf("expected trimmed notes, got %q", sale.Notes)
	}
	if strings.Contains(sale.ID, " ") {
		t.Fatalf("sale ID must not contain spaces, got %q", sale.ID)
	}
}
