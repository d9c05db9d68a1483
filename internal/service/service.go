// Package service is the sale transaction coordinator. It validates and
// prices requests, derives totals, and hands each mutation to the store as
// one unit of work. Every method takes the caller's Principal as an explicit
// argument; there is no ambient request state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"raankha/backoffice/internal/cache"
	"raankha/backoffice/internal/credit"
	"raankha/backoffice/internal/domain"
	"raankha/backoffice/internal/pricing"
	"raankha/backoffice/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 20 * time.Second
	}
	return &Service{repo: repo, summaries: summaries, summaryTTL: summaryTTL}
}

func (s *Service) CreateSale(ctx context.Context, principal domain.Principal, req domain.SaleCreateRequest) (*domain.Sale, error) {
	if strings.TrimSpace(req.EmployeeID) == "" {
		return nil, &domain.ValidationError{Field: "employee_id", Message: "employee_id is required"}
	}
	if req.Type != domain.SaleTypeWithdrawal && req.Type != domain.SaleTypeReturn {
		return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("type must be %q or %q", domain.SaleTypeWithdrawal, domain.SaleTypeReturn)}
	}
	if err := validateItemInputs(req.Items); err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && principal.ID != req.EmployeeID {
		return nil, fmt.Errorf("%w: sales can only be created for yourself", domain.ErrNotAuthorized)
	}

	saleDate, err := parseSaleDate(req.SaleDate)
	if err != nil {
		return nil, err
	}

	employee, err := s.repo.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: employee %s", domain.ErrNotFound, req.EmployeeID)
		}
		return nil, err
	}
	if !employee.Active {
		return nil, fmt.Errorf("%w: employee %s is inactive", domain.ErrNotFound, employee.Name)
	}

	items, totalAmount, err := s.priceItems(ctx, req.Items, employee.PriceTier)
	if err != nil {
		return nil, err
	}

	pending := maxInt64(totalAmount, 0)
	sale := domain.Sale{
		EmployeeID:    employee.ID,
		EmployeeName:  employee.Name,
		SaleDate:      saleDate,
		Type:          req.Type,
		Items:         items,
		TotalAmount:   totalAmount,
		PendingAmount: &pending,
		Notes:         strings.TrimSpace(req.Notes),
	}

	created, err := s.repo.CreateSale(ctx, sale, principal.ID)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, created.EmployeeID)
	s.logAudit(ctx, principal, "sale.create", "sale", created.ID, fmt.Sprintf("%s bill for %s, total %d", created.Type, created.EmployeeName, created.TotalAmount))
	return created, nil
}

func (s *Service) GetSale(ctx context.Context, principal domain.Principal, saleID string) (*domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && principal.ID != sale.EmployeeID {
		return nil, fmt.Errorf("%w: bill belongs to another employee", domain.ErrNotAuthorized)
	}
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, principal domain.Principal, q domain.SaleQuery) ([]domain.Sale, error) {
	if q.Type != "" && q.Type != domain.SaleTypeWithdrawal && q.Type != domain.SaleTypeReturn {
		return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("type must be %q or %q", domain.SaleTypeWithdrawal, domain.SaleTypeReturn)}
	}
	if !principal.IsAdmin() {
		q.EmployeeID = principal.ID
	}
	if q.Limit < 1 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return s.repo.ListSales(ctx, q)
}

// UpdateSale changes items, payment fields, notes, or the sale date of an
// unsettled sale. Once settled, every change goes through SettleSale instead.
func (s *Service) UpdateSale(ctx context.Context, principal domain.Principal, saleID string, req domain.SaleUpdateRequest) (*domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && principal.ID != sale.EmployeeID {
		return nil, fmt.Errorf("%w: bill belongs to another employee", domain.ErrNotAuthorized)
	}
	if req.Items == nil && req.Payment == nil && req.Notes == nil && req.SaleDate == nil {
		return nil, &domain.ValidationError{Field: "", Message: "nothing to update"}
	}
	if sale.Settled {
		return nil, fmt.Errorf("%w: settled sale can only be adjusted through settlement", domain.ErrConflict)
	}

	if req.Items != nil {
		if err := validateItemInputs(*req.Items); err != nil {
			return nil, err
		}
		employee, err := s.repo.GetEmployee(ctx, sale.EmployeeID)
		if err != nil {
			return nil, err
		}
		items, totalAmount, err := s.priceItems(ctx, *req.Items, employee.PriceTier)
		if err != nil {
			return nil, err
		}
		sale.Items = items
		sale.TotalAmount = totalAmount
	}

	if req.SaleDate != nil {
		saleDate, err := parseSaleDate(*req.SaleDate)
		if err != nil {
			return nil, err
		}
		sale.SaleDate = saleDate
	}
	if req.Notes != nil {
		sale.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Payment != nil {
		if err := applyPayment(sale, *req.Payment); err != nil {
			return nil, err
		}
	}
	recomputePending(sale)

	updated, err := s.repo.UpdateSale(ctx, *sale, principal.ID)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, updated.EmployeeID)
	s.logAudit(ctx, principal, "sale.update", "sale", updated.ID, fmt.Sprintf("total %d, paid %d", updated.TotalAmount, updated.PaidAmount))
	return updated, nil
}

// SettleSale finalizes a bill: an admin records the payment breakdown and the
// sale stops accepting item edits. Settling an already-settled sale adjusts
// its settlement fields only.
func (s *Service) SettleSale(ctx context.Context, principal domain.Principal, saleID string, req domain.SettleRequest) (*domain.Sale, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: settlement requires admin role", domain.ErrNotAuthorized)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if req.Items != nil {
		if sale.Settled {
			return nil, fmt.Errorf("%w: items of a settled sale cannot change", domain.ErrConflict)
		}
		if err := validateItemInputs(*req.Items); err != nil {
			return nil, err
		}
		employee, err := s.repo.GetEmployee(ctx, sale.EmployeeID)
		if err != nil {
			return nil, err
		}
		items, totalAmount, err := s.priceItems(ctx, *req.Items, employee.PriceTier)
		if err != nil {
			return nil, err
		}
		sale.Items = items
		sale.TotalAmount = totalAmount
	}

	if err := applyPayment(sale, req.Payment); err != nil {
		return nil, err
	}
	recomputePending(sale)

	now := time.Now().UTC()
	sale.Settled = true
	sale.SettledAt = &now
	sale.SettledBy = principal.ID

	settled, err := s.repo.UpdateSale(ctx, *sale, principal.ID)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, settled.EmployeeID)
	s.logAudit(ctx, principal, "sale.settle", "sale", settled.ID, fmt.Sprintf("paid %d via %s, pending %d", settled.PaidAmount, defaultString(settled.PaymentMethod, "unspecified"), derefInt64(settled.PendingAmount)))
	return settled, nil
}

func (s *Service) DeleteSale(ctx context.Context, principal domain.Principal, saleID string) error {
	if !principal.IsAdmin() {
		return fmt.Errorf("%w: delete requires admin role", domain.ErrNotAuthorized)
	}

	deleted, err := s.repo.DeleteSale(ctx, saleID, principal.ID)
	if err != nil {
		return err
	}

	s.invalidateSummary(ctx, deleted.EmployeeID)
	s.logAudit(ctx, principal, "sale.delete", "sale", deleted.ID, fmt.Sprintf("reversed %d item lines for %s", len(deleted.Items), deleted.EmployeeName))
	return nil
}

func (s *Service) CreditSummary(ctx context.Context, principal domain.Principal, employeeID string) (*domain.CreditSummary, error) {
	if strings.TrimSpace(employeeID) == "" {
		return nil, &domain.ValidationError{Field: "employee_id", Message: "employee_id is required"}
	}
	if !principal.IsAdmin() && principal.ID != employeeID {
		return nil, fmt.Errorf("%w: credit summary belongs to another employee", domain.ErrNotAuthorized)
	}

	cached, ok, err := s.summaries.Get(ctx, employeeID)
	if err != nil {
		log.Printf("[service] WARN: credit summary cache read failed for %s: %v", employeeID, err)
	} else if ok {
		return cached, nil
	}

	employee, err := s.repo.GetEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: employee %s", domain.ErrNotFound, employeeID)
		}
		return nil, err
	}

	usage, err := s.repo.CreditUsage(ctx, []string{employeeID})
	if err != nil {
		return nil, err
	}

	summary := credit.BuildSummary(employee.CreditLimit, usage[employee.ID])
	summary.EmployeeID = employee.ID
	summary.EmployeeName = employee.Name

	if err := s.summaries.Set(ctx, employee.ID, &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: credit summary cache write failed for %s: %v", employee.ID, err)
	}
	return &summary, nil
}

// CreditSummaryBatch serves the roster screen: one usage aggregation for the
// whole employee set, bypassing the per-employee cache. An empty ID list
// means every active employee.
func (s *Service) CreditSummaryBatch(ctx context.Context, principal domain.Principal, employeeIDs []string) (map[string]domain.CreditSummary, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: batch credit summary requires admin role", domain.ErrNotAuthorized)
	}

	employees, err := s.repo.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}

	selected := make([]domain.Employee, 0, len(employees))
	if len(employeeIDs) == 0 {
		for _, emp := range employees {
			if emp.Active {
				selected = append(selected, emp)
			}
		}
	} else {
		wanted := make(map[string]struct{}, len(employeeIDs))
		for _, id := range employeeIDs {
			wanted[id] = struct{}{}
		}
		for _, emp := range employees {
			if _, ok := wanted[emp.ID]; ok {
				selected = append(selected, emp)
			}
		}
	}

	ids := make([]string, 0, len(selected))
	for _, emp := range selected {
		ids = append(ids, emp.ID)
	}
	usage, err := s.repo.CreditUsage(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make(map[string]domain.CreditSummary, len(selected))
	for _, emp := range selected {
		summary := credit.BuildSummary(emp.CreditLimit, usage[emp.ID])
		summary.EmployeeID = emp.ID
		summary.EmployeeName = emp.Name
		result[emp.ID] = summary
	}
	return result, nil
}

func (s *Service) ListEmployees(ctx context.Context, principal domain.Principal) ([]domain.Employee, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: employee roster requires admin role", domain.ErrNotAuthorized)
	}
	return s.repo.ListEmployees(ctx)
}

func (s *Service) ListStock(ctx context.Context, principal domain.Principal, productIDs []string) ([]domain.StockRecord, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: stock view requires admin role", domain.ErrNotAuthorized)
	}
	return s.repo.ListStock(ctx, productIDs)
}

func (s *Service) AdjustStock(ctx context.Context, principal domain.Principal, req domain.StockAdjustRequest) (*domain.StockRecord, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: stock adjustment requires admin role", domain.ErrNotAuthorized)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, &domain.ValidationError{Field: "product_id", Message: "product_id is required"}
	}
	if req.Delta == 0 {
		return nil, &domain.ValidationError{Field: "delta", Message: "delta cannot be zero"}
	}

	record, err := s.repo.AdjustStock(ctx, req.ProductID, req.Delta, strings.TrimSpace(req.Reason), principal.ID)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, principal, "stock.adjust", "product", req.ProductID, fmt.Sprintf("delta %+d, now %d", req.Delta, record.CurrentStock))
	return record, nil
}

func (s *Service) ListStockMovements(ctx context.Context, principal domain.Principal, productID string, limit int) ([]domain.StockMovement, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: movement journal requires admin role", domain.ErrNotAuthorized)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListStockMovements(ctx, productID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, principal domain.Principal, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: audit trail requires admin role", domain.ErrNotAuthorized)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// priceItems merges duplicate product lines, snapshots name and unit price
// per line from the employee's tier, and derives line totals. Billed quantity
// is withdrawal minus return minus defective; defective units reduce the bill
// but never move stock.
func (s *Service) priceItems(ctx context.Context, inputs []domain.SaleItemInput, tier domain.PriceTier) ([]domain.SaleItem, int64, error) {
	merged := normalizeItemInputs(inputs)

	ids := make([]string, 0, len(merged))
	for _, in := range merged {
		ids = append(ids, in.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.SaleItem, 0, len(merged))
	totalAmount := int64(0)
	for _, in := range merged {
		product, ok := products[in.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: product %s", domain.ErrNotFound, in.ProductID)
		}
		unitPrice, err := pricing.Resolve(product, tier)
		if err != nil {
			return nil, 0, err
		}
		lineTotal := unitPrice * (in.Withdrawal - in.Return - in.Defective)
		items = append(items, domain.SaleItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			PricePerUnit: unitPrice,
			Withdrawal:   in.Withdrawal,
			Return:       in.Return,
			Defective:    in.Defective,
			TotalPrice:   lineTotal,
		})
		totalAmount += lineTotal
	}
	return items, totalAmount, nil
}

func (s *Service) invalidateSummary(ctx context.Context, employeeID string) {
	if err := s.summaries.Invalidate(ctx, employeeID); err != nil {
		log.Printf("[service] WARN: credit summary invalidation failed for %s: %v", employeeID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, principal domain.Principal, action string, entityType string, entityID string, detail string) {
	entry := domain.AuditLog{
		ActorID:    principal.ID,
		ActorRole:  principal.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[audit] WARN: failed to record %s for %s %s: %v", action, entityType, entityID, err)
	}
}

func validateItemInputs(items []domain.SaleItemInput) error {
	if len(items) == 0 {
		return &domain.ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "product_id is required"}
		}
		if item.Withdrawal < 0 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].withdrawal", i), Message: "quantity cannot be negative"}
		}
		if item.Return < 0 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].return", i), Message: "quantity cannot be negative"}
		}
		if item.Defective < 0 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].defective", i), Message: "quantity cannot be negative"}
		}
	}
	return nil
}

// normalizeItemInputs merges lines referencing the same product so each
// product appears at most once, then orders by product ID for deterministic
// output.
func normalizeItemInputs(items []domain.SaleItemInput) []domain.SaleItemInput {
	byProduct := make(map[string]domain.SaleItemInput, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		merged := byProduct[id]
		merged.ProductID = id
		merged.Withdrawal += item.Withdrawal
		merged.Return += item.Return
		merged.Defective += item.Defective
		byProduct[id] = merged
	}

	out := make([]domain.SaleItemInput, 0, len(byProduct))
	for _, item := range byProduct {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func applyPayment(sale *domain.Sale, p domain.PaymentUpdate) error {
	if p.CashAmount != nil {
		if *p.CashAmount < 0 {
			return &domain.ValidationError{Field: "cash_amount", Message: "amount cannot be negative"}
		}
		sale.CashAmount = *p.CashAmount
	}
	if p.TransferAmount != nil {
		if *p.TransferAmount < 0 {
			return &domain.ValidationError{Field: "transfer_amount", Message: "amount cannot be negative"}
		}
		sale.TransferAmount = *p.TransferAmount
	}
	if p.CustomerPending != nil {
		if *p.CustomerPending < 0 {
			return &domain.ValidationError{Field: "customer_pending", Message: "amount cannot be negative"}
		}
		sale.CustomerPending = *p.CustomerPending
	}
	if p.ExpenseAmount != nil {
		if *p.ExpenseAmount < 0 {
			return &domain.ValidationError{Field: "expense_amount", Message: "amount cannot be negative"}
		}
		sale.ExpenseAmount = *p.ExpenseAmount
	}
	if p.AwaitingTransfer != nil {
		sale.AwaitingTransfer = *p.AwaitingTransfer
	}
	if p.PaymentMethod != nil {
		method := strings.TrimSpace(*p.PaymentMethod)
		if method != domain.PaymentCash && method != domain.PaymentTransfer && method != domain.PaymentCustomerPending {
			return &domain.ValidationError{Field: "payment_method", Message: fmt.Sprintf("payment_method must be %q, %q, or %q", domain.PaymentCash, domain.PaymentTransfer, domain.PaymentCustomerPending)}
		}
		sale.PaymentMethod = method
	}

	if p.PaidAmount != nil {
		if *p.PaidAmount < 0 {
			return &domain.ValidationError{Field: "paid_amount", Message: "amount cannot be negative"}
		}
		sale.PaidAmount = *p.PaidAmount
	} else {
		sale.PaidAmount = sale.CashAmount + sale.TransferAmount
	}
	return nil
}

func recomputePending(sale *domain.Sale) {
	pending := maxInt64(sale.TotalAmount-sale.PaidAmount, 0)
	sale.PendingAmount = &pending
}

func parseSaleDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "sale_date", Message: "must be formatted YYYY-MM-DD"}
	}
	return parsed.UTC(), nil
}

func maxInt64(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func defaultString(val string, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
