// Package memory is the in-memory Repository used for dev, demo, and tests.
// One mutex guards the whole dataset, so every sale mutation is naturally a
// single unit of work.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"raankha/backoffice/internal/credit"
	"raankha/backoffice/internal/domain"
	"raankha/backoffice/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	employees    map[string]domain.Employee
	products     map[string]domain.Product
	stock        map[string]int64
	stockTouched map[string]time.Time
	salesByID    map[string]*domain.Sale
	movements    []domain.StockMovement
	auditLogs    []domain.AuditLog
}

// NewSeeded builds a store pre-loaded with a small Thai catalog, stock, and
// the employee roster. No sales are seeded; tests and demos create their own.
func NewSeeded() *Store {
	now := time.Now().UTC()

	products := []domain.Product{
		{
			ID: "prd-water-12", Name: "Nam Duem Crystal 600ml x12", Unit: "pack",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 50, domain.TierMember: 48, domain.TierWholesale: 45, domain.TierVIP: 43,
			},
			Active: true,
		},
		{
			ID: "prd-rice-5kg", Name: "Khao Hom Mali 5kg", Unit: "bag",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 210, domain.TierMember: 205, domain.TierWholesale: 195, domain.TierVIP: 188,
			},
			Active: true,
		},
		{
			ID: "prd-fishsauce-700", Name: "Nam Pla Thipparos 700ml", Unit: "bottle",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 32, domain.TierMember: 30, domain.TierWholesale: 27, domain.TierVIP: 25,
			},
			Active: true,
		},
		{
			ID: "prd-mama-10", Name: "Mama Moo Nam Tok x10", Unit: "pack",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 62, domain.TierMember: 59, domain.TierWholesale: 55, domain.TierVIP: 52,
			},
			Active: true,
		},
		{
			// Deliberately has no VIP price so the catalog gap path is
			// reachable in dev.
			ID: "prd-palmoil-1l", Name: "Palm Oil Morakot 1L", Unit: "bottle",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 52, domain.TierMember: 50, domain.TierWholesale: 46,
			},
			Active: true,
		},
		{
			ID: "prd-syrup-710", Name: "Hale's Blue Boy Sala 710ml", Unit: "bottle",
			Prices: map[domain.PriceTier]int64{
				domain.TierNormal: 65, domain.TierMember: 62, domain.TierWholesale: 58, domain.TierVIP: 55,
			},
			Active: false,
		},
	}

	stock := map[string]int64{
		"prd-water-12":      20,
		"prd-rice-5kg":      40,
		"prd-fishsauce-700": 120,
		"prd-mama-10":       80,
		"prd-palmoil-1l":    60,
		"prd-syrup-710":     0,
	}

	employees := []domain.Employee{
		{ID: "emp-somchai", Name: "Somchai Jaidee", PriceTier: domain.TierNormal, CreditLimit: 5000, Active: true, CreatedAt: now},
		{ID: "emp-malee", Name: "Malee Suksan", PriceTier: domain.TierWholesale, CreditLimit: 20000, Active: true, CreatedAt: now},
		{ID: "emp-anong", Name: "Anong Thongdee", PriceTier: domain.TierVIP, CreditLimit: 12000, Active: true, CreatedAt: now},
		{ID: "emp-prasert", Name: "Prasert Boonmee", PriceTier: domain.TierMember, CreditLimit: 8000, Active: false, CreatedAt: now},
	}

	s := &Store{
		employees:    make(map[string]domain.Employee, len(employees)),
		products:     make(map[string]domain.Product, len(products)),
		stock:        stock,
		stockTouched: make(map[string]time.Time, len(stock)),
		salesByID:    make(map[string]*domain.Sale),
	}
	for _, e := range employees {
		s.employees[e.ID] = e
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for id := range stock {
		s.stockTouched[id] = now
	}
	return s
}

func (s *Store) GetEmployee(_ context.Context, employeeID string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp, ok := s.employees[employeeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &emp, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		employees = append(employees, e)
	}
	slices.SortFunc(employees, func(a, b domain.Employee) int {
		return strings.Compare(a.Name, b.Name)
	})
	return employees, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) ListStock(_ context.Context, productIDs []string) ([]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := productIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(s.stock))
		for id := range s.stock {
			ids = append(ids, id)
		}
	}

	records := make([]domain.StockRecord, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.products[id]; !ok {
			continue
		}
		records = append(records, s.stockRecordLocked(id))
	}
	slices.SortFunc(records, func(a, b domain.StockRecord) int {
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return records, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int64, reason string, actorID string) (*domain.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	if reason == "" {
		reason = domain.MovementManualAdjust
	}

	deltas := []domain.StockDelta{{ProductID: productID, ProductName: product.Name, Delta: delta}}
	if err := s.applyDeltasLocked(deltas, "", reason, actorID, time.Now().UTC()); err != nil {
		return nil, err
	}

	record := s.stockRecordLocked(productID)
	return &record, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(movements) < limit; i-- {
		m := s.movements[i]
		if productID != "" && m.ProductID != productID {
			continue
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, actorID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "sale requires at least one item"}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	deltas := domain.DeltasBetween(nil, sale.Items)
	if err := s.applyDeltasLocked(deltas, sale.ID, domain.MovementSaleCreate, actorID, now); err != nil {
		return nil, err
	}

	s.salesByID[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, q domain.SaleQuery) ([]domain.Sale, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, limit)
	for _, sale := range s.salesByID {
		if !saleMatches(sale, q) {
			continue
		}
		matched = append(matched, *cloneSale(sale))
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale, actorID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.salesByID[sale.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if len(sale.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "sale requires at least one item"}
	}
	if existing.Settled && !sale.Settled {
		// The incoming header was built from a pre-settlement read; letting
		// it commit would silently reopen the settled gate.
		return nil, fmt.Errorf("%w: sale was settled concurrently", domain.ErrConflict)
	}
	if existing.Settled && !domain.SaleItemsEqual(existing.Items, sale.Items) {
		return nil, fmt.Errorf("%w: items of a settled sale cannot change", domain.ErrConflict)
	}

	now := time.Now().UTC()
	deltas := domain.DeltasBetween(existing.Items, sale.Items)
	if err := s.applyDeltasLocked(deltas, sale.ID, domain.MovementSaleUpdate, actorID, now); err != nil {
		return nil, err
	}

	sale.CreatedAt = existing.CreatedAt
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) DeleteSale(_ context.Context, saleID string, actorID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.salesByID[saleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if existing.Settled {
		return nil, fmt.Errorf("%w: settled sale cannot be deleted", domain.ErrConflict)
	}

	deltas := domain.DeltasBetween(existing.Items, nil)
	if err := s.applyDeltasLocked(deltas, saleID, domain.MovementSaleDelete, actorID, time.Now().UTC()); err != nil {
		return nil, err
	}

	deleted := cloneSale(existing)
	delete(s.salesByID, saleID)
	return deleted, nil
}

func (s *Store) CreditUsage(_ context.Context, employeeIDs []string) (map[string]int64, error) {
	wanted := make(map[string]struct{}, len(employeeIDs))
	for _, id := range employeeIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[string]int64, len(employeeIDs))
	for _, sale := range s.salesByID {
		if _, ok := wanted[sale.EmployeeID]; !ok {
			continue
		}
		if !credit.CountsTowardUsage(*sale) {
			continue
		}
		usage[sale.EmployeeID] += credit.UsageOf(*sale)
	}
	return usage, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// applyDeltasLocked validates every delta against current stock before
// touching anything, so a failing product leaves the ledger untouched.
// Callers hold the write lock and pass coalesced deltas (one per product).
func (s *Store) applyDeltasLocked(deltas []domain.StockDelta, saleID string, reason string, actorID string, at time.Time) error {
	for _, d := range deltas {
		if d.Delta >= 0 {
			continue
		}
		available := s.stock[d.ProductID]
		if available+d.Delta < 0 {
			return &domain.InsufficientStockError{
				ProductName: s.productNameLocked(d.ProductID, d.ProductName),
				Available:   available,
				Requested:   -d.Delta,
			}
		}
	}

	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		s.stock[d.ProductID] += d.Delta
		s.stockTouched[d.ProductID] = at
		s.movements = append(s.movements, domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   d.ProductID,
			ProductName: s.productNameLocked(d.ProductID, d.ProductName),
			SaleID:      saleID,
			Delta:       d.Delta,
			StockAfter:  s.stock[d.ProductID],
			Reason:      reason,
			ActorID:     actorID,
			CreatedAt:   at,
		})
	}
	return nil
}

func (s *Store) stockRecordLocked(productID string) domain.StockRecord {
	return domain.StockRecord{
		ProductID:    productID,
		ProductName:  s.productNameLocked(productID, productID),
		CurrentStock: s.stock[productID],
		UpdatedAt:    s.stockTouched[productID],
	}
}

func (s *Store) productNameLocked(productID string, fallback string) string {
	if p, ok := s.products[productID]; ok {
		return p.Name
	}
	return fallback
}

func saleMatches(sale *domain.Sale, q domain.SaleQuery) bool {
	if q.EmployeeID != "" && sale.EmployeeID != q.EmployeeID {
		return false
	}
	if q.Type != "" && sale.Type != q.Type {
		return false
	}
	if q.Settled != nil && sale.Settled != *q.Settled {
		return false
	}
	if q.From != nil && sale.SaleDate.Before(*q.From) {
		return false
	}
	if q.To != nil && !sale.SaleDate.Before(*q.To) {
		return false
	}
	return true
}

func cloneProduct(src domain.Product) domain.Product {
	out := src
	out.Prices = make(map[domain.PriceTier]int64, len(src.Prices))
	for tier, price := range src.Prices {
		out.Prices[tier] = price
	}
	return out
}

func cloneSale(src *domain.Sale) *domain.Sale {
	out := *src
	out.Items = make([]domain.SaleItem, len(src.Items))
	copy(out.Items, src.Items)
	if src.PendingAmount != nil {
		pending := *src.PendingAmount
		out.PendingAmount = &pending
	}
	if src.SettledAt != nil {
		at := *src.SettledAt
		out.SettledAt = &at
	}
	return &out
}
