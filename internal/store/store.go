// Package store defines the single storage abstraction of the engine. There
// is exactly one interface; postgres and memory implement it. Failures map
// onto the domain error taxonomy (domain.ErrNotFound and friends) so callers
// never branch on backend-specific errors.
package store

import (
	"context"
	"time"

	"raankha/backoffice/internal/domain"
)

// Repository is implemented by the storage backends. Each sale mutation is
// one transactional unit of work: the stock re-check, the stock write, the
// item rows, the movement journal, and the sale header commit together or
// not at all. Stock deltas are derived inside the unit of work (from the
// locked current rows via domain.DeltasBetween), never trusted from earlier
// reads.
type Repository interface {
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)
	ListEmployees(ctx context.Context) ([]domain.Employee, error)

	GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListStock(ctx context.Context, productIDs []string) ([]domain.StockRecord, error)
	AdjustStock(ctx context.Context, productID string, delta int64, reason string, actorID string) (*domain.StockRecord, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	CreateSale(ctx context.Context, sale domain.Sale, actorID string) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, q domain.SaleQuery) ([]domain.Sale, error)
	// UpdateSale replaces the sale's items and header. Item changes against a
	// settled sale fail with domain.ErrConflict, checked under the row lock.
	UpdateSale(ctx context.Context, sale domain.Sale, actorID string) (*domain.Sale, error)
	// DeleteSale removes the sale and compensates stock by the exact inverse
	// of the items' contribution, read under the row lock.
	DeleteSale(ctx context.Context, saleID string, actorID string) (*domain.Sale, error)

	// CreditUsage sums open withdrawal exposure for all requested employees
	// in a single aggregation. Employees without open bills are absent from
	// the result.
	CreditUsage(ctx context.Context, employeeIDs []string) (map[string]int64, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	// ListAuditLogs returns entries with from <= created_at < to, newest
	// first. Both bounds are required; a zero to matches nothing.
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
