// Package postgres is the production Repository. Every sale mutation runs in
// one serializable transaction: stock rows are locked in product-ID order,
// deltas are re-derived from the locked state, and the conditional stock
// update is the final guard against going negative.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"raankha/backoffice/internal/domain"
	"raankha/backoffice/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error) {
	var emp domain.Employee
	var tier string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_tier, credit_limit, active, created_at
		FROM employees
		WHERE id = $1
	`, employeeID).Scan(&emp.ID, &emp.Name, &tier, &emp.CreditLimit, &emp.Active, &emp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	emp.PriceTier = domain.PriceTier(tier)
	emp.CreatedAt = emp.CreatedAt.UTC()
	return &emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_tier, credit_limit, active, created_at
		FROM employees
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.Employee, 0, 32)
	for rows.Next() {
		var emp domain.Employee
		var tier string
		if err := rows.Scan(&emp.ID, &emp.Name, &tier, &emp.CreditLimit, &emp.Active, &emp.CreatedAt); err != nil {
			return nil, err
		}
		emp.PriceTier = domain.PriceTier(tier)
		emp.CreatedAt = emp.CreatedAt.UTC()
		employees = append(employees, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return employees, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, price_normal, price_member, price_wholesale, price_vip, active
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStock(ctx context.Context, productIDs []string) ([]domain.StockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.product_id, p.name, sr.current_stock, sr.updated_at
		FROM stock_records sr
		JOIN products p ON p.id = sr.product_id
		WHERE cardinality($1::text[]) = 0 OR sr.product_id = ANY($1)
		ORDER BY p.name
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.StockRecord, 0, 64)
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.ProductName, &rec.CurrentStock, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int64, reason string, actorID string) (*domain.StockRecord, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var name string
	err = pgTx.QueryRowContext(ctx, `
		SELECT name FROM products WHERE id = $1
	`, productID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
		}
		return nil, err
	}

	if reason == "" {
		reason = domain.MovementManualAdjust
	}
	now := time.Now().UTC()
	deltas := []domain.StockDelta{{ProductID: productID, ProductName: name, Delta: delta}}
	if err := applyDeltasTx(ctx, pgTx, deltas, "", reason, actorID, now); err != nil {
		return nil, mapConflict(err)
	}

	rec := domain.StockRecord{ProductID: productID, ProductName: name}
	err = pgTx.QueryRowContext(ctx, `
		SELECT current_stock, updated_at FROM stock_records WHERE product_id = $1
	`, productID).Scan(&rec.CurrentStock, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	if err := pgTx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return &rec, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, COALESCE(sale_id, ''), delta, stock_after, reason, actor_id, created_at
		FROM stock_movements
		WHERE $1 = '' OR product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.SaleID, &m.Delta, &m.StockAfter, &m.Reason, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, actorID string) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "sale requires at least one item"}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	deltas := domain.DeltasBetween(nil, sale.Items)
	if err := applyDeltasTx(ctx, pgTx, deltas, sale.ID, domain.MovementSaleCreate, actorID, now); err != nil {
		return nil, mapConflict(err)
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, employee_id, employee_name, sale_date, type, total_amount, paid_amount,
			payment_method, pending_amount, cash_amount, transfer_amount, customer_pending,
			expense_amount, awaiting_transfer, notes, settled, settled_at, settled_by,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, sale.ID, sale.EmployeeID, sale.EmployeeName, dateUTC(sale.SaleDate), sale.Type,
		sale.TotalAmount, sale.PaidAmount, nullIfEmpty(sale.PaymentMethod), nullInt64(sale.PendingAmount),
		sale.CashAmount, sale.TransferAmount, sale.CustomerPending, sale.ExpenseAmount,
		sale.AwaitingTransfer, nullIfEmpty(sale.Notes), sale.Settled, nullTime(sale.SettledAt),
		nullIfEmpty(sale.SettledBy), sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale %s already exists", domain.ErrConflict, sale.ID)
		}
		return nil, mapConflict(err)
	}

	if err := insertSaleItemsTx(ctx, pgTx, sale.ID, sale.Items); err != nil {
		return nil, mapConflict(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, saleID)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadItems(ctx, []string{saleID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[saleID]
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, q domain.SaleQuery) ([]domain.Sale, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR employee_id = $1)
			AND ($2 = '' OR type = $2)
			AND ($3::boolean IS NULL OR settled = $3)
			AND ($4::date IS NULL OR sale_date >= $4)
			AND ($5::date IS NULL OR sale_date < $5)
		ORDER BY created_at DESC, id DESC
		LIMIT $6
	`, q.EmployeeID, q.Type, nullBool(q.Settled), nullDate(q.From), nullDate(q.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale, actorID string) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "sale requires at least one item"}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var settled bool
	var createdAt time.Time
	err = pgTx.QueryRowContext(ctx, `
		SELECT settled, created_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, sale.ID).Scan(&settled, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if settled && !sale.Settled {
		// The incoming header was built from a pre-settlement read; letting
		// it commit would silently reopen the settled gate.
		return nil, fmt.Errorf("%w: sale was settled concurrently", domain.ErrConflict)
	}

	oldItems, err := loadSaleItemsTx(ctx, pgTx, sale.ID)
	if err != nil {
		return nil, err
	}
	if settled && !domain.SaleItemsEqual(oldItems, sale.Items) {
		return nil, fmt.Errorf("%w: items of a settled sale cannot change", domain.ErrConflict)
	}

	now := time.Now().UTC()
	deltas := domain.DeltasBetween(oldItems, sale.Items)
	if err := applyDeltasTx(ctx, pgTx, deltas, sale.ID, domain.MovementSaleUpdate, actorID, now); err != nil {
		return nil, mapConflict(err)
	}

	sale.CreatedAt = createdAt.UTC()
	sale.UpdatedAt = now
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET sale_date = $2, type = $3, total_amount = $4, paid_amount = $5,
			payment_method = $6, pending_amount = $7, cash_amount = $8, transfer_amount = $9,
			customer_pending = $10, expense_amount = $11, awaiting_transfer = $12, notes = $13,
			settled = $14, settled_at = $15, settled_by = $16, updated_at = $17
		WHERE id = $1
	`, sale.ID, dateUTC(sale.SaleDate), sale.Type, sale.TotalAmount, sale.PaidAmount,
		nullIfEmpty(sale.PaymentMethod), nullInt64(sale.PendingAmount), sale.CashAmount,
		sale.TransferAmount, sale.CustomerPending, sale.ExpenseAmount, sale.AwaitingTransfer,
		nullIfEmpty(sale.Notes), sale.Settled, nullTime(sale.SettledAt), nullIfEmpty(sale.SettledBy),
		sale.UpdatedAt)
	if err != nil {
		return nil, mapConflict(err)
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, mapConflict(err)
	}
	if err := insertSaleItemsTx(ctx, pgTx, sale.ID, sale.Items); err != nil {
		return nil, mapConflict(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return &sale, nil
}

func (s *Store) DeleteSale(ctx context.Context, saleID string, actorID string) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if sale.Settled {
		return nil, fmt.Errorf("%w: settled sale cannot be deleted", domain.ErrConflict)
	}

	items, err := loadSaleItemsTx(ctx, pgTx, saleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items

	deltas := domain.DeltasBetween(items, nil)
	if err := applyDeltasTx(ctx, pgTx, deltas, saleID, domain.MovementSaleDelete, actorID, time.Now().UTC()); err != nil {
		return nil, mapConflict(err)
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID); err != nil {
		return nil, mapConflict(err)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID); err != nil {
		return nil, mapConflict(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return sale, nil
}

// CreditUsage is one aggregation regardless of how many employees are asked
// for. Legacy rows without pending_amount count at their full total.
func (s *Store) CreditUsage(ctx context.Context, employeeIDs []string) (map[string]int64, error) {
	usage := make(map[string]int64, len(employeeIDs))
	if len(employeeIDs) == 0 {
		return usage, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, COALESCE(SUM(COALESCE(pending_amount, total_amount)), 0)
		FROM sales
		WHERE settled = false AND type = 'withdrawal' AND employee_id = ANY($1)
		GROUP BY employee_id
	`, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var employeeID string
		var total int64
		if err := rows.Scan(&employeeID, &total); err != nil {
			return nil, err
		}
		usage[employeeID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// applyDeltasTx locks the touched stock rows, validates every negative delta
// against the locked values, then applies. The conditional WHERE on the
// update is the final guard; a zero-row update means another transaction won
// the stock between our lock and theirs, so the whole operation aborts.
func applyDeltasTx(ctx context.Context, pgTx *sql.Tx, deltas []domain.StockDelta, saleID string, reason string, actorID string, at time.Time) error {
	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.ProductID)
	}

	// ORDER BY on the locking select keeps row-lock acquisition order stable
	// across concurrent transactions.
	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, current_stock
		FROM stock_records
		WHERE product_id = ANY($1)
		ORDER BY product_id
		FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	locked := make(map[string]int64, len(ids))
	for stockRows.Next() {
		var productID string
		var current int64
		if err := stockRows.Scan(&productID, &current); err != nil {
			_ = stockRows.Close()
			return err
		}
		locked[productID] = current
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return err
	}
	_ = stockRows.Close()

	for _, d := range deltas {
		if d.Delta >= 0 {
			continue
		}
		available := locked[d.ProductID]
		if available+d.Delta < 0 {
			return &domain.InsufficientStockError{ProductName: d.ProductName, Available: available, Requested: -d.Delta}
		}
	}

	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}

		var after int64
		if _, exists := locked[d.ProductID]; exists {
			err := pgTx.QueryRowContext(ctx, `
				UPDATE stock_records
				SET current_stock = current_stock + $2, updated_at = $3
				WHERE product_id = $1 AND current_stock + $2 >= 0
				RETURNING current_stock
			`, d.ProductID, d.Delta, at).Scan(&after)
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.InsufficientStockError{ProductName: d.ProductName, Available: locked[d.ProductID], Requested: -d.Delta}
			}
			if err != nil {
				return err
			}
		} else {
			// No stock row yet: negative deltas already failed validation
			// above, so this only seeds a new row from a restock.
			err := pgTx.QueryRowContext(ctx, `
				INSERT INTO stock_records (product_id, current_stock, updated_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (product_id)
				DO UPDATE SET current_stock = stock_records.current_stock + EXCLUDED.current_stock, updated_at = EXCLUDED.updated_at
				RETURNING current_stock
			`, d.ProductID, d.Delta, at).Scan(&after)
			if err != nil {
				return err
			}
		}

		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, product_name, sale_id, delta, stock_after, reason, actor_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, xid.New("mov"), d.ProductID, d.ProductName, nullIfEmpty(saleID), d.Delta, after, reason, actorID, at)
		if err != nil {
			return err
		}
	}
	return nil
}

const saleColumns = `id, employee_id, employee_name, sale_date, type, total_amount, paid_amount,
	payment_method, pending_amount, cash_amount, transfer_amount, customer_pending,
	expense_amount, awaiting_transfer, notes, settled, settled_at, settled_by,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var paymentMethod sql.NullString
	var pendingAmount sql.NullInt64
	var notes sql.NullString
	var settledAt sql.NullTime
	var settledBy sql.NullString

	err := row.Scan(
		&sale.ID, &sale.EmployeeID, &sale.EmployeeName, &sale.SaleDate, &sale.Type,
		&sale.TotalAmount, &sale.PaidAmount, &paymentMethod, &pendingAmount,
		&sale.CashAmount, &sale.TransferAmount, &sale.CustomerPending, &sale.ExpenseAmount,
		&sale.AwaitingTransfer, &notes, &sale.Settled, &settledAt, &settledBy,
		&sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paymentMethod.Valid {
		sale.PaymentMethod = paymentMethod.String
	}
	if pendingAmount.Valid {
		pending := pendingAmount.Int64
		sale.PendingAmount = &pending
	}
	if notes.Valid {
		sale.Notes = notes.String
	}
	if settledAt.Valid {
		at := settledAt.Time.UTC()
		sale.SettledAt = &at
	}
	if settledBy.Valid {
		sale.SettledBy = settledBy.String
	}
	sale.SaleDate = sale.SaleDate.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) loadItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, price_per_unit, withdrawal_qty, return_qty, defective_qty, total_price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, product_id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.PricePerUnit, &item.Withdrawal, &item.Return, &item.Defective, &item.TotalPrice); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func loadSaleItemsTx(ctx context.Context, pgTx *sql.Tx, saleID string) ([]domain.SaleItem, error) {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, product_name, price_per_unit, withdrawal_qty, return_qty, defective_qty, total_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY product_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.PricePerUnit, &item.Withdrawal, &item.Return, &item.Defective, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func insertSaleItemsTx(ctx context.Context, pgTx *sql.Tx, saleID string, items []domain.SaleItem) error {
	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, price_per_unit, withdrawal_qty, return_qty, defective_qty, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, saleID, item.ProductID, item.ProductName, item.PricePerUnit, item.Withdrawal, item.Return, item.Defective, item.TotalPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanProduct(rows *sql.Rows) (domain.Product, error) {
	var p domain.Product
	var priceNormal, priceMember, priceWholesale, priceVIP sql.NullInt64

	if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &priceNormal, &priceMember, &priceWholesale, &priceVIP, &p.Active); err != nil {
		return domain.Product{}, err
	}

	p.Prices = make(map[domain.PriceTier]int64, 4)
	setPrice(p.Prices, domain.TierNormal, priceNormal)
	setPrice(p.Prices, domain.TierMember, priceMember)
	setPrice(p.Prices, domain.TierWholesale, priceWholesale)
	setPrice(p.Prices, domain.TierVIP, priceVIP)
	return p, nil
}

func setPrice(prices map[domain.PriceTier]int64, tier domain.PriceTier, val sql.NullInt64) {
	if val.Valid {
		prices[tier] = val.Int64
	}
}

// mapConflict translates transaction aborts the storage layer raises under
// contention (serialization failure, deadlock) into the domain conflict
// error. The engine never retries; the caller does.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: concurrent write detected, retry the operation", domain.ErrConflict)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullBool(val *bool) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(*val)
}
