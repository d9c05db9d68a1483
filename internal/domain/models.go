package domain

import "time"

// PriceTier is the price level assigned to an employee. The set is closed:
// pricing refuses tiers outside it instead of falling back.
type PriceTier string

const (
	TierNormal    PriceTier = "normal"
	TierMember    PriceTier = "member"
	TierWholesale PriceTier = "wholesale"
	TierVIP       PriceTier = "vip"
)

// PriceTiers lists every valid tier in display order.
var PriceTiers = []PriceTier{TierNormal, TierMember, TierWholesale, TierVIP}

const (
	SaleTypeWithdrawal = "withdrawal"
	SaleTypeReturn     = "return"
)

const (
	PaymentCash            = "cash"
	PaymentTransfer        = "transfer"
	PaymentCustomerPending = "customer-pending"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// Stock movement reasons.
const (
	MovementSaleCreate   = "sale-create"
	MovementSaleUpdate   = "sale-update"
	MovementSaleDelete   = "sale-delete"
	MovementManualAdjust = "manual-adjust"
)

// Principal identifies the authenticated caller. It is built once at the HTTP
// boundary from the verified token and passed down as an explicit argument;
// nothing reads it from ambient state.
type Principal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PriceTier PriceTier `json:"price_tier"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type Employee struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PriceTier   PriceTier `json:"price_tier"`
	CreditLimit int64     `json:"credit_limit"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Product struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Unit   string              `json:"unit"`
	Prices map[PriceTier]int64 `json:"prices"`
	Active bool                `json:"active"`
}

type StockRecord struct {
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	CurrentStock int64     `json:"current_stock"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StockDelta is one coalesced signed adjustment for a product within a sale
// unit-of-work. At most one delta per product reaches the store.
type StockDelta struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Delta       int64  `json:"delta"`
}

type StockMovement struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	SaleID      string    `json:"sale_id,omitempty"`
	Delta       int64     `json:"delta"`
	StockAfter  int64     `json:"stock_after"`
	Reason      string    `json:"reason"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaleItem is one product line of a sale. ProductName and PricePerUnit are
// snapshots taken when the line was priced; later catalog edits do not touch
// recorded sales.
type SaleItem struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	PricePerUnit int64  `json:"price_per_unit"`
	Withdrawal   int64  `json:"withdrawal"`
	Return       int64  `json:"return"`
	Defective    int64  `json:"defective"`
	TotalPrice   int64  `json:"total_price"`
}

// Sale is the transaction aggregate. PendingAmount is a pointer because rows
// predating this engine may lack the value; readers fall back to TotalAmount
// for those.
type Sale struct {
	ID               string     `json:"id"`
	EmployeeID       string     `json:"employee_id"`
	EmployeeName     string     `json:"employee_name"`
	SaleDate         time.Time  `json:"sale_date"`
	Type             string     `json:"type"`
	Items            []SaleItem `json:"items"`
	TotalAmount      int64      `json:"total_amount"`
	PaidAmount       int64      `json:"paid_amount"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	PendingAmount    *int64     `json:"pending_amount,omitempty"`
	CashAmount       int64      `json:"cash_amount"`
	TransferAmount   int64      `json:"transfer_amount"`
	CustomerPending  int64      `json:"customer_pending"`
	ExpenseAmount    int64      `json:"expense_amount"`
	AwaitingTransfer bool       `json:"awaiting_transfer"`
	Notes            string     `json:"notes,omitempty"`
	Settled          bool       `json:"settled"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
	SettledBy        string     `json:"settled_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type CreditSummary struct {
	EmployeeID      string `json:"employee_id"`
	EmployeeName    string `json:"employee_name"`
	CreditLimit     int64  `json:"credit_limit"`
	CreditUsed      int64  `json:"credit_used"`
	CreditRemaining int64  `json:"credit_remaining"`
}

type SaleItemInput struct {
	ProductID  string `json:"product_id"`
	Withdrawal int64  `json:"withdrawal"`
	Return     int64  `json:"return"`
	Defective  int64  `json:"defective"`
}

type SaleCreateRequest struct {
	EmployeeID string          `json:"employee_id"`
	Type       string          `json:"type"`
	SaleDate   string          `json:"sale_date,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Items      []SaleItemInput `json:"items"`
}

// PaymentUpdate carries settlement-side fields. Pointers distinguish "not
// provided" from an explicit zero.
type PaymentUpdate struct {
	PaidAmount       *int64  `json:"paid_amount,omitempty"`
	PaymentMethod    *string `json:"payment_method,omitempty"`
	CashAmount       *int64  `json:"cash_amount,omitempty"`
	TransferAmount   *int64  `json:"transfer_amount,omitempty"`
	CustomerPending  *int64  `json:"customer_pending,omitempty"`
	ExpenseAmount    *int64  `json:"expense_amount,omitempty"`
	AwaitingTransfer *bool   `json:"awaiting_transfer,omitempty"`
}

type SaleUpdateRequest struct {
	Items    *[]SaleItemInput `json:"items,omitempty"`
	Payment  *PaymentUpdate   `json:"payment,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
	SaleDate *string          `json:"sale_date,omitempty"`
}

type SettleRequest struct {
	Items   *[]SaleItemInput `json:"items,omitempty"`
	Payment PaymentUpdate    `json:"payment"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason,omitempty"`
}

type CreditSummaryBatchRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
}

// SaleQuery is the closed filter set for listing sales. Anything else is not
// a supported query dimension.
type SaleQuery struct {
	EmployeeID string
	Type       string
	Settled    *bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
