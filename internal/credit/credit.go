// Package credit computes employee credit exposure from open withdrawal
// bills. Everything here is pure; aggregation over stored sales lives in the
// store, caching lives in the service.
package credit

import "raankha/backoffice/internal/domain"

// BuildSummary combines a credit limit with computed usage. Both inputs are
// clamped to zero independently before the remainder is derived, so a corrupt
// negative value can never inflate available credit.
func BuildSummary(creditLimit, creditUsed int64) domain.CreditSummary {
	limit := clampNonNegative(creditLimit)
	used := clampNonNegative(creditUsed)
	return domain.CreditSummary{
		CreditLimit:     limit,
		CreditUsed:      used,
		CreditRemaining: clampNonNegative(limit - used),
	}
}

// UsageOf returns the credit a single sale ties up: the live pending amount
// when the record carries one, otherwise the full total. Records predating
// pending tracking therefore count at face value instead of zero.
func UsageOf(sale domain.Sale) int64 {
	if sale.PendingAmount != nil {
		return *sale.PendingAmount
	}
	return sale.TotalAmount
}

// CountsTowardUsage reports whether a sale contributes to credit exposure:
// only unsettled withdrawal bills do.
func CountsTowardUsage(sale domain.Sale) bool {
	return !sale.Settled && sale.Type == domain.SaleTypeWithdrawal
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
