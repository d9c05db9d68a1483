// Package pricing resolves per-tier unit prices. Resolution is pure: no
// store access, no fallback tiers, no default prices.
package pricing

import (
	"fmt"
	"slices"

	"raankha/backoffice/internal/domain"
)

// Resolve returns the unit price of product for tier. A tier outside the
// closed set is a validation error; an inactive product cannot be priced; a
// tier the product has no positive price for aborts with
// PriceNotConfiguredError so the caller can flag the catalog gap.
func Resolve(product domain.Product, tier domain.PriceTier) (int64, error) {
	if !ValidTier(tier) {
		return 0, &domain.ValidationError{Field: "price_tier", Message: fmt.Sprintf("unknown tier %q", tier)}
	}
	if !product.Active {
		return 0, fmt.Errorf("%w: product %s is inactive", domain.ErrNotFound, product.Name)
	}
	price, ok := product.Prices[tier]
	if !ok || price < 1 {
		return 0, &domain.PriceNotConfiguredError{ProductName: product.Name, Tier: tier}
	}
	return price, nil
}

func ValidTier(tier domain.PriceTier) bool {
	return slices.Contains(domain.PriceTiers, tier)
}
