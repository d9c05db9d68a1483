package domain

import "sort"

// StockContribution returns one item's net stock impact. Units sold out of
// the shop go negative; returned units come back. Defective units are billed
// away, not restocked, so they never appear here.
func StockContribution(item SaleItem) int64 {
	return item.Return - item.Withdrawal
}

// DeltasBetween derives the coalesced per-product stock deltas that move the
// ledger from oldItems to newItems. Creation passes nil oldItems, deletion
// nil newItems; an unchanged line yields no delta at all. Results are sorted
// by product ID so lock acquisition order is stable.
func DeltasBetween(oldItems, newItems []SaleItem) []StockDelta {
	net := make(map[string]int64)
	names := make(map[string]string)

	for _, item := range oldItems {
		net[item.ProductID] -= StockContribution(item)
		names[item.ProductID] = item.ProductName
	}
	for _, item := range newItems {
		net[item.ProductID] += StockContribution(item)
		names[item.ProductID] = item.ProductName
	}

	deltas := make([]StockDelta, 0, len(net))
	for productID, delta := range net {
		if delta == 0 {
			continue
		}
		deltas = append(deltas, StockDelta{
			ProductID:   productID,
			ProductName: names[productID],
			Delta:       delta,
		})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ProductID < deltas[j].ProductID })
	return deltas
}

// SaleItemsEqual reports whether two item lists describe the same lines,
// ignoring order. Settled sales use this to tell payment-only edits apart
// from item edits.
func SaleItemsEqual(a, b []SaleItem) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedByProduct(a)
	bs := sortedByProduct(b)
	for i := range as {
		if as[i].ProductID != bs[i].ProductID ||
			as[i].Withdrawal != bs[i].Withdrawal ||
			as[i].Return != bs[i].Return ||
			as[i].Defective != bs[i].Defective ||
			as[i].PricePerUnit != bs[i].PricePerUnit {
			return false
		}
	}
	return true
}

func sortedByProduct(items []SaleItem) []SaleItem {
	out := make([]SaleItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
