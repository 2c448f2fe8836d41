package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceLookup resolves a product's unit price for the vendor being diffed.
// The second return is false when no price is known.
type PriceLookup func(productID string) (decimal.Decimal, bool)

// SaleEvent is one inferred unit of sold inventory: a strict quantity
// decrease between two consecutive snapshots. Append-only once persisted.
type SaleEvent struct {
	ID           uuid.UUID
	VendorID     int
	ProductID    string
	ProductName  string
	Timestamp    time.Time
	Quantity     int
	Remaining    int
	UnitPrice    decimal.Decimal
	Revenue      decimal.Decimal
	PriceMissing bool
}

// Anomaly records a product whose observed quantities cannot be explained by
// sales, such as a negative on-hand count. The product is excluded from the
// cycle's events rather than guessed at.
type Anomaly struct {
	ProductID   string
	ProductName string
	Previous    int
	Current     int
}

// DiffResult is the outcome of comparing two snapshots.
type DiffResult struct {
	Baseline  bool
	Events    []SaleEvent
	Anomalies []Anomaly
	TotalSold int
}

// Diff compares the current snapshot against the previous one and infers the
// minimal set of sale events explaining the observed decreases.
//
// An empty or nil previous snapshot marks the vendor's first poll: the cycle
// only establishes the baseline and yields no events. Negative quantities are
// anomalous on any cycle, baseline included, so that scan runs regardless.
// Products that appear, restock, or hold steady never produce events.
// Products present before but absent now are left alone; delisting and
// selling out are indistinguishable here. Output order follows sorted product
// IDs so a given snapshot pair always diffs identically.
func Diff(previous, current Snapshot, vendorID int, at time.Time, prices PriceLookup) DiffResult {
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := DiffResult{Baseline: len(previous) == 0}
	for _, id := range ids {
		cur := current[id]

		if cur.Qty < 0 {
			result.Anomalies = append(result.Anomalies, Anomaly{
				ProductID:   id,
				ProductName: cur.Name,
				Previous:    previous[id].Qty,
				Current:     cur.Qty,
			})
			continue
		}

		if result.Baseline {
			continue
		}

		prev, ok := previous[id]
		if !ok || cur.Qty >= prev.Qty {
			continue
		}

		sold := prev.Qty - cur.Qty

		price := decimal.Zero
		priceKnown := false
		if prices != nil {
			price, priceKnown = prices(id)
		}
		if !priceKnown {
			price = decimal.Zero
		}

		result.Events = append(result.Events, SaleEvent{
			ID:           uuid.New(),
			VendorID:     vendorID,
			ProductID:    id,
			ProductName:  cur.Name,
			Timestamp:    at,
			Quantity:     sold,
			Remaining:    cur.Qty,
			UnitPrice:    price,
			Revenue:      price.Mul(decimal.NewFromInt(int64(sold))),
			PriceMissing: !priceKnown,
		})
		result.TotalSold += sold
	}

	return result
}
