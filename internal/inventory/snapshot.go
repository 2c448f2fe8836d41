// Package inventory holds the pure core of the monitor: name normalization,
// snapshot construction from raw panel listings, and the snapshot diff that
// infers sale events between two consecutive polls.
package inventory

import (
	"stockwatch/internal/bigarena"
)

// Item is one product's state inside a snapshot.
type Item struct {
	Name string
	Qty  int
}

// Snapshot maps a vendor-assigned product ID to its last observed state.
// One snapshot exists per vendor and is replaced wholesale every cycle.
type Snapshot map[string]Item

// BuildSnapshot normalizes a raw product listing into a snapshot and returns
// it together with the summed on-hand total. Quantities are summed across
// variants. Deterministic; touches neither network nor storage.
func BuildSnapshot(products []bigarena.Product) (Snapshot, int) {
	snapshot := make(Snapshot, len(products))
	total := 0

	for _, product := range products {
		qty := 0
		for _, variant := range product.Variants {
			qty += int(variant.OnHandQuantity)
		}

		snapshot[product.ID.String()] = Item{
			Name: CleanProductName(product.Name),
			Qty:  qty,
		}
		total += qty
	}

	return snapshot, total
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for id, item := range s {
		out[id] = item
	}
	return out
}
