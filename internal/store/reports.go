package store

import (
	"context"
	"fmt"

	"stockwatch/pkg/db"
)

// saleDate re-orders the stored dd.mm.yyyy/HH:MM timestamp into an ISO date
// so rows bucket and range-compare lexicographically.
const saleDate = `substr(timestamp, 7, 4) || '-' || substr(timestamp, 4, 2) || '-' || substr(timestamp, 1, 2)`

// DailyRevenue is one day's aggregated revenue for a vendor.
type DailyRevenue struct {
	Date         string  `db:"date" json:"date"`
	TotalRevenue float64 `db:"total_revenue" json:"total_revenue"`
}

// ProductTotals aggregates a product's sales over a period.
type ProductTotals struct {
	ProductName  string  `db:"product_name" json:"product_name"`
	TotalQty     int     `db:"total_qty" json:"total_qty"`
	TotalRevenue float64 `db:"total_revenue" json:"total_revenue"`
}

// VendorRevenue is one vendor's aggregated revenue over a period.
type VendorRevenue struct {
	VendorID     int     `db:"vendor_id" json:"vendor_id"`
	TotalRevenue float64 `db:"total_revenue" json:"total_revenue"`
}

// PeriodStats summarizes a vendor's sales over a date range.
type PeriodStats struct {
	Daily        []DailyRevenue
	TotalRevenue float64
	TotalQty     int
	AvgPerDay    float64
}

// VendorIDs lists the vendors that have any sales or price data.
func (s *Store) VendorIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := db.Select(ctx, s.pool, &ids, `
SELECT DISTINCT vendor_id FROM (
    SELECT vendor_id FROM sales
    UNION
    SELECT vendor_id FROM product_prices
) t
ORDER BY vendor_id
`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	return ids, nil
}

// DailyRevenueSeries returns the full per-day revenue series for a vendor.
func (s *Store) DailyRevenueSeries(ctx context.Context, vendorID int) ([]DailyRevenue, error) {
	var rows []DailyRevenue
	err := db.Select(ctx, s.pool, &rows, `
SELECT `+saleDate+` AS date, SUM(revenue) AS total_revenue
FROM sales
WHERE vendor_id = $1
GROUP BY date
ORDER BY date
`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("daily revenue: %w", err)
	}
	return rows, nil
}

// DateBounds returns the first and last sale dates for a vendor, or empty
// strings when the vendor has no sales yet.
func (s *Store) DateBounds(ctx context.Context, vendorID int) (string, string, error) {
	var bounds struct {
		MinDate *string `db:"min_date"`
		MaxDate *string `db:"max_date"`
	}
	err := db.Get(ctx, s.pool, &bounds, `
SELECT MIN(`+saleDate+`) AS min_date, MAX(`+saleDate+`) AS max_date
FROM sales
WHERE vendor_id = $1
`, vendorID)
	if err != nil {
		return "", "", fmt.Errorf("date bounds: %w", err)
	}
	if bounds.MinDate == nil || bounds.MaxDate == nil {
		return "", "", nil
	}
	return *bounds.MinDate, *bounds.MaxDate, nil
}

// StatsForPeriod aggregates a vendor's sales between two ISO dates inclusive.
func (s *Store) StatsForPeriod(ctx context.Context, vendorID int, from, to string) (PeriodStats, error) {
	var daily []DailyRevenue
	err := db.Select(ctx, s.pool, &daily, `
SELECT `+saleDate+` AS date, SUM(revenue) AS total_revenue
FROM sales
WHERE vendor_id = $1 AND `+saleDate+` BETWEEN $2 AND $3
GROUP BY date
ORDER BY date
`, vendorID, from, to)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("period revenue: %w", err)
	}
	if len(daily) == 0 {
		return PeriodStats{}, nil
	}

	stats := PeriodStats{Daily: daily}
	for _, day := range daily {
		stats.TotalRevenue += day.TotalRevenue
	}

	var totalQty *int
	err = db.Get(ctx, s.pool, &totalQty, `
SELECT SUM(quantity) AS total_qty
FROM sales
WHERE vendor_id = $1 AND `+saleDate+` BETWEEN $2 AND $3
`, vendorID, from, to)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("period quantity: %w", err)
	}
	if totalQty != nil {
		stats.TotalQty = *totalQty
	}

	stats.AvgPerDay = stats.TotalRevenue / float64(len(daily))
	return stats, nil
}

// TopProducts returns the vendor's best-selling products for a period,
// ordered by revenue.
func (s *Store) TopProducts(ctx context.Context, vendorID int, from, to string, limit int) ([]ProductTotals, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []ProductTotals
	err := db.Select(ctx, s.pool, &rows, `
SELECT product_name, SUM(quantity) AS total_qty, SUM(revenue) AS total_revenue
FROM sales
WHERE vendor_id = $1 AND `+saleDate+` BETWEEN $2 AND $3
GROUP BY product_name
ORDER BY total_revenue DESC
LIMIT $4
`, vendorID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	return rows, nil
}

// RevenueByVendor aggregates every vendor's revenue over a period.
func (s *Store) RevenueByVendor(ctx context.Context, from, to string) ([]VendorRevenue, error) {
	var rows []VendorRevenue
	err := db.Select(ctx, s.pool, &rows, `
SELECT vendor_id, SUM(revenue) AS total_revenue
FROM sales
WHERE `+saleDate+` BETWEEN $1 AND $2
GROUP BY vendor_id
ORDER BY total_revenue DESC
`, from, to)
	if err != nil {
		return nil, fmt.Errorf("revenue by vendor: %w", err)
	}
	return rows, nil
}

// RecentRuns returns the most recent run records across all vendors.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []RunRecord
	err := db.Select(ctx, s.pool, &rows, `
SELECT id, vendor_id, vendor_name, status, total_on_hand, total_sold, products, details, started_at
FROM runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return rows, nil
}
