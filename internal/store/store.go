// Package store is the persistence gateway: the current per-vendor inventory
// snapshot, the append-only sales log, product prices, and run records, all
// backed by Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockwatch/internal/inventory"
	"stockwatch/pkg/db"
)

const commitTimeout = 15 * time.Second

// Timestamp layout used for the sales table, kept in the panel's local
// dd.mm.yyyy/HH:MM convention that the reporting queries re-order.
const TimestampLayout = "02.01.2006/15:04"

// Run statuses.
const (
	RunStatusBaseline  = "baseline"
	RunStatusCommitted = "committed"
	RunStatusFailed    = "failed"
)

// RunRecord captures the outcome of one vendor cycle.
type RunRecord struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	VendorID    int            `db:"vendor_id" json:"vendor_id"`
	VendorName  string         `db:"vendor_name" json:"vendor_name"`
	Status      string         `db:"status" json:"status"`
	TotalOnHand int            `db:"total_on_hand" json:"total_on_hand"`
	TotalSold   int            `db:"total_sold" json:"total_sold"`
	Products    int            `db:"products" json:"products"`
	Details     map[string]any `db:"details" json:"details"`
	StartedAt   time.Time      `db:"started_at" json:"started_at"`
}

type stockRow struct {
	ProductID   string `db:"product_id"`
	ProductName string `db:"product_name"`
	Qty         int    `db:"qty"`
}

// Store wraps the connection pool with the gateway operations the monitor
// and the reporting layer consume.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store for the provided pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &Store{pool: pool}, nil
}

// LastSnapshot loads the vendor's stored snapshot. An empty snapshot means
// the vendor has never been polled; that is a valid baseline, not an error.
func (s *Store) LastSnapshot(ctx context.Context, vendorID int) (inventory.Snapshot, error) {
	var rows []stockRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT product_id, product_name, qty
FROM last_stock
WHERE vendor_id = $1
`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snapshot := make(inventory.Snapshot, len(rows))
	for _, row := range rows {
		snapshot[row.ProductID] = inventory.Item{Name: row.ProductName, Qty: row.Qty}
	}
	return snapshot, nil
}

// CommitCycle atomically replaces the vendor's snapshot, appends the cycle's
// sale events, and records the run. Either everything becomes visible or
// nothing does; a reader never sees a new snapshot without its events.
func (s *Store) CommitCycle(ctx context.Context, vendorID int, snapshot inventory.Snapshot, events []inventory.SaleEvent, run RunRecord) error {
	return db.WithTimeout(ctx, commitTimeout, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin commit: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM last_stock WHERE vendor_id = $1`, vendorID); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}

		for productID, item := range snapshot {
			if _, err := tx.Exec(ctx, `
INSERT INTO last_stock (vendor_id, product_id, product_name, qty)
VALUES ($1, $2, $3, $4)
`, vendorID, productID, item.Name, item.Qty); err != nil {
				return fmt.Errorf("insert snapshot row: %w", err)
			}
		}

		for _, ev := range events {
			if _, err := tx.Exec(ctx, `
INSERT INTO sales (id, vendor_id, product_id, product_name, timestamp, quantity, unit_price, revenue)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, ev.ID, ev.VendorID, ev.ProductID, ev.ProductName,
				ev.Timestamp.Format(TimestampLayout), ev.Quantity,
				ev.UnitPrice.String(), ev.Revenue.String()); err != nil {
				return fmt.Errorf("insert sale: %w", err)
			}
		}

		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// RecordRun persists a run record outside a cycle commit, used for failed
// and aborted cycles whose state must stay untouched.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()
	return insertRun(ctx, s.pool, run)
}

// execer is the narrow Exec shape shared by pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRun(ctx context.Context, q execer, run RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	details := []byte("{}")
	if len(run.Details) > 0 {
		var err error
		if details, err = json.Marshal(run.Details); err != nil {
			return fmt.Errorf("encode run details: %w", err)
		}
	}

	_, err := q.Exec(ctx, `
INSERT INTO runs (id, vendor_id, vendor_name, status, total_on_hand, total_sold, products, details, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, run.ID, run.VendorID, run.VendorName, run.Status,
		run.TotalOnHand, run.TotalSold, run.Products, string(details), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Price returns the configured unit price for a product. The boolean is
// false when no price row exists; that is a data-quality gap, not an error.
func (s *Store) Price(ctx context.Context, vendorID int, productID string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := db.Get(ctx, s.pool, &price, `
SELECT unit_price
FROM product_prices
WHERE vendor_id = $1 AND product_id = $2
`, vendorID, productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("load price: %w", err)
	}
	return price, true, nil
}

// UpsertPrice sets or updates a product's unit price.
func (s *Store) UpsertPrice(ctx context.Context, vendorID int, productID, productName string, price decimal.Decimal) error {
	_, err := db.Exec(ctx, s.pool, `
INSERT INTO product_prices (vendor_id, product_id, product_name, unit_price)
VALUES ($1, $2, $3, $4)
ON CONFLICT (vendor_id, product_id)
DO UPDATE SET product_name = EXCLUDED.product_name, unit_price = EXCLUDED.unit_price
`, vendorID, productID, productName, price.String())
	if err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}

// SeedPrices inserts zero-price rows for every product in the vendor's
// current snapshot that has no price yet, so operators can backfill real
// prices afterwards. Returns the number of rows created.
func (s *Store) SeedPrices(ctx context.Context, vendorID int) (int, error) {
	tag, err := db.Exec(ctx, s.pool, `
INSERT INTO product_prices (vendor_id, product_id, product_name, unit_price)
SELECT vendor_id, product_id, product_name, 0
FROM last_stock
WHERE vendor_id = $1
ON CONFLICT (vendor_id, product_id) DO NOTHING
`, vendorID)
	if err != nil {
		return 0, fmt.Errorf("seed prices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
