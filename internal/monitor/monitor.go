// Package monitor orchestrates one polling cycle per vendor: ensure an
// authenticated session, fetch the product listing, build a snapshot, diff it
// against the stored one, and commit the inferred sales atomically with the
// snapshot replacement.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"stockwatch/internal/bigarena"
	"stockwatch/internal/config"
	"stockwatch/internal/inventory"
	"stockwatch/internal/store"
)

// SalesSubject is the NATS subject inferred sale events are published to.
const SalesSubject = "stockwatch.sales.inferred"

const defaultVendorPause = 5 * time.Second

// State names the phases of a vendor cycle. A cycle walks them in order and
// terminates in Committed or Failed.
type State string

const (
	StateNotAuthenticated State = "not_authenticated"
	StateAuthenticated    State = "authenticated"
	StateFetched          State = "fetched"
	StateDiffed           State = "diffed"
	StateCommitted        State = "committed"
	StateFailed           State = "failed"
)

// Fetcher is the authenticated-session surface the runner drives.
type Fetcher interface {
	EnsureSession(ctx context.Context) error
	Refresh(ctx context.Context) error
	FetchProducts(ctx context.Context, vendorID int) ([]bigarena.Product, error)
}

// Gateway is the persistence surface the runner commits through.
type Gateway interface {
	LastSnapshot(ctx context.Context, vendorID int) (inventory.Snapshot, error)
	CommitCycle(ctx context.Context, vendorID int, snapshot inventory.Snapshot, events []inventory.SaleEvent, run store.RunRecord) error
	RecordRun(ctx context.Context, run store.RunRecord) error
	Price(ctx context.Context, vendorID int, productID string) (decimal.Decimal, bool, error)
}

// Publisher emits committed sale events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Options tunes a Runner.
type Options struct {
	Publisher Publisher
	LogDir    string
	Pause     time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Runner drives polling cycles over the configured vendors, sequentially and
// independently: one vendor's failure never aborts the batch.
type Runner struct {
	fetcher Fetcher
	gateway Gateway
	pub     Publisher
	limiter *rate.Limiter
	logDir  string
	log     zerolog.Logger
	now     func() time.Time
	tracer  trace.Tracer
}

// NewRunner constructs a Runner bound to the provided collaborators.
func NewRunner(fetcher Fetcher, gateway Gateway, opts Options) (*Runner, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}

	pause := opts.Pause
	if pause <= 0 {
		pause = defaultVendorPause
	}
	logDir := opts.LogDir
	if logDir == "" {
		logDir = "logs"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		fetcher: fetcher,
		gateway: gateway,
		pub:     opts.Publisher,
		limiter: rate.NewLimiter(rate.Every(pause), 1),
		logDir:  logDir,
		log:     opts.Logger,
		now:     now,
		tracer:  otel.Tracer("stockwatch/monitor"),
	}, nil
}

// RunAll executes one cycle for every vendor. Authentication happens once up
// front; a login failure aborts the whole run since no vendor could proceed.
// Individual cycle failures are logged and counted but do not stop the batch.
// The limiter enforces the fixed pause the panel expects between vendors, and
// doubles as the interruption point: a cancelled context aborts between
// cycles, never mid-commit.
func (r *Runner) RunAll(ctx context.Context, vendors []config.Vendor) error {
	if len(vendors) == 0 {
		return errors.New("no vendors configured")
	}

	if err := r.fetcher.EnsureSession(ctx); err != nil {
		return fmt.Errorf("initial login: %w", err)
	}

	failed := 0
	for i, vendor := range vendors {
		if i > 0 {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
		}

		if err := r.runVendor(ctx, vendor); err != nil {
			failed++
			r.log.Error().Err(err).Str("vendor", vendor.Label()).Msg("vendor cycle failed")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d vendor cycles failed", failed, len(vendors))
	}
	return nil
}

// runVendor executes one full cycle for a single vendor.
func (r *Runner) runVendor(ctx context.Context, vendor config.Vendor) error {
	ctx, span := r.tracer.Start(ctx, "vendor_cycle",
		trace.WithAttributes(attribute.Int("vendor_id", vendor.VendorID)))
	defer span.End()

	at := r.now().Truncate(time.Minute)
	ts := at.Format(store.TimestampLayout)

	state := StateNotAuthenticated
	advance := func(next State) {
		state = next
		r.log.Debug().Str("vendor", vendor.Label()).Str("state", string(state)).Msg("state transition")
	}

	fail := func(cause error) error {
		state = StateFailed
		cyclesTotal.WithLabelValues(vendor.Label(), string(StateFailed)).Inc()

		if err := appendLog(r.logDir, vendor.LogFile, formatFailureEntry(ts, vendor.Label(), cause)); err != nil {
			r.log.Error().Err(err).Str("vendor", vendor.Label()).Msg("write failure log entry")
		}
		if err := r.gateway.RecordRun(ctx, store.RunRecord{
			VendorID:   vendor.VendorID,
			VendorName: vendor.Name,
			Status:     store.RunStatusFailed,
			StartedAt:  at,
			Details:    map[string]any{"cause": cause.Error()},
		}); err != nil {
			r.log.Error().Err(err).Str("vendor", vendor.Label()).Msg("record failed run")
		}
		return cause
	}

	if err := r.fetcher.EnsureSession(ctx); err != nil {
		return fail(fmt.Errorf("authenticate: %w", err))
	}
	advance(StateAuthenticated)

	products, err := r.fetchWithRetry(ctx, vendor)
	if err != nil {
		return fail(fmt.Errorf("fetch products: %w", err))
	}
	advance(StateFetched)

	current, totalOnHand := inventory.BuildSnapshot(products)

	previous, err := r.gateway.LastSnapshot(ctx, vendor.VendorID)
	if err != nil {
		return fail(err)
	}

	result := inventory.Diff(previous, current, vendor.VendorID, at, r.priceLookup(ctx, vendor.VendorID))
	advance(StateDiffed)

	// Anomalous products stay in the snapshot with a floor of zero so the
	// stored state never violates the non-negative invariant; the anomaly
	// itself is what carries the observation.
	committed := current.Clone()
	for _, anomaly := range result.Anomalies {
		committed[anomaly.ProductID] = inventory.Item{Name: anomaly.ProductName, Qty: 0}
		totalOnHand -= current[anomaly.ProductID].Qty
	}

	run := r.buildRunRecord(vendor, at, totalOnHand, len(committed), result)
	if err := r.gateway.CommitCycle(ctx, vendor.VendorID, committed, result.Events, run); err != nil {
		return fail(fmt.Errorf("commit cycle: %w", err))
	}
	advance(StateCommitted)

	entry := formatCycleEntry(ts, vendor.Label(), totalOnHand, result)
	if result.Baseline {
		entry = formatBaselineEntry(ts, vendor.Label(), totalOnHand, len(committed), result.Anomalies)
	}
	if err := appendLog(r.logDir, vendor.LogFile, entry); err != nil {
		r.log.Error().Err(err).Str("vendor", vendor.Label()).Msg("write run log entry")
	}

	r.publishEvents(ctx, run, result.Events)

	cyclesTotal.WithLabelValues(vendor.Label(), string(state)).Inc()
	unitsSoldTotal.WithLabelValues(vendor.Label()).Add(float64(result.TotalSold))
	anomaliesTotal.WithLabelValues(vendor.Label()).Add(float64(len(result.Anomalies)))
	for _, ev := range result.Events {
		if ev.PriceMissing {
			missingPriceTotal.WithLabelValues(vendor.Label()).Inc()
		}
	}

	r.log.Info().
		Str("vendor", vendor.Label()).
		Int("total_on_hand", totalOnHand).
		Int("units_sold", result.TotalSold).
		Bool("baseline", result.Baseline).
		Msg("cycle committed")
	return nil
}

// fetchWithRetry fetches the vendor's products, recovering from session
// expiry exactly once by refreshing the shared session. A second expiry or
// any transport failure is fatal for this vendor's cycle.
func (r *Runner) fetchWithRetry(ctx context.Context, vendor config.Vendor) ([]bigarena.Product, error) {
	products, err := r.fetcher.FetchProducts(ctx, vendor.VendorID)
	if !errors.Is(err, bigarena.ErrSessionExpired) {
		return products, err
	}

	r.log.Warn().Str("vendor", vendor.Label()).Msg("session expired, refreshing")
	reauthTotal.Inc()

	if err := r.fetcher.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return r.fetcher.FetchProducts(ctx, vendor.VendorID)
}

// priceLookup adapts the gateway's price read into the diff engine's
// vendor-scoped lookup. Read errors count as a missing price; the sale is
// still recorded and the gap is surfaced, not swallowed.
func (r *Runner) priceLookup(ctx context.Context, vendorID int) inventory.PriceLookup {
	return func(productID string) (decimal.Decimal, bool) {
		price, ok, err := r.gateway.Price(ctx, vendorID, productID)
		if err != nil {
			r.log.Warn().Err(err).Str("product_id", productID).Msg("price lookup failed")
			return decimal.Zero, false
		}
		return price, ok
	}
}

func (r *Runner) buildRunRecord(vendor config.Vendor, at time.Time, totalOnHand, products int, result inventory.DiffResult) store.RunRecord {
	status := store.RunStatusCommitted
	if result.Baseline {
		status = store.RunStatusBaseline
	}

	details := map[string]any{}
	if missing := missingPriceIDs(result.Events); len(missing) > 0 {
		details["missing_prices"] = missing
	}
	if len(result.Anomalies) > 0 {
		ids := make([]string, 0, len(result.Anomalies))
		for _, a := range result.Anomalies {
			ids = append(ids, a.ProductID)
		}
		details["anomalies"] = ids
	}

	return store.RunRecord{
		ID:          uuid.New(),
		VendorID:    vendor.VendorID,
		VendorName:  vendor.Name,
		Status:      status,
		TotalOnHand: totalOnHand,
		TotalSold:   result.TotalSold,
		Products:    products,
		Details:     details,
		StartedAt:   at,
	}
}

// publishEvents forwards committed sale events to the bus. Publication is
// best-effort; the cycle is already durable by the time this runs.
func (r *Runner) publishEvents(ctx context.Context, run store.RunRecord, events []inventory.SaleEvent) {
	if r.pub == nil {
		return
	}

	for _, ev := range events {
		payload := map[string]any{
			"event_id":     ev.ID,
			"run_id":       run.ID,
			"vendor_id":    ev.VendorID,
			"product_id":   ev.ProductID,
			"product_name": ev.ProductName,
			"timestamp":    ev.Timestamp.Format(store.TimestampLayout),
			"quantity":     ev.Quantity,
			"unit_price":   ev.UnitPrice.String(),
			"revenue":      ev.Revenue.String(),
		}
		if err := r.pub.Publish(ctx, SalesSubject, payload); err != nil {
			r.log.Error().Err(err).Str("product_id", ev.ProductID).Msg("publish sale event")
		}
	}
}

func missingPriceIDs(events []inventory.SaleEvent) []string {
	var ids []string
	for _, ev := range events {
		if ev.PriceMissing {
			ids = append(ids, ev.ProductID)
		}
	}
	return ids
}
