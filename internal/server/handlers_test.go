package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/store"
	"stockwatch/pkg/render"
)

type fakeReports struct {
	vendors []int
	daily   []store.DailyRevenue
	minDate string
	maxDate string
	stats   store.PeriodStats
	top     []store.ProductTotals
	revenue []store.VendorRevenue
	runs    []store.RunRecord

	err error

	statsFrom, statsTo string
	topLimit           int
	runsLimit          int
	boundsHadDeadline  bool
}

func (f *fakeReports) VendorIDs(ctx context.Context) ([]int, error) {
	return f.vendors, f.err
}

func (f *fakeReports) DailyRevenueSeries(ctx context.Context, vendorID int) ([]store.DailyRevenue, error) {
	return f.daily, f.err
}

func (f *fakeReports) DateBounds(ctx context.Context, vendorID int) (string, string, error) {
	_, f.boundsHadDeadline = ctx.Deadline()
	return f.minDate, f.maxDate, f.err
}

func (f *fakeReports) StatsForPeriod(ctx context.Context, vendorID int, from, to string) (store.PeriodStats, error) {
	f.statsFrom, f.statsTo = from, to
	return f.stats, f.err
}

func (f *fakeReports) TopProducts(ctx context.Context, vendorID int, from, to string, limit int) ([]store.ProductTotals, error) {
	f.topLimit = limit
	return f.top, f.err
}

func (f *fakeReports) RevenueByVendor(ctx context.Context, from, to string) ([]store.VendorRevenue, error) {
	return f.revenue, f.err
}

func (f *fakeReports) RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	f.runsLimit = limit
	return f.runs, f.err
}

func newTestServer(t *testing.T, reports *fakeReports) http.Handler {
	t.Helper()
	renderer, err := render.New()
	require.NoError(t, err)
	srv, err := New(reports, renderer)
	require.NoError(t, err)
	return srv.Router(Options{})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewValidation(t *testing.T) {
	renderer, err := render.New()
	require.NoError(t, err)

	_, err = New(nil, renderer)
	require.EqualError(t, err, "reports is required")

	_, err = New(&fakeReports{}, nil)
	require.EqualError(t, err, "renderer is required")
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeReports{})

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}

func TestDashboard(t *testing.T) {
	h := newTestServer(t, &fakeReports{vendors: []int{192, 419}})

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "192")
}

func TestVendors(t *testing.T) {
	h := newTestServer(t, &fakeReports{vendors: []int{192, 419}})

	rec := get(t, h, "/api/vendors")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{float64(192), float64(419)}, body["vendors"])
}

func TestDailyRevenue(t *testing.T) {
	reports := &fakeReports{daily: []store.DailyRevenue{{Date: "2026-08-27", TotalRevenue: 37.5}}}
	h := newTestServer(t, reports)

	rec := get(t, h, "/api/vendors/192/revenue/daily")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(192), body["vendor_id"])
	require.Len(t, body["daily"], 1)
}

func TestVendorIDValidation(t *testing.T) {
	h := newTestServer(t, &fakeReports{})

	for _, target := range []string{
		"/api/vendors/abc/revenue/daily",
		"/api/vendors/-1/stats",
		"/api/vendors/0/top",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, target).Code, target)
	}
}

func TestVendorStatsDefaultsToDateBounds(t *testing.T) {
	reports := &fakeReports{
		minDate: "2026-08-01",
		maxDate: "2026-08-27",
		stats: store.PeriodStats{
			Daily:        []store.DailyRevenue{{Date: "2026-08-27", TotalRevenue: 37.5}},
			TotalRevenue: 37.5,
			TotalQty:     3,
			AvgPerDay:    37.5,
		},
	}
	h := newTestServer(t, reports)

	rec := get(t, h, "/api/vendors/192/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-08-01", reports.statsFrom)
	assert.Equal(t, "2026-08-27", reports.statsTo)
	// The bounds lookup runs under the same query deadline as the stats.
	assert.True(t, reports.boundsHadDeadline)

	body := decodeBody(t, rec)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, 37.5, stats["total_revenue"])
	assert.Equal(t, float64(3), stats["total_qty"])
}

func TestVendorStatsWithoutSales(t *testing.T) {
	h := newTestServer(t, &fakeReports{})

	rec := get(t, h, "/api/vendors/192/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["stats"])
}

func TestVendorStatsRejectsBadRange(t *testing.T) {
	h := newTestServer(t, &fakeReports{})

	tests := []string{
		"/api/vendors/192/stats?from=2026-08-27",
		"/api/vendors/192/stats?from=27.08.2026&to=28.08.2026",
		"/api/vendors/192/stats?from=2026-08-28&to=2026-08-27",
	}
	for _, target := range tests {
		assert.Equal(t, http.StatusBadRequest, get(t, h, target).Code, target)
	}
}

func TestTopProducts(t *testing.T) {
	reports := &fakeReports{
		top: []store.ProductTotals{{ProductName: "White Tee", TotalQty: 3, TotalRevenue: 37.5}},
	}
	h := newTestServer(t, reports)

	rec := get(t, h, "/api/vendors/192/top?from=2026-08-01&to=2026-08-27&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reports.topLimit)
	body := decodeBody(t, rec)
	require.Len(t, body["products"], 1)

	rec = get(t, h, "/api/vendors/192/top?from=2026-08-01&to=2026-08-27&limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevenueByVendorRequiresRange(t *testing.T) {
	reports := &fakeReports{revenue: []store.VendorRevenue{{VendorID: 192, TotalRevenue: 37.5}}}
	h := newTestServer(t, reports)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/revenue").Code)

	rec := get(t, h, "/api/revenue?from=2026-08-01&to=2026-08-27")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["vendors"], 1)
}

func TestRecentRuns(t *testing.T) {
	reports := &fakeReports{}
	h := newTestServer(t, reports)

	rec := get(t, h, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reports.runsLimit)

	rec = get(t, h, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, reports.runsLimit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs?limit=-2").Code)
}

func TestReportErrorsSurfaceAs500(t *testing.T) {
	h := newTestServer(t, &fakeReports{err: errors.New("db down")})

	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/vendors").Code)
}
