// Package server exposes the reporting layer over HTTP: JSON aggregates for
// the API consumers and a small HTML dashboard rendered server-side.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockwatch/internal/store"
	"stockwatch/pkg/render"
)

// Reports is the read-only aggregation surface the handlers serve.
type Reports interface {
	VendorIDs(ctx context.Context) ([]int, error)
	DailyRevenueSeries(ctx context.Context, vendorID int) ([]store.DailyRevenue, error)
	DateBounds(ctx context.Context, vendorID int) (string, string, error)
	StatsForPeriod(ctx context.Context, vendorID int, from, to string) (store.PeriodStats, error)
	TopProducts(ctx context.Context, vendorID int, from, to string, limit int) ([]store.ProductTotals, error)
	RevenueByVendor(ctx context.Context, from, to string) ([]store.VendorRevenue, error)
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Options controls router construction.
type Options struct {
	AllowedOrigins []string
}

// Server wires the reporting queries and the dashboard renderer.
type Server struct {
	reports  Reports
	renderer *render.Engine
}

// New initialises the server layer.
func New(reports Reports, renderer *render.Engine) (*Server, error) {
	if reports == nil {
		return nil, errors.New("reports is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	return &Server{reports: reports, renderer: renderer}, nil
}

// Router builds the HTTP router with health, metrics, report API, and the
// dashboard page.
func (s *Server) Router(opts Options) http.Handler {
	r := chi.NewRouter()

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Use(httprate.Limit(100, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Method("GET", "/metrics", promhttp.Handler())

	r.Get("/", s.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Get("/vendors", s.handleVendors)
		r.Get("/vendors/{vendorID}/revenue/daily", s.handleDailyRevenue)
		r.Get("/vendors/{vendorID}/stats", s.handleVendorStats)
		r.Get("/vendors/{vendorID}/top", s.handleTopProducts)
		r.Get("/revenue", s.handleRevenueByVendor)
		r.Get("/runs", s.handleRecentRuns)
	})

	return r
}
