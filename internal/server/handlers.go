package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	vendors, err := s.reports.VendorIDs(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	runs, err := s.reports.RecentRuns(ctx, 20)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	page, err := s.renderer.Render("dashboard.tmpl", map[string]any{
		"Vendors": vendors,
		"Runs":    runs,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	vendors, err := s.reports.VendorIDs(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"vendors": vendors})
}

func (s *Server) handleDailyRevenue(w http.ResponseWriter, r *http.Request) {
	vendorID, err := vendorIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	series, err := s.reports.DailyRevenueSeries(ctx, vendorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "daily": series})
}

func (s *Server) handleVendorStats(w http.ResponseWriter, r *http.Request) {
	vendorID, err := vendorIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	from, to, err := s.periodParams(ctx, r, vendorID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if from == "" {
		respondJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "stats": nil})
		return
	}

	stats, err := s.reports.StatsForPeriod(ctx, vendorID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"vendor_id": vendorID,
		"from":      from,
		"to":        to,
		"stats": map[string]any{
			"daily":         stats.Daily,
			"total_revenue": stats.TotalRevenue,
			"total_qty":     stats.TotalQty,
			"avg_per_day":   stats.AvgPerDay,
		},
	})
}

func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	vendorID, err := vendorIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	from, to, err := s.periodParams(ctx, r, vendorID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if from == "" {
		respondJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "products": []any{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
	}

	products, err := s.reports.TopProducts(ctx, vendorID, from, to, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"vendor_id": vendorID,
		"from":      from,
		"to":        to,
		"products":  products,
	})
}

func (s *Server) handleRevenueByVendor(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if !isoDatePattern.MatchString(from) || !isoDatePattern.MatchString(to) {
		respondError(w, http.StatusBadRequest, errors.New("from and to must be YYYY-MM-DD dates"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rows, err := s.reports.RevenueByVendor(ctx, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "vendors": rows})
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	runs, err := s.reports.RecentRuns(ctx, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// periodParams resolves the from/to query range, falling back to the vendor's
// full sale history. Empty return values mean the vendor has no sales.
func (s *Server) periodParams(ctx context.Context, r *http.Request, vendorID int) (string, string, error) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if from == "" && to == "" {
		return s.reports.DateBounds(ctx, vendorID)
	}
	if !isoDatePattern.MatchString(from) || !isoDatePattern.MatchString(to) {
		return "", "", errors.New("from and to must be YYYY-MM-DD dates")
	}
	if from > to {
		return "", "", errors.New("from must not be after to")
	}
	return from, to, nil
}

func vendorIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "vendorID")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.New("vendor id must be a positive integer")
	}
	return id, nil
}
