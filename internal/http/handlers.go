package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
	"artoku/internal/services"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListAccounts(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics exposes counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", atomic.LoadInt64(&s.appMetrics.totalRequests))

	fmt.Fprintf(w, "# HELP installment_payments_total Total installment payments applied\n")
	fmt.Fprintf(w, "# TYPE installment_payments_total counter\n")
	fmt.Fprintf(w, "installment_payments_total %d\n\n", atomic.LoadInt64(&s.appMetrics.totalPayments))

	fmt.Fprintf(w, "# HELP summary_cache_hits_total Total summary cache hits\n")
	fmt.Fprintf(w, "# TYPE summary_cache_hits_total counter\n")
	fmt.Fprintf(w, "summary_cache_hits_total %d\n\n", atomic.LoadInt64(&s.appMetrics.cacheHits))

	fmt.Fprintf(w, "# HELP summary_cache_misses_total Total summary cache misses\n")
	fmt.Fprintf(w, "# TYPE summary_cache_misses_total counter\n")
	fmt.Fprintf(w, "summary_cache_misses_total %d\n\n", atomic.LoadInt64(&s.appMetrics.cacheMisses))

	fmt.Fprintf(w, "# HELP summary_cache_entries Current summary cache entries\n")
	fmt.Fprintf(w, "# TYPE summary_cache_entries gauge\n")
	fmt.Fprintf(w, "summary_cache_entries %d\n\n", s.summaryCache.Size())

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.ActiveClients())

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.appMetrics.uptime).Seconds())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// respondError maps domain errors onto HTTP statuses and a stable
// machine-readable code.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var partial *services.PartialPaymentError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, services.ErrInsufficientFunds):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "insufficient_funds"})
	case errors.Is(err, services.ErrDebtPaidOff):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "debt_paid_off"})
	case errors.As(err, &partial):
		// The ledger row landed; reconciliation finishes the rest.
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "payment_partially_applied"})
	case isValidationError(err):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "invalid_input"})
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "url", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		core.ErrInvalidAmount, core.ErrInvalidType, core.ErrEmptyName,
		core.ErrInvalidTenor, core.ErrInvalidDueDay, core.ErrZeroDate,
		core.ErrPaidOverTenor,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
