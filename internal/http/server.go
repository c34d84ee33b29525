// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"artoku/internal/amqp"
	"artoku/internal/cache"
	"artoku/internal/ledger"
	"artoku/internal/services"
)

type Server struct {
	http.Server
	store       ledger.Store
	payments    *services.PaymentService
	events      services.EventPublisher
	rateLimiter *rateLimiter

	// Per-account summary cache; writers invalidate their account.
	summaryCache *cache.LRU[summaryResponse]

	appMetrics appMetrics

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// appMetrics holds counters served by GET /metrics. All counters are
// updated with atomics; uptime is fixed at construction.
type appMetrics struct {
	uptime        time.Time
	totalRequests int64
	totalPayments int64
	cacheHits     int64
	cacheMisses   int64
}

// NewServer configures routes and returns a ready-to-run server.
// events may be nil; write notifications are then skipped and the
// worker's catch-up sweep picks up the mirroring.
func NewServer(addr string, store ledger.Store, payments *services.PaymentService, events services.EventPublisher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:            store,
		payments:         payments,
		events:           events,
		rateLimiter:      newRateLimiter(60),
		summaryCache:     cache.NewLRU[summaryResponse](100, 30*time.Second),
		appMetrics:       appMetrics{uptime: time.Now()},
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/accounts/{account}/summary", s.withRequestContext(s.handleSummary))

	mux.HandleFunc("GET /api/accounts/{account}/transactions", s.withRequestContext(s.handleListTransactions))
	mux.HandleFunc("POST /api/accounts/{account}/transactions", s.withRequestContext(s.handleCreateTransaction))
	mux.HandleFunc("PUT /api/accounts/{account}/transactions/{id}", s.withRequestContext(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/accounts/{account}/transactions/{id}", s.withRequestContext(s.handleDeleteTransaction))

	mux.HandleFunc("GET /api/accounts/{account}/debts", s.withRequestContext(s.handleListDebts))
	mux.HandleFunc("POST /api/accounts/{account}/debts", s.withRequestContext(s.handleCreateDebt))
	mux.HandleFunc("GET /api/accounts/{account}/debts/{id}", s.withRequestContext(s.handleGetDebt))
	mux.HandleFunc("PUT /api/accounts/{account}/debts/{id}", s.withRequestContext(s.handleUpdateDebt))
	mux.HandleFunc("DELETE /api/accounts/{account}/debts/{id}", s.withRequestContext(s.handleDeleteDebt))
	mux.HandleFunc("GET /api/accounts/{account}/debts/{id}/schedule", s.withRequestContext(s.handleSchedule))
	mux.HandleFunc("POST /api/accounts/{account}/debts/{id}/payments", s.withRequestContext(s.handlePayInstallment))

	return s
}

// withRequestContext adds request IDs, security headers, rate limiting
// on writes, and request logging.
func (s *Server) withRequestContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&s.appMetrics.totalRequests, 1)

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	return "req_" + uuid.NewString()
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.summaryCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) invalidateSummary(accountID string) {
	s.summaryCache.Delete(accountID)
}

// publishEvent notifies the worker of a ledger write. The write has
// already committed; a lost event only delays the mirror.
func (s *Server) publishEvent(ctx context.Context, kind, accountID, entityID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(kind, accountID, entityID)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind, "entity", entityID, "error", err)
	}
}
