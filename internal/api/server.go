// Package api exposes the HTTP interface for price queries.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/sales"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

// Server wires HTTP handlers to the pricing service.
type Server struct {
	router   chi.Router
	service  *pricing.Service
	detector *sales.Detector
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service *pricing.Service, detector *sales.Detector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:  service,
		detector: detector,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/products/{product_id}", func(r chi.Router) {
			r.Get("/prices", s.getProductPrices)
			r.Get("/best-price", s.getBestPrice)
			r.Get("/history", s.getPriceHistory)
		})
		r.Get("/sales", s.getSales)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getProductPrices(w http.ResponseWriter, r *http.Request) {
	productID, ok := s.productID(w, r)
	if !ok {
		return
	}
	includeOOS := r.URL.Query().Get("include_out_of_stock") == "true"

	prices, err := s.service.GetProductPrices(r.Context(), productID, includeOOS)
	if err != nil {
		s.logger.Error("product prices lookup failed",
			zap.Int64("product_id", productID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "price lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, prices)
}

func (s *Server) getBestPrice(w http.ResponseWriter, r *http.Request) {
	productID, ok := s.productID(w, r)
	if !ok {
		return
	}
	bp, found, err := s.service.GetBestPrice(r.Context(), productID)
	if err != nil {
		s.logger.Error("best price lookup failed",
			zap.Int64("product_id", productID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "best price lookup failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "no current in-stock price")
		return
	}
	s.writeJSON(w, http.StatusOK, bp)
}

func (s *Server) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	productID, ok := s.productID(w, r)
	if !ok {
		return
	}
	days := queryInt(r, "days", 30)

	points, err := s.service.GetPriceHistory(r.Context(), productID, days)
	if err != nil {
		s.logger.Error("price history lookup failed",
			zap.Int64("product_id", productID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"days":       days,
		"history":    points,
	})
}

func (s *Server) getSales(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)

	list, err := s.detector.Detect(r.Context(), days)
	if err != nil {
		s.logger.Error("sales lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "sales lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"days":  days,
		"sales": list,
	})
}

func (s *Server) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "product_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		telemetry.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}
