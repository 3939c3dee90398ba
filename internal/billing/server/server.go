package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebmartin/applywise/internal/billing/config"
	"github.com/calebmartin/applywise/internal/billing/handler"
	"github.com/calebmartin/applywise/internal/billing/store"
	billingstripe "github.com/calebmartin/applywise/internal/billing/stripe"
	"github.com/calebmartin/applywise/internal/middleware"
)

// Checkout is the only rate-limited path: it spends processor API calls on
// behalf of unauthenticated origins. The webhook path is never limited
// because shedding processor retries would lose billing events.
const (
	checkoutRateLimit  = 10
	checkoutRateWindow = 15 * time.Minute
)

type Server struct {
	db                *sql.DB
	subscriptionStore *store.SubscriptionStore
	checkoutH         *handler.CheckoutHandler
	webhookH          *handler.WebhookHandler
	rateLimiter       *middleware.RateLimiter
	logger            *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	subscriptionStore := store.NewSubscriptionStore(db)

	stripeClient := billingstripe.NewClient(billingstripe.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.SuccessURL(),
		CancelURL:     cfg.CancelURL(),
	})

	return &Server{
		db:                db,
		subscriptionStore: subscriptionStore,
		checkoutH:         handler.NewCheckoutHandler(stripeClient, cfg.PlanPrices, cfg.BaseURL, logger.With("component", "checkout")),
		webhookH:          handler.NewWebhookHandler(stripeClient, subscriptionStore, logger.With("component", "webhook")),
		rateLimiter:       middleware.NewRateLimiter(),
		logger:            logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	rateLimit := middleware.RateLimit(s.rateLimiter, middleware.RealIP, checkoutRateLimit, checkoutRateWindow)
	mux.Handle("/api/create-checkout-session",
		middleware.SecureHeaders(postOnly(rateLimit(http.HandlerFunc(s.checkoutH.CreateCheckoutSession)))))
	mux.Handle("/api/webhooks/stripe",
		middleware.SecureHeaders(postOnly(http.HandlerFunc(s.webhookH.HandleStripeWebhook))))

	var root http.Handler = mux
	root = middleware.Metrics(root)
	root = middleware.RequestLogger(s.logger)(root)
	return root
}

// postOnly rejects every method but POST with a JSON 405. Registered on the
// bare path so the response body stays consistent with the rest of the API.
func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(map[string]string{"error": "Method not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
