// Package api exposes the ledger over HTTP: account reads, spends, daily
// grants, referrals and the payment webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// BalanceReader serves confirmed balances for display, usually through the read cache
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error)
}

// Services groups the ledger operations the API calls
type Services struct {
	Accounts  interfaces.AccountService
	Grants    interfaces.GrantService
	Referrals interfaces.ReferralService
	Spends    interfaces.SpendCoordinator
	Balances  BalanceReader // Optional; falls back to Accounts
}

// Server is the ledger HTTP API server
type Server struct {
	services      Services
	webhookSecret []byte
	validate      *validator.Validate
}

// NewServer creates a new API server
func NewServer(services Services, webhookSecret string) *Server {
	if services.Balances == nil {
		services.Balances = services.Accounts
	}
	return &Server{
		services:      services,
		webhookSecret: []byte(webhookSecret),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the chi router with all routes mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", s.handleCreateAccount)

		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/balance", s.handleGetBalance)
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/audit", s.handleVerifyLedger)
			r.Post("/daily", s.handleAwardDaily)
			r.Post("/spend", s.handleSpend)
			r.Get("/spends/{toolResultID}", s.handleFindSpend)
			r.Post("/referral", s.handleApplyReferral)
		})
	})

	r.Post("/webhooks/payments", s.handlePaymentWebhook)

	return r
}

// NewHTTPServer wraps the handler in an http.Server with conservative timeouts
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
