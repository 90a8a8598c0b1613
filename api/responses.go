package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// BalanceResponse is the confirmed balance of an account
type BalanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Purchased int64     `json:"purchased_balance"`
	Daily     int64     `json:"daily_balance"`
	Total     int64     `json:"total"`
}

// AccountResponse describes an account
type AccountResponse struct {
	ID               uuid.UUID       `json:"id"`
	ExternalUserID   string          `json:"external_user_id"`
	ReferralCode     string          `json:"referral_code"`
	ReferredBy       *uuid.UUID      `json:"referred_by,omitempty"`
	ReferralCount    int64           `json:"referral_count"`
	LastDailyGrantAt *time.Time      `json:"last_daily_grant_at,omitempty"`
	Balance          BalanceResponse `json:"balance"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransactionResponse is one ledger row
type TransactionResponse struct {
	ID              int64          `json:"id"`
	Kind            string         `json:"kind"`
	Amount          int64          `json:"amount"`
	DailyAmount     int64          `json:"daily_amount"`
	PurchasedAmount int64          `json:"purchased_amount"`
	IdempotencyKey  *string        `json:"idempotency_key,omitempty"`
	ToolID          *string        `json:"tool_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SpendResponse reports the result of a spend
type SpendResponse struct {
	Status         interfaces.SpendStatus `json:"status"`
	DailyDelta     int64                  `json:"daily_delta"`
	PurchasedDelta int64                  `json:"purchased_delta"`
	TransactionID  int64                  `json:"transaction_id,omitempty"`
	Balance        BalanceResponse        `json:"balance"`
}

// DailyGrantResponse reports the result of a daily grant attempt
type DailyGrantResponse struct {
	Awarded bool            `json:"awarded"`
	Granted int64           `json:"granted"`
	Balance BalanceResponse `json:"balance"`
}

// GrantResponse reports the result of a purchase grant
type GrantResponse struct {
	Status  interfaces.GrantStatus `json:"status"`
	Balance BalanceResponse        `json:"balance"`
}

// ReferralResponse reports the result of applying a referral code
type ReferralResponse struct {
	Status       interfaces.ReferralStatus `json:"status"`
	ReferrerID   *uuid.UUID                `json:"referrer_id,omitempty"`
	BonusPending bool                      `json:"bonus_pending"`
}

// AuditResponse reports whether the log derives the stored balances
type AuditResponse struct {
	Matches          bool            `json:"matches"`
	Balance          BalanceResponse `json:"balance"`
	LoggedPurchased  int64           `json:"logged_purchased"`
	LoggedDaily      int64           `json:"logged_daily"`
	TransactionCount int64           `json:"transaction_count"`
}

func toBalanceResponse(b entities.Balance) BalanceResponse {
	return BalanceResponse{
		AccountID: b.AccountID,
		Purchased: b.Purchased,
		Daily:     b.Daily,
		Total:     b.Total(),
	}
}

func balanceOf(accountID uuid.UUID, purchased, daily int64) entities.Balance {
	return entities.Balance{AccountID: accountID, Purchased: purchased, Daily: daily}
}

func toAccountResponse(a *entities.Account) AccountResponse {
	return AccountResponse{
		ID:               a.ID,
		ExternalUserID:   a.ExternalUserID,
		ReferralCode:     a.ReferralCode,
		ReferredBy:       a.ReferredBy,
		ReferralCount:    a.ReferralCount,
		LastDailyGrantAt: a.LastDailyGrantAt,
		Balance:          toBalanceResponse(a.Balance()),
		CreatedAt:        a.CreatedAt,
	}
}

func toTransactionResponse(tx *entities.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              tx.ID,
		Kind:            tx.Kind.String(),
		Amount:          tx.Amount,
		DailyAmount:     tx.DailyAmount,
		PurchasedAmount: tx.PurchasedAmount,
		IdempotencyKey:  tx.IdempotencyKey,
		ToolID:          tx.ToolID,
		Metadata:        tx.Metadata,
		CreatedAt:       tx.CreatedAt,
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to write response body")
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"status":  status,
		},
	})
}

// writeServiceError maps domain errors onto HTTP status codes
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entities.ErrAccountNotFound), errors.Is(err, entities.ErrNoLifetimeRefill):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entities.ErrInvalidAmount),
		errors.Is(err, entities.ErrMissingIdempotencyKey),
		errors.Is(err, entities.ErrNotReferred):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entities.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "ledger temporarily unavailable, nothing was applied")
	default:
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err,
		}).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
