package api

import (
	"net/http"
	"net/url"
	"strconv"

	"tokenledger/domain/interfaces"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := s.services.Accounts.CreateAccount(r.Context(), req.ExternalUserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := s.services.Balances.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	txs, err := s.services.Accounts.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toTransactionResponse(tx)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": resp})
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	audit, err := s.services.Accounts.VerifyLedger(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{
		Matches:          audit.Matches,
		Balance:          toBalanceResponse(audit.Account.Balance()),
		LoggedPurchased:  audit.Totals.Purchased,
		LoggedDaily:      audit.Totals.Daily,
		TransactionCount: audit.Totals.TransactionCount,
	})
}

func (s *Server) handleAwardDaily(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Grants.AwardDaily(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DailyGrantResponse{
		Awarded: result.Awarded,
		Granted: result.Granted,
		Balance: toBalanceResponse(balanceOf(accountID, result.PurchasedBalance, result.DailyBalance)),
	})
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req spendRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Spends.Spend(r.Context(), interfaces.SpendRequest{
		AccountID:    accountID,
		Amount:       req.Amount,
		ToolID:       req.ToolID,
		ToolResultID: req.ToolResultID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Status == interfaces.SpendStatusInsufficientBalance {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, SpendResponse{
		Status:         result.Status,
		DailyDelta:     result.DailyDelta,
		PurchasedDelta: result.PurchasedDelta,
		TransactionID:  result.TransactionID,
		Balance:        toBalanceResponse(result.Balance),
	})
}

func (s *Server) handleFindSpend(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	toolResultID, err := url.PathUnescape(chi.URLParam(r, "toolResultID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tool result id")
		return
	}

	tx, err := s.services.Spends.FindSpend(r.Context(), accountID, toolResultID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "no spend recorded for tool result")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (s *Server) handleApplyReferral(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req referralRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Referrals.ApplyReferral(r.Context(), accountID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := ReferralResponse{Status: result.Status, BonusPending: result.BonusPending}
	if result.ReferrerID != uuid.Nil {
		referrerID := result.ReferrerID
		resp.ReferrerID = &referrerID
	}

	status := http.StatusOK
	if result.Status != interfaces.ReferralStatusApplied {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}
