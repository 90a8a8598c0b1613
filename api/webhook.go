package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body
const SignatureHeader = "X-Signature"

// SignPayload returns the signature a sender puts in SignatureHeader
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) verifySignature(body []byte, header string) bool {
	if len(s.webhookSecret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// handlePaymentWebhook credits a completed checkout session. The session id is
// the idempotency key, so redelivered webhooks answer 200 without crediting again.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		if len(s.webhookSecret) == 0 {
			log.Error("Rejected payment webhook: WEBHOOK_SECRET is not configured")
		} else {
			log.WithField("remoteAddr", r.RemoteAddr).Warn("Rejected payment webhook with bad signature")
		}
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req paymentWebhookRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validateRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Grants.GrantFromPurchase(r.Context(), interfaces.PurchaseGrant{
		AccountID:      uuid.MustParse(req.AccountID),
		PackID:         req.PackID,
		IdempotencyKey: req.SessionID,
		TokenAmount:    req.TokenAmount,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GrantResponse{
		Status:  result.Status,
		Balance: toBalanceResponse(result.Balance),
	})
}
