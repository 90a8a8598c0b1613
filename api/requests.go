package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type createAccountRequest struct {
	ExternalUserID string `json:"external_user_id" validate:"required,max=255"`
}

type spendRequest struct {
	Amount       int64  `json:"amount" validate:"gt=0"`
	ToolID       string `json:"tool_id" validate:"required,max=128"`
	ToolResultID string `json:"tool_result_id" validate:"omitempty,max=255"`
}

type referralRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type paymentWebhookRequest struct {
	SessionID   string `json:"session_id" validate:"required,max=255"`
	AccountID   string `json:"account_id" validate:"required,uuid"`
	PackID      string `json:"pack_id" validate:"required,max=64"`
	TokenAmount int64  `json:"token_amount" validate:"gt=0"`
}

// decodeBody decodes a JSON request body into dst and validates it
func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return s.validateRequest(dst)
}

func (s *Server) validateRequest(v any) error {
	err := s.validate.Struct(v)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("invalid request: %s", strings.Join(fields, ", "))
	}
	return err
}

func accountIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid account id")
	}
	return id, nil
}
